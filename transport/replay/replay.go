// Package replay implements transport.Session over a recorded event
// file instead of a live exchange connection. The recording is a
// newline-delimited JSON file of inbound events; Run streams it
// through an in-process websocket pipe so the strategy sees the same
// dispatch shape as a live session, one callback at a time, in file
// order.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HershyOrg/gammascalper/internal/logging"
	"github.com/HershyOrg/gammascalper/models"
	"github.com/HershyOrg/gammascalper/transport"
)

// Event types a recording may contain.
const (
	EventLogon             = "logon"
	EventLogout            = "logout"
	EventMassStatus        = "mass_status"
	EventPositions         = "positions"
	EventInstruments       = "instruments"
	EventExecutionReport   = "execution_report"
	EventMarketUpdate      = "market_update"
	EventMassCancelReport  = "mass_cancel_report"
	EventOrderCancelReject = "order_cancel_reject"
	EventText              = "text"
)

// Event is one recorded inbound message. Exactly the payload matching
// Type is set; Missing marks a positions or instruments response that
// arrived without a list.
type Event struct {
	// Type selects the callback the event is delivered to.
	Type string `json:"type"`
	// ReportNumber is the open-order count for mass_status events.
	ReportNumber *int `json:"report_number,omitempty"`
	// Positions is the position list for positions events.
	Positions []models.Position `json:"positions,omitempty"`
	// Instruments is the instrument list for instruments events.
	Instruments []models.Instrument `json:"instruments,omitempty"`
	// Report is the execution report for execution_report events.
	Report *models.ExecutionReport `json:"report,omitempty"`
	// Update is the market update for market_update events.
	Update *models.MarketUpdate `json:"update,omitempty"`
	// MassCancel is the payload for mass_cancel_report events.
	MassCancel *models.MassCancelReport `json:"mass_cancel,omitempty"`
	// CancelReject is the payload for order_cancel_reject events.
	CancelReject *models.OrderCancelReject `json:"cancel_reject,omitempty"`
	// Text is the payload for text events.
	Text string `json:"text,omitempty"`
	// Missing marks an empty-handed positions or instruments response.
	Missing bool `json:"missing,omitempty"`
}

// Session replays a recording into a transport.Callbacks sink. It
// satisfies transport.Session; outbound requests are logged and
// answered by whatever the recording holds next, which is exactly the
// causal ordering a live session provides.
type Session struct {
	// path is the recording file.
	path string
	// pace is the delay between replayed events.
	pace time.Duration
	// callbacks is the strategy sink.
	callbacks transport.Callbacks
	// log is the session logger.
	log *logging.Logger
	// listener accepts the in-process websocket connection.
	listener net.Listener
	// server serves the replay endpoint.
	server *http.Server
	// conn is the client side of the pipe.
	conn *websocket.Conn
	// mu guards conn and closed.
	mu sync.Mutex
	// closed indicates Stop was called.
	closed bool
	// logoutSent dedupes the final OnLogout.
	logoutSent bool
	// done closes when the dispatch loop ends.
	done chan struct{}
}

// NewSession creates a replay session over the recording at path.
// pace spaces the replayed events out; zero replays as fast as the
// strategy consumes them.
func NewSession(path string, pace time.Duration, callbacks transport.Callbacks) *Session {
	return &Session{
		path:      path,
		pace:      pace,
		callbacks: callbacks,
		log:       logging.Default(),
		done:      make(chan struct{}),
	}
}

// Run opens the recording, stands up the loopback websocket pipe and
// starts the dispatch goroutine. It returns once the pipe is
// connected; events flow on the dispatch goroutine afterwards.
func (s *Session) Run() error {
	lines, err := s.readRecording()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	s.listener = listener

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/replay", func(w http.ResponseWriter, r *http.Request) {
		serverConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Errorf("replay.Session.Run: upgrade: %v", err)
			return
		}
		defer serverConn.Close()
		for _, line := range lines {
			if s.pace > 0 {
				time.Sleep(s.pace)
			}
			if err := serverConn.WriteMessage(websocket.TextMessage, line); err != nil {
				return
			}
		}
		deadline := time.Now().Add(time.Second)
		_ = serverConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	})
	s.server = &http.Server{Handler: mux}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosedListener(err) {
			s.log.Errorf("replay.Session.Run: serve: %v", err)
		}
	}()

	url := fmt.Sprintf("ws://%s/replay", listener.Addr())
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		s.Stop()
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.dispatchLoop()
	return nil
}

// Stop closes the pipe. Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
}

// Done returns a channel closed when every recorded event has been
// delivered and the final logout fired.
func (s *Session) Done() <-chan struct{} { return s.done }

// RequestPositions is answered by the recording.
func (s *Session) RequestPositions() error {
	s.log.Debugf("replay.Session.RequestPositions")
	return nil
}

// RequestInstrumentList is answered by the recording.
func (s *Session) RequestInstrumentList() error {
	s.log.Debugf("replay.Session.RequestInstrumentList")
	return nil
}

// RequestMassStatus is answered by the recording.
func (s *Session) RequestMassStatus() error {
	s.log.Debugf("replay.Session.RequestMassStatus")
	return nil
}

// RequestMarketData is answered by the recording.
func (s *Session) RequestMarketData(symbol string) error {
	s.log.Debugf("replay.Session.RequestMarketData: %s", symbol)
	return nil
}

// SendGTCOrder assigns a fresh client order identifier and logs the
// order. Fills, if any, come from the recording.
func (s *Session) SendGTCOrder(symbol string, side models.Side, price, volume float64) (string, error) {
	orderID := uuid.NewString()
	s.log.Infof("replay.Session.SendGTCOrder: %s %s %v #%v -> %s", symbol, side, price, volume, orderID)
	return orderID, nil
}

// SendCancelOrder logs the cancel. The recording decides its fate.
func (s *Session) SendCancelOrder(orderID string) error {
	s.log.Infof("replay.Session.SendCancelOrder: %s", orderID)
	return nil
}

// SendMassCancellationOrder logs the mass cancel.
func (s *Session) SendMassCancellationOrder() error {
	s.log.Infof("replay.Session.SendMassCancellationOrder")
	return nil
}

func (s *Session) readRecording() ([][]byte, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func (s *Session) dispatchLoop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			break
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			s.log.Errorf("replay.Session.dispatchLoop: bad event %q: %v", payload, err)
			continue
		}
		s.dispatch(event)
	}

	// A recording that stops short of its logout still drops the
	// session, exactly like a live disconnect.
	if !s.logoutSent {
		s.logoutSent = true
		s.callbacks.OnLogout()
	}
}

func (s *Session) dispatch(event Event) {
	switch event.Type {
	case EventLogon:
		s.callbacks.OnLogon()
	case EventLogout:
		s.logoutSent = true
		s.callbacks.OnLogout()
	case EventMassStatus:
		count := 0
		if event.ReportNumber != nil {
			count = *event.ReportNumber
		}
		s.callbacks.OnMassStatusReport(count)
	case EventPositions:
		s.callbacks.OnPositions(event.Positions, !event.Missing)
	case EventInstruments:
		s.callbacks.OnInstruments(event.Instruments, !event.Missing)
	case EventExecutionReport:
		if event.Report != nil {
			s.callbacks.OnExecutionReport(event.Report)
		}
	case EventMarketUpdate:
		if event.Update != nil {
			s.callbacks.OnMarketUpdate(*event.Update)
		}
	case EventMassCancelReport:
		if event.MassCancel != nil {
			s.callbacks.OnMassCancelReport(*event.MassCancel)
		}
	case EventOrderCancelReject:
		if event.CancelReject != nil {
			s.callbacks.OnOrderCancelReject(*event.CancelReject)
		}
	case EventText:
		s.callbacks.OnTextMessage(event.Text)
	default:
		s.log.Warnf("replay.Session.dispatch: unknown event type %q", event.Type)
	}
}

func isClosedListener(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
