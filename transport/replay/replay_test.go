package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HershyOrg/gammascalper/models"
)

// recordingSink captures the callback sequence a replay delivers.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	counts []int
}

func (r *recordingSink) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recordingSink) OnLogon()  { r.record("logon") }
func (r *recordingSink) OnLogout() { r.record("logout") }
func (r *recordingSink) OnMassStatusReport(n int) {
	r.mu.Lock()
	r.counts = append(r.counts, n)
	r.mu.Unlock()
	r.record("mass_status")
}
func (r *recordingSink) OnPositions(positions []models.Position, ok bool) {
	r.record("positions")
}
func (r *recordingSink) OnInstruments(instruments []models.Instrument, ok bool) {
	r.record("instruments")
}
func (r *recordingSink) OnExecutionReport(report *models.ExecutionReport) {
	r.record("execution_report")
}
func (r *recordingSink) OnMarketUpdate(update models.MarketUpdate) {
	r.record("market_update")
}
func (r *recordingSink) OnMassCancelReport(report models.MassCancelReport) {
	r.record("mass_cancel_report")
}
func (r *recordingSink) OnOrderCancelReject(reject models.OrderCancelReject) {
	r.record("order_cancel_reject")
}
func (r *recordingSink) OnTextMessage(message string) { r.record("text") }

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func writeRecording(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create recording: %v", err)
	}
	defer file.Close()
	encoder := json.NewEncoder(file)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			t.Fatalf("encode event: %v", err)
		}
	}
	return path
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("replay did not finish in time")
	}
}

func TestReplayDeliversEventsInFileOrder(t *testing.T) {
	n := 0
	path := writeRecording(t, []Event{
		{Type: EventLogon},
		{Type: EventPositions, Positions: []models.Position{{Symbol: "BTC-27MAR26", Quantity: 1, Side: models.SideBuy}}},
		{Type: EventInstruments, Instruments: []models.Instrument{{Symbol: "BTC-27MAR26", Type: "FUT"}}},
		{Type: EventMassStatus, ReportNumber: &n},
		{Type: EventMarketUpdate, Update: &models.MarketUpdate{
			Symbol: "BTC-27MAR26",
			Updates: []models.MarketUpdateLevel{
				{Side: models.MarketSideBid, Price: 3590, Volume: 5},
				{Side: models.MarketSideAsk, Price: 3610, Volume: 7},
			},
		}},
		{Type: EventLogout},
	})

	sink := &recordingSink{}
	session := NewSession(path, 0, sink)
	if err := session.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer session.Stop()
	waitDone(t, session)

	want := []string{"logon", "positions", "instruments", "mass_status", "market_update", "logout"}
	got := sink.snapshot()
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if len(sink.counts) != 1 || sink.counts[0] != 0 {
		t.Errorf("Expected mass status count [0], got %v", sink.counts)
	}
}

func TestReplayWithoutLogoutStillDropsSession(t *testing.T) {
	path := writeRecording(t, []Event{
		{Type: EventLogon},
	})

	sink := &recordingSink{}
	session := NewSession(path, 0, sink)
	if err := session.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer session.Stop()
	waitDone(t, session)

	got := sink.snapshot()
	if len(got) != 2 || got[0] != "logon" || got[1] != "logout" {
		t.Errorf("Expected truncated recording to end in a synthetic logout, got %v", got)
	}
}

func TestSendGTCOrderReturnsUniqueClientIDs(t *testing.T) {
	path := writeRecording(t, []Event{{Type: EventLogon}, {Type: EventLogout}})
	sink := &recordingSink{}
	session := NewSession(path, 0, sink)
	if err := session.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	defer session.Stop()

	first, err := session.SendGTCOrder("BTC-27MAR26", models.SideBuy, 3590, 10)
	if err != nil {
		t.Fatalf("SendGTCOrder failed: %v", err)
	}
	second, err := session.SendGTCOrder("BTC-27MAR26", models.SideSell, 3610, 10)
	if err != nil {
		t.Fatalf("SendGTCOrder failed: %v", err)
	}
	if first == "" || first == second {
		t.Errorf("Expected distinct client order ids, got %q and %q", first, second)
	}
	waitDone(t, session)
}
