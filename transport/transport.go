// Package transport defines the contract between the strategy and the
// exchange session. The strategy drives a Session and receives events
// through Callbacks; a FIX 4.4 engine is the production implementation
// of Session, and transport/replay provides a file-backed one for
// testing and local runs.
package transport

import "github.com/HershyOrg/gammascalper/models"

// Session is the outbound half of the exchange connection. All sends
// are non-blocking handoffs; responses arrive through Callbacks in
// wire order.
type Session interface {
	// Run connects and starts delivering callbacks. It returns once the
	// session is up; delivery happens on the session's dispatch goroutine.
	Run() error
	// Stop tears the session down. Pending callbacks are dropped.
	Stop()
	// RequestPositions asks for a position report.
	RequestPositions() error
	// RequestInstrumentList asks for the tradable instrument list.
	RequestInstrumentList() error
	// RequestMassStatus asks for the count and contents of open orders.
	RequestMassStatus() error
	// RequestMarketData subscribes to top-of-book updates for symbol.
	RequestMarketData(symbol string) error
	// SendGTCOrder places a good-till-cancel limit order and returns the
	// client order identifier it was sent with.
	SendGTCOrder(symbol string, side models.Side, price, volume float64) (string, error)
	// SendCancelOrder cancels the order with the given identifier.
	SendCancelOrder(orderID string) error
	// SendMassCancellationOrder cancels every working order on the account.
	SendMassCancellationOrder() error
}

// Callbacks is the inbound half: the typed sink the session delivers
// events into. All methods are invoked serially on the session's
// dispatch goroutine, so implementations need no internal locking for
// state only touched from callbacks.
type Callbacks interface {
	// OnLogon fires when the session is authenticated.
	OnLogon()
	// OnLogout fires when the session drops, cleanly or not.
	OnLogout()
	// OnMassStatusReport announces how many open-order execution reports follow.
	OnMassStatusReport(reportNumber int)
	// OnPositions delivers a position report. ok is false when the
	// exchange answered without a position list.
	OnPositions(positions []models.Position, ok bool)
	// OnInstruments delivers the instrument list. ok is false when the
	// exchange answered without one.
	OnInstruments(instruments []models.Instrument, ok bool)
	// OnExecutionReport delivers an execution report.
	OnExecutionReport(report *models.ExecutionReport)
	// OnMarketUpdate delivers a top-of-book update.
	OnMarketUpdate(update models.MarketUpdate)
	// OnMassCancelReport acknowledges a mass cancellation.
	OnMassCancelReport(report models.MassCancelReport)
	// OnOrderCancelReject reports a rejected cancel.
	OnOrderCancelReject(reject models.OrderCancelReject)
	// OnTextMessage delivers a session-level text reject or notice.
	OnTextMessage(message string)
}
