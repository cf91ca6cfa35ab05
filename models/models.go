// Package models defines the market data, instrument, order and
// position types shared by the strategy, the levels book and the
// transport. Optional fields are pointers; absence is meaningful and
// distinct from zero.
package models

import (
	"fmt"
	"time"

	"github.com/HershyOrg/gammascalper/pricing"
)

// Side is the direction of an order or a position.
type Side int

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

// String returns the human-readable side name.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", int(s))
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state carried on an execution report.
type OrderStatus int

const (
	OrderStatusNew      OrderStatus = 0
	OrderStatusPartial  OrderStatus = 1
	OrderStatusFilled   OrderStatus = 2
	OrderStatusCanceled OrderStatus = 4
	OrderStatusRejected OrderStatus = 8
)

// String returns the human-readable status name.
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusPartial:
		return "PARTIAL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCanceled:
		return "CANCELED"
	case OrderStatusRejected:
		return "REJECTED"
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// OrderType distinguishes market from limit orders.
type OrderType int

const (
	OrderTypeMarket OrderType = 1
	OrderTypeLimit  OrderType = 2
)

// MarketSide is the book side a market update level belongs to.
type MarketSide int

const (
	MarketSideBid MarketSide = 0
	MarketSideAsk MarketSide = 1
)

// MarketAction is the kind of change a market update level carries.
// Snapshots use MarketActionNew for every level.
type MarketAction int

const (
	MarketActionNew    MarketAction = 0
	MarketActionChange MarketAction = 1
	MarketActionDelete MarketAction = 2
)

// BBO is the top of book for one instrument. Either side may be absent.
type BBO struct {
	// BidVolume is the volume at the best bid.
	BidVolume *float64 `json:"bid_volume,omitempty"`
	// Bid is the best bid price.
	Bid *float64 `json:"bid,omitempty"`
	// Ask is the best ask price.
	Ask *float64 `json:"ask,omitempty"`
	// AskVolume is the volume at the best ask.
	AskVolume *float64 `json:"ask_volume,omitempty"`
}

// Mid returns the bid/ask midpoint. It reports ok=false when either
// side of the book is missing.
func (b *BBO) Mid() (float64, bool) {
	if b == nil || b.Bid == nil || b.Ask == nil {
		return 0, false
	}
	return (*b.Bid + *b.Ask) * 0.5, true
}

// Instrument describes a tradable instrument as reported by the
// exchange. Option-only fields are set iff Type is "OPT".
type Instrument struct {
	// Symbol is the exchange symbol.
	Symbol string `json:"symbol"`
	// Description is the human-readable instrument description.
	Description string `json:"description,omitempty"`
	// Type is the security type, e.g. "OPT", "FUT", "PERP".
	Type string `json:"type"`
	// MainCurrency is the currency the instrument is denominated in.
	MainCurrency string `json:"main_currency,omitempty"`
	// ContractMultiplier converts one contract into underlying units.
	ContractMultiplier *float64 `json:"contract_multiplier,omitempty"`
	// PutCall distinguishes the option legs.
	PutCall *pricing.OptionKind `json:"put_call,omitempty"`
	// StrikePrice is the option strike.
	StrikePrice *float64 `json:"strike_price,omitempty"`
	// StrikeCurrency is the currency the strike is quoted in.
	StrikeCurrency *string `json:"strike_currency,omitempty"`
	// MaturityDate is the option expiry.
	MaturityDate *time.Time `json:"maturity_date,omitempty"`
	// MinTradeVolume is the minimum order volume.
	MinTradeVolume *float64 `json:"min_trade_volume,omitempty"`
	// TickSize is the price increment.
	TickSize *float64 `json:"tick_size,omitempty"`
	// BBO is the latest top of book, attached by the strategy.
	BBO *BBO `json:"bbo,omitempty"`
}

// String renders the instrument for reports.
func (i Instrument) String() string {
	return fmt.Sprintf("[%s] %s %s %s cm=%s strike=%s maturity=%s",
		i.MainCurrency, i.Symbol, i.Description, i.Type,
		floatString(i.ContractMultiplier), floatString(i.StrikePrice),
		timeString(i.MaturityDate))
}

// Position is a held quantity on one instrument. Sign lives in Side,
// magnitude in Quantity; a flat instrument is simply absent from the
// positions map.
type Position struct {
	// Symbol is the instrument symbol.
	Symbol string `json:"symbol"`
	// Quantity is the unsigned held quantity.
	Quantity float64 `json:"quantity"`
	// Side carries the sign of the position.
	Side Side `json:"side"`
	// SettlementPrice is the last execution or settlement price.
	SettlementPrice float64 `json:"settlement_price"`
	// UnderlyingEndPrice is the underlying mid at the last update.
	UnderlyingEndPrice float64 `json:"underlying_end_price"`
}

// SignedQuantity returns the quantity with the side folded in.
func (p Position) SignedQuantity() float64 {
	if p.Side == SideSell {
		return -p.Quantity
	}
	return p.Quantity
}

// String renders the position for reports.
func (p Position) String() string {
	return fmt.Sprintf("Position [%s]-> #%v %v %s Underlying price=%v",
		p.Symbol, p.Quantity, p.SettlementPrice, p.Side, p.UnderlyingEndPrice)
}

// ExecutionReport is the typed execution report the transport decodes.
// Every field the exchange may omit is a pointer.
type ExecutionReport struct {
	// OrderID is the exchange-assigned order identifier.
	OrderID *string `json:"order_id,omitempty"`
	// OriginalOrderID is the client order identifier the order was sent with.
	OriginalOrderID *string `json:"original_order_id,omitempty"`
	// OrderStatus is the order lifecycle state.
	OrderStatus *OrderStatus `json:"order_status,omitempty"`
	// Side is the order side.
	Side *Side `json:"side,omitempty"`
	// TransactionTime is the exchange transaction time.
	TransactionTime *time.Time `json:"transaction_time,omitempty"`
	// OpenVolume is the remaining open volume.
	OpenVolume *float64 `json:"open_volume,omitempty"`
	// ExecutedVolume is the cumulative executed volume.
	ExecutedVolume *float64 `json:"executed_volume,omitempty"`
	// OrderVolume is the full order volume.
	OrderVolume *float64 `json:"order_volume,omitempty"`
	// OrderType distinguishes market from limit.
	OrderType *OrderType `json:"order_type,omitempty"`
	// RejectReason is set on rejects.
	RejectReason *int `json:"reject_reason,omitempty"`
	// Symbol is the instrument symbol.
	Symbol *string `json:"symbol,omitempty"`
	// OrderPrice is the limit price, for limit orders.
	OrderPrice *float64 `json:"order_price,omitempty"`
	// ContractMultiplier is the instrument contract multiplier.
	ContractMultiplier *float64 `json:"contract_multiplier,omitempty"`
	// AverageExecutionPrice is the average fill price.
	AverageExecutionPrice *float64 `json:"average_execution_price,omitempty"`
	// ImpliedVolatility is the exchange-reported implied volatility.
	ImpliedVolatility *float64 `json:"implied_volatility,omitempty"`
	// MassStatusRequestType echoes the mass status request type.
	MassStatusRequestType *int `json:"mass_status_request_type,omitempty"`
	// MassStatusReportNumber counts reports in a mass status response.
	MassStatusReportNumber *int `json:"mass_status_report_number,omitempty"`
}

// String renders the report for logging.
func (r ExecutionReport) String() string {
	return fmt.Sprintf(
		"Execution report [%s - %s]: %s|Status: %s|Side: %s|Open volume: %s|Executed volume: %s|Order price: %s|Execution price: %s",
		stringString(r.OrderID), stringString(r.OriginalOrderID),
		stringString(r.Symbol), statusString(r.OrderStatus),
		sideString(r.Side), floatString(r.OpenVolume),
		floatString(r.ExecutedVolume), floatString(r.OrderPrice),
		floatString(r.AverageExecutionPrice))
}

// MarketUpdateLevel is one leg of a market update.
type MarketUpdateLevel struct {
	// Action is the update action. Snapshots carry MarketActionNew.
	Action MarketAction `json:"action"`
	// Side is the book side the level belongs to.
	Side MarketSide `json:"side"`
	// Volume is the level volume.
	Volume float64 `json:"volume"`
	// Price is the level price.
	Price float64 `json:"price"`
}

// MarketUpdate is a top-of-book update for one symbol.
type MarketUpdate struct {
	// Symbol is the instrument symbol.
	Symbol string `json:"symbol"`
	// ContractMultiplier is the instrument contract multiplier, when sent.
	ContractMultiplier *float64 `json:"contract_multiplier,omitempty"`
	// UnderlyingSymbol is the underlying symbol, when sent.
	UnderlyingSymbol *string `json:"underlying_symbol,omitempty"`
	// UnderlyingMid is the underlying mid price, when sent.
	UnderlyingMid *float64 `json:"underlying_mid,omitempty"`
	// Updates are the book legs, in wire order.
	Updates []MarketUpdateLevel `json:"updates"`
}

// Order is the strategy's single working hedge order.
type Order struct {
	// ID is the exchange order identifier, adopted from execution reports.
	ID string
	// OriginalID is the client order identifier the order was sent with.
	OriginalID string
	// Side is the order side.
	Side Side
	// OrderPrice is the limit price.
	OrderPrice float64
	// FullVolume is the cumulative executed volume observed so far.
	FullVolume float64
	// OpenVolume is the remaining open volume.
	OpenVolume float64
}

// String renders the order for reports.
func (o Order) String() string {
	return fmt.Sprintf("%s -> %s [%s] %v #%v [%v]",
		o.Side, o.ID, o.OriginalID, o.OrderPrice, o.FullVolume, o.OpenVolume)
}

// MassCancelReport acknowledges a mass cancellation request.
type MassCancelReport struct {
	// OrderID is the identifier the exchange assigned to the request.
	OrderID *string `json:"order_id,omitempty"`
	// Accepted reports whether the mass cancel was accepted.
	Accepted bool `json:"accepted"`
	// TotalAffectedOrders counts the orders the cancel touched.
	TotalAffectedOrders *int `json:"total_affected_orders,omitempty"`
}

// OrderCancelReject reports a rejected cancel request.
type OrderCancelReject struct {
	// OrderID is the exchange order identifier.
	OrderID *string `json:"order_id,omitempty"`
	// OriginalOrderID is the client order identifier.
	OriginalOrderID *string `json:"original_order_id,omitempty"`
	// Reason is the exchange reject reason, when sent.
	Reason *string `json:"reason,omitempty"`
}

// EqualWithin reports whether two prices or volumes agree within the
// default tolerance used across the strategy.
func EqualWithin(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 0.001
}

// Float64 returns a pointer to v. Convenience for optional fields.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v. Convenience for optional fields.
func String(v string) *string { return &v }

func floatString(v *float64) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%v", *v)
}

func stringString(v *string) string {
	if v == nil {
		return "--"
	}
	return *v
}

func timeString(v *time.Time) string {
	if v == nil {
		return "--"
	}
	return v.UTC().Format("2006-01-02 15:04:05")
}

func statusString(v *OrderStatus) string {
	if v == nil {
		return "--"
	}
	return v.String()
}

func sideString(v *Side) string {
	if v == nil {
		return "--"
	}
	return v.String()
}
