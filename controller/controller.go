// Package controller drives the gamma scalping strategy: it sequences
// session startup, resolves the straddle and its hedge future,
// recovers outstanding orders, and on every top-of-book tick
// re-estimates the portfolio delta and keeps at most one hedge order
// working on the future.
package controller

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/HershyOrg/gammascalper/internal/errs"
	"github.com/HershyOrg/gammascalper/internal/logging"
	"github.com/HershyOrg/gammascalper/levels"
	"github.com/HershyOrg/gammascalper/models"
	"github.com/HershyOrg/gammascalper/portfolio"
	"github.com/HershyOrg/gammascalper/pricing"
	"github.com/HershyOrg/gammascalper/transport"
)

// State is the strategy's startup and steady-state phase.
type State int

const (
	StateAwaitLogon State = iota
	StateAwaitPositions
	StateAwaitInstruments
	StateAwaitOpenOrders
	StateAwaitWarmup
	StateSteady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitLogon:
		return "AWAIT_LOGON"
	case StateAwaitPositions:
		return "AWAIT_POSITIONS"
	case StateAwaitInstruments:
		return "AWAIT_INSTRUMENTS"
	case StateAwaitOpenOrders:
		return "AWAIT_OPEN_ORDERS"
	case StateAwaitWarmup:
		return "AWAIT_WARMUP"
	case StateSteady:
		return "STEADY"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a GammaScalper.
type Options struct {
	// AuxFolder is the directory the levels and PnL files live in. It
	// must end with the path separator.
	AuxFolder string
	// PriceSweetener is the hedge price margin, as a fraction of the
	// future's contract multiplier.
	PriceSweetener float64
	// InterestRate is the annualized risk-free rate; it doubles as the
	// cost of carry.
	InterestRate float64
}

// GammaScalper is the strategy controller. It owns the transport
// session and registers itself as the session's callback sink; every
// callback runs serially on the session's dispatch goroutine, so all
// strategy state except the running flag needs no locking.
type GammaScalper struct {
	// mu guards running and fatalErr, the only cross-thread state.
	mu sync.Mutex
	// cond wakes Run when the session ends.
	cond *sync.Cond
	// running is true between Run and logout or fatal error.
	running bool
	// fatalErr records the invariant violation that stopped the strategy.
	fatalErr error

	// session is the exchange connection.
	session transport.Session
	// positions is the symbol-keyed positions book.
	positions *portfolio.Book
	// straddleCall, straddlePut and future alias the positions book's
	// instruments once resolved.
	straddleCall *models.Instrument
	straddlePut  *models.Instrument
	future       *models.Instrument
	// levels is the unpaired-fill stack governing hedge price and size.
	levels *levels.Book
	// snapshots tracks which symbols have produced a BBO during warmup.
	snapshots map[string]struct{}
	// state is the startup phase.
	state State
	// deltaFuture, deltaCall and deltaPut cache the last evaluation.
	deltaFuture float64
	deltaCall   float64
	deltaPut    float64
	// order is the single working hedge order, or nil.
	order *models.Order
	// massReportsIncoming counts down open-order reports after a mass status.
	massReportsIncoming int
	// interestRate is the configured annualized rate.
	interestRate float64
	// log is the strategy logger.
	log *logging.Logger
	// now returns the current time; replaced in tests.
	now func() time.Time
}

// New builds the strategy, loads the persisted levels and constructs
// the session through newSession with the strategy registered as its
// callback sink.
func New(opts Options, newSession func(transport.Callbacks) (transport.Session, error)) (*GammaScalper, error) {
	book, err := levels.NewBook(opts.AuxFolder, opts.PriceSweetener)
	if err != nil {
		return nil, err
	}

	g := &GammaScalper{
		positions:    portfolio.NewBook(),
		levels:       book,
		snapshots:    map[string]struct{}{},
		state:        StateAwaitLogon,
		interestRate: opts.InterestRate,
		log:          logging.Default(),
		now:          time.Now,
	}
	g.cond = sync.NewCond(&g.mu)

	session, err := newSession(g)
	if err != nil {
		return nil, err
	}
	g.session = session
	return g, nil
}

// Run starts the session and blocks until logout or a fatal invariant
// violation. It returns nil on a clean logout, so the caller can sleep
// and reconnect, and the stored error otherwise.
func (g *GammaScalper) Run() error {
	g.log.Infof("Running gamma scalper strategy...")

	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	if err := g.session.Run(); err != nil {
		g.log.Errorf("controller.GammaScalper.Run: impossible to initialize the market: %v", err)
		return err
	}

	g.mu.Lock()
	for g.running {
		g.cond.Wait()
	}
	err := g.fatalErr
	g.mu.Unlock()

	g.levels.Flush()
	return err
}

// Stop performs a controlled shutdown: flatten outstanding hedge
// orders, drop the session and release Run.
func (g *GammaScalper) Stop() {
	g.cancelAllOrders()
	g.session.Stop()
	g.signalStop()
}

// State returns the current startup phase.
func (g *GammaScalper) State() State { return g.state }

// WorkingOrder returns a copy of the working hedge order, if any.
func (g *GammaScalper) WorkingOrder() (models.Order, bool) {
	if g.order == nil {
		return models.Order{}, false
	}
	return *g.order, true
}

// OnLogon requests the position report that seeds the portfolio.
func (g *GammaScalper) OnLogon() {
	g.state = StateAwaitPositions
	if err := g.session.RequestPositions(); err != nil {
		g.fatal(fmt.Sprintf("impossible to request positions: %v", err))
	}
}

// OnLogout releases Run. The outer driver reconnects after a delay.
func (g *GammaScalper) OnLogout() {
	g.cancelAllOrders()
	g.state = StateAwaitLogon
	g.signalStop()
}

// OnPositions re-hydrates the positions book and requests the
// instrument list.
func (g *GammaScalper) OnPositions(positions []models.Position, ok bool) {
	g.positions.Clear()

	if !ok {
		g.fatal("No positions retrieved. Stopping strategy")
		return
	}

	for _, position := range positions {
		if position.Quantity == 0 {
			continue
		}
		g.positions.SetPosition(position)
	}

	g.state = StateAwaitInstruments
	if err := g.session.RequestInstrumentList(); err != nil {
		g.fatal(fmt.Sprintf("impossible to request the instrument list: %v", err))
	}
}

// OnInstruments resolves the straddle legs and the hedge future, then
// requests the outstanding-order mass status.
func (g *GammaScalper) OnInstruments(instruments []models.Instrument, ok bool) {
	if !ok {
		g.fatal("No instruments were retrieved. This is not what is supposed to happen. Exiting before something goes wrong")
		return
	}

	resolved, err := g.positions.Resolve(instruments)
	if err != nil {
		g.fatal(err.Error())
		return
	}
	g.straddleCall = resolved.StraddleCall
	g.straddlePut = resolved.StraddlePut
	g.future = resolved.Future

	g.state = StateAwaitOpenOrders
	if err := g.session.RequestMassStatus(); err != nil {
		g.fatal(fmt.Sprintf("impossible to request the mass status: %v", err))
	}
}

// OnMassStatusReport learns how many open orders survived the last
// run. More than one breaks the at-most-one design and is fatal; zero
// opens the market directly.
func (g *GammaScalper) OnMassStatusReport(reportNumber int) {
	if reportNumber > 1 {
		g.fatal(fmt.Sprintf(
			"We're expecting to have maximum 1 open orders. We are getting %d which is not allowed. Exiting before something goes wrong",
			reportNumber))
		return
	}

	g.massReportsIncoming = reportNumber
	if reportNumber == 0 {
		g.subscribeMarketData()
	}
}

// OnExecutionReport recovers outstanding orders during startup and
// tracks the working order and positions in steady state.
func (g *GammaScalper) OnExecutionReport(report *models.ExecutionReport) {
	if g.massReportsIncoming > 0 {
		g.order = &models.Order{
			ID:         valueOrZeroString(report.OrderID),
			OriginalID: valueOrZeroString(report.OriginalOrderID),
			Side:       valueOrDefaultSide(report.Side),
			OrderPrice: valueOrZeroFloat(report.OrderPrice),
			FullVolume: valueOrZeroFloat(report.ExecutedVolume),
			OpenVolume: valueOrZeroFloat(report.OpenVolume),
		}

		g.massReportsIncoming--
		if g.massReportsIncoming == 0 {
			g.subscribeMarketData()
		}
		return
	}

	if report.Symbol == nil || report.OrderStatus == nil {
		return
	}

	matched := g.order != nil &&
		((report.OrderID != nil && g.order.ID == *report.OrderID) ||
			(report.OriginalOrderID != nil && g.order.OriginalID == *report.OriginalOrderID))

	if matched {
		switch *report.OrderStatus {
		case models.OrderStatusFilled:
			g.updatePosition(report, g.updateFilledVolume(report))
			g.order = nil
		case models.OrderStatusCanceled, models.OrderStatusRejected:
			g.order = nil
		case models.OrderStatusPartial:
			if report.OrderID != nil {
				g.order.ID = *report.OrderID
			}
			g.updatePosition(report, g.updateFilledVolume(report))
		case models.OrderStatusNew:
			if report.OrderID != nil {
				g.order.ID = *report.OrderID
			}
		}
		return
	}

	// A fill on the account that the strategy did not send, e.g. a
	// manual trade. Cumulative volume is all we have for it.
	switch *report.OrderStatus {
	case models.OrderStatusFilled, models.OrderStatusPartial:
		if report.ExecutedVolume != nil {
			g.updatePosition(report, *report.ExecutedVolume)
		}
	}
}

// OnMarketUpdate attaches the new top of book and, once every
// subscribed symbol has produced one, evaluates the hedge.
func (g *GammaScalper) OnMarketUpdate(update models.MarketUpdate) {
	if len(update.Updates) > 2 {
		g.fatal("Received a bbo with more than two legs. This is wrong")
		return
	}

	bbo := &models.BBO{}
	for _, level := range update.Updates {
		level := level
		if level.Side == models.MarketSideBid {
			bbo.BidVolume = &level.Volume
			bbo.Bid = &level.Price
		} else {
			bbo.AskVolume = &level.Volume
			bbo.Ask = &level.Price
		}
	}

	switch {
	case g.future != nil && update.Symbol == g.future.Symbol:
		g.future.BBO = bbo
	case g.straddleCall != nil && update.Symbol == g.straddleCall.Symbol:
		g.straddleCall.BBO = bbo
	case g.straddlePut != nil && update.Symbol == g.straddlePut.Symbol:
		g.straddlePut.BBO = bbo
	default:
		// Not the straddle, not the underlying.
		return
	}

	if len(g.snapshots) < 3 {
		g.snapshots[update.Symbol] = struct{}{}
		if len(g.snapshots) < 3 {
			return
		}
		g.state = StateSteady
	}

	g.evaluate()
}

// OnMassCancelReport logs the acknowledgement.
func (g *GammaScalper) OnMassCancelReport(report models.MassCancelReport) {
	g.log.Infof("controller.GammaScalper.OnMassCancelReport: accepted=%v", report.Accepted)
}

// OnOrderCancelReject logs the reject; the working order stays until
// its execution report says otherwise.
func (g *GammaScalper) OnOrderCancelReject(reject models.OrderCancelReject) {
	g.log.Warnf("controller.GammaScalper.OnOrderCancelReject: %s", valueOrZeroString(reject.OrderID))
}

// OnTextMessage logs session-level rejects and notices.
func (g *GammaScalper) OnTextMessage(message string) {
	g.log.Warnf("controller.GammaScalper.OnTextMessage: %s", message)
}

func (g *GammaScalper) subscribeMarketData() {
	g.state = StateAwaitWarmup
	for _, symbol := range []string{g.future.Symbol, g.straddleCall.Symbol, g.straddlePut.Symbol} {
		if err := g.session.RequestMarketData(symbol); err != nil {
			g.fatal(fmt.Sprintf("impossible to subscribe to market data for %s: %v", symbol, err))
			return
		}
	}
}

// evaluate recomputes the portfolio delta and decides whether to
// place, cancel or leave the working hedge order.
func (g *GammaScalper) evaluate() {
	today := truncateToDay(g.now().UTC())
	maturity := truncateToDay(g.straddleCall.MaturityDate.UTC())
	timeToExpiration := maturity.Sub(today).Hours() / 24 / 360

	if timeToExpiration < 0 {
		g.fatal("Straddle's maturity was reached, stopping strategy")
		return
	}

	if err := g.updateDeltas(timeToExpiration); err != nil {
		g.log.Infof("Skipping: %v", err)
		return
	}

	totalDelta := g.deltaPut + g.deltaCall + g.deltaFuture

	underlyingMid, _ := g.future.BBO.Mid()
	contractMultiplier := *g.future.ContractMultiplier
	deltaPerFuture := contractMultiplier / underlyingMid

	raw := int(math.Round(totalDelta / deltaPerFuture))
	correctionsTodo := raw / int(contractMultiplier) * int(contractMultiplier)

	g.log.Debugf("Future delta     : %v", g.deltaFuture)
	g.log.Debugf("Call delta       : %v", g.deltaCall)
	g.log.Debugf("Put  delta       : %v", g.deltaPut)
	g.log.Debugf("Total delta      : %v", totalDelta)
	g.log.Debugf("Delta per future : %v", deltaPerFuture)
	g.log.Debugf("Corrections to do: %d", correctionsTodo)

	if correctionsTodo == 0 {
		return
	}

	side := models.SideSell
	if correctionsTodo < 0 {
		side = models.SideBuy
	}

	// With a working order on the same side, wait for its reports. On
	// the opposite side, cancel it and decide again next tick.
	if g.order != nil {
		if g.order.Side != side {
			g.log.Infof("Canceling previous order: %s", g.order.ID)
			if err := g.session.SendCancelOrder(g.order.ID); err != nil {
				g.log.Errorf("controller.GammaScalper.evaluate: cancel failed: %v", err)
			}
		}
		return
	}

	priceToUse := g.levels.PriceToUse(side, g.future)
	volumeToUse := g.levels.VolumeToUse(side, math.Abs(float64(correctionsTodo)))
	g.log.Infof("Hedging %s %v #%v on %s", side, priceToUse, volumeToUse, g.future.Symbol)

	orderID, err := g.session.SendGTCOrder(g.future.Symbol, side, priceToUse, volumeToUse)
	if err != nil {
		g.log.Errorf("controller.GammaScalper.evaluate: order failed: %v", err)
		return
	}
	g.order = &models.Order{
		OriginalID: orderID,
		Side:       side,
		OrderPrice: priceToUse,
		FullVolume: 0,
		OpenVolume: volumeToUse,
	}
}

// updateDeltas refreshes the cached per-leg cash deltas from the
// latest quotes. It returns a ComputationSkippedError naming the
// reason when the tick cannot be evaluated.
func (g *GammaScalper) updateDeltas(timeToExpiration float64) error {
	underlyingMid, ok := g.future.BBO.Mid()
	if !ok {
		return errs.ComputationSkippedError{Message: "Missing underlying price"}
	}

	costOfCarry := g.interestRate
	strike := *g.straddleCall.StrikePrice

	callPrice, callOK := g.legPrice(pricing.Call, underlyingMid, strike, timeToExpiration)
	putPrice, putOK := g.legPrice(pricing.Put, underlyingMid, strike, timeToExpiration)
	if !callOK || !putOK {
		return errs.ComputationSkippedError{Message: "Missing prices"}
	}
	// Parity reconstruction can produce a slightly negative quote.
	if callPrice < 0 {
		callPrice = 0
	}
	if putPrice < 0 {
		putPrice = 0
	}

	callDelta, callDeltaOK := g.legDelta(pricing.Call, callPrice, underlyingMid, strike, timeToExpiration, costOfCarry)
	putDelta, putDeltaOK := g.legDelta(pricing.Put, putPrice, underlyingMid, strike, timeToExpiration, costOfCarry)
	// Puts read as negative delta by convention.
	if putDeltaOK {
		putDelta = -putDelta
	}

	if !callDeltaOK && !putDeltaOK {
		return errs.ComputationSkippedError{Message: "Missing both deltas"}
	}

	// Reconstruct a missing delta from the present one, clamping the
	// present one to its physical half-space first: a missing call delta
	// is 1 + putDelta, a missing put delta is 1 - callDelta.
	if !callDeltaOK {
		if putDelta > 0 {
			putDelta = 0
		}
		callDelta = 1 + putDelta
	} else if !putDeltaOK {
		if callDelta < 0 {
			callDelta = 0
		}
		putDelta = 1 - callDelta
	}

	if math.IsNaN(callDelta) || math.IsNaN(putDelta) {
		return errs.ComputationSkippedError{Message: "Some delta is NaN"}
	}

	g.deltaFuture = 0
	if entry, ok := g.positions.Get(g.future.Symbol); ok {
		g.deltaFuture = entry.Position.SignedQuantity() * *entry.Instrument.ContractMultiplier / underlyingMid
	}
	g.deltaCall = 0
	if entry, ok := g.positions.Get(g.straddleCall.Symbol); ok {
		g.deltaCall = callDelta * entry.Position.SignedQuantity() * *entry.Instrument.ContractMultiplier
	}
	g.deltaPut = 0
	if entry, ok := g.positions.Get(g.straddlePut.Symbol); ok {
		g.deltaPut = putDelta * entry.Position.SignedQuantity() * *entry.Instrument.ContractMultiplier
	}

	g.log.Debugf(" Underlying price: %v", underlyingMid)
	g.log.Debugf(" call price      : %v", callPrice)
	g.log.Debugf(" put  price      : %v", putPrice)

	return nil
}

// legPrice returns the native (fraction-of-underlying) mid for one
// option leg, reconstructing it through put-call parity from the other
// leg when its own book is one-sided or missing.
func (g *GammaScalper) legPrice(kind pricing.OptionKind, underlyingMid, strike, timeToExpiration float64) (float64, bool) {
	ownBBO, otherBBO := g.straddleCall.BBO, g.straddlePut.BBO
	otherKind := pricing.Put
	if kind == pricing.Put {
		ownBBO, otherBBO = g.straddlePut.BBO, g.straddleCall.BBO
		otherKind = pricing.Call
	}

	if mid, ok := ownBBO.Mid(); ok {
		return mid, true
	}
	otherMid, ok := otherBBO.Mid()
	if !ok {
		return 0, false
	}

	otherCash := otherMid * underlyingMid
	ownCash := pricing.PutCallParityPrice(otherKind, otherCash, underlyingMid, strike,
		timeToExpiration, g.interestRate, g.interestRate)
	return ownCash / underlyingMid, true
}

// legDelta turns a native option quote into a delta by solving for
// implied volatility first. ok is false when the solver gives up.
func (g *GammaScalper) legDelta(kind pricing.OptionKind, nativePrice, underlyingMid, strike, timeToExpiration, costOfCarry float64) (float64, bool) {
	cashPrice := nativePrice * underlyingMid
	impliedVol, ok := pricing.ImpliedVolatility(kind, cashPrice, underlyingMid, strike,
		timeToExpiration, g.interestRate, costOfCarry)
	if !ok {
		return 0, false
	}
	return pricing.Delta(kind, underlyingMid, strike, timeToExpiration,
		g.interestRate, costOfCarry, impliedVol), true
}

// updateFilledVolume folds a report's cumulative executed volume into
// the working order and returns the incremental fill it represents.
func (g *GammaScalper) updateFilledVolume(report *models.ExecutionReport) float64 {
	if report.ExecutedVolume == nil {
		return 0
	}
	incremental := *report.ExecutedVolume - g.order.FullVolume
	g.order.FullVolume = *report.ExecutedVolume
	return incremental
}

// updatePosition applies an incremental fill to the positions book and
// feeds it into the levels stack.
func (g *GammaScalper) updatePosition(report *models.ExecutionReport, executedVolume float64) {
	if report.Symbol == nil || report.Side == nil ||
		report.ExecutedVolume == nil || report.AverageExecutionPrice == nil {
		return
	}
	entry, ok := g.positions.Get(*report.Symbol)
	if !ok {
		return
	}

	signedFill := executedVolume
	if *report.Side == models.SideSell {
		signedFill = -executedVolume
	}
	newQuantity := entry.Position.SignedQuantity() + signedFill

	entry.Position.Quantity = math.Abs(newQuantity)
	entry.Position.Side = models.SideBuy
	if newQuantity < 0 {
		entry.Position.Side = models.SideSell
	}
	entry.Position.SettlementPrice = *report.AverageExecutionPrice
	if mid, ok := g.future.BBO.Mid(); ok {
		entry.Position.UnderlyingEndPrice = mid
	}

	g.log.Infof("Updated position: %s", entry.Position)

	g.levels.Update(executedVolume, *report.AverageExecutionPrice, *report.Side, g.future)
}

func (g *GammaScalper) cancelAllOrders() {
	if g.order == nil {
		return
	}
	if err := g.session.SendMassCancellationOrder(); err != nil {
		g.log.Errorf("controller.GammaScalper.cancelAllOrders: %v", err)
	}
	g.order = nil
}

// printReport dumps the strategy state. Called before fatal exits.
func (g *GammaScalper) printReport() {
	g.log.Infof("############### Positions  #################")
	for _, symbol := range g.positions.Symbols() {
		if entry, ok := g.positions.Get(symbol); ok {
			g.log.Infof("%s", entry.Position)
		}
	}
	g.log.Infof("+----------- Instruments to use -----------+")
	g.log.Infof("Straddle call: %v", instrumentString(g.straddleCall))
	g.log.Infof("Straddle put : %v", instrumentString(g.straddlePut))
	g.log.Infof("future       : %v", instrumentString(g.future))
	g.log.Infof("+--------------- Active order -------------+")
	if g.order != nil {
		g.log.Infof("- %s", *g.order)
	} else {
		g.log.Infof("- none")
	}
	g.log.Infof("+------------------- BBOs -----------------+")
	for _, instrument := range []*models.Instrument{g.future, g.straddleCall, g.straddlePut} {
		if instrument == nil || instrument.BBO == nil {
			continue
		}
		g.log.Infof("%s: %s # %s - %s # %s", instrument.Symbol,
			floatString(instrument.BBO.BidVolume), floatString(instrument.BBO.Bid),
			floatString(instrument.BBO.Ask), floatString(instrument.BBO.AskVolume))
	}
	g.log.Infof("+------------------- Deltas ---------------+")
	g.log.Infof("future: %v", g.deltaFuture)
	g.log.Infof("call  : %v", g.deltaCall)
	g.log.Infof("put   : %v", g.deltaPut)
	g.log.Infof("############################################")
}

func (g *GammaScalper) fatal(message string) {
	g.printReport()
	g.log.Criticalf("%s", message)

	g.mu.Lock()
	if g.fatalErr == nil {
		g.fatalErr = errs.ProtocolInvariantError{Message: message}
	}
	g.running = false
	g.cond.Broadcast()
	g.mu.Unlock()

	g.session.Stop()
}

func (g *GammaScalper) signalStop() {
	g.mu.Lock()
	g.running = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func instrumentString(instrument *models.Instrument) string {
	if instrument == nil {
		return "--"
	}
	return instrument.String()
}

func floatString(v *float64) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%v", *v)
}

func valueOrZeroString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func valueOrZeroFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func valueOrDefaultSide(v *models.Side) models.Side {
	if v == nil {
		return models.SideBuy
	}
	return *v
}
