package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/HershyOrg/gammascalper/internal/errs"
	"github.com/HershyOrg/gammascalper/models"
	"github.com/HershyOrg/gammascalper/pricing"
)

var maturity = time.Date(2026, 3, 27, 8, 0, 0, 0, time.UTC)

func optionInstrument(symbol string, kind pricing.OptionKind) models.Instrument {
	k := kind
	return models.Instrument{
		Symbol:             symbol,
		Type:               "OPT",
		MainCurrency:       "BTC",
		ContractMultiplier: models.Float64(1),
		PutCall:            &k,
		StrikePrice:        models.Float64(3500),
		MaturityDate:       &maturity,
	}
}

func futureInstrument(symbol string) models.Instrument {
	return models.Instrument{
		Symbol:             symbol,
		Type:               "FUT",
		MainCurrency:       "BTC",
		ContractMultiplier: models.Float64(10),
	}
}

func position(symbol string, quantity float64, side models.Side) models.Position {
	return models.Position{Symbol: symbol, Quantity: quantity, Side: side}
}

func TestResolveClassifiesStraddleAndHeldFuture(t *testing.T) {
	book := NewBook()
	book.SetPosition(position("BTC-27MAR26-3500-C", 1, models.SideBuy))
	book.SetPosition(position("BTC-27MAR26-3500-P", 1, models.SideBuy))
	book.SetPosition(position("BTC-27MAR26", 20, models.SideSell))

	instruments := []models.Instrument{
		optionInstrument("BTC-27MAR26-3500-C", pricing.Call),
		optionInstrument("BTC-27MAR26-3500-P", pricing.Put),
		futureInstrument("BTC-27MAR26"),
	}

	resolved, err := book.Resolve(instruments)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.StraddleCall.Symbol != "BTC-27MAR26-3500-C" {
		t.Errorf("Wrong call leg: %s", resolved.StraddleCall.Symbol)
	}
	if resolved.StraddlePut.Symbol != "BTC-27MAR26-3500-P" {
		t.Errorf("Wrong put leg: %s", resolved.StraddlePut.Symbol)
	}
	if resolved.Future.Symbol != "BTC-27MAR26" {
		t.Errorf("Wrong future: %s", resolved.Future.Symbol)
	}
}

func TestResolveDiscoversFutureByCallPrefix(t *testing.T) {
	book := NewBook()
	book.SetPosition(position("BTC-27MAR26-3500-C", 1, models.SideBuy))
	book.SetPosition(position("BTC-27MAR26-3500-P", 1, models.SideBuy))

	instruments := []models.Instrument{
		optionInstrument("BTC-27MAR26-3500-C", pricing.Call),
		optionInstrument("BTC-27MAR26-3500-P", pricing.Put),
		futureInstrument("BTC-27MAR26"),
	}

	resolved, err := book.Resolve(instruments)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Future.Symbol != "BTC-27MAR26" {
		t.Errorf("Expected discovered future BTC-27MAR26, got %s", resolved.Future.Symbol)
	}

	// The discovered future gets a flat synthetic position.
	entry, ok := book.Get("BTC-27MAR26")
	if !ok {
		t.Fatalf("Expected synthetic future entry in the book")
	}
	if entry.Position.Quantity != 0 || entry.Position.Side != models.SideBuy {
		t.Errorf("Unexpected synthetic position: %+v", entry.Position)
	}
}

func TestResolveFallsBackToPerpetual(t *testing.T) {
	book := NewBook()
	book.SetPosition(position("BTC-27MAR26-3500-C", 1, models.SideBuy))
	book.SetPosition(position("BTC-27MAR26-3500-P", 1, models.SideBuy))

	instruments := []models.Instrument{
		optionInstrument("BTC-27MAR26-3500-C", pricing.Call),
		optionInstrument("BTC-27MAR26-3500-P", pricing.Put),
		futureInstrument("BTC-PERPETUAL"),
	}

	resolved, err := book.Resolve(instruments)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Future.Symbol != "BTC-PERPETUAL" {
		t.Errorf("Expected perpetual fallback, got %s", resolved.Future.Symbol)
	}
}

func TestResolveFailsWithoutAnyHedgeInstrument(t *testing.T) {
	book := NewBook()
	book.SetPosition(position("BTC-27MAR26-3500-C", 1, models.SideBuy))
	book.SetPosition(position("BTC-27MAR26-3500-P", 1, models.SideBuy))

	instruments := []models.Instrument{
		optionInstrument("BTC-27MAR26-3500-C", pricing.Call),
		optionInstrument("BTC-27MAR26-3500-P", pricing.Put),
	}

	_, err := book.Resolve(instruments)
	var invariant errs.ProtocolInvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("Expected ProtocolInvariantError, got %v", err)
	}
}

func TestResolveFailsOnMissingLeg(t *testing.T) {
	book := NewBook()
	book.SetPosition(position("BTC-27MAR26-3500-C", 1, models.SideBuy))

	instruments := []models.Instrument{
		optionInstrument("BTC-27MAR26-3500-C", pricing.Call),
	}

	_, err := book.Resolve(instruments)
	var invariant errs.ProtocolInvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("Expected ProtocolInvariantError for missing put leg, got %v", err)
	}
}

func TestResolveFailsOnMismatchedLegs(t *testing.T) {
	put := optionInstrument("BTC-27MAR26-4000-P", pricing.Put)
	put.StrikePrice = models.Float64(4000)

	book := NewBook()
	book.SetPosition(position("BTC-27MAR26-3500-C", 1, models.SideBuy))
	book.SetPosition(position("BTC-27MAR26-4000-P", 1, models.SideBuy))

	instruments := []models.Instrument{
		optionInstrument("BTC-27MAR26-3500-C", pricing.Call),
		put,
		futureInstrument("BTC-27MAR26"),
	}

	_, err := book.Resolve(instruments)
	var invariant errs.ProtocolInvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("Expected ProtocolInvariantError for mismatched strikes, got %v", err)
	}
}

func TestResolveFailsOnUnknownPositionSymbol(t *testing.T) {
	book := NewBook()
	book.SetPosition(position("BTC-27MAR26-3500-C", 1, models.SideBuy))
	book.SetPosition(position("ETH-UNKNOWN", 1, models.SideBuy))

	instruments := []models.Instrument{
		optionInstrument("BTC-27MAR26-3500-C", pricing.Call),
	}

	_, err := book.Resolve(instruments)
	var invariant errs.ProtocolInvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("Expected ProtocolInvariantError for unknown symbol, got %v", err)
	}
}

func TestResolvedInstrumentAliasesBookEntry(t *testing.T) {
	book := NewBook()
	book.SetPosition(position("BTC-27MAR26-3500-C", 1, models.SideBuy))
	book.SetPosition(position("BTC-27MAR26-3500-P", 1, models.SideBuy))

	instruments := []models.Instrument{
		optionInstrument("BTC-27MAR26-3500-C", pricing.Call),
		optionInstrument("BTC-27MAR26-3500-P", pricing.Put),
		futureInstrument("BTC-27MAR26"),
	}

	resolved, err := book.Resolve(instruments)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	resolved.Future.BBO = &models.BBO{Bid: models.Float64(3590), Ask: models.Float64(3610)}

	entry, _ := book.Get("BTC-27MAR26")
	if entry.Instrument.BBO == nil {
		t.Fatalf("Expected BBO attached through the resolved pointer to reach the book")
	}
}
