// Package portfolio holds the positions the strategy trades against
// and resolves the straddle legs and the hedge future out of the
// instrument list the exchange reports after logon.
package portfolio

import (
	"fmt"
	"time"

	"github.com/HershyOrg/gammascalper/internal/errs"
	"github.com/HershyOrg/gammascalper/models"
	"github.com/HershyOrg/gammascalper/pricing"
)

// Entry binds a position to its instrument.
type Entry struct {
	// Position is the held position.
	Position models.Position
	// Instrument is the instrument definition, attached once the
	// instrument list arrives.
	Instrument models.Instrument
}

// Book is the symbol-keyed positions map. A flat instrument has no
// entry; the synthetic future entry created by Resolve is the one
// exception, so the future's position exists even before the first
// hedge fill.
type Book struct {
	entries map[string]*Entry
}

// NewBook returns an empty positions book.
func NewBook() *Book {
	return &Book{entries: map[string]*Entry{}}
}

// Clear drops every entry. Called when a fresh position report
// re-hydrates the book.
func (b *Book) Clear() {
	b.entries = map[string]*Entry{}
}

// SetPosition inserts or replaces the position for its symbol.
func (b *Book) SetPosition(position models.Position) {
	entry, ok := b.entries[position.Symbol]
	if !ok {
		entry = &Entry{}
		b.entries[position.Symbol] = entry
	}
	entry.Position = position
}

// Get returns the entry for symbol.
func (b *Book) Get(symbol string) (*Entry, bool) {
	entry, ok := b.entries[symbol]
	return entry, ok
}

// Len returns the number of entries.
func (b *Book) Len() int { return len(b.entries) }

// Symbols returns the symbols currently held.
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.entries))
	for symbol := range b.entries {
		out = append(out, symbol)
	}
	return out
}

// Resolved names the three instruments the strategy works.
type Resolved struct {
	// StraddleCall is the call leg.
	StraddleCall *models.Instrument
	// StraddlePut is the put leg.
	StraddlePut *models.Instrument
	// Future is the hedge instrument.
	Future *models.Instrument
}

// Resolve attaches instrument definitions to the held positions and
// classifies them: options by their put/call flag into the call and
// put legs, any other instrument as the hedge. The counts per class are
// not checked; when more than one held instrument falls into a class,
// one of them is kept and which one is not defined. When no future is
// held, it is discovered from the instrument list by the call symbol's
// first eleven characters, then by "<first-3>-PERPETUAL", and a flat
// synthetic position is created for it.
//
// The returned pointers alias the book's entries, so attaching a BBO
// to a resolved instrument updates the book too.
func (b *Book) Resolve(instruments []models.Instrument) (Resolved, error) {
	var resolved Resolved

	for symbol, entry := range b.entries {
		instrument, ok := findInstrument(instruments, symbol)
		if !ok {
			return Resolved{}, errs.ProtocolInvariantError{Message: fmt.Sprintf(
				"portfolio: no instrument information for position %s", symbol)}
		}
		entry.Instrument = instrument

		if instrument.Type == "OPT" {
			if entry.Instrument.PutCall == nil {
				return Resolved{}, errs.ProtocolInvariantError{Message: fmt.Sprintf(
					"portfolio: option %s is missing its put/call flag", symbol)}
			}
			if *entry.Instrument.PutCall == pricing.Call {
				resolved.StraddleCall = &entry.Instrument
			} else {
				resolved.StraddlePut = &entry.Instrument
			}
		} else {
			resolved.Future = &entry.Instrument
		}
	}

	if resolved.StraddleCall == nil || resolved.StraddlePut == nil {
		return Resolved{}, errs.ProtocolInvariantError{
			Message: "portfolio: impossible to determine the straddle from the instrument list"}
	}
	if err := validateStraddle(resolved.StraddleCall, resolved.StraddlePut); err != nil {
		return Resolved{}, err
	}

	if resolved.Future == nil {
		future, err := discoverFuture(instruments, resolved.StraddleCall.Symbol)
		if err != nil {
			return Resolved{}, err
		}

		entry := &Entry{
			Instrument: future,
			Position: models.Position{
				Symbol:   future.Symbol,
				Quantity: 0,
				Side:     models.SideBuy,
			},
		}
		b.entries[future.Symbol] = entry
		resolved.Future = &entry.Instrument
	}

	return resolved, nil
}

func validateStraddle(call, put *models.Instrument) error {
	mismatch := call.MainCurrency != put.MainCurrency ||
		!equalTimes(call.MaturityDate, put.MaturityDate) ||
		!equalFloats(call.StrikePrice, put.StrikePrice)
	if mismatch {
		return errs.ProtocolInvariantError{Message: fmt.Sprintf(
			"portfolio: %s and %s are not legs of the same straddle",
			call.Symbol, put.Symbol)}
	}
	return nil
}

func discoverFuture(instruments []models.Instrument, callSymbol string) (models.Instrument, error) {
	prefix := callSymbol
	if len(prefix) > 11 {
		prefix = prefix[:11]
	}
	if future, ok := findInstrument(instruments, prefix); ok {
		return future, nil
	}

	base := prefix
	if len(base) > 3 {
		base = base[:3]
	}
	perpetualSymbol := base + "-PERPETUAL"
	if perpetual, ok := findInstrument(instruments, perpetualSymbol); ok {
		return perpetual, nil
	}

	return models.Instrument{}, errs.ProtocolInvariantError{Message: fmt.Sprintf(
		"portfolio: impossible to find the hedge future or the perpetual (%s)", perpetualSymbol)}
}

func findInstrument(instruments []models.Instrument, symbol string) (models.Instrument, bool) {
	for _, instrument := range instruments {
		if instrument.Symbol == symbol {
			return instrument, true
		}
	}
	return models.Instrument{}, false
}

func equalTimes(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalFloats(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return models.EqualWithin(*a, *b)
}
