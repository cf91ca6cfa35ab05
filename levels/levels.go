// Package levels keeps the stack of unpaired hedge fills. The stack
// stops the strategy from buying above its last unpaired sell (or
// selling below its last unpaired buy), and realizes PnL whenever a
// fill pairs against the top of the stack.
package levels

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/HershyOrg/gammascalper/internal/logging"
	"github.com/HershyOrg/gammascalper/models"
)

const (
	levelsFile = "levels"
	pnlFile    = "pnl"
	pnlLogFile = "pnl_log"
)

// Level is one unpaired fill on the hedge instrument.
type Level struct {
	// Volume is the unpaired volume remaining on this fill.
	Volume float64
	// Price is the fill price.
	Price float64
	// Side is the fill side. Every level in the book shares a side.
	Side models.Side
}

// Book is the persistent stack of unpaired fills. The last element of
// the slice is the top of the stack; the file stores bottom first.
type Book struct {
	// auxFolder is the directory the levels, pnl and pnl_log files live in.
	auxFolder string
	// entries is the stack, bottom first.
	entries []Level
	// sweetener is the configured price margin, as a fraction of the
	// contract multiplier.
	sweetener float64
	// log is the book's logger.
	log *logging.Logger
}

// NewBook loads the persisted stack from auxFolder and returns the
// book. A missing levels file means an empty stack.
func NewBook(auxFolder string, sweetener float64) (*Book, error) {
	b := &Book{
		auxFolder: auxFolder,
		sweetener: sweetener,
		log:       logging.Default(),
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// Len returns the number of unpaired levels.
func (b *Book) Len() int { return len(b.entries) }

// Entries returns a copy of the stack, bottom first.
func (b *Book) Entries() []Level {
	out := make([]Level, len(b.entries))
	copy(out, b.entries)
	return out
}

// Front returns the top of the stack.
func (b *Book) Front() (Level, bool) {
	if len(b.entries) == 0 {
		return Level{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Update records a fresh fill of tradedVolume at tradedPrice on side.
// A fill on the front side is pushed; a fill on the opposite side is
// paired against the front, emitting a PnL entry, spilling into the
// next level when the fill is larger than the front.
//
// When the fill is smaller than the front, the front's remaining
// volume is overwritten with the incoming volume rather than with
// front-volume minus incoming. That matches the behavior this book
// was reconciled against; see DESIGN.md before changing it.
func (b *Book) Update(tradedVolume, tradedPrice float64, side models.Side, future *models.Instrument) {
	if len(b.entries) == 0 || b.entries[len(b.entries)-1].Side == side {
		b.entries = append(b.entries, Level{Volume: tradedVolume, Price: tradedPrice, Side: side})
	} else {
		front := &b.entries[len(b.entries)-1]
		frontVolume := front.Volume
		frontPrice := front.Price
		filledVolume := tradedVolume
		if frontVolume < tradedVolume {
			filledVolume = frontVolume
		}

		front.Volume -= tradedVolume

		if front.Volume == 0 {
			b.entries = b.entries[:len(b.entries)-1]
		} else if front.Volume < 0 {
			b.entries = b.entries[:len(b.entries)-1]
			b.Update(tradedVolume-frontVolume, tradedPrice, side, future)
		} else {
			front.Volume = tradedVolume
		}
		b.storePnL(frontPrice, tradedPrice, side, filledVolume, future)
	}

	b.store()
	b.log.Debugf("levels.Book.Update: %d levels after %s %v@%v", len(b.entries), side, tradedVolume, tradedPrice)
}

// PriceToUse returns the limit price a hedge on side should be sent
// at. With an empty stack it is the far touch of the future's book;
// otherwise the front price, sweetened away from it, caps the touch so
// the strategy never crosses its own last unpaired fill at a loss.
func (b *Book) PriceToUse(side models.Side, future *models.Instrument) float64 {
	if len(b.entries) == 0 {
		if side == models.SideBuy {
			return *future.BBO.Bid
		}
		return *future.BBO.Ask
	}

	front := b.entries[len(b.entries)-1]
	margin := *future.ContractMultiplier * b.sweetener
	if side == models.SideBuy {
		reference := front.Price - margin
		if bid := *future.BBO.Bid; bid < reference {
			return bid
		}
		return reference
	}
	reference := front.Price + margin
	if ask := *future.BBO.Ask; ask > reference {
		return ask
	}
	return reference
}

// VolumeToUse returns how much of correctionsTodo a hedge on side
// should carry. Pairing against the opposite front is capped at what
// the front can absorb.
func (b *Book) VolumeToUse(side models.Side, correctionsTodo float64) float64 {
	if len(b.entries) == 0 || b.entries[len(b.entries)-1].Side == side {
		return correctionsTodo
	}
	if front := b.entries[len(b.entries)-1]; front.Volume < correctionsTodo {
		return front.Volume
	}
	return correctionsTodo
}

// Flush rewrites the stack to disk. Called on controlled shutdown.
func (b *Book) Flush() { b.store() }

func (b *Book) store() {
	path := b.auxFolder + levelsFile
	file, err := os.Create(path)
	if err != nil {
		b.log.Errorf("levels.Book.store: open %s: %v", path, err)
		return
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, level := range b.entries {
		fmt.Fprintf(writer, "%v;%d;%v\n", level.Price, int(level.Side), level.Volume)
	}
	if err := writer.Flush(); err != nil {
		b.log.Errorf("levels.Book.store: write %s: %v", path, err)
	}
}

func (b *Book) load() error {
	path := b.auxFolder + levelsFile
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) != 3 {
			return fmt.Errorf("levels: malformed line %q in %s", line, path)
		}
		price, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return fmt.Errorf("levels: bad price in %q: %w", line, err)
		}
		sideInt, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("levels: bad side in %q: %w", line, err)
		}
		volume, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return fmt.Errorf("levels: bad volume in %q: %w", line, err)
		}
		b.entries = append(b.entries, Level{Volume: volume, Price: price, Side: models.Side(sideInt)})
	}
	return scanner.Err()
}

// storePnL realizes the PnL of pairing rawPairedVolume between the
// front price and the report price, accumulates it in the pnl file and
// appends the trace to the pnl log.
func (b *Book) storePnL(frontPrice, reportPrice float64, reportSide models.Side, rawPairedVolume float64, future *models.Instrument) {
	pairedVolume := rawPairedVolume * *future.ContractMultiplier

	topValue := pairedVolume / frontPrice
	if reportSide != models.SideSell {
		topValue = -topValue
	}

	reportValue := pairedVolume / reportPrice
	if reportSide == models.SideSell {
		reportValue = -reportValue
	}

	calculatedPnL := reportValue + topValue

	total := calculatedPnL
	if previous, ok := b.readPnL(); ok {
		total = previous + calculatedPnL
	}

	path := b.auxFolder + pnlFile
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%v\n", total)), 0o644); err != nil {
		b.log.Errorf("levels.Book.storePnL: write %s: %v", path, err)
	}

	logPath := b.auxFolder + pnlLogFile
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		b.log.Errorf("levels.Book.storePnL: open %s: %v", logPath, err)
		return
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "Formula: \n")
	fmt.Fprintf(logFile, "top_value = %v / %v = %v\n", pairedVolume, frontPrice, topValue)
	fmt.Fprintf(logFile, "report_value = %v / %v = %v\n", pairedVolume, reportPrice, reportValue)
	fmt.Fprintf(logFile, "report side : %s\n", reportSide)
	fmt.Fprintf(logFile, "%v + %v = %v\n", topValue, reportValue, calculatedPnL)
}

// RealizedPnL returns the cumulative realized PnL from the pnl file.
func (b *Book) RealizedPnL() float64 {
	total, _ := b.readPnL()
	return total
}

func (b *Book) readPnL() (float64, bool) {
	path := b.auxFolder + pnlFile
	file, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(scanner.Text()), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
