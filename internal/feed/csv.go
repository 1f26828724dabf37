package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"quantbot-go/internal/signal"
)

// CSVFeed replays ticks from a file with header ts,last[,bid,ask][,inst_id].
// ts is epoch milliseconds. Rows without an inst_id belong to the default instrument.
// Timestamps never go backwards and are strictly increasing per instrument, so
// one file can interleave the legs of a multi-instrument strategy.
type CSVFeed struct {
	path  string
	ticks []signal.Tick
	pos   int
}

// NewCSVFeed reads and validates the whole file up front.
func NewCSVFeed(path, instrumentID string) (*CSVFeed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv feed: %w", err)
	}
	defer file.Close()

	ticks, err := parseCSV(file, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &CSVFeed{path: path, ticks: ticks}, nil
}

func parseCSV(r io.Reader, instrumentID string) ([]signal.Tick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"ts", "last"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}

	var (
		ticks  []signal.Tick
		lastTs int64
		seen   = make(map[string]int64)
	)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := strconv.ParseInt(field(row, cols, "ts"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad ts: %w", line, err)
		}
		id := field(row, cols, "inst_id")
		if id == "" {
			id = instrumentID
		}
		if len(ticks) > 0 && ts < lastTs {
			return nil, fmt.Errorf("line %d: ts %d before %d", line, ts, lastTs)
		}
		if prev, ok := seen[id]; ok && ts <= prev {
			return nil, fmt.Errorf("line %d: ts %d not after %d for %s", line, ts, prev, id)
		}
		last, err := parseFloat(field(row, cols, "last"))
		if err != nil || last <= 0 {
			return nil, fmt.Errorf("line %d: bad last price %q", line, field(row, cols, "last"))
		}
		bid, err := parseFloat(field(row, cols, "bid"))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad bid: %w", line, err)
		}
		ask, err := parseFloat(field(row, cols, "ask"))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad ask: %w", line, err)
		}
		ticks = append(ticks, signal.Tick{
			InstrumentID: id,
			Ts:           time.UnixMilli(ts).UTC(),
			Last:         last,
			Bid:          bid,
			Ask:          ask,
		})
		lastTs = ts
		seen[id] = ts
	}
	return ticks, nil
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseFloat treats an empty cell as zero.
func parseFloat(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseFloat(raw, 64)
}

// Next returns the next row or ErrExhausted.
func (f *CSVFeed) Next(ctx context.Context) (signal.Tick, error) {
	if err := ctx.Err(); err != nil {
		return signal.Tick{}, err
	}
	if f.pos >= len(f.ticks) {
		return signal.Tick{}, ErrExhausted
	}
	tick := f.ticks[f.pos]
	f.pos++
	return tick, nil
}

// Instruments lists the instruments present in the file in order of first appearance.
func (f *CSVFeed) Instruments() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, tick := range f.ticks {
		if !seen[tick.InstrumentID] {
			seen[tick.InstrumentID] = true
			ids = append(ids, tick.InstrumentID)
		}
	}
	return ids
}

// Len reports the number of rows loaded.
func (f *CSVFeed) Len() int { return len(f.ticks) }

// Reset rewinds the feed to the first row.
func (f *CSVFeed) Reset() { f.pos = 0 }

// Close marks the feed exhausted.
func (f *CSVFeed) Close() error {
	f.pos = len(f.ticks)
	return nil
}
