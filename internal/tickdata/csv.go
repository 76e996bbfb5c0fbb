// Package tickdata reads the canonical tick table.
package tickdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
)

// Columns of the canonical tick table. side is optional.
var columns = []string{"timestamp", "price", "size", "side"}

// Read parses ticks from CSV with a header row. Rows keep file order; a
// malformed row is reported with its zero-based row index. Values are
// checked for syntax only; the sampler validates their ranges.
func Read(r io.Reader) ([]core.Tick, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, core.ErrEmptyInput
		}
		return nil, core.WrapError(core.ErrMalformedInput, err)
	}
	pos, err := columnPositions(header)
	if err != nil {
		return nil, err
	}
	cr.FieldsPerRecord = len(header)

	var ticks []core.Tick
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrMalformedInput.At(row), err)
		}
		tick, err := parseRow(rec, pos)
		if err != nil {
			return nil, core.WrapError(core.ErrMalformedInput.At(row), err)
		}
		ticks = append(ticks, tick)
	}
	if len(ticks) == 0 {
		return nil, core.ErrEmptyInput
	}
	return ticks, nil
}

// ReadFile reads a tick CSV file.
func ReadFile(path string) ([]core.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ticks: %w", err)
	}
	defer f.Close()
	return Read(f)
}

func columnPositions(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(columns))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case "ts", "time":
			name = "timestamp"
		case "qty", "quantity", "volume":
			name = "size"
		}
		pos[name] = i
	}
	for _, c := range columns[:3] {
		if _, ok := pos[c]; !ok {
			return nil, core.Errorf(core.ErrMalformedInput, "tick table has no %q column", c)
		}
	}
	return pos, nil
}

func parseRow(rec []string, pos map[string]int) (core.Tick, error) {
	ts, err := ParseTimestamp(rec[pos["timestamp"]])
	if err != nil {
		return core.Tick{}, err
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(rec[pos["price"]]), 64)
	if err != nil {
		return core.Tick{}, fmt.Errorf("price: %w", err)
	}
	size, err := strconv.ParseFloat(strings.TrimSpace(rec[pos["size"]]), 64)
	if err != nil {
		return core.Tick{}, fmt.Errorf("size: %w", err)
	}
	side := core.SideNone
	if i, ok := pos["side"]; ok {
		side, err = ParseSide(rec[i])
		if err != nil {
			return core.Tick{}, err
		}
	}
	return core.Tick{Time: ts, Price: price, Size: size, Side: side}, nil
}

// ParseTimestamp accepts RFC 3339 or unix milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: want RFC 3339 or unix milliseconds", s)
	}
	return t.UTC(), nil
}

// ParseSide maps aggressor side spellings to a Side.
func ParseSide(s string) (core.Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b", "bid":
		return core.SideBuy, nil
	case "sell", "s", "ask":
		return core.SideSell, nil
	case "", "none", "unknown":
		return core.SideNone, nil
	}
	return "", fmt.Errorf("side %q", s)
}
