package tickdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
)

// Write renders ticks in the canonical layout that Read accepts.
func Write(w io.Writer, ticks []core.Tick) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, tk := range ticks {
		side := ""
		if tk.Side != core.SideNone {
			side = string(tk.Side)
		}
		rec := []string{
			tk.Time.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(tk.Price, 'f', -1, 64),
			strconv.FormatFloat(tk.Size, 'f', -1, 64),
			side,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes ticks to path, replacing any existing file.
func WriteFile(path string, ticks []core.Tick) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ticks: %w", err)
	}
	if err := Write(f, ticks); err != nil {
		f.Close()
		return fmt.Errorf("write ticks: %w", err)
	}
	return f.Close()
}
