// Package artifact encodes scan outputs and writes them to archive storage
// under runs/<run-id>/<symbol>/.
package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/backtest"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/storage/archive"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Artifact file names.
const (
	BarsFile             = "bars.csv"
	LabelsFile           = "labels.csv"
	TradesFile           = "trades.csv"
	SummaryFile          = "summary.yaml"
	FilterCheckpointFile = "filter_state.json"
	SimCheckpointFile    = "backtest_checkpoint.json"
)

// NewRunID returns a sortable, unique run id.
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
}

// Writer writes the artifacts of one run.
type Writer struct {
	store  archive.Storage
	runID  string
	logger *zap.Logger
}

// NewWriter creates a writer for runID.
func NewWriter(store archive.Storage, runID string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, runID: runID, logger: logger}
}

// RunID returns the run id.
func (w *Writer) RunID() string {
	return w.runID
}

// ForRun returns a writer for another run on the same store.
func (w *Writer) ForRun(runID string) *Writer {
	return &Writer{store: w.store, runID: runID, logger: w.logger}
}

// Path returns the store path of a symbol's artifact.
func (w *Writer) Path(symbol, name string) string {
	return path.Join("runs", w.runID, symbol, name)
}

func (w *Writer) write(ctx context.Context, symbol, name string, data []byte) error {
	p := w.Path(symbol, name)
	if err := w.store.Write(ctx, p, data); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	w.logger.Debug("artifact written", zap.String("path", p), zap.Int("bytes", len(data)))
	return nil
}

// Exists reports whether a symbol's artifact has been written.
func (w *Writer) Exists(ctx context.Context, symbol, name string) (bool, error) {
	p := w.Path(symbol, name)
	ok, err := w.store.Exists(ctx, p)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return ok, nil
}

// WriteBars writes the bar table.
func (w *Writer) WriteBars(ctx context.Context, symbol string, bars []core.Bar) error {
	data, err := EncodeBars(bars)
	if err != nil {
		return err
	}
	return w.write(ctx, symbol, BarsFile, data)
}

// WriteLabels writes the labeled event table.
func (w *Writer) WriteLabels(ctx context.Context, symbol string, labels []core.Label) error {
	data, err := EncodeLabels(labels)
	if err != nil {
		return err
	}
	return w.write(ctx, symbol, LabelsFile, data)
}

// SweepLabelsFile names the label table of one sweep configuration.
func SweepLabelsFile(name string) string {
	return "labels_" + name + ".csv"
}

// WriteSweepLabels writes the label table of one sweep configuration.
func (w *Writer) WriteSweepLabels(ctx context.Context, symbol, name string, labels []core.Label) error {
	data, err := EncodeLabels(labels)
	if err != nil {
		return err
	}
	return w.write(ctx, symbol, SweepLabelsFile(name), data)
}

// WriteTrades writes the trade ledger.
func (w *Writer) WriteTrades(ctx context.Context, symbol string, trades []backtest.Trade) error {
	data, err := EncodeTrades(trades)
	if err != nil {
		return err
	}
	return w.write(ctx, symbol, TradesFile, data)
}

// WriteSummary writes the run summary as YAML.
func (w *Writer) WriteSummary(ctx context.Context, s Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return w.write(ctx, s.Symbol, SummaryFile, data)
}

// WriteCheckpoint stores v as JSON.
func (w *Writer) WriteCheckpoint(ctx context.Context, symbol, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return w.write(ctx, symbol, name, data)
}

// ReadCheckpoint loads a checkpoint written by WriteCheckpoint.
func (w *Writer) ReadCheckpoint(ctx context.Context, symbol, name string, v any) error {
	p := w.Path(symbol, name)
	data, err := w.store.Read(ctx, p)
	if err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.WrapError(core.ErrMalformedInput, fmt.Errorf("decode %s: %w", p, err))
	}
	return nil
}

func ff(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}

func ft(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func encode(header []string, n int, row func(i int) []string) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}

// EncodeBars renders bars as CSV.
func EncodeBars(bars []core.Bar) ([]byte, error) {
	header := []string{
		"index", "start", "end", "open", "high", "low", "close", "volume", "turnover",
		"buy_volume", "sell_volume", "vwap", "tick_count", "clock_value",
		"stale", "incomplete", "denoised", "denoised_variance",
	}
	return encode(header, len(bars), func(i int) []string {
		b := bars[i]
		return []string{
			strconv.Itoa(b.Index), ft(b.Start), ft(b.End),
			ff(b.Open), ff(b.High), ff(b.Low), ff(b.Close), ff(b.Volume), ff(b.Turnover),
			ff(b.BuyVolume), ff(b.SellVolume), ff(b.VWAP()), strconv.Itoa(b.TickCount), ff(b.ClockValue),
			strconv.FormatBool(b.Stale), strconv.FormatBool(b.Incomplete),
			ff(b.Denoised), ff(b.DenoisedVariance),
		}
	})
}

// EncodeLabels renders labels as CSV.
func EncodeLabels(labels []core.Label) ([]byte, error) {
	header := []string{
		"anchor", "side", "profit_take_mult", "stop_loss_mult", "max_holding_bars",
		"outcome", "bin", "exit_index", "entry_price", "exit_price", "return", "unit",
	}
	return encode(header, len(labels), func(i int) []string {
		l := labels[i]
		return []string{
			strconv.Itoa(l.Event.Anchor), string(l.Event.Side),
			ff(l.Event.ProfitTakeMult), ff(l.Event.StopLossMult), strconv.Itoa(l.Event.MaxHolding),
			string(l.Outcome), strconv.Itoa(l.Bin()), strconv.Itoa(l.ExitIndex),
			ff(l.EntryPrice), ff(l.ExitPrice), ff(l.Return), ff(l.Unit),
		}
	})
}

// EncodeTrades renders the trade ledger as CSV.
func EncodeTrades(trades []backtest.Trade) ([]byte, error) {
	header := []string{
		"side", "entry_index", "exit_index", "entry_time", "exit_time", "entry_price", "exit_price",
		"size", "outcome", "held", "gross_pnl", "cost", "pnl", "gross_return", "return",
	}
	return encode(header, len(trades), func(i int) []string {
		t := trades[i]
		return []string{
			string(t.Side), strconv.Itoa(t.EntryIndex), strconv.Itoa(t.ExitIndex),
			ft(t.EntryTime), ft(t.ExitTime), ff(t.EntryPrice), ff(t.ExitPrice),
			ff(t.Size), string(t.Outcome), strconv.Itoa(t.Held),
			ff(t.GrossPnL), ff(t.Cost), ff(t.PnL), ff(t.GrossReturn), ff(t.Return),
		}
	})
}
