// Package bars samples the canonical tick table into activity-clocked bars.
package bars

import (
	"fmt"
	"math"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/metrics"
	"go.uber.org/zap"
)

// Clock selects the activity measure that times bar boundaries.
type Clock string

const (
	ClockVolume   Clock = "volume"
	ClockTurnover Clock = "turnover"
)

// Measure returns the clock increment contributed by a tick.
func (c Clock) Measure(t core.Tick) float64 {
	if c == ClockTurnover {
		return t.Notional()
	}
	return t.Size
}

// Valid reports whether c is a known clock.
func (c Clock) Valid() bool {
	return c == ClockVolume || c == ClockTurnover
}

// Config holds sampler settings.
type Config struct {
	Clock     Clock
	Threshold float64
	// StaleTimeout is the longest tick gap tolerated inside the series.
	// Zero disables stale detection.
	StaleTimeout time.Duration
}

// Validate checks the sampler configuration.
func (c Config) Validate() error {
	if !c.Clock.Valid() {
		return core.Errorf(core.ErrConfigInvalid, "unknown clock %q", c.Clock)
	}
	if !(c.Threshold > 0) || math.IsInf(c.Threshold, 1) {
		return core.Errorf(core.ErrInvalidThreshold, "bar threshold %v", c.Threshold)
	}
	if c.StaleTimeout < 0 {
		return core.Errorf(core.ErrConfigInvalid, "stale_timeout cannot be negative, got %s", c.StaleTimeout)
	}
	return nil
}

// Sampler converts ticks into bars. It holds no state between calls.
type Sampler struct {
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New creates a sampler, rejecting invalid configuration up front.
func New(cfg Config, logger *zap.Logger, reg *metrics.Registry) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{cfg: cfg, logger: logger, metrics: reg}, nil
}

// Sample builds bars from time-ordered ticks. A bar closes on the tick that
// brings its clock to the threshold; that tick belongs wholly to the bar.
// The trailing partial bar is returned flagged Incomplete.
func (s *Sampler) Sample(ticks []core.Tick) ([]core.Bar, error) {
	if len(ticks) == 0 {
		return nil, core.ErrEmptyInput
	}

	var (
		out  []core.Bar
		acc  accumulator
		prev core.Tick
	)

	emit := func(b core.Bar) {
		b.Index = len(out)
		out = append(out, b)
	}

	for i, tk := range ticks {
		if err := checkTick(i, tk, prev); err != nil {
			return nil, err
		}

		if i > 0 && s.cfg.StaleTimeout > 0 && tk.Time.Sub(prev.Time) > s.cfg.StaleTimeout {
			// the interrupted bar keeps its ticks; only the gap is stale
			if acc.open() {
				emit(acc.close(s.cfg.Threshold))
			}
			emit(gapBar(prev, tk.Time))
			s.logger.Debug("stale gap",
				zap.Int("tick", i),
				zap.Duration("gap", tk.Time.Sub(prev.Time)),
			)
		}

		acc.add(tk, s.cfg.Clock.Measure(tk))
		if acc.bar.ClockValue >= s.cfg.Threshold {
			emit(acc.close(s.cfg.Threshold))
		}
		prev = tk
	}

	if acc.open() {
		emit(acc.close(s.cfg.Threshold))
	}

	s.record(out)
	return out, nil
}

func (s *Sampler) record(out []core.Bar) {
	var stale, incomplete int
	for _, b := range out {
		if b.Stale {
			stale++
		}
		if b.Incomplete {
			incomplete++
		}
	}
	s.metrics.RecordBars(string(s.cfg.Clock), len(out), stale)
	s.logger.Debug("sampled bars",
		zap.String("clock", string(s.cfg.Clock)),
		zap.Int("bars", len(out)),
		zap.Int("stale", stale),
		zap.Int("incomplete", incomplete),
	)
}

func checkTick(i int, tk, prev core.Tick) error {
	switch {
	case !(tk.Price > 0) || math.IsInf(tk.Price, 0):
		return core.WrapError(core.ErrMalformedInput.At(i), fmt.Errorf("price %v", tk.Price))
	case !(tk.Size > 0) || math.IsInf(tk.Size, 0):
		return core.WrapError(core.ErrMalformedInput.At(i), fmt.Errorf("size %v", tk.Size))
	case tk.Time.IsZero():
		return core.WrapError(core.ErrMalformedInput.At(i), fmt.Errorf("missing timestamp"))
	case i > 0 && tk.Time.Before(prev.Time):
		return core.WrapError(core.ErrMalformedInput.At(i),
			fmt.Errorf("timestamp %s before previous %s", tk.Time.Format(time.RFC3339Nano), prev.Time.Format(time.RFC3339Nano)))
	}
	return nil
}

// gapBar is the zero-tick placeholder covering an illiquid gap.
func gapBar(last core.Tick, next time.Time) core.Bar {
	return core.Bar{
		Start:      last.Time,
		End:        next,
		Open:       last.Price,
		High:       last.Price,
		Low:        last.Price,
		Close:      last.Price,
		Stale:      true,
		Incomplete: true,
	}
}

// accumulator is the forming bar.
type accumulator struct {
	bar core.Bar
}

func (a *accumulator) open() bool {
	return a.bar.TickCount > 0
}

func (a *accumulator) add(tk core.Tick, clock float64) {
	b := &a.bar
	if b.TickCount == 0 {
		*b = core.Bar{
			Start: tk.Time,
			Open:  tk.Price,
			High:  tk.Price,
			Low:   tk.Price,
		}
	}
	if tk.Price > b.High {
		b.High = tk.Price
	}
	if tk.Price < b.Low {
		b.Low = tk.Price
	}
	b.Close = tk.Price
	b.End = tk.Time
	b.Volume += tk.Size
	b.Turnover += tk.Notional()
	switch tk.Side {
	case core.SideBuy:
		b.BuyVolume += tk.Size
	case core.SideSell:
		b.SellVolume += tk.Size
	}
	b.TickCount++
	b.ClockValue += clock
}

func (a *accumulator) close(threshold float64) core.Bar {
	b := a.bar
	b.Incomplete = b.ClockValue < threshold
	a.bar = core.Bar{}
	return b
}

// Tradable returns the bars that may feed labels and trades. Stale bars are
// dropped and the rest are renumbered so Index matches slice position.
func Tradable(bars []core.Bar) []core.Bar {
	out := make([]core.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Stale {
			continue
		}
		b.Index = len(out)
		out = append(out, b)
	}
	return out
}
