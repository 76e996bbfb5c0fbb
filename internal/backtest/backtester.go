// Package backtest replays predictor scores over a bar series and simulates
// trades that exit through the same barrier rule used for labeling.
package backtest

import (
	"context"
	"errors"
	"math"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/barrier"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/metrics"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/series"
	"go.uber.org/zap"
)

// Scorer produces a model score for a bar. It sees the bar index and the
// bar's feature vector, never later bars.
type Scorer interface {
	Score(index int, features []float64) (float64, error)
}

// Skip reasons for entry signals that could not be acted on.
const (
	SkipInsufficientHorizon = "insufficient_horizon"
	SkipInsufficientHistory = "insufficient_history"
)

// Backtester runs event-driven simulations.
type Backtester struct {
	cfg     Config
	rule    barrier.Rule
	scorer  Scorer
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New creates a Backtester. The rule must be the one used for labeling.
func New(cfg Config, rule barrier.Rule, scorer Scorer, logger *zap.Logger, reg *metrics.Registry) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "no predictor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{cfg: cfg, rule: rule, scorer: scorer, logger: logger, metrics: reg}, nil
}

// Run simulates bars from the start.
func (b *Backtester) Run(ctx context.Context, bars []core.Bar) (*Result, error) {
	sim, err := b.Simulate(bars)
	if err != nil {
		return nil, err
	}
	return b.drive(ctx, sim)
}

// Resume continues a simulation from a checkpoint taken on the same bars.
func (b *Backtester) Resume(ctx context.Context, bars []core.Bar, cp Checkpoint) (*Result, error) {
	sim, err := b.Simulate(bars)
	if err != nil {
		return nil, err
	}
	if err := sim.Restore(cp); err != nil {
		return nil, err
	}
	return b.drive(ctx, sim)
}

// Simulate returns a simulation positioned before the first bar, for callers
// that step it themselves.
func (b *Backtester) Simulate(bars []core.Bar) (*Simulation, error) {
	view, err := series.NewView(bars)
	if err != nil {
		return nil, err
	}
	return &Simulation{
		bt:      b,
		view:    view,
		skipped: make(map[string]int),
	}, nil
}

func (b *Backtester) drive(ctx context.Context, sim *Simulation) (*Result, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, &Interrupted{Checkpoint: sim.Snapshot(), Err: ctx.Err()}
		default:
		}

		more, err := sim.Step()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}

	res := sim.Finish()
	b.metrics.SetCumulativePnL(b.cfg.Symbol, res.Stats.CumulativePnL)
	b.logger.Info("backtest complete",
		zap.String("symbol", b.cfg.Symbol),
		zap.Int("bars", res.Bars),
		zap.Int("trades", res.Stats.TotalTrades),
		zap.Float64("pnl", res.Stats.CumulativePnL),
		zap.Float64("max_drawdown", res.Stats.MaxDrawdown),
	)
	return res, nil
}

// State is the position state of a simulation.
type State string

const (
	StateFlat  State = "flat"
	StateLong  State = "long"
	StateShort State = "short"
)

// Simulation is the bar-by-bar state machine of one backtest. It is not safe
// for concurrent use.
type Simulation struct {
	bt   *Backtester
	view *series.View

	position *Position
	// pending is the score of the previous bar; it can only act on the
	// current one.
	pending    float64
	hasPending bool

	trades     []Trade
	skipped    map[string]int
	exposed    int
	cumulative float64
}

// State returns the current position state.
func (s *Simulation) State() State {
	switch {
	case s.position == nil:
		return StateFlat
	case s.position.Tracker.Side == core.SideShort:
		return StateShort
	}
	return StateLong
}

// Now returns the index of the last processed bar.
func (s *Simulation) Now() int {
	return s.view.Now()
}

// Step processes the next bar: the open position is evaluated first, then
// the previous bar's score may open a new one, and finally the bar is scored.
// It returns false once all bars have been processed.
func (s *Simulation) Step() (bool, error) {
	if !s.view.Advance() {
		return false, nil
	}
	bar := s.view.Current()

	if s.position != nil {
		s.exposed++
		tr, exit := s.bt.rule.Step(s.position.Tracker, bar)
		if exit != nil {
			s.close(*exit, bar)
		} else {
			s.position.Tracker = tr
		}
	}

	if s.position == nil && s.hasPending && !bar.Stale {
		if side, ok := s.signal(s.pending); ok {
			s.open(side, bar)
		}
	}

	s.hasPending = false
	if bar.Stale {
		return true, nil
	}
	score, err := s.bt.scorer.Score(bar.Index, bar.Features)
	if err != nil {
		return false, core.WrapError(core.ErrPredictorFailed.At(bar.Index), err)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return false, core.Errorf(core.ErrPredictorFailed.At(bar.Index), "score %v", score)
	}
	s.pending, s.hasPending = score, true
	return true, nil
}

func (s *Simulation) signal(score float64) (core.Side, bool) {
	cfg := s.bt.cfg
	switch {
	case score > cfg.DecisionThreshold:
		return core.SideLong, true
	case cfg.AllowShort && score < cfg.ShortThreshold:
		return core.SideShort, true
	}
	return "", false
}

func (s *Simulation) open(side core.Side, bar core.Bar) {
	if s.position != nil {
		core.Invariant(core.ErrOverlappingPosition, "entry at bar %d while holding since %d", bar.Index, s.position.Tracker.EntryIndex)
	}

	cfg := s.bt.cfg
	if s.view.Remaining() < cfg.Params.MaxHolding {
		s.skip(SkipInsufficientHorizon, bar.Index)
		return
	}
	tr, err := s.bt.rule.Open(s.view, cfg.Params.Event(bar.Index, side))
	if err != nil {
		if errors.Is(err, core.ErrInsufficientHistory) {
			s.skip(SkipInsufficientHistory, bar.Index)
			return
		}
		core.Invariant(core.ErrInvariant, "open at bar %d: %v", bar.Index, err)
	}

	s.position = &Position{
		Tracker:   tr,
		Size:      cfg.Size,
		EntryTime: bar.End,
		EntryCost: cfg.Fees.Cost(tr.EntryPrice*cfg.Size, cfg.EntryRole),
	}
	s.bt.logger.Debug("position opened",
		zap.String("side", string(side)),
		zap.Int("bar", bar.Index),
		zap.Float64("price", tr.EntryPrice),
	)
}

func (s *Simulation) skip(reason string, index int) {
	s.skipped[reason]++
	s.bt.logger.Debug("entry skipped", zap.String("reason", reason), zap.Int("bar", index))
}

func (s *Simulation) close(exit barrier.Exit, bar core.Bar) {
	if s.position == nil {
		core.Invariant(core.ErrNoOpenPosition, "exit at bar %d", exit.Index)
	}
	pos := s.position
	tr := pos.Tracker

	gross := (exit.Price - tr.EntryPrice) * tr.Side.Sign() * pos.Size
	exitCost := s.bt.cfg.Fees.Cost(exit.Price*pos.Size, ExitRole(exit.Outcome))
	cost := pos.EntryCost + exitCost
	pnl := gross - cost

	trade := Trade{
		Side:        tr.Side,
		EntryIndex:  tr.EntryIndex,
		ExitIndex:   exit.Index,
		EntryTime:   pos.EntryTime,
		ExitTime:    bar.End,
		EntryPrice:  tr.EntryPrice,
		ExitPrice:   exit.Price,
		Size:        pos.Size,
		Outcome:     exit.Outcome,
		Held:        exit.Held,
		GrossPnL:    gross,
		Cost:        cost,
		PnL:         pnl,
		GrossReturn: exit.Return,
		Return:      pnl / (tr.EntryPrice * pos.Size),
	}
	s.trades = append(s.trades, trade)
	s.cumulative += pnl
	s.position = nil

	s.bt.metrics.RecordTrade(string(trade.Side), string(trade.Outcome), trade.Return)
	s.bt.logger.Debug("position closed",
		zap.String("outcome", string(trade.Outcome)),
		zap.Int("bar", exit.Index),
		zap.Float64("pnl", pnl),
	)
}

// Finish returns the result of a fully stepped simulation. A position still
// open at this point is a bug: entries require a full horizon.
func (s *Simulation) Finish() *Result {
	if s.view.Remaining() > 0 {
		core.Invariant(core.ErrInvariant, "finish with %d bars left", s.view.Remaining())
	}
	if s.position != nil {
		core.Invariant(core.ErrInvariant, "position from bar %d still open after the last bar", s.position.Tracker.EntryIndex)
	}

	n := s.view.Len()
	skipped := make(map[string]int, len(s.skipped))
	for k, v := range s.skipped {
		skipped[k] = v
	}
	return &Result{
		Symbol:  s.bt.cfg.Symbol,
		Start:   s.view.At(0).Start,
		End:     s.view.At(n - 1).End,
		Bars:    n,
		Trades:  append([]Trade(nil), s.trades...),
		Skipped: skipped,
		Stats:   CalculateStats(s.trades, n, s.exposed),
	}
}
