// Package labeling produces triple-barrier labels for events on a bar series.
package labeling

import (
	"context"
	"errors"
	"math"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/barrier"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/metrics"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/series"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Drop reasons reported in results and metrics.
const (
	ReasonInvalid             = "invalid"
	ReasonStaleAnchor         = "stale_anchor"
	ReasonInsufficientHorizon = "insufficient_horizon"
	ReasonInsufficientHistory = "insufficient_history"
)

// Dropped is an event that could not be labeled.
type Dropped struct {
	Event  core.Event
	Reason string
	Err    error
}

// Result holds the labels of one run, in event order.
type Result struct {
	Labels  []core.Label
	Dropped []Dropped
	errs    error
}

// Err summarizes all per-event failures, or nil.
func (r *Result) Err() error {
	return r.errs
}

// Counts returns the number of labels per outcome.
func (r *Result) Counts() map[core.Outcome]int {
	out := make(map[core.Outcome]int, 3)
	for _, l := range r.Labels {
		out[l.Outcome]++
	}
	return out
}

// Labeler labels events with a barrier rule.
type Labeler struct {
	rule    barrier.Rule
	workers int
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New creates a labeler. workers bounds Sweep parallelism; values below one
// mean one.
func New(rule barrier.Rule, workers int, logger *zap.Logger, reg *metrics.Registry) (*Labeler, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Labeler{rule: rule, workers: workers, logger: logger, metrics: reg}, nil
}

// Rule returns the barrier rule.
func (l *Labeler) Rule() barrier.Rule {
	return l.rule
}

// Label labels every event against bars. Events that cannot be labeled are
// dropped and reported in the result; only structural problems with the
// bar series, or cancellation, return an error.
func (l *Labeler) Label(ctx context.Context, events []core.Event, bars []core.Bar) (*Result, error) {
	view, err := series.NewView(bars)
	if err != nil {
		return nil, err
	}

	res := &Result{Labels: make([]core.Label, 0, len(events))}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		label, err := l.labelOne(view, bars, ev)
		if err != nil {
			reason := dropReason(err)
			res.Dropped = append(res.Dropped, Dropped{Event: ev, Reason: reason, Err: err})
			res.errs = multierr.Append(res.errs, err)
			l.metrics.RecordDroppedEvent(reason)
			continue
		}
		res.Labels = append(res.Labels, label)
		l.metrics.RecordLabel(string(label.Outcome))
	}

	l.logger.Debug("labeled events",
		zap.Int("events", len(events)),
		zap.Int("labels", len(res.Labels)),
		zap.Int("dropped", len(res.Dropped)),
	)
	return res, nil
}

func (l *Labeler) labelOne(view *series.View, bars []core.Bar, ev core.Event) (core.Label, error) {
	if err := validateEvent(ev, len(bars)); err != nil {
		return core.Label{}, err
	}
	if bars[ev.Anchor].Stale {
		return core.Label{}, core.ErrStaleAnchor.At(ev.Anchor)
	}
	if need, have := ev.MaxHolding, len(bars)-1-ev.Anchor; have < need {
		return core.Label{}, core.Errorf(core.ErrInsufficientHorizon.At(ev.Anchor), "need %d bars, have %d", need, have)
	}

	view.Seek(ev.Anchor)
	tr, err := l.rule.Open(view, ev)
	if err != nil {
		return core.Label{}, err
	}

	for view.Advance() {
		var exit *barrier.Exit
		tr, exit = l.rule.Step(tr, view.Current())
		if exit != nil {
			return core.Label{
				Event:      ev,
				Outcome:    exit.Outcome,
				ExitIndex:  exit.Index,
				EntryPrice: tr.EntryPrice,
				ExitPrice:  exit.Price,
				Return:     exit.Return,
				Unit:       tr.Unit,
			}, nil
		}
	}
	core.Invariant(core.ErrInvariant, "event at %d left open after %d bars", ev.Anchor, tr.Held)
	return core.Label{}, nil
}

func validateEvent(ev core.Event, n int) error {
	switch {
	case ev.Anchor < 0 || ev.Anchor >= n:
		return core.Errorf(core.ErrInvalidEvent.At(ev.Anchor), "anchor outside [0, %d)", n)
	case !(ev.ProfitTakeMult > 0) || math.IsInf(ev.ProfitTakeMult, 0):
		return core.Errorf(core.ErrInvalidEvent.At(ev.Anchor), "profit_take_mult %v", ev.ProfitTakeMult)
	case !(ev.StopLossMult > 0) || math.IsInf(ev.StopLossMult, 0):
		return core.Errorf(core.ErrInvalidEvent.At(ev.Anchor), "stop_loss_mult %v", ev.StopLossMult)
	case ev.MaxHolding <= 0:
		return core.Errorf(core.ErrInvalidEvent.At(ev.Anchor), "max_holding_bars %d", ev.MaxHolding)
	}
	switch ev.Side {
	case core.SideLong, core.SideShort, core.SideNone:
		return nil
	}
	return core.Errorf(core.ErrInvalidEvent.At(ev.Anchor), "side %q", ev.Side)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, core.ErrStaleAnchor):
		return ReasonStaleAnchor
	case errors.Is(err, core.ErrInsufficientHorizon):
		return ReasonInsufficientHorizon
	case errors.Is(err, core.ErrInsufficientHistory):
		return ReasonInsufficientHistory
	}
	return ReasonInvalid
}

// EventsEvery builds one event every step bars, skipping stale bars.
func EventsEvery(bars []core.Bar, step int, side core.Side, p barrier.Params) []core.Event {
	if step < 1 {
		step = 1
	}
	var events []core.Event
	for i := 0; i < len(bars); i += step {
		if bars[i].Stale {
			continue
		}
		events = append(events, p.Event(bars[i].Index, side))
	}
	return events
}

// SweepConfig is one parameter set of a sweep. Params override the
// multipliers and horizon of every event.
type SweepConfig struct {
	Name   string
	Rule   barrier.Rule
	Params barrier.Params
}

// SweepResult pairs a configuration with its labels.
type SweepResult struct {
	Config SweepConfig
	Result *Result
}

// Sweep labels the same events under several configurations in parallel.
// Each configuration runs its own scan over shared read-only bars. Results
// keep the order of configs; failed configurations are left out and their
// errors combined.
func (l *Labeler) Sweep(ctx context.Context, bars []core.Bar, events []core.Event, configs []SweepConfig) ([]SweepResult, error) {
	type indexed struct {
		i   int
		res SweepResult
	}

	p := pool.NewWithResults[indexed]().WithContext(ctx).WithMaxGoroutines(l.workers)
	for i, cfg := range configs {
		p.Go(func(ctx context.Context) (indexed, error) {
			failed := indexed{i: -1}
			if err := cfg.Params.Validate(); err != nil {
				return failed, err
			}
			labeler, err := New(cfg.Rule, 1, l.logger.With(zap.String("sweep", cfg.Name)), l.metrics)
			if err != nil {
				return failed, err
			}
			evs := make([]core.Event, len(events))
			for j, ev := range events {
				evs[j] = cfg.Params.Event(ev.Anchor, ev.Side)
			}
			res, err := labeler.Label(ctx, evs, bars)
			if err != nil {
				return failed, err
			}
			return indexed{i: i, res: SweepResult{Config: cfg, Result: res}}, nil
		})
	}

	done, err := p.Wait()
	slots := make([]*SweepResult, len(configs))
	for _, d := range done {
		if d.i < 0 {
			continue
		}
		r := d.res
		slots[d.i] = &r
	}
	out := make([]SweepResult, 0, len(done))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, err
}
