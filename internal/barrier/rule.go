// Package barrier implements the triple-barrier exit rule shared by the
// labeler and the backtester, so simulated exits match training labels.
package barrier

import (
	"math"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/indicator"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/series"
)

// TieBreak decides which barrier wins when both are touched inside one bar.
// OHLC data does not reveal the intrabar order, so there is no default.
type TieBreak string

const (
	StopFirst   TieBreak = "stop_first"
	ProfitFirst TieBreak = "profit_first"
)

// Valid reports whether t is a known rule.
func (t TieBreak) Valid() bool {
	return t == StopFirst || t == ProfitFirst
}

// UnitMode selects how barrier multipliers are scaled into returns.
type UnitMode string

const (
	// UnitFixed scales by a constant; with Fixed = 1 multipliers are returns.
	UnitFixed UnitMode = "fixed"
	// UnitRobustVol scales by the robust volatility of close log returns in
	// a window ending at the entry bar, on raw closes even for denoised bars.
	UnitRobustVol UnitMode = "robust_vol"
)

// UnitConfig configures barrier scaling.
type UnitConfig struct {
	Mode   UnitMode
	Fixed  float64
	Window int
	Min    float64
}

// Validate checks the unit configuration.
func (u UnitConfig) Validate() error {
	switch u.Mode {
	case UnitFixed:
		if !(u.Fixed > 0) || math.IsInf(u.Fixed, 0) {
			return core.Errorf(core.ErrConfigInvalid, "barrier unit must be positive, got %v", u.Fixed)
		}
	case UnitRobustVol:
		if u.Window < 2 {
			return core.Errorf(core.ErrConfigInvalid, "volatility window must be at least 2, got %d", u.Window)
		}
		if !(u.Min > 0) {
			return core.Errorf(core.ErrConfigInvalid, "minimum barrier unit must be positive, got %v", u.Min)
		}
	default:
		return core.Errorf(core.ErrConfigInvalid, "unknown unit mode %q", u.Mode)
	}
	return nil
}

// Rule evaluates barriers bar by bar.
type Rule struct {
	TieBreak TieBreak
	Unit     UnitConfig
	// Intrabar enables touches on the bar's high/low in addition to its mark.
	Intrabar bool
}

// Validate checks the rule configuration.
func (r Rule) Validate() error {
	if !r.TieBreak.Valid() {
		return core.Errorf(core.ErrConfigMissing, "tie_break must be %q or %q, got %q", StopFirst, ProfitFirst, r.TieBreak)
	}
	return r.Unit.Validate()
}

// Tracker is the open-barrier state of one event or position. It is a value:
// Step returns an updated copy.
type Tracker struct {
	Side       core.Side `json:"side"`
	EntryIndex int       `json:"entry_index"`
	EntryPrice float64   `json:"entry_price"`
	Unit       float64   `json:"unit"`
	ProfitTake float64   `json:"profit_take"` // return threshold, multiplier × unit
	StopLoss   float64   `json:"stop_loss"`
	MaxHolding int       `json:"max_holding"`
	Held       int       `json:"held"`
}

// Exit describes a fired barrier.
type Exit struct {
	Outcome core.Outcome
	Index   int
	Price   float64
	Return  float64
	Held    int
}

// UnitAt returns the barrier unit for an entry at the view's current bar,
// using only bars at or before it.
func (r Rule) UnitAt(v *series.View) (float64, error) {
	if r.Unit.Mode == UnitFixed {
		return r.Unit.Fixed, nil
	}
	vol, ok := indicator.RobustVolatility(v.Closes(v.Now() - r.Unit.Window))
	if !ok {
		return 0, core.ErrInsufficientHistory.At(v.Now())
	}
	return math.Max(vol, r.Unit.Min), nil
}

// Open starts tracking ev at the view's current bar, which must be the
// event's anchor. The entry price is the anchor's mark.
func (r Rule) Open(v *series.View, ev core.Event) (Tracker, error) {
	if ev.Anchor != v.Now() {
		core.Invariant(core.ErrInvariant, "open at bar %d for event anchored at %d", v.Now(), ev.Anchor)
	}
	unit, err := r.UnitAt(v)
	if err != nil {
		return Tracker{}, err
	}
	return Tracker{
		Side:       ev.Side,
		EntryIndex: ev.Anchor,
		EntryPrice: v.Current().Mark(),
		Unit:       unit,
		ProfitTake: ev.ProfitTakeMult * unit,
		StopLoss:   ev.StopLossMult * unit,
		MaxHolding: ev.MaxHolding,
	}, nil
}

// Step evaluates the barriers on the next bar after the last one seen. A nil
// Exit means the tracker stays open.
func (r Rule) Step(t Tracker, bar core.Bar) (Tracker, *Exit) {
	if bar.Index <= t.EntryIndex {
		core.Invariant(core.ErrLookAhead, "barrier evaluated on bar %d at or before entry %d", bar.Index, t.EntryIndex)
	}
	if want := t.EntryIndex + t.Held + 1; bar.Index != want {
		core.Invariant(core.ErrInvariant, "barrier stepped to bar %d, expected %d", bar.Index, want)
	}
	if t.Held >= t.MaxHolding {
		core.Invariant(core.ErrInvariant, "tracker stepped past its horizon of %d bars", t.MaxHolding)
	}
	t.Held++

	sign := t.Side.Sign()
	ret := func(p float64) float64 { return sign * (p/t.EntryPrice - 1) }

	mark := bar.Mark()
	rMark := ret(mark)
	best, worst := rMark, rMark
	if r.Intrabar {
		// the bar's range is measured around the mark, not the raw close
		offset := mark - bar.Close
		for _, p := range []float64{bar.High, bar.Low} {
			if !(p > 0) {
				continue
			}
			p += offset
			if !(p > 0) {
				continue
			}
			rp := ret(p)
			best = math.Max(best, rp)
			worst = math.Min(worst, rp)
		}
	}

	profit := best >= t.ProfitTake
	stop := worst <= -t.StopLoss
	if profit && stop {
		if r.TieBreak == ProfitFirst {
			stop = false
		} else {
			profit = false
		}
	}

	exit := &Exit{Index: bar.Index, Held: t.Held}
	switch {
	case profit:
		exit.Outcome = core.OutcomeProfitTake
		if rMark >= t.ProfitTake {
			exit.Price, exit.Return = mark, rMark
		} else {
			exit.Price, exit.Return = t.EntryPrice*(1+sign*t.ProfitTake), t.ProfitTake
		}
	case stop:
		exit.Outcome = core.OutcomeStopLoss
		if rMark <= -t.StopLoss {
			exit.Price, exit.Return = mark, rMark
		} else {
			exit.Price, exit.Return = t.EntryPrice*(1-sign*t.StopLoss), -t.StopLoss
		}
	case t.Held == t.MaxHolding:
		exit.Outcome = core.OutcomeTimeExpiry
		exit.Price, exit.Return = mark, rMark
	default:
		return t, nil
	}
	return t, exit
}

// Params are the per-event barrier multipliers and horizon.
type Params struct {
	ProfitTakeMult float64
	StopLossMult   float64
	MaxHolding     int
}

// Validate checks the barrier parameters.
func (p Params) Validate() error {
	if !(p.ProfitTakeMult > 0) || math.IsInf(p.ProfitTakeMult, 0) {
		return core.Errorf(core.ErrConfigInvalid, "profit_take_mult must be positive, got %v", p.ProfitTakeMult)
	}
	if !(p.StopLossMult > 0) || math.IsInf(p.StopLossMult, 0) {
		return core.Errorf(core.ErrConfigInvalid, "stop_loss_mult must be positive, got %v", p.StopLossMult)
	}
	if p.MaxHolding <= 0 {
		return core.Errorf(core.ErrConfigInvalid, "max_holding_bars must be positive, got %d", p.MaxHolding)
	}
	return nil
}

// Event builds an event anchored at bar anchor.
func (p Params) Event(anchor int, side core.Side) core.Event {
	return core.Event{
		Anchor:         anchor,
		Side:           side,
		ProfitTakeMult: p.ProfitTakeMult,
		StopLossMult:   p.StopLossMult,
		MaxHolding:     p.MaxHolding,
	}
}
