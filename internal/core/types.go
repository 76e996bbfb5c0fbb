package core

import (
	"math"
	"time"
)

// Side is the aggressor side of a tick or the direction of an event.
type Side string

const (
	SideNone  Side = "none"
	SideBuy   Side = "buy"
	SideSell  Side = "sell"
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign returns +1 for long, -1 for short and +1 for none, which is labeled
// with symmetric barriers on the long direction.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Tick is a single trade print from the canonical tick table.
type Tick struct {
	Time  time.Time
	Price float64
	Size  float64
	Side  Side // SideBuy, SideSell or SideNone when unknown
}

// Notional returns price * size.
func (t Tick) Notional() float64 {
	return t.Price * t.Size
}

// Bar is an activity-clocked OHLCV bar.
type Bar struct {
	Index      int
	Start      time.Time
	End        time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Turnover   float64
	BuyVolume  float64
	SellVolume float64
	TickCount  int
	ClockValue float64

	// Stale bars cover illiquid gaps and never feed labels or trades.
	Stale bool
	// Incomplete bars closed before their clock reached the threshold.
	Incomplete bool

	// Denoised is the filtered close; zero until a denoiser has run.
	Denoised         float64
	DenoisedVariance float64

	// Features is an optional externally computed feature vector.
	Features []float64
}

// VWAP returns turnover / volume, or the close for empty bars.
func (b Bar) VWAP() float64 {
	if b.Volume <= 0 {
		return b.Close
	}
	return b.Turnover / b.Volume
}

// Mark returns the price used for barrier and PnL evaluation: the denoised
// close when available, the raw close otherwise.
func (b Bar) Mark() float64 {
	if b.Denoised > 0 && !math.IsNaN(b.Denoised) {
		return b.Denoised
	}
	return b.Close
}

// Event is a labeling or trading candidate anchored at a bar.
type Event struct {
	Anchor         int
	Side           Side
	ProfitTakeMult float64
	StopLossMult   float64
	MaxHolding     int
}

// Outcome is the barrier that closed an event.
type Outcome string

const (
	OutcomeProfitTake Outcome = "profit_take"
	OutcomeStopLoss   Outcome = "stop_loss"
	OutcomeTimeExpiry Outcome = "time_expiry"
)

// Label is the realized outcome of an event.
type Label struct {
	Event      Event
	Outcome    Outcome
	ExitIndex  int
	EntryPrice float64
	ExitPrice  float64
	Return     float64 // signed by the event side
	Unit       float64 // barrier unit the multipliers were scaled by
}

// Bin returns +1 for profit take, -1 for stop loss and the sign of the
// realized return for time expiry.
func (l Label) Bin() int {
	switch l.Outcome {
	case OutcomeProfitTake:
		return 1
	case OutcomeStopLoss:
		return -1
	}
	switch {
	case l.Return > 0:
		return 1
	case l.Return < 0:
		return -1
	}
	return 0
}
