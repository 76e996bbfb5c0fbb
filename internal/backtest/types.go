package backtest

import (
	"math"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/barrier"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
)

// Role is the liquidity role of a fill.
type Role string

const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"
)

// FeeSchedule holds fees in basis points of notional.
type FeeSchedule struct {
	MakerBps float64 `yaml:"maker_bps"`
	TakerBps float64 `yaml:"taker_bps"`
}

// Cost returns the fee for a fill of the given notional.
func (f FeeSchedule) Cost(notional float64, role Role) float64 {
	bps := f.TakerBps
	if role == RoleMaker {
		bps = f.MakerBps
	}
	return math.Abs(notional) * bps / 10000
}

// Validate checks the fee schedule.
func (f FeeSchedule) Validate() error {
	if !validBps(f.MakerBps) {
		return core.Errorf(core.ErrConfigInvalid, "maker_bps must be a non-negative number, got %v", f.MakerBps)
	}
	if !validBps(f.TakerBps) {
		return core.Errorf(core.ErrConfigInvalid, "taker_bps must be a non-negative number, got %v", f.TakerBps)
	}
	return nil
}

func validBps(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

// ExitRole returns the liquidity role of an exit. Profit takes rest as
// limit orders at the barrier; stops and expiries cross the spread.
func ExitRole(o core.Outcome) Role {
	if o == core.OutcomeProfitTake {
		return RoleMaker
	}
	return RoleTaker
}

// Config configures a backtest.
type Config struct {
	Symbol string
	Params barrier.Params

	// A long opens when the previous bar's score is strictly above
	// DecisionThreshold. With AllowShort, a short opens when it is strictly
	// below ShortThreshold.
	DecisionThreshold float64
	ShortThreshold    float64
	AllowShort        bool

	Size      float64
	EntryRole Role
	Fees      FeeSchedule
}

// Validate checks the backtest configuration.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if math.IsNaN(c.DecisionThreshold) || math.IsInf(c.DecisionThreshold, 0) {
		return core.Errorf(core.ErrConfigInvalid, "decision_threshold must be finite, got %v", c.DecisionThreshold)
	}
	if c.AllowShort {
		if math.IsNaN(c.ShortThreshold) || math.IsInf(c.ShortThreshold, 0) {
			return core.Errorf(core.ErrConfigInvalid, "short_threshold must be finite, got %v", c.ShortThreshold)
		}
		if c.ShortThreshold > c.DecisionThreshold {
			return core.Errorf(core.ErrConfigInvalid, "short_threshold %v above decision_threshold %v", c.ShortThreshold, c.DecisionThreshold)
		}
	}
	if !(c.Size > 0) || math.IsInf(c.Size, 0) {
		return core.Errorf(core.ErrConfigInvalid, "size must be positive, got %v", c.Size)
	}
	if c.EntryRole != RoleMaker && c.EntryRole != RoleTaker {
		return core.Errorf(core.ErrConfigInvalid, "entry_role must be %q or %q, got %q", RoleMaker, RoleTaker, c.EntryRole)
	}
	return c.Fees.Validate()
}

// Position is the single open position of a simulation.
type Position struct {
	Tracker   barrier.Tracker `json:"tracker"`
	Size      float64         `json:"size"`
	EntryTime time.Time       `json:"entry_time"`
	EntryCost float64         `json:"entry_cost"`
}

// Trade is a closed round trip.
type Trade struct {
	Side       core.Side    `json:"side"`
	EntryIndex int          `json:"entry_index"`
	ExitIndex  int          `json:"exit_index"`
	EntryTime  time.Time    `json:"entry_time"`
	ExitTime   time.Time    `json:"exit_time"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	Size       float64      `json:"size"`
	Outcome    core.Outcome `json:"outcome"`
	Held       int          `json:"held"`

	GrossPnL    float64 `json:"gross_pnl"`
	Cost        float64 `json:"cost"`
	PnL         float64 `json:"pnl"`
	GrossReturn float64 `json:"gross_return"` // barrier return, equal to the label's
	Return      float64 `json:"return"`       // net of fees, over entry notional
}

// IsWin returns true if the trade was profitable after fees
func (t Trade) IsWin() bool {
	return t.PnL > 0
}

// Turnover returns the traded notional of both legs.
func (t Trade) Turnover() float64 {
	return t.Size * (t.EntryPrice + t.ExitPrice)
}

// Stats holds performance statistics
type Stats struct {
	TotalTrades   int     `yaml:"total_trades"`
	WinningTrades int     `yaml:"winning_trades"`
	LosingTrades  int     `yaml:"losing_trades"`
	LongTrades    int     `yaml:"long_trades"`
	ShortTrades   int     `yaml:"short_trades"`
	ProfitTakes   int     `yaml:"profit_takes"`
	StopLosses    int     `yaml:"stop_losses"`
	TimeExpiries  int     `yaml:"time_expiries"`
	WinRate       float64 `yaml:"win_rate"` // fraction of winning trades
	CumulativePnL float64 `yaml:"cumulative_pnl"`
	GrossPnL      float64 `yaml:"gross_pnl"`
	TotalCost     float64 `yaml:"total_cost"`
	Turnover      float64 `yaml:"turnover"`
	AvgHolding    float64 `yaml:"avg_holding_bars"`
	Exposure      float64 `yaml:"exposure"`     // fraction of bars with an open position
	MaxDrawdown   float64 `yaml:"max_drawdown"` // peak-to-trough of cumulative PnL
	SharpeRatio   float64 `yaml:"sharpe_ratio"` // per trade, not annualized
}

// Result holds the complete backtest output
type Result struct {
	Symbol  string
	Start   time.Time
	End     time.Time
	Bars    int
	Trades  []Trade
	Skipped map[string]int // entry signals that could not be acted on, by reason
	Stats   Stats
}
