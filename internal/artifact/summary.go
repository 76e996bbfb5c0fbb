package artifact

import (
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/backtest"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/labeling"
)

// Summary is the per-symbol run summary.
type Summary struct {
	RunID       string           `yaml:"run_id"`
	Symbol      string           `yaml:"symbol"`
	GeneratedAt time.Time        `yaml:"generated_at"`
	Ticks       int              `yaml:"ticks"`
	Bars        BarSummary       `yaml:"bars"`
	Labels      *LabelSummary    `yaml:"labels,omitempty"`
	Sweeps      []SweepSummary   `yaml:"sweeps,omitempty"`
	Backtest    *BacktestSummary `yaml:"backtest,omitempty"`
	// ResumedFrom is the bar a resumed backtest continued after.
	ResumedFrom *int `yaml:"resumed_from,omitempty"`
}

// BarSummary describes the sampled series.
type BarSummary struct {
	Clock      string  `yaml:"clock"`
	Threshold  float64 `yaml:"threshold"`
	Total      int     `yaml:"total"`
	Stale      int     `yaml:"stale"`
	Incomplete int     `yaml:"incomplete"`
}

// LabelSummary counts labeling outcomes.
type LabelSummary struct {
	Events   int            `yaml:"events"`
	Labeled  int            `yaml:"labeled"`
	Outcomes map[string]int `yaml:"outcomes"`
	Dropped  map[string]int `yaml:"dropped,omitempty"`
}

// SweepSummary counts the outcomes of one sweep configuration.
type SweepSummary struct {
	Name           string  `yaml:"name"`
	ProfitTakeMult float64 `yaml:"profit_take_mult"`
	StopLossMult   float64 `yaml:"stop_loss_mult"`
	MaxHoldingBars int     `yaml:"max_holding_bars"`
	LabelSummary   `yaml:",inline"`
}

// BacktestSummary holds the backtest statistics.
type BacktestSummary struct {
	Stats   backtest.Stats `yaml:"stats"`
	Skipped map[string]int `yaml:"skipped_entries,omitempty"`
}

// SummarizeBars counts bar flags.
func SummarizeBars(clock string, threshold float64, bars []core.Bar) BarSummary {
	s := BarSummary{Clock: clock, Threshold: threshold, Total: len(bars)}
	for _, b := range bars {
		if b.Stale {
			s.Stale++
		}
		if b.Incomplete {
			s.Incomplete++
		}
	}
	return s
}

// SummarizeLabels counts the outcomes and drop reasons of a labeling result.
func SummarizeLabels(res *labeling.Result) LabelSummary {
	s := LabelSummary{
		Events:   len(res.Labels) + len(res.Dropped),
		Labeled:  len(res.Labels),
		Outcomes: make(map[string]int),
	}
	for o, n := range res.Counts() {
		s.Outcomes[string(o)] = n
	}
	if len(res.Dropped) > 0 {
		s.Dropped = make(map[string]int)
		for _, d := range res.Dropped {
			s.Dropped[d.Reason]++
		}
	}
	return s
}
