package backtest

import (
	"fmt"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
)

// Checkpoint is the resumable state of a simulation at a bar boundary.
type Checkpoint struct {
	Symbol     string         `json:"symbol"`
	Bars       int            `json:"bars"`
	Now        int            `json:"now"`
	Position   *Position      `json:"position,omitempty"`
	Pending    *float64       `json:"pending_score,omitempty"`
	Trades     []Trade        `json:"trades"`
	Skipped    map[string]int `json:"skipped"`
	Exposed    int            `json:"exposed"`
	Cumulative float64        `json:"cumulative_pnl"`
}

// Snapshot captures the simulation after the last processed bar.
func (s *Simulation) Snapshot() Checkpoint {
	cp := Checkpoint{
		Symbol:     s.bt.cfg.Symbol,
		Bars:       s.view.Len(),
		Now:        s.view.Now(),
		Trades:     append([]Trade(nil), s.trades...),
		Skipped:    make(map[string]int, len(s.skipped)),
		Exposed:    s.exposed,
		Cumulative: s.cumulative,
	}
	if s.position != nil {
		pos := *s.position
		cp.Position = &pos
	}
	if s.hasPending {
		score := s.pending
		cp.Pending = &score
	}
	for k, v := range s.skipped {
		cp.Skipped[k] = v
	}
	return cp
}

// Restore rewinds or advances the simulation to a checkpoint.
func (s *Simulation) Restore(cp Checkpoint) error {
	if cp.Symbol != s.bt.cfg.Symbol {
		return core.Errorf(core.ErrMalformedInput, "checkpoint for %q restored into %q", cp.Symbol, s.bt.cfg.Symbol)
	}
	if cp.Bars != s.view.Len() {
		return core.Errorf(core.ErrMalformedInput, "checkpoint taken on %d bars restored into %d", cp.Bars, s.view.Len())
	}
	if cp.Now < -1 || cp.Now >= s.view.Len() {
		return core.Errorf(core.ErrMalformedInput, "checkpoint at bar %d outside series of %d bars", cp.Now, s.view.Len())
	}
	if cp.Position != nil {
		tr := cp.Position.Tracker
		if tr.EntryIndex+tr.Held != cp.Now || tr.Held >= tr.MaxHolding {
			return core.Errorf(core.ErrMalformedInput, "checkpoint position from bar %d held %d bars inconsistent with bar %d", tr.EntryIndex, tr.Held, cp.Now)
		}
	}

	s.view.Seek(cp.Now)
	s.position = nil
	if cp.Position != nil {
		pos := *cp.Position
		s.position = &pos
	}
	s.hasPending = cp.Pending != nil
	s.pending = 0
	if cp.Pending != nil {
		s.pending = *cp.Pending
	}
	s.trades = append([]Trade(nil), cp.Trades...)
	s.skipped = make(map[string]int, len(cp.Skipped))
	for k, v := range cp.Skipped {
		s.skipped[k] = v
	}
	s.exposed = cp.Exposed
	s.cumulative = cp.Cumulative
	return nil
}

// Interrupted is returned by Run and Resume when the context is canceled
// between bars. Checkpoint resumes the run where it stopped.
type Interrupted struct {
	Checkpoint Checkpoint
	Err        error
}

func (e *Interrupted) Error() string {
	return fmt.Sprintf("backtest of %s interrupted after bar %d: %v", e.Checkpoint.Symbol, e.Checkpoint.Now, e.Err)
}

func (e *Interrupted) Unwrap() error {
	return e.Err
}
