// Package series provides a causal, read-only view over a bar sequence.
package series

import (
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
)

// View exposes bars up to the current simulated time only. Reading a bar
// beyond Now is a look-ahead and panics with an invariant violation.
type View struct {
	bars []core.Bar
	now  int
}

// NewView validates that bar indices match their positions and returns a
// view positioned before the first bar.
func NewView(bars []core.Bar) (*View, error) {
	if len(bars) == 0 {
		return nil, core.ErrEmptyInput
	}
	for i, b := range bars {
		if b.Index != i {
			return nil, core.Errorf(core.ErrMalformedInput.At(i), "bar index %d at position %d", b.Index, i)
		}
	}
	return &View{bars: bars, now: -1}, nil
}

// Len is the length of the full series. It reveals how much future exists,
// never what it contains.
func (v *View) Len() int {
	return len(v.bars)
}

// Now is the index of the latest visible bar, -1 before the first Advance.
func (v *View) Now() int {
	return v.now
}

// Advance makes the next bar visible. It returns false at the end.
func (v *View) Advance() bool {
	if v.now+1 >= len(v.bars) {
		return false
	}
	v.now++
	return true
}

// Seek moves the clock to index i. Moving backwards is allowed; it only
// hides bars.
func (v *View) Seek(i int) {
	if i < -1 || i >= len(v.bars) {
		core.Invariant(core.ErrInvariant, "seek to %d outside [-1, %d)", i, len(v.bars))
	}
	v.now = i
}

// Remaining is the number of bars after Now.
func (v *View) Remaining() int {
	return len(v.bars) - 1 - v.now
}

// At returns bar i, which must not be in the future.
func (v *View) At(i int) core.Bar {
	if i > v.now {
		core.Invariant(core.ErrLookAhead, "read bar %d while at %d", i, v.now)
	}
	if i < 0 {
		core.Invariant(core.ErrInvariant, "read bar %d", i)
	}
	return v.bars[i]
}

// Current returns the bar at Now.
func (v *View) Current() core.Bar {
	return v.At(v.now)
}

// Marks returns the mark prices of bars [from, Now], clipped at zero.
func (v *View) Marks(from int) []float64 {
	if from < 0 {
		from = 0
	}
	if v.now < from {
		return []float64{}
	}
	out := make([]float64, 0, v.now-from+1)
	for i := from; i <= v.now; i++ {
		out = append(out, v.bars[i].Mark())
	}
	return out
}

// Closes returns the raw closes of bars [from, Now], clipped at zero.
func (v *View) Closes(from int) []float64 {
	if from < 0 {
		from = 0
	}
	if v.now < from {
		return []float64{}
	}
	out := make([]float64, 0, v.now-from+1)
	for i := from; i <= v.now; i++ {
		out = append(out, v.bars[i].Close)
	}
	return out
}

// Window returns copies of bars [from, Now], clipped at zero.
func (v *View) Window(from int) []core.Bar {
	if from < 0 {
		from = 0
	}
	if v.now < from {
		return []core.Bar{}
	}
	out := make([]core.Bar, v.now-from+1)
	copy(out, v.bars[from:v.now+1])
	return out
}
