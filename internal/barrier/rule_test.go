package barrier

import (
	"errors"
	"testing"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(closes ...float64) []core.Bar {
	out := make([]core.Bar, len(closes))
	for i, c := range closes {
		out[i] = core.Bar{Index: i, Open: c, High: c, Low: c, Close: c, TickCount: 1}
	}
	return out
}

func fixedRule(tb TieBreak, unit float64) Rule {
	return Rule{TieBreak: tb, Unit: UnitConfig{Mode: UnitFixed, Fixed: unit}, Intrabar: true}
}

func open(t *testing.T, r Rule, bars []core.Bar, ev core.Event) Tracker {
	t.Helper()
	v, err := series.NewView(bars)
	require.NoError(t, err)
	v.Seek(ev.Anchor)
	tr, err := r.Open(v, ev)
	require.NoError(t, err)
	return tr
}

// run steps the tracker bar by bar until an exit fires.
func run(t *testing.T, r Rule, tr Tracker, bars []core.Bar) *Exit {
	t.Helper()
	for i := tr.EntryIndex + 1; i < len(bars); i++ {
		var exit *Exit
		tr, exit = r.Step(tr, bars[i])
		if exit != nil {
			return exit
		}
	}
	return nil
}

func recovered(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	fn()
	return nil
}

func TestStep_ProfitTakeAtMark(t *testing.T) {
	r := fixedRule(StopFirst, 0.02)
	bars := flat(100, 101, 99, 103, 100)
	ev := core.Event{Anchor: 0, Side: core.SideLong, ProfitTakeMult: 1, StopLossMult: 1, MaxHolding: 4}

	tr := open(t, r, bars, ev)
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.InDelta(t, 0.02, tr.ProfitTake, 1e-15)

	exit := run(t, r, tr, bars)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeProfitTake, exit.Outcome)
	assert.Equal(t, 3, exit.Index)
	assert.Equal(t, 103.0, exit.Price)
	assert.InDelta(t, 0.03, exit.Return, 1e-12)
	assert.Equal(t, 3, exit.Held)
}

func TestStep_IntrabarTouchExitsAtBarrier(t *testing.T) {
	r := fixedRule(StopFirst, 0.02)
	bars := flat(100, 100.5)
	bars[1].High = 102.5

	exit := run(t, r, open(t, r, bars, core.Event{Side: core.SideLong, ProfitTakeMult: 1, StopLossMult: 1, MaxHolding: 5}), bars)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeProfitTake, exit.Outcome)
	assert.InDelta(t, 102, exit.Price, 1e-9)
	assert.InDelta(t, 0.02, exit.Return, 1e-15)

	r.Intrabar = false
	exit = run(t, r, open(t, r, bars, core.Event{Side: core.SideLong, ProfitTakeMult: 1, StopLossMult: 1, MaxHolding: 5}), bars)
	assert.Nil(t, exit, "mark-only evaluation ignores the wick")
}

func TestStep_TieBreak(t *testing.T) {
	bars := flat(100, 100)
	bars[1].High = 103
	bars[1].Low = 97
	ev := core.Event{Side: core.SideLong, ProfitTakeMult: 1, StopLossMult: 1, MaxHolding: 5}

	stop := fixedRule(StopFirst, 0.02)
	exit := run(t, stop, open(t, stop, bars, ev), bars)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeStopLoss, exit.Outcome)
	assert.InDelta(t, 98, exit.Price, 1e-9)
	assert.InDelta(t, -0.02, exit.Return, 1e-15)

	profit := fixedRule(ProfitFirst, 0.02)
	exit = run(t, profit, open(t, profit, bars, ev), bars)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeProfitTake, exit.Outcome)
	assert.InDelta(t, 102, exit.Price, 1e-9)
}

func TestStep_Short(t *testing.T) {
	r := fixedRule(StopFirst, 0.02)
	ev := core.Event{Side: core.SideShort, ProfitTakeMult: 1, StopLossMult: 1, MaxHolding: 5}

	down := flat(100, 99, 97)
	exit := run(t, r, open(t, r, down, ev), down)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeProfitTake, exit.Outcome)
	assert.InDelta(t, 0.03, exit.Return, 1e-12)

	up := flat(100, 101)
	up[1].High = 102.5
	exit = run(t, r, open(t, r, up, ev), up)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeStopLoss, exit.Outcome)
	assert.InDelta(t, 102, exit.Price, 1e-9)
	assert.InDelta(t, -0.02, exit.Return, 1e-15)
}

func TestStep_AsymmetricBarriers(t *testing.T) {
	r := fixedRule(StopFirst, 0.01)
	bars := flat(100, 101.5, 103.1)
	ev := core.Event{Side: core.SideLong, ProfitTakeMult: 3, StopLossMult: 1, MaxHolding: 5}

	exit := run(t, r, open(t, r, bars, ev), bars)
	require.NotNil(t, exit)
	assert.Equal(t, 2, exit.Index)
	assert.Equal(t, core.OutcomeProfitTake, exit.Outcome)
}

func TestStep_TimeExpiry(t *testing.T) {
	r := fixedRule(StopFirst, 0.02)
	bars := flat(100, 100.5, 100.2, 99)
	ev := core.Event{Side: core.SideLong, ProfitTakeMult: 1, StopLossMult: 1, MaxHolding: 2}

	exit := run(t, r, open(t, r, bars, ev), bars)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeTimeExpiry, exit.Outcome)
	assert.Equal(t, 2, exit.Index)
	assert.Equal(t, 100.2, exit.Price)
	assert.InDelta(t, 0.002, exit.Return, 1e-12)
}

func TestStep_UsesDenoisedMark(t *testing.T) {
	r := fixedRule(StopFirst, 0.02)
	r.Intrabar = false
	bars := flat(100, 103)
	bars[0].Denoised = 100
	bars[1].Denoised = 101

	exit := run(t, r, open(t, r, bars, core.Event{Side: core.SideLong, ProfitTakeMult: 1, StopLossMult: 1, MaxHolding: 1}), bars)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeTimeExpiry, exit.Outcome)
	assert.Equal(t, 101.0, exit.Price)
}

func TestStep_IntrabarRangeFollowsDenoisedMark(t *testing.T) {
	r := fixedRule(StopFirst, 0.02)
	ev := core.Event{Side: core.SideLong, ProfitTakeMult: 1, StopLossMult: 1, MaxHolding: 5}

	// the filter lags a jump: raw high is far above entry, the mark is not
	bars := flat(100, 103)
	bars[0].Denoised = 100
	bars[1].Denoised = 100.5
	bars[1].High = 103.5
	bars[1].Low = 102.5
	assert.Nil(t, run(t, r, open(t, r, bars, ev), bars), "range is shifted to 101/100 around the mark")

	bars[1].Low = 95
	exit := run(t, r, open(t, r, bars, ev), bars)
	require.NotNil(t, exit)
	assert.Equal(t, core.OutcomeStopLoss, exit.Outcome, "low of 95 sits 8 below the close, 92.5 around the mark")
	assert.InDelta(t, 98, exit.Price, 1e-9)
}

func TestStep_Invariants(t *testing.T) {
	r := fixedRule(StopFirst, 0.02)
	bars := flat(100, 101, 102, 103)
	tr := open(t, r, bars, core.Event{Anchor: 1, Side: core.SideLong, ProfitTakeMult: 5, StopLossMult: 5, MaxHolding: 1})

	err := recovered(func() { r.Step(tr, bars[1]) })
	assert.True(t, errors.Is(err, core.ErrLookAhead), "the entry bar itself cannot close the event")

	err = recovered(func() { r.Step(tr, bars[3]) })
	assert.ErrorIs(t, err, core.ErrInvariant, "bars cannot be skipped")

	tr, exit := r.Step(tr, bars[2])
	require.NotNil(t, exit)
	err = recovered(func() { r.Step(tr, bars[3]) })
	assert.ErrorIs(t, err, core.ErrInvariant, "a closed tracker cannot be stepped")
}

func TestUnitAt_RobustVol(t *testing.T) {
	r := Rule{TieBreak: StopFirst, Unit: UnitConfig{Mode: UnitRobustVol, Window: 4, Min: 1e-4}}
	bars := flat(100, 101, 100, 101, 100, 500)

	v, err := series.NewView(bars)
	require.NoError(t, err)

	v.Seek(1)
	_, err = r.UnitAt(v)
	assert.ErrorIs(t, err, core.ErrInsufficientHistory)

	v.Seek(4)
	unit, err := r.UnitAt(v)
	require.NoError(t, err)
	assert.Greater(t, unit, 0.0)

	// the unit at bar 4 cannot see the jump at bar 5
	mutated := flat(100, 101, 100, 101, 100, 20)
	v3, err := series.NewView(mutated)
	require.NoError(t, err)
	v3.Seek(4)
	again, err := r.UnitAt(v3)
	require.NoError(t, err)
	assert.Equal(t, unit, again)

	flatRule := Rule{TieBreak: StopFirst, Unit: UnitConfig{Mode: UnitRobustVol, Window: 3, Min: 0.005}}
	v2, err := series.NewView(flat(100, 100, 100, 100))
	require.NoError(t, err)
	v2.Seek(3)
	unit, err = flatRule.UnitAt(v2)
	require.NoError(t, err)
	assert.Equal(t, 0.005, unit, "zero volatility is floored")
}

func TestUnitAt_UsesRawCloses(t *testing.T) {
	r := Rule{TieBreak: StopFirst, Unit: UnitConfig{Mode: UnitRobustVol, Window: 4, Min: 1e-6}}
	raw := flat(100, 101, 100, 101, 100)
	smooth := flat(100, 101, 100, 101, 100)
	for i := range smooth {
		smooth[i].Denoised = 100.5
	}

	unitAt := func(bars []core.Bar) float64 {
		v, err := series.NewView(bars)
		require.NoError(t, err)
		v.Seek(4)
		u, err := r.UnitAt(v)
		require.NoError(t, err)
		return u
	}
	want := unitAt(raw)
	assert.Greater(t, want, 1e-3)
	assert.Equal(t, want, unitAt(smooth), "a flat denoised series does not shrink the unit")
}

func TestRule_Validate(t *testing.T) {
	assert.NoError(t, fixedRule(StopFirst, 1).Validate())

	err := fixedRule("", 1).Validate()
	assert.ErrorIs(t, err, core.ErrConfigMissing)
	assert.True(t, core.IsKind(err, core.KindConfiguration))

	assert.ErrorIs(t, fixedRule(ProfitFirst, 0).Validate(), core.ErrConfigInvalid)
	assert.ErrorIs(t, Rule{TieBreak: StopFirst, Unit: UnitConfig{Mode: UnitRobustVol, Window: 1, Min: 1}}.Validate(), core.ErrConfigInvalid)
	assert.ErrorIs(t, Rule{TieBreak: StopFirst, Unit: UnitConfig{Mode: UnitRobustVol, Window: 10}}.Validate(), core.ErrConfigInvalid)
	assert.ErrorIs(t, Rule{TieBreak: StopFirst, Unit: UnitConfig{Mode: "atr"}}.Validate(), core.ErrConfigInvalid)
}
