package denoise

import (
	"math"
	"testing"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newFilter(t *testing.T, p Params) *Filter {
	t.Helper()
	f, err := New(p, nil, metrics.NewRegistry())
	require.NoError(t, err)
	return f
}

func TestUpdate_SeedsOnFirstObservation(t *testing.T) {
	p := DefaultParams()
	f := newFilter(t, p)

	s, est, err := f.Update(State{}, 101.5, t0)
	require.NoError(t, err)
	assert.Equal(t, 101.5, s.Estimate)
	assert.Equal(t, p.InitialVariance, s.Variance)
	assert.Equal(t, 1, s.Updates)
	assert.Equal(t, 101.5, est.Price)
	assert.True(t, s.Seeded())
}

func TestUpdate_Recursion(t *testing.T) {
	p := Params{ProcessNoise: 1, MeasurementNoise: 4, InitialVariance: 3, MaxVariance: 100}
	f := newFilter(t, p)

	s := State{Estimate: 10, Variance: 3, UpdatedAt: t0, Updates: 1}
	next, est, err := f.Update(s, 14, t0.Add(time.Second))
	require.NoError(t, err)

	// predicted = 4, gain = 4/8 = 0.5
	assert.InDelta(t, 0.5, est.Gain, 1e-15)
	assert.InDelta(t, 4, est.Innovation, 1e-15)
	assert.InDelta(t, 12, next.Estimate, 1e-12)
	assert.InDelta(t, 2, next.Variance, 1e-12)
	assert.Equal(t, 2, next.Updates)

	// the input state is a value and stays untouched
	assert.Equal(t, 10.0, s.Estimate)
}

func TestUpdate_VarianceNonIncreasing(t *testing.T) {
	f := newFilter(t, DefaultParams())

	observations := []float64{100, 100.4, 99.7, 100.9, 101.2, 100.1, 99.5, 100.3, 100.8, 100.2}
	var s State
	prev := math.Inf(1)
	for i := 0; i < 500; i++ {
		var (
			est Estimate
			err error
		)
		s, est, err = f.Update(s, observations[i%len(observations)], t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.LessOrEqual(t, est.Variance, prev*(1+1e-12), "variance grew at update %d", i)
		assert.GreaterOrEqual(t, est.Variance, 0.0)
		prev = est.Variance
	}
}

func TestUpdate_ZeroInnovationDoesNotDiverge(t *testing.T) {
	f := newFilter(t, DefaultParams())

	var s State
	for i := 0; i < 10000; i++ {
		var err error
		s, _, err = f.Update(s, 42000, t0)
		require.NoError(t, err)
	}
	assert.Equal(t, 42000.0, s.Estimate)
	assert.False(t, math.IsNaN(s.Variance))
	assert.Greater(t, s.Variance, 0.0)
	assert.Less(t, s.Variance, DefaultParams().InitialVariance)
}

func TestUpdate_ClampsNegativeVariance(t *testing.T) {
	obs, logs := observer.New(zapcore.WarnLevel)
	f, err := New(DefaultParams(), zap.New(obs), metrics.NewRegistry())
	require.NoError(t, err)

	corrupted := State{Estimate: 100, Variance: -1, UpdatedAt: t0, Updates: 3}
	next, est, err := f.Update(corrupted, 101, t0.Add(time.Second))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, next.Variance, 0.0)
	assert.GreaterOrEqual(t, est.Variance, 0.0)
	assert.Equal(t, 100.0, next.Estimate, "zero predicted variance means zero gain")
	require.Equal(t, 1, logs.FilterMessage("filter clamped").Len())
	assert.Equal(t, "predict_negative", logs.All()[0].ContextMap()["reason"])
}

func TestUpdate_ClampsOverflow(t *testing.T) {
	p := Params{ProcessNoise: 1, MeasurementNoise: 1, InitialVariance: 10, MaxVariance: 10}
	f := newFilter(t, p)

	s := State{Estimate: 100, Variance: 10, UpdatedAt: t0, Updates: 1}
	next, _, err := f.Update(s, 100, t0.Add(time.Second))
	require.NoError(t, err)
	assert.LessOrEqual(t, next.Variance, p.MaxVariance)
}

func TestUpdate_GapScaling(t *testing.T) {
	p := DefaultParams()
	p.GapInterval = time.Second
	f := newFilter(t, p)

	s := State{Estimate: 100, Variance: 1e-4, UpdatedAt: t0, Updates: 10}
	short, _, err := f.Update(s, 100, t0.Add(time.Second))
	require.NoError(t, err)
	long, _, err := f.Update(s, 100, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Greater(t, long.Variance, short.Variance, "uncertainty grows across a gap")
}

func TestUpdate_RejectsBadInput(t *testing.T) {
	f := newFilter(t, DefaultParams())
	seeded := State{Estimate: 100, Variance: 1, UpdatedAt: t0, Updates: 1}

	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, _, err := f.Update(seeded, v, t0.Add(time.Second))
		assert.ErrorIs(t, err, core.ErrMalformedInput, "observation %v", v)
	}

	_, _, err := f.Update(seeded, 100, t0.Add(-time.Second))
	assert.ErrorIs(t, err, core.ErrMalformedInput, "updates must be in time order")
}

func TestUpdate_AdaptiveNoise(t *testing.T) {
	fixed := newFilter(t, DefaultParams())
	p := DefaultParams()
	p.AdaptiveWindow = 5
	adaptive := newFilter(t, p)

	var sf, sa State
	at := t0
	for i := 0; i < 60; i++ {
		obs := 100.0
		if i%2 == 1 {
			obs = 100.01
		}
		var err error
		sf, _, err = fixed.Update(sf, obs, at)
		require.NoError(t, err)
		sa, _, err = adaptive.Update(sa, obs, at)
		require.NoError(t, err)
		at = at.Add(time.Second)
	}
	assert.Zero(t, sf.Activity, "fixed noise keeps no activity")
	assert.Equal(t, 59, sa.Activity.Samples)
	assert.GreaterOrEqual(t, sa.Variance, sf.Variance)

	_, ef, err := fixed.Update(sf, 103, at)
	require.NoError(t, err)
	_, ea, err := adaptive.Update(sa, 103, at)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ef.NoiseScale)
	assert.Equal(t, 16.0, ea.NoiseScale, "a shock saturates the activity z-score")
	assert.Greater(t, ea.Gain, ef.Gain, "the filter follows the shock faster")
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero process noise", func(p *Params) { p.ProcessNoise = 0 }},
		{"negative measurement noise", func(p *Params) { p.MeasurementNoise = -1 }},
		{"zero initial variance", func(p *Params) { p.InitialVariance = 0 }},
		{"max below initial", func(p *Params) { p.MaxVariance = p.InitialVariance / 2 }},
		{"negative gap", func(p *Params) { p.GapInterval = -time.Second }},
		{"adaptive window of one", func(p *Params) { p.AdaptiveWindow = 1 }},
		{"negative adaptive window", func(p *Params) { p.AdaptiveWindow = -5 }},
	}

	assert.NoError(t, DefaultParams().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func bars(closes ...float64) []core.Bar {
	out := make([]core.Bar, len(closes))
	for i, c := range closes {
		out[i] = core.Bar{
			Index:     i,
			End:       t0.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			TickCount: 1,
		}
	}
	return out
}

func TestApply_CheckpointResumeIsDeterministic(t *testing.T) {
	f := newFilter(t, DefaultParams())
	series := bars(100, 100.5, 99.8, 101.2, 100.9, 102.3, 101.7, 101.1)

	full, fullState, err := f.Apply(series, State{})
	require.NoError(t, err)

	head, mid, err := f.Apply(series[:3], State{})
	require.NoError(t, err)
	tail, endState, err := f.Apply(series[3:], mid)
	require.NoError(t, err)

	resumed := append(head, tail...)
	require.Len(t, resumed, len(full))
	for i := range full {
		assert.Equal(t, full[i].Denoised, resumed[i].Denoised, "bar %d", i)
		assert.Equal(t, full[i].DenoisedVariance, resumed[i].DenoisedVariance, "bar %d", i)
	}
	assert.Equal(t, fullState, endState)

	// Apply never mutates its input
	assert.Zero(t, series[0].Denoised)
}

func TestApply_IsCausal(t *testing.T) {
	f := newFilter(t, DefaultParams())
	a := bars(100, 101, 99, 103, 100)
	b := bars(100, 101, 99, 80, 120)

	outA, _, err := f.Apply(a, State{})
	require.NoError(t, err)
	outB, _, err := f.Apply(b, State{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, outA[i].Denoised, outB[i].Denoised, "estimate at bar %d must not depend on later bars", i)
	}
}

func TestApply_CarriesAcrossStaleBars(t *testing.T) {
	f := newFilter(t, DefaultParams())
	series := bars(100, 101, 101, 102)
	series[2].TickCount = 0
	series[2].Stale = true

	out, s, err := f.Apply(series, State{})
	require.NoError(t, err)
	assert.Equal(t, out[1].Denoised, out[2].Denoised)
	assert.Equal(t, out[1].DenoisedVariance, out[2].DenoisedVariance)
	assert.Equal(t, 3, s.Updates)
}

func TestApply_ReportsOffendingIndex(t *testing.T) {
	f := newFilter(t, DefaultParams())
	series := bars(100, 101, 102)
	series[2].Close = math.NaN()

	_, _, err := f.Apply(series, State{})
	require.Error(t, err)
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Index)

	_, _, err = f.Apply(nil, State{})
	assert.ErrorIs(t, err, core.ErrEmptyInput)
}

func TestApply_AdaptiveCheckpointResume(t *testing.T) {
	p := DefaultParams()
	p.AdaptiveWindow = 3
	f := newFilter(t, p)
	series := bars(100, 100.5, 99.8, 101.2, 100.9, 102.3, 101.7, 101.1, 104, 98.5, 99, 99.2)

	full, _, err := f.Apply(series, State{})
	require.NoError(t, err)
	head, mid, err := f.Apply(series[:6], State{})
	require.NoError(t, err)
	assert.Equal(t, 5, mid.Activity.Samples)
	tail, _, err := f.Apply(series[6:], mid)
	require.NoError(t, err)

	resumed := append(head, tail...)
	for i := range full {
		assert.Equal(t, full[i].Denoised, resumed[i].Denoised, "bar %d", i)
	}
}
