// Package denoise recovers a "true price" from bar closes with a scalar
// Kalman filter under a random-walk state model.
package denoise

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/metrics"
	"go.uber.org/zap"
)

// Params are the fixed noise parameters of the filter.
type Params struct {
	ProcessNoise     float64
	MeasurementNoise float64
	InitialVariance  float64
	MaxVariance      float64
	// GapInterval scales the process noise by elapsed/GapInterval when the
	// time since the last update exceeds it. Zero disables gap scaling.
	GapInterval time.Duration
	// AdaptiveWindow enables innovation-driven process noise: the mean
	// squared log return over this many updates is z-scored against its
	// long-run level (five windows), and a turbulent market raises Q by
	// (1 + z)², z clamped to [0, 3]. Zero keeps the noise fixed.
	AdaptiveWindow int
}

// DefaultParams returns the parameters the research notebooks used.
func DefaultParams() Params {
	return Params{
		ProcessNoise:     1e-5,
		MeasurementNoise: 1e-3,
		InitialVariance:  1e4,
		MaxVariance:      1e12,
	}
}

// Validate checks the filter parameters.
func (p Params) Validate() error {
	if !(p.ProcessNoise > 0) || math.IsInf(p.ProcessNoise, 0) {
		return core.Errorf(core.ErrConfigInvalid, "process_noise must be positive, got %v", p.ProcessNoise)
	}
	if !(p.MeasurementNoise > 0) || math.IsInf(p.MeasurementNoise, 0) {
		return core.Errorf(core.ErrConfigInvalid, "measurement_noise must be positive, got %v", p.MeasurementNoise)
	}
	if !(p.InitialVariance > 0) {
		return core.Errorf(core.ErrConfigInvalid, "initial_variance must be positive, got %v", p.InitialVariance)
	}
	if !(p.MaxVariance >= p.InitialVariance) || math.IsInf(p.MaxVariance, 0) {
		return core.Errorf(core.ErrConfigInvalid, "max_variance must be finite and >= initial_variance, got %v", p.MaxVariance)
	}
	if p.GapInterval < 0 {
		return core.Errorf(core.ErrConfigInvalid, "gap_interval cannot be negative, got %s", p.GapInterval)
	}
	if p.AdaptiveWindow < 0 || p.AdaptiveWindow == 1 {
		return core.Errorf(core.ErrConfigInvalid, "adaptive_window must be 0 or at least 2, got %d", p.AdaptiveWindow)
	}
	return nil
}

// maxNoiseZ caps the activity z-score.
const maxNoiseZ = 3

// State is the filter state for one symbol and session. The zero value is an
// unseeded filter; passing State{} is how a session boundary is expressed.
type State struct {
	Estimate  float64   `json:"estimate"`
	Variance  float64   `json:"variance"`
	UpdatedAt time.Time `json:"updated_at"`
	Updates   int       `json:"updates"`
	// Activity is only maintained with adaptive noise.
	Activity Activity `json:"activity"`
}

// Activity is the running estimate of market turbulence behind adaptive
// process noise: exponentially weighted moments of squared log returns.
type Activity struct {
	LastObserved float64 `json:"last_observed"`
	Short        float64 `json:"short"`
	LongMean     float64 `json:"long_mean"`
	LongVar      float64 `json:"long_var"`
	Samples      int     `json:"samples"`
}

// Seeded reports whether the state has absorbed at least one observation.
func (s State) Seeded() bool {
	return s.Updates > 0
}

// Reset marks a session boundary; the next update reseeds.
func (s *State) Reset() {
	*s = State{}
}

// Estimate is the filter output for one observation.
type Estimate struct {
	Price      float64
	Variance   float64
	Gain       float64
	Innovation float64
	// NoiseScale is the multiplier applied to the process noise, 1 unless
	// adaptive noise raised it.
	NoiseScale float64
}

// Filter applies the predict/update recursion. It holds configuration only;
// all mutable state travels in State values.
type Filter struct {
	params  Params
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New creates a filter.
func New(p Params, logger *zap.Logger, reg *metrics.Registry) (*Filter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{params: p, logger: logger, metrics: reg}, nil
}

// Params returns the filter parameters.
func (f *Filter) Params() Params {
	return f.params
}

// Update absorbs one observation and returns the new state. The first
// observation of a session seeds the estimate with InitialVariance.
func (f *Filter) Update(s State, observed float64, at time.Time) (State, Estimate, error) {
	if !(observed > 0) || math.IsInf(observed, 0) {
		return s, Estimate{}, core.Errorf(core.ErrMalformedInput, "observation %v", observed)
	}

	if !s.Seeded() {
		next := State{
			Estimate:  observed,
			Variance:  f.params.InitialVariance,
			UpdatedAt: at,
			Updates:   1,
		}
		next.Activity, _ = f.adapt(Activity{}, observed)
		f.metrics.RecordFilterUpdate()
		return next, Estimate{Price: observed, Variance: next.Variance, Gain: 1, NoiseScale: 1}, nil
	}

	if at.Before(s.UpdatedAt) {
		return s, Estimate{}, core.Errorf(core.ErrMalformedInput,
			"observation at %s precedes last update %s", at.Format(time.RFC3339Nano), s.UpdatedAt.Format(time.RFC3339Nano))
	}

	// predict
	q := f.params.ProcessNoise
	if gap := f.params.GapInterval; gap > 0 {
		if elapsed := at.Sub(s.UpdatedAt); elapsed > gap {
			q *= float64(elapsed) / float64(gap)
		}
	}
	activity, scale := f.adapt(s.Activity, observed)
	q *= scale
	predicted := f.clamp(s.Variance+q, "predict")

	// update
	gain := predicted / (predicted + f.params.MeasurementNoise)
	innovation := observed - s.Estimate
	estimate := s.Estimate + gain*innovation
	variance := f.clamp((1-gain)*predicted, "update")

	if math.IsNaN(estimate) || math.IsInf(estimate, 0) {
		// reseed rather than emit a wrong estimate
		f.instability("estimate", estimate)
		estimate = observed
		variance = f.params.InitialVariance
		gain = 1
	}

	next := State{
		Estimate:  estimate,
		Variance:  variance,
		UpdatedAt: at,
		Updates:   s.Updates + 1,
		Activity:  activity,
	}
	f.metrics.RecordFilterUpdate()
	return next, Estimate{Price: estimate, Variance: variance, Gain: gain, Innovation: innovation, NoiseScale: scale}, nil
}

// adapt folds observed into the activity estimate and returns the process
// noise multiplier for this update. The z-score is taken against the
// long-run moments before they absorb the current sample.
func (f *Filter) adapt(a Activity, observed float64) (Activity, float64) {
	w := f.params.AdaptiveWindow
	if w == 0 {
		return a, 1
	}
	if !(a.LastObserved > 0) {
		return Activity{LastObserved: observed}, 1
	}

	r := math.Log(observed / a.LastObserved)
	a.LastObserved = observed
	a.Short += 2 / float64(w+1) * (r*r - a.Short)
	a.Samples++

	scale := 1.0
	if a.Samples > w && a.LongVar > 0 {
		z := (a.Short - a.LongMean) / math.Sqrt(a.LongVar)
		scale = 1 + math.Min(math.Max(z, 0), maxNoiseZ)
		scale *= scale
	}

	alpha := 2 / float64(5*w+1)
	d := a.Short - a.LongMean
	a.LongMean += alpha * d
	a.LongVar = (1 - alpha) * (a.LongVar + alpha*d*d)
	return a, scale
}

// clamp keeps a variance inside [0, MaxVariance].
func (f *Filter) clamp(v float64, stage string) float64 {
	switch {
	case math.IsNaN(v):
		f.instability(stage+"_nan", v)
		return f.params.MaxVariance
	case v < 0:
		f.instability(stage+"_negative", v)
		return 0
	case v > f.params.MaxVariance:
		f.instability(stage+"_overflow", v)
		return f.params.MaxVariance
	}
	return v
}

func (f *Filter) instability(reason string, v float64) {
	f.metrics.RecordFilterClamp(reason)
	f.logger.Warn("filter clamped",
		zap.String("reason", reason),
		zap.Error(core.WrapError(core.ErrNumericalInstability, fmt.Errorf("value %v", v))),
	)
}

// Apply runs the filter over bars in order and returns copies carrying the
// denoised close, together with the final state for checkpointing. Zero-tick
// stale bars carry the previous estimate forward without an update.
func (f *Filter) Apply(bars []core.Bar, s State) ([]core.Bar, State, error) {
	if len(bars) == 0 {
		return nil, s, core.ErrEmptyInput
	}

	out := make([]core.Bar, len(bars))
	for i, b := range bars {
		if b.TickCount == 0 && s.Seeded() {
			b.Denoised = s.Estimate
			b.DenoisedVariance = s.Variance
			out[i] = b
			continue
		}

		next, est, err := f.Update(s, b.Close, b.End)
		if err != nil {
			var ce *core.Error
			if errors.As(err, &ce) {
				return nil, s, ce.At(i)
			}
			return nil, s, err
		}
		s = next
		b.Denoised = est.Price
		b.DenoisedVariance = est.Variance
		out[i] = b
	}
	return out, s, nil
}
