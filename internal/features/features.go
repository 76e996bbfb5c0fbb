// Package features computes a small causal feature vector for bars that
// arrive without externally computed features.
package features

import (
	"math"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/indicator"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/series"
)

// Positions in the feature vector.
const (
	Imbalance = iota
	VWAPDeviation
	InnovationZ
	Efficiency
	Volatility
	// Overextended is 1 when the Kalman noise (close - denoised) sits more
	// than two of its own standard deviations from zero.
	Overextended
	// NoiseHalfLife is the AR(1) half-life of the Kalman noise in bars.
	NoiseHalfLife

	Width
)

// overextendedZ is the noise z-score above which a move counts as
// overextended.
const overextendedZ = 2

// Names returns column names in vector order.
func Names() []string {
	return []string{
		"imbalance", "vwap_deviation", "innovation_z", "efficiency", "volatility",
		"overextended", "noise_half_life",
	}
}

// DefaultWindow is the lookback used when none is configured.
const DefaultWindow = 20

// At computes the feature vector of the view's current bar from bars at or
// before it.
func At(v *series.View, window int) []float64 {
	if window < 2 {
		window = DefaultWindow
	}
	bar := v.Current()
	closes := v.Closes(v.Now() - window)
	vol, _ := indicator.RobustVolatility(closes)

	out := make([]float64, Width)
	if total := bar.BuyVolume + bar.SellVolume; total > 0 {
		out[Imbalance] = (bar.BuyVolume - bar.SellVolume) / total
	}
	if vwap := bar.VWAP(); vwap > 0 {
		out[VWAPDeviation] = bar.Close/vwap - 1
	}
	if bar.Denoised > 0 && vol > 0 {
		out[InnovationZ] = (bar.Close/bar.Denoised - 1) / vol
	}
	out[Efficiency] = indicator.EfficiencyRatio(closes)
	out[Volatility] = vol

	if noise := kalmanNoise(v.Window(v.Now() - window)); len(noise) > 0 && bar.Denoised > 0 && !bar.Stale {
		last := noise[len(noise)-1]
		if sd := indicator.StdDev(noise); sd > 0 && math.Abs(last)/sd > overextendedZ {
			out[Overextended] = 1
		}
		if rho, ok := indicator.Autocorrelation(noise); ok {
			out[NoiseHalfLife] = indicator.HalfLife(rho)
		}
	}

	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			out[i] = 0
		}
	}
	return out
}

// kalmanNoise returns close - denoised for the denoised bars in bars.
func kalmanNoise(bars []core.Bar) []float64 {
	out := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Denoised > 0 && !b.Stale {
			out = append(out, b.Close-b.Denoised)
		}
	}
	return out
}

// Attach returns copies of bars where every bar without features carries the
// vector from At. Bars that already have features keep them.
func Attach(bars []core.Bar, window int) ([]core.Bar, error) {
	v, err := series.NewView(bars)
	if err != nil {
		return nil, err
	}
	out := make([]core.Bar, len(bars))
	for v.Advance() {
		b := v.Current()
		if len(b.Features) == 0 {
			b.Features = At(v, window)
		}
		out[b.Index] = b
	}
	return out, nil
}
