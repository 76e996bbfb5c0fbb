package indicator

import (
	"math"
	"slices"
)

// madScale converts a median absolute deviation to a normal-equivalent sigma.
const madScale = 1.4826

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)-1))
}

// Median returns the median without reordering xs.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// LogReturns returns ln(p[i]/p[i-1]) for consecutive prices.
// Returns slice of length: len(prices) - 1
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

// RobustVolatility estimates per-bar return volatility as the scaled median
// absolute deviation of log returns, which ignores flash-crash outliers that
// dominate a standard deviation. ok is false with fewer than two returns.
func RobustVolatility(prices []float64) (vol float64, ok bool) {
	rets := LogReturns(prices)
	if len(rets) < 2 {
		return 0, false
	}
	center := Median(rets)
	dev := make([]float64, len(rets))
	for i, r := range rets {
		dev[i] = math.Abs(r - center)
	}
	return Median(dev) * madScale, true
}

// EfficiencyRatio is Kaufman's efficiency: net move over path length.
// 1 is a straight trend, 0 pure noise.
func EfficiencyRatio(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	var path float64
	for i := 1; i < len(prices); i++ {
		path += math.Abs(prices[i] - prices[i-1])
	}
	if path == 0 {
		return 0
	}
	return math.Abs(prices[len(prices)-1]-prices[0]) / path
}

// Autocorrelation returns the lag-1 correlation of xs. ok is false with fewer
// than three values or a constant series.
func Autocorrelation(xs []float64) (rho float64, ok bool) {
	if len(xs) < 3 {
		return 0, false
	}
	x, lag := xs[1:], xs[:len(xs)-1]
	mx, ml := Mean(x), Mean(lag)
	var cov, vx, vl float64
	for i := range x {
		dx, dl := x[i]-mx, lag[i]-ml
		cov += dx * dl
		vx += dx * dx
		vl += dl * dl
	}
	if vx == 0 || vl == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vl), true
}

// HalfLife is the half-life in bars of an AR(1) process with coefficient
// rho, -ln 2 / ln|rho|. |rho| is clipped to [0.01, 0.99], which bounds the
// result to roughly [0.15, 69].
func HalfLife(rho float64) float64 {
	r := math.Min(math.Max(math.Abs(rho), 0.01), 0.99)
	return -math.Ln2 / math.Log(r)
}
