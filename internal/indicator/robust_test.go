package indicator

import (
	"math"
	"testing"
)

func TestMean_StdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	if got := Mean(xs); got != 5 {
		t.Errorf("Mean = %f, want 5", got)
	}
	// sample std of the classic example: sqrt(32/7)
	if got := StdDev(xs); !almostEqual(got, math.Sqrt(32.0/7.0), 1e-12) {
		t.Errorf("StdDev = %f", got)
	}
	if Mean(nil) != 0 || StdDev([]float64{1}) != 0 {
		t.Error("degenerate inputs should return 0")
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		xs   []float64
		want float64
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{7}, 7},
		{nil, 0},
	}

	for _, tt := range tests {
		if got := Median(tt.xs); got != tt.want {
			t.Errorf("Median(%v) = %f, want %f", tt.xs, got, tt.want)
		}
	}

	xs := []float64{3, 1, 2}
	Median(xs)
	if xs[0] != 3 {
		t.Error("Median must not reorder its input")
	}
}

func TestLogReturns(t *testing.T) {
	rets := LogReturns([]float64{100, 110, 99})
	if len(rets) != 2 {
		t.Fatalf("expected 2 returns, got %d", len(rets))
	}
	if !almostEqual(rets[0], math.Log(1.1), 1e-12) {
		t.Errorf("rets[0] = %f", rets[0])
	}
	if len(LogReturns([]float64{100})) != 0 {
		t.Error("expected empty slice")
	}
}

func TestRobustVolatility_IgnoresOutlier(t *testing.T) {
	calm := []float64{100, 101, 100, 101, 100, 101, 100}
	shocked := []float64{100, 101, 100, 101, 50, 101, 100}

	v1, ok := RobustVolatility(calm)
	if !ok {
		t.Fatal("expected volatility")
	}
	v2, _ := RobustVolatility(shocked)
	if v2 > v1*3 {
		t.Errorf("MAD volatility should resist a single outlier: calm=%f shocked=%f", v1, v2)
	}

	if _, ok := RobustVolatility([]float64{100, 101}); ok {
		t.Error("one return is not enough")
	}
}

func TestRobustVolatility_Flat(t *testing.T) {
	v, ok := RobustVolatility([]float64{100, 100, 100, 100})
	if !ok || v != 0 {
		t.Errorf("flat series volatility = %f ok=%v, want 0 true", v, ok)
	}
}

func TestEfficiencyRatio(t *testing.T) {
	if got := EfficiencyRatio([]float64{1, 2, 3, 4}); got != 1 {
		t.Errorf("trend ER = %f, want 1", got)
	}
	if got := EfficiencyRatio([]float64{1, 2, 1, 2, 1}); got != 0 {
		t.Errorf("chop ER = %f, want 0", got)
	}
	if got := EfficiencyRatio([]float64{5, 5, 5}); got != 0 {
		t.Errorf("flat ER = %f, want 0", got)
	}
}

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestAutocorrelation(t *testing.T) {
	if rho, ok := Autocorrelation([]float64{1, -1, 1, -1, 1}); !ok || !almostEqual(rho, -1, 1e-12) {
		t.Errorf("alternating series: rho = %f, ok = %v, want -1", rho, ok)
	}
	if rho, ok := Autocorrelation([]float64{1, 2, 3, 4, 5}); !ok || !almostEqual(rho, 1, 1e-12) {
		t.Errorf("trend: rho = %f, ok = %v, want 1", rho, ok)
	}
	if _, ok := Autocorrelation([]float64{3, 3, 3, 3}); ok {
		t.Error("constant series has no autocorrelation")
	}
	if _, ok := Autocorrelation([]float64{1, 2}); ok {
		t.Error("two values are not enough")
	}
}

func TestHalfLife(t *testing.T) {
	if got := HalfLife(0.5); !almostEqual(got, 1, 1e-12) {
		t.Errorf("HalfLife(0.5) = %f, want 1", got)
	}
	if got, want := HalfLife(-1), -math.Ln2/math.Log(0.99); !almostEqual(got, want, 1e-12) {
		t.Errorf("HalfLife(-1) = %f, want %f", got, want)
	}
	if got, want := HalfLife(0), -math.Ln2/math.Log(0.01); !almostEqual(got, want, 1e-12) {
		t.Errorf("HalfLife(0) = %f, want %f", got, want)
	}
}
