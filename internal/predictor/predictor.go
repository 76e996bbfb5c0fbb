// Package predictor adapts external model outputs to the per-bar scoring
// callback consumed by the backtester.
package predictor

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/features"
)

// Predictor scores a bar from its index and feature vector.
type Predictor interface {
	Score(index int, features []float64) (float64, error)
}

// Func adapts a plain function.
type Func func(index int, features []float64) (float64, error)

// Score calls f.
func (f Func) Score(index int, features []float64) (float64, error) {
	return f(index, features)
}

// Constant scores every bar the same.
type Constant float64

// Score returns c.
func (c Constant) Score(int, []float64) (float64, error) {
	return float64(c), nil
}

// Table serves scores materialized before the scan, keyed by bar index.
type Table struct {
	scores map[int]float64
}

// NewTable creates a table from a score map.
func NewTable(scores map[int]float64) *Table {
	t := &Table{scores: make(map[int]float64, len(scores))}
	for k, v := range scores {
		t.scores[k] = v
	}
	return t
}

// LoadTable reads a CSV with a header row containing bar_index and score
// columns.
func LoadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, core.ErrEmptyInput
		}
		return nil, core.WrapError(core.ErrMalformedInput, err)
	}
	idxCol, scoreCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "bar_index", "index":
			idxCol = i
		case "score":
			scoreCol = i
		}
	}
	if idxCol < 0 || scoreCol < 0 {
		return nil, core.Errorf(core.ErrMalformedInput, "score table needs bar_index and score columns, got %v", header)
	}

	t := &Table{scores: make(map[int]float64)}
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrMalformedInput.At(row), err)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[idxCol]))
		if err != nil {
			return nil, core.WrapError(core.ErrMalformedInput.At(row), err)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(rec[scoreCol]), 64)
		if err != nil {
			return nil, core.WrapError(core.ErrMalformedInput.At(row), err)
		}
		if _, dup := t.scores[idx]; dup {
			return nil, core.Errorf(core.ErrMalformedInput.At(row), "duplicate score for bar %d", idx)
		}
		t.scores[idx] = score
	}
	if len(t.scores) == 0 {
		return nil, core.ErrEmptyInput
	}
	return t, nil
}

// Len returns the number of scored bars.
func (t *Table) Len() int {
	return len(t.scores)
}

// Score returns the stored score. A bar without a score is an error.
func (t *Table) Score(index int, _ []float64) (float64, error) {
	s, ok := t.scores[index]
	if !ok {
		return 0, core.Errorf(core.ErrPredictorFailed.At(index), "no score for bar %d", index)
	}
	return s, nil
}

// KalmanMomentum is a baseline scorer on the built-in feature vector. It maps
// the Kalman innovation z-score and trade imbalance to (0, 1); 0.5 is
// neutral.
type KalmanMomentum struct {
	InnovationWeight float64
	ImbalanceWeight  float64
}

// DefaultKalmanMomentum returns the baseline weights.
func DefaultKalmanMomentum() KalmanMomentum {
	return KalmanMomentum{InnovationWeight: 0.5, ImbalanceWeight: 1}
}

// Score implements Predictor.
func (k KalmanMomentum) Score(index int, f []float64) (float64, error) {
	if len(f) < features.Width {
		return 0, core.Errorf(core.ErrPredictorFailed.At(index), "need %d features, got %d", features.Width, len(f))
	}
	x := k.InnovationWeight*f[features.InnovationZ] + k.ImbalanceWeight*f[features.Imbalance]
	return 0.5 * (1 + math.Tanh(x)), nil
}
