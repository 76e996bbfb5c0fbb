package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/backtest"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/config"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/predictor"
)

func noClose() error { return nil }

// NewScorer builds the configured predictor for symbol. The returned close
// function releases model resources and is never nil.
func NewScorer(cfg config.PredictorConfig, symbol string) (backtest.Scorer, func() error, error) {
	switch cfg.Type {
	case config.PredictorConstant:
		return predictor.Constant(cfg.Constant), noClose, nil

	case config.PredictorKalmanMomentum:
		return predictor.DefaultKalmanMomentum(), noClose, nil

	case config.PredictorTable:
		path := strings.ReplaceAll(cfg.TablePath, "{symbol}", symbol)
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("open score table: %w", err))
		}
		defer f.Close()
		t, err := predictor.LoadTable(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		return t, noClose, nil

	case config.PredictorONNX:
		m, err := predictor.NewONNX(predictor.ONNXConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.LibraryPath,
			Features:    cfg.Features,
			InputName:   cfg.InputName,
			OutputName:  cfg.OutputName,
		})
		if err != nil {
			return nil, nil, err
		}
		return m, m.Close, nil
	}
	return nil, nil, core.Errorf(core.ErrConfigInvalid, "unknown predictor type %q", cfg.Type)
}
