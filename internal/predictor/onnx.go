package predictor

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// ONNXConfig configures an ONNX model predictor. The model takes a float32
// tensor of shape [1, Features] and returns at least one float32.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	Features    int
	InputName   string
	OutputName  string
}

// DefaultLibraryPath returns the platform's usual onnxruntime location.
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	}
	return "/usr/lib/libonnxruntime.so"
}

var (
	ortOnce sync.Once
	ortErr  error
)

func initRuntime(libPath string) error {
	ortOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNX scores bars with an ONNX model. Score is serialized because the
// session reuses one pair of tensors.
type ONNX struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32]
	output   *ort.Tensor[float32]
	features int
}

// NewONNX loads the model and allocates its tensors.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.ModelPath == "" {
		return nil, core.Errorf(core.ErrConfigMissing, "predictor.model_path")
	}
	if cfg.Features <= 0 {
		return nil, core.Errorf(core.ErrConfigInvalid, "predictor.features must be positive, got %d", cfg.Features)
	}
	if cfg.LibraryPath == "" {
		cfg.LibraryPath = DefaultLibraryPath()
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}

	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, core.WrapError(core.ErrPredictorFailed, fmt.Errorf("initialize onnxruntime: %w", err))
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Features)), make([]float32, cfg.Features))
	if err != nil {
		return nil, core.WrapError(core.ErrPredictorFailed, fmt.Errorf("create input tensor: %w", err))
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, core.WrapError(core.ErrPredictorFailed, fmt.Errorf("create output tensor: %w", err))
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, core.WrapError(core.ErrPredictorFailed, fmt.Errorf("create session: %w", err))
	}

	return &ONNX{session: session, input: input, output: output, features: cfg.Features}, nil
}

// Score runs one inference.
func (o *ONNX) Score(index int, f []float64) (float64, error) {
	if len(f) != o.features {
		return 0, core.Errorf(core.ErrPredictorFailed.At(index), "model expects %d features, got %d", o.features, len(f))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	data := o.input.GetData()
	for i, x := range f {
		data[i] = float32(x)
	}
	if err := o.session.Run(); err != nil {
		return 0, core.WrapError(core.ErrPredictorFailed.At(index), fmt.Errorf("inference: %w", err))
	}
	return float64(o.output.GetData()[0]), nil
}

// Close releases the session and tensors.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var err error
	if o.session != nil {
		err = multierr.Append(err, o.session.Destroy())
		o.session = nil
	}
	if o.input != nil {
		err = multierr.Append(err, o.input.Destroy())
		o.input = nil
	}
	if o.output != nil {
		err = multierr.Append(err, o.output.Destroy())
		o.output = nil
	}
	return err
}
