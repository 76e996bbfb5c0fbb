package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/backtest"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/barrier"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/bars"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/denoise"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/labeling"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/storage/archive"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Symbols   []SymbolConfig  `mapstructure:"symbols"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Barrier   BarrierConfig   `mapstructure:"barrier"`
	Sweeps    []SweepConfig   `mapstructure:"sweeps"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	Workers   int             `mapstructure:"workers"`
	LabelStep int             `mapstructure:"label_step"`
}

// SymbolConfig names one instrument and its tick table.
type SymbolConfig struct {
	Symbol string `mapstructure:"symbol"`
	Ticks  string `mapstructure:"ticks"`
}

type SamplerConfig struct {
	Clock        string        `mapstructure:"clock"` // "volume" or "turnover"
	Threshold    float64       `mapstructure:"threshold"`
	StaleTimeout time.Duration `mapstructure:"stale_timeout"`
	// DropStale removes stale bars and renumbers the rest before denoising.
	DropStale bool `mapstructure:"drop_stale"`
}

type FilterConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ProcessNoise     float64       `mapstructure:"process_noise"`
	MeasurementNoise float64       `mapstructure:"measurement_noise"`
	InitialVariance  float64       `mapstructure:"initial_variance"`
	MaxVariance      float64       `mapstructure:"max_variance"`
	GapInterval      time.Duration `mapstructure:"gap_interval"`
	AdaptiveWindow   int           `mapstructure:"adaptive_window"`
}

type FeaturesConfig struct {
	Window int `mapstructure:"window"`
}

type BarrierConfig struct {
	ProfitTakeMult float64    `mapstructure:"profit_take_mult"`
	StopLossMult   float64    `mapstructure:"stop_loss_mult"`
	MaxHoldingBars int        `mapstructure:"max_holding_bars"`
	TieBreak       string     `mapstructure:"tie_break"` // required: "stop_first" or "profit_first"
	Intrabar       bool       `mapstructure:"intrabar"`
	Side           string     `mapstructure:"side"` // side of labeling events
	Unit           UnitConfig `mapstructure:"unit"`
}

type UnitConfig struct {
	Mode   string  `mapstructure:"mode"` // "fixed" or "robust_vol"
	Fixed  float64 `mapstructure:"fixed"`
	Window int     `mapstructure:"window"`
	Min    float64 `mapstructure:"min"`
}

// SweepConfig is an alternative barrier set labeled alongside the main one.
// Zero fields inherit from barrier.
type SweepConfig struct {
	Name           string     `mapstructure:"name"`
	ProfitTakeMult float64    `mapstructure:"profit_take_mult"`
	StopLossMult   float64    `mapstructure:"stop_loss_mult"`
	MaxHoldingBars int        `mapstructure:"max_holding_bars"`
	TieBreak       string     `mapstructure:"tie_break"`
	Unit           UnitConfig `mapstructure:"unit"` // used when mode is set
}

type BacktestConfig struct {
	Enabled           bool       `mapstructure:"enabled"`
	DecisionThreshold float64    `mapstructure:"decision_threshold"`
	ShortThreshold    float64    `mapstructure:"short_threshold"`
	AllowShort        bool       `mapstructure:"allow_short"`
	Size              float64    `mapstructure:"size"`
	EntryRole         string     `mapstructure:"entry_role"`
	Fees              FeesConfig `mapstructure:"fees"`
}

type FeesConfig struct {
	MakerBps float64 `mapstructure:"maker_bps"`
	TakerBps float64 `mapstructure:"taker_bps"`
}

// Predictor types.
const (
	PredictorConstant       = "constant"
	PredictorTable          = "table"
	PredictorONNX           = "onnx"
	PredictorKalmanMomentum = "kalman_momentum"
)

type PredictorConfig struct {
	Type     string  `mapstructure:"type"`
	Constant float64 `mapstructure:"constant"`
	// TablePath may contain {symbol}, replaced per instrument.
	TablePath   string `mapstructure:"table_path"`
	ModelPath   string `mapstructure:"model_path"`
	LibraryPath string `mapstructure:"library_path"`
	Features    int    `mapstructure:"features"`
	InputName   string `mapstructure:"input_name"`
	OutputName  string `mapstructure:"output_name"`
}

type ArchiveConfig struct {
	Backend string   `mapstructure:"backend"` // "local" or "s3"
	Path    string   `mapstructure:"path"`    // For local
	S3      S3Config `mapstructure:"s3"`      // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Textfile string `mapstructure:"textfile"` // node-exporter textfile written after a run
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads configuration from file on top of Defaults. Any key can be
// overridden by an ALPHA_ prefixed environment variable, e.g.
// ALPHA_BARRIER_TIE_BREAK.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.SetEnvPrefix("ALPHA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("reading config: %w", err))
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults. The barrier tie-break has
// no default and must be configured.
func Defaults() *Config {
	fp := denoise.DefaultParams()
	return &Config{
		Sampler: SamplerConfig{
			Clock:        string(bars.ClockVolume),
			Threshold:    10,
			StaleTimeout: 5 * time.Minute,
		},
		Filter: FilterConfig{
			Enabled:          true,
			ProcessNoise:     fp.ProcessNoise,
			MeasurementNoise: fp.MeasurementNoise,
			InitialVariance:  fp.InitialVariance,
			MaxVariance:      fp.MaxVariance,
		},
		Features: FeaturesConfig{
			Window: 20,
		},
		Barrier: BarrierConfig{
			ProfitTakeMult: 2,
			StopLossMult:   2,
			MaxHoldingBars: 50,
			Intrabar:       true,
			Side:           string(core.SideLong),
			Unit: UnitConfig{
				Mode:   string(barrier.UnitRobustVol),
				Fixed:  1,
				Window: 100,
				Min:    1e-4,
			},
		},
		Backtest: BacktestConfig{
			Enabled:           true,
			DecisionThreshold: 0.55,
			ShortThreshold:    0.45,
			Size:              1,
			EntryRole:         string(backtest.RoleTaker),
			Fees: FeesConfig{
				MakerBps: 1,
				TakerBps: 4,
			},
		},
		Predictor: PredictorConfig{
			Type:       PredictorKalmanMomentum,
			InputName:  "input",
			OutputName: "output",
		},
		Archive: ArchiveConfig{
			Backend: archive.BackendLocal,
			Path:    "artifacts",
		},
		Log: LogConfig{
			Level: "info",
		},
		Workers:   4,
		LabelStep: 1,
	}
}

// SamplerConfig returns the bar sampler configuration.
func (c *Config) SamplerConfig() bars.Config {
	return bars.Config{
		Clock:        bars.Clock(c.Sampler.Clock),
		Threshold:    c.Sampler.Threshold,
		StaleTimeout: c.Sampler.StaleTimeout,
	}
}

// FilterParams returns the Kalman filter parameters.
func (c *Config) FilterParams() denoise.Params {
	return denoise.Params{
		ProcessNoise:     c.Filter.ProcessNoise,
		MeasurementNoise: c.Filter.MeasurementNoise,
		InitialVariance:  c.Filter.InitialVariance,
		MaxVariance:      c.Filter.MaxVariance,
		GapInterval:      c.Filter.GapInterval,
		AdaptiveWindow:   c.Filter.AdaptiveWindow,
	}
}

// Rule returns the barrier rule shared by labeling and backtesting.
func (c *Config) Rule() barrier.Rule {
	return barrier.Rule{
		TieBreak: barrier.TieBreak(c.Barrier.TieBreak),
		Intrabar: c.Barrier.Intrabar,
		Unit: barrier.UnitConfig{
			Mode:   barrier.UnitMode(c.Barrier.Unit.Mode),
			Fixed:  c.Barrier.Unit.Fixed,
			Window: c.Barrier.Unit.Window,
			Min:    c.Barrier.Unit.Min,
		},
	}
}

// BarrierParams returns the event barrier parameters.
func (c *Config) BarrierParams() barrier.Params {
	return barrier.Params{
		ProfitTakeMult: c.Barrier.ProfitTakeMult,
		StopLossMult:   c.Barrier.StopLossMult,
		MaxHolding:     c.Barrier.MaxHoldingBars,
	}
}

// SweepConfigs resolves the configured sweeps against the main barrier.
func (c *Config) SweepConfigs() []labeling.SweepConfig {
	out := make([]labeling.SweepConfig, 0, len(c.Sweeps))
	for _, sw := range c.Sweeps {
		rule := c.Rule()
		if sw.TieBreak != "" {
			rule.TieBreak = barrier.TieBreak(sw.TieBreak)
		}
		if sw.Unit.Mode != "" {
			rule.Unit = barrier.UnitConfig{
				Mode:   barrier.UnitMode(sw.Unit.Mode),
				Fixed:  sw.Unit.Fixed,
				Window: sw.Unit.Window,
				Min:    sw.Unit.Min,
			}
		}
		params := c.BarrierParams()
		if sw.ProfitTakeMult != 0 {
			params.ProfitTakeMult = sw.ProfitTakeMult
		}
		if sw.StopLossMult != 0 {
			params.StopLossMult = sw.StopLossMult
		}
		if sw.MaxHoldingBars != 0 {
			params.MaxHolding = sw.MaxHoldingBars
		}
		out = append(out, labeling.SweepConfig{Name: sw.Name, Rule: rule, Params: params})
	}
	return out
}

// BacktestConfig returns the backtest configuration for symbol.
func (c *Config) BacktestConfig(symbol string) backtest.Config {
	return backtest.Config{
		Symbol:            symbol,
		Params:            c.BarrierParams(),
		DecisionThreshold: c.Backtest.DecisionThreshold,
		ShortThreshold:    c.Backtest.ShortThreshold,
		AllowShort:        c.Backtest.AllowShort,
		Size:              c.Backtest.Size,
		EntryRole:         backtest.Role(c.Backtest.EntryRole),
		Fees: backtest.FeeSchedule{
			MakerBps: c.Backtest.Fees.MakerBps,
			TakerBps: c.Backtest.Fees.TakerBps,
		},
	}
}

// ArchiveConfig returns the artifact store configuration.
func (c *Config) ArchiveConfig() archive.Config {
	s3 := c.Archive.S3
	return archive.Config{
		Backend: c.Archive.Backend,
		Path:    c.Archive.Path,
		S3: archive.S3Config{
			Bucket:    s3.Bucket,
			Endpoint:  s3.Endpoint,
			Region:    s3.Region,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			Prefix:    s3.Prefix,
		},
	}
}

// Validate checks the configuration for errors. It runs before any scan.
func (c *Config) Validate() error {
	if err := c.SamplerConfig().Validate(); err != nil {
		return err
	}
	if c.Filter.Enabled {
		if err := c.FilterParams().Validate(); err != nil {
			return err
		}
	}
	if err := c.Rule().Validate(); err != nil {
		return err
	}
	if err := c.BarrierParams().Validate(); err != nil {
		return err
	}
	switch core.Side(c.Barrier.Side) {
	case core.SideLong, core.SideShort, core.SideNone:
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("barrier.side must be long, short or none, got %q", c.Barrier.Side))
	}

	if err := c.validateSweeps(); err != nil {
		return err
	}

	if c.Backtest.Enabled {
		if err := c.BacktestConfig("").Validate(); err != nil {
			return err
		}
		if err := c.validatePredictor(); err != nil {
			return err
		}
	}

	switch c.Archive.Backend {
	case archive.BackendLocal:
		if c.Archive.Path == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("archive.path required for the local backend"))
		}
	case archive.BackendS3:
		if c.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("archive.s3.bucket required for the s3 backend"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown archive backend %q", c.Archive.Backend))
	}

	if c.Workers < 1 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.LabelStep < 1 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("label_step must be positive, got %d", c.LabelStep))
	}
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
	}

	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s.Symbol == "" || s.Ticks == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("symbols entries need symbol and ticks"))
		}
		if seen[s.Symbol] {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("symbol %q listed twice", s.Symbol))
		}
		seen[s.Symbol] = true
	}

	return nil
}

func (c *Config) validateSweeps() error {
	seen := make(map[string]bool, len(c.Sweeps))
	for i, sw := range c.SweepConfigs() {
		if sw.Name == "" || strings.ContainsAny(sw.Name, `/\ `) {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("sweeps[%d]: name must be a non-empty file name part, got %q", i, sw.Name))
		}
		if seen[sw.Name] {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("sweep %q listed twice", sw.Name))
		}
		seen[sw.Name] = true
		if err := sw.Rule.Validate(); err != nil {
			return fmt.Errorf("sweep %q: %w", sw.Name, err)
		}
		if err := sw.Params.Validate(); err != nil {
			return fmt.Errorf("sweep %q: %w", sw.Name, err)
		}
	}
	return nil
}

func (c *Config) validatePredictor() error {
	p := c.Predictor
	switch p.Type {
	case PredictorConstant, PredictorKalmanMomentum:
	case PredictorTable:
		if p.TablePath == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("predictor.table_path required for table predictor"))
		}
	case PredictorONNX:
		if p.ModelPath == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("predictor.model_path required for onnx predictor"))
		}
		if p.Features <= 0 {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("predictor.features must be positive, got %d", p.Features))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown predictor type %q", p.Type))
	}
	return nil
}
