// Package pipeline wires sampling, denoising, labeling and backtesting into
// one per-symbol scan and fans independent symbols out in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/artifact"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/backtest"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/bars"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/config"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/denoise"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/features"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/labeling"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/metrics"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/storage/archive"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/tickdata"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Stages selects what a run produces beyond bars.
type Stages struct {
	Label    bool
	Backtest bool
}

// Resume selects saved state a scan starts from instead of a clean slate.
type Resume struct {
	// Backtest continues each symbol's backtest from the checkpoint an
	// interrupted scan of the same run left behind. Symbols without one
	// start over.
	Backtest bool
	// FilterFrom seeds the Kalman filter with the final state of an earlier
	// run, for tick files that continue that run's.
	FilterFrom string
}

// Report is the output of one symbol's scan.
type Report struct {
	Symbol   string
	Ticks    int
	Bars     []core.Bar
	Filter   denoise.State
	Labels   *labeling.Result
	Sweeps   []labeling.SweepResult
	Backtest *backtest.Result
	// ResumedFrom is the checkpoint bar a resumed backtest continued after.
	ResumedFrom *int
	Summary     artifact.Summary
}

// Pipeline runs scans for one configuration. It holds no per-symbol state and
// is safe for concurrent Run calls.
type Pipeline struct {
	cfg     *config.Config
	stages  Stages
	logger  *zap.Logger
	metrics *metrics.Registry
	writer  *artifact.Writer
	resume  Resume

	newScorer func(config.PredictorConfig, string) (backtest.Scorer, func() error, error)

	sampler *bars.Sampler
	filter  *denoise.Filter
	labeler *labeling.Labeler
}

// New validates cfg and builds the stage components. A nil store disables
// artifact output. Configuration errors are returned before any scan runs.
func New(cfg *config.Config, stages Stages, store archive.Storage, runID string, logger *zap.Logger, reg *metrics.Registry) (*Pipeline, error) {
	if cfg == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "no configuration")
	}
	c := *cfg
	if stages.Backtest {
		c.Backtest.Enabled = true
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{cfg: &c, stages: stages, logger: logger, metrics: reg, newScorer: NewScorer}

	var err error
	if p.sampler, err = bars.New(c.SamplerConfig(), logger, reg); err != nil {
		return nil, err
	}
	if c.Filter.Enabled {
		if p.filter, err = denoise.New(c.FilterParams(), logger, reg); err != nil {
			return nil, err
		}
	}
	if stages.Label {
		if p.labeler, err = labeling.New(c.Rule(), c.Workers, logger, reg); err != nil {
			return nil, err
		}
	}
	if store != nil {
		if runID == "" {
			runID = artifact.NewRunID(time.Now())
		}
		p.writer = artifact.NewWriter(store, runID, logger)
	}
	return p, nil
}

// SetResume makes later scans start from saved state. It must be called
// before the first Run.
func (p *Pipeline) SetResume(r Resume) error {
	if r == (Resume{}) {
		p.resume = r
		return nil
	}
	if p.writer == nil {
		return core.Errorf(core.ErrConfigInvalid, "resuming needs artifact storage")
	}
	if r.FilterFrom != "" && p.filter == nil {
		return core.Errorf(core.ErrConfigInvalid, "filter state from run %q but the filter is disabled", r.FilterFrom)
	}
	if r.Backtest && !p.stages.Backtest {
		return core.Errorf(core.ErrConfigInvalid, "backtest resume without the backtest stage")
	}
	p.resume = r
	return nil
}

// Config returns the validated configuration.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// RunID returns the artifact run id, or "" without a store.
func (p *Pipeline) RunID() string {
	if p.writer == nil {
		return ""
	}
	return p.writer.RunID()
}

// Run scans one symbol: sample, denoise, label and backtest, then write
// artifacts.
func (p *Pipeline) Run(ctx context.Context, symbol string, ticks []core.Tick) (*Report, error) {
	rep, err := p.run(ctx, symbol, ticks)
	if err != nil {
		p.metrics.RecordRun("error")
		p.logger.Error("scan failed", zap.String("symbol", symbol), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	p.metrics.RecordRun("success")
	return rep, nil
}

func (p *Pipeline) run(ctx context.Context, symbol string, ticks []core.Tick) (*Report, error) {
	rep := &Report{Symbol: symbol, Ticks: len(ticks)}

	sampled, err := p.timed("sample", func() ([]core.Bar, error) {
		return p.sampler.Sample(ticks)
	})
	if err != nil {
		return nil, err
	}
	if p.cfg.Sampler.DropStale {
		sampled = bars.Tradable(sampled)
	}

	series := sampled
	if p.filter != nil {
		start, err := p.filterStart(ctx, symbol)
		if err != nil {
			return nil, err
		}
		series, err = p.timed("denoise", func() ([]core.Bar, error) {
			out, state, err := p.filter.Apply(sampled, start)
			rep.Filter = state
			return out, err
		})
		if err != nil {
			return nil, err
		}
	}
	rep.Bars = series

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.stages.Label {
		if err := p.label(ctx, rep); err != nil {
			return nil, err
		}
	}
	if p.stages.Backtest {
		if err := p.backtest(ctx, rep); err != nil {
			return nil, err
		}
	}

	rep.Summary = p.summarize(rep)
	if p.writer != nil {
		if err := p.write(ctx, rep); err != nil {
			return nil, err
		}
	}

	p.logger.Info("scan complete",
		zap.String("symbol", symbol),
		zap.Int("ticks", rep.Ticks),
		zap.Int("bars", len(rep.Bars)),
		zap.String("run_id", p.RunID()),
	)
	return rep, nil
}

func (p *Pipeline) filterStart(ctx context.Context, symbol string) (denoise.State, error) {
	var st denoise.State
	if p.resume.FilterFrom == "" {
		return st, nil
	}
	if err := p.writer.ForRun(p.resume.FilterFrom).ReadCheckpoint(ctx, symbol, artifact.FilterCheckpointFile, &st); err != nil {
		return st, fmt.Errorf("filter state from run %s: %w", p.resume.FilterFrom, err)
	}
	p.logger.Info("filter state restored",
		zap.String("symbol", symbol),
		zap.String("from_run", p.resume.FilterFrom),
		zap.Int("updates", st.Updates),
		zap.Time("updated_at", st.UpdatedAt),
	)
	return st, nil
}

func (p *Pipeline) label(ctx context.Context, rep *Report) error {
	start := time.Now()
	events := labeling.EventsEvery(rep.Bars, p.cfg.LabelStep, core.Side(p.cfg.Barrier.Side), p.cfg.BarrierParams())
	res, err := p.labeler.Label(ctx, events, rep.Bars)
	p.metrics.ObserveScan("label", time.Since(start).Seconds())
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		sample := multierr.Errors(err)
		if len(sample) > 5 {
			sample = sample[:5]
		}
		p.logger.Warn("events dropped",
			zap.String("symbol", rep.Symbol),
			zap.Int("dropped", len(res.Dropped)),
			zap.Errors("first", sample),
		)
	}
	rep.Labels = res

	if len(p.cfg.Sweeps) == 0 {
		return nil
	}
	start = time.Now()
	sweeps, err := p.labeler.Sweep(ctx, rep.Bars, events, p.cfg.SweepConfigs())
	p.metrics.ObserveScan("sweep", time.Since(start).Seconds())
	if err != nil {
		return err
	}
	rep.Sweeps = sweeps
	return nil
}

func (p *Pipeline) backtest(ctx context.Context, rep *Report) error {
	start := time.Now()
	defer func() { p.metrics.ObserveScan("backtest", time.Since(start).Seconds()) }()

	withFeatures, err := features.Attach(rep.Bars, p.cfg.Features.Window)
	if err != nil {
		return err
	}
	rep.Bars = withFeatures

	scorer, closer, err := p.newScorer(p.cfg.Predictor, rep.Symbol)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closer(); cerr != nil {
			p.logger.Warn("closing predictor", zap.Error(cerr))
		}
	}()

	bt, err := backtest.New(p.cfg.BacktestConfig(rep.Symbol), p.cfg.Rule(), scorer, p.logger, p.metrics)
	if err != nil {
		return err
	}
	cp, resumed, err := p.simCheckpoint(ctx, rep.Symbol)
	if err != nil {
		return err
	}
	var res *backtest.Result
	if resumed {
		rep.ResumedFrom = &cp.Now
		res, err = bt.Resume(ctx, rep.Bars, cp)
	} else {
		res, err = bt.Run(ctx, rep.Bars)
	}
	var stopped *backtest.Interrupted
	if errors.As(err, &stopped) && p.writer != nil {
		werr := p.writer.WriteCheckpoint(context.WithoutCancel(ctx), rep.Symbol, artifact.SimCheckpointFile, stopped.Checkpoint)
		if werr != nil {
			return multierr.Append(err, werr)
		}
		p.logger.Warn("backtest interrupted, checkpoint saved",
			zap.String("symbol", rep.Symbol),
			zap.Int("bar", stopped.Checkpoint.Now),
			zap.String("path", p.writer.Path(rep.Symbol, artifact.SimCheckpointFile)),
		)
	}
	if err != nil {
		return err
	}
	rep.Backtest = res
	return nil
}

func (p *Pipeline) simCheckpoint(ctx context.Context, symbol string) (backtest.Checkpoint, bool, error) {
	var cp backtest.Checkpoint
	if !p.resume.Backtest {
		return cp, false, nil
	}
	ok, err := p.writer.Exists(ctx, symbol, artifact.SimCheckpointFile)
	if err != nil || !ok {
		return cp, false, err
	}
	if err := p.writer.ReadCheckpoint(ctx, symbol, artifact.SimCheckpointFile, &cp); err != nil {
		return cp, false, err
	}
	p.logger.Info("backtest resumed",
		zap.String("symbol", symbol),
		zap.Int("after_bar", cp.Now),
		zap.Int("trades", len(cp.Trades)),
	)
	return cp, true, nil
}

func (p *Pipeline) summarize(rep *Report) artifact.Summary {
	s := artifact.Summary{
		RunID:       p.RunID(),
		Symbol:      rep.Symbol,
		GeneratedAt: time.Now().UTC(),
		Ticks:       rep.Ticks,
		Bars:        artifact.SummarizeBars(p.cfg.Sampler.Clock, p.cfg.Sampler.Threshold, rep.Bars),
	}
	if rep.Labels != nil {
		ls := artifact.SummarizeLabels(rep.Labels)
		s.Labels = &ls
	}
	for _, sw := range rep.Sweeps {
		s.Sweeps = append(s.Sweeps, artifact.SweepSummary{
			Name:           sw.Config.Name,
			ProfitTakeMult: sw.Config.Params.ProfitTakeMult,
			StopLossMult:   sw.Config.Params.StopLossMult,
			MaxHoldingBars: sw.Config.Params.MaxHolding,
			LabelSummary:   artifact.SummarizeLabels(sw.Result),
		})
	}
	s.ResumedFrom = rep.ResumedFrom
	if rep.Backtest != nil {
		s.Backtest = &artifact.BacktestSummary{Stats: rep.Backtest.Stats}
		if len(rep.Backtest.Skipped) > 0 {
			s.Backtest.Skipped = rep.Backtest.Skipped
		}
	}
	return s
}

func (p *Pipeline) write(ctx context.Context, rep *Report) error {
	start := time.Now()
	defer func() { p.metrics.ObserveScan("artifacts", time.Since(start).Seconds()) }()

	if err := p.writer.WriteBars(ctx, rep.Symbol, rep.Bars); err != nil {
		return err
	}
	if p.filter != nil {
		if err := p.writer.WriteCheckpoint(ctx, rep.Symbol, artifact.FilterCheckpointFile, rep.Filter); err != nil {
			return err
		}
	}
	if rep.Labels != nil {
		if err := p.writer.WriteLabels(ctx, rep.Symbol, rep.Labels.Labels); err != nil {
			return err
		}
	}
	for _, sw := range rep.Sweeps {
		if err := p.writer.WriteSweepLabels(ctx, rep.Symbol, sw.Config.Name, sw.Result.Labels); err != nil {
			return err
		}
	}
	if rep.Backtest != nil {
		if err := p.writer.WriteTrades(ctx, rep.Symbol, rep.Backtest.Trades); err != nil {
			return err
		}
	}
	return p.writer.WriteSummary(ctx, rep.Summary)
}

func (p *Pipeline) timed(stage string, fn func() ([]core.Bar, error)) ([]core.Bar, error) {
	start := time.Now()
	out, err := fn()
	p.metrics.ObserveScan(stage, time.Since(start).Seconds())
	return out, err
}

// RunAll scans every symbol in parallel, bounded by the configured worker
// count. Reports keep the order of symbols; failed symbols leave a nil entry
// and their errors are combined.
func (p *Pipeline) RunAll(ctx context.Context, symbols []config.SymbolConfig) ([]*Report, error) {
	reports := make([]*Report, len(symbols))
	errs := make([]error, len(symbols))

	wp := pool.New().WithMaxGoroutines(p.cfg.Workers)
	for i, s := range symbols {
		wp.Go(func() {
			ticks, err := tickdata.ReadFile(s.Ticks)
			if err != nil {
				p.metrics.RecordRun("error")
				errs[i] = fmt.Errorf("%s: %w", s.Symbol, err)
				return
			}
			reports[i], errs[i] = p.Run(ctx, s.Symbol, ticks)
		})
	}
	wp.Wait()

	return reports, multierr.Combine(errs...)
}
