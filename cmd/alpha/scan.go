package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/config"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/core"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/logger"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/metrics"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/pipeline"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/storage/archive"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scanSymbol     string
	scanTicks      string
	scanRunID      string
	scanNoSave     bool
	scanResume     string
	scanFilterFrom string
)

var barsCmd = &cobra.Command{
	Use:   "bars",
	Short: "Sample and denoise bars",
	RunE:  scanRunner(pipeline.Stages{}),
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Label events with triple barriers",
	RunE:  scanRunner(pipeline.Stages{Label: true}),
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay predictor scores through the event-driven backtester",
	RunE:  scanRunner(pipeline.Stages{Backtest: true}),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Label and backtest every configured symbol",
	Long: `Run the full scan: bars, labels and, when backtest.enabled is set, the
backtest. Artifacts are written under runs/<run-id>/<symbol>/ in the archive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// backtest.enabled is only known after the config is loaded
		return scan(cmd, pipeline.Stages{Label: true}, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{barsCmd, labelCmd, backtestCmd, runCmd} {
		c.Flags().StringVar(&scanSymbol, "symbol", "", "scan a single symbol instead of the configured list")
		c.Flags().StringVar(&scanTicks, "ticks", "", "tick CSV for --symbol")
		c.Flags().StringVar(&scanRunID, "run-id", "", "artifact run id (default: generated)")
		c.Flags().BoolVar(&scanNoSave, "no-artifacts", false, "skip writing artifacts")
		c.Flags().StringVar(&scanResume, "resume", "", "rerun an interrupted run id, continuing saved backtests")
		c.Flags().StringVar(&scanFilterFrom, "filter-from", "", "seed the Kalman filter with the final state of this run id")
		c.MarkFlagsRequiredTogether("symbol", "ticks")
		rootCmd.AddCommand(c)
	}
}

func scanRunner(stages pipeline.Stages) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return scan(cmd, stages, false)
	}
}

func loadConfig(log *zap.Logger) (*config.Config, error) {
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
		return config.Defaults(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func scan(cmd *cobra.Command, stages pipeline.Stages, backtestFromConfig bool) error {
	bootLog := logger.Must(debug, "")
	cfg, err := loadConfig(bootLog)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if backtestFromConfig {
		stages.Backtest = cfg.Backtest.Enabled
	}
	runID, resume, err := resumeOptions(scanRunID, scanResume, scanFilterFrom, scanNoSave, stages.Backtest)
	if err != nil {
		return err
	}

	symbols := cfg.Symbols
	if scanSymbol != "" {
		symbols = []config.SymbolConfig{{Symbol: scanSymbol, Ticks: scanTicks}}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: set symbols in the config or pass --symbol and --ticks")
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
	}

	var store archive.Storage
	if !scanNoSave {
		if store, err = archive.New(cfg.ArchiveConfig()); err != nil {
			return fmt.Errorf("creating archive: %w", err)
		}
	}

	p, err := pipeline.New(cfg, stages, store, runID, log, reg)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := p.SetResume(resume); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting scan",
		zap.String("command", cmd.Name()),
		zap.Int("symbols", len(symbols)),
		zap.Bool("label", stages.Label),
		zap.Bool("backtest", stages.Backtest),
		zap.String("run_id", p.RunID()),
		zap.Bool("resume", resume.Backtest),
		zap.String("filter_from", resume.FilterFrom),
	)

	reports, runErr := p.RunAll(ctx, symbols)
	printReports(cmd.OutOrStdout(), reports)

	if cfg.Metrics.Textfile != "" {
		if err := reg.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.Warn("writing metrics textfile", zap.Error(err))
		}
	}
	return runErr
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logger.New(debug || cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return log, nil
}

// resumeOptions resolves the run id and the saved state a scan starts from.
// --resume reuses the interrupted run's id so its checkpoints are found.
func resumeOptions(runID, resume, filterFrom string, noSave, backtest bool) (string, pipeline.Resume, error) {
	var r pipeline.Resume
	if resume == "" && filterFrom == "" {
		return runID, r, nil
	}
	if noSave {
		return "", r, fmt.Errorf("--resume and --filter-from read saved artifacts and cannot be used with --no-artifacts")
	}
	if resume != "" {
		if runID != "" && runID != resume {
			return "", r, fmt.Errorf("--resume %s conflicts with --run-id %s", resume, runID)
		}
		runID = resume
		r.Backtest = backtest
	}
	r.FilterFrom = filterFrom
	return runID, r, nil
}

func printReports(out io.Writer, reports []*pipeline.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTICKS\tBARS\tSTALE\tLABELS\tDROPPED\tTRADES\tWIN RATE\tPNL\tMAX DD")
	for _, r := range reports {
		if r == nil {
			continue
		}
		s := r.Summary
		labels, dropped := "-", "-"
		if s.Labels != nil {
			labels = fmt.Sprintf("%d", s.Labels.Labeled)
			dropped = fmt.Sprintf("%d", s.Labels.Events-s.Labels.Labeled)
		}
		trades, winRate, pnl, dd := "-", "-", "-", "-"
		if s.Backtest != nil {
			st := s.Backtest.Stats
			trades = fmt.Sprintf("%d", st.TotalTrades)
			winRate = fmt.Sprintf("%.1f%%", st.WinRate*100)
			pnl = fmt.Sprintf("%.4f", st.CumulativePnL)
			dd = fmt.Sprintf("%.4f", st.MaxDrawdown)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Symbol, s.Ticks, s.Bars.Total, s.Bars.Stale, labels, dropped, trades, winRate, pnl, dd)
	}
	w.Flush()

	printSweeps(out, reports)

	for _, r := range reports {
		if r != nil && r.Summary.RunID != "" {
			fmt.Fprintf(out, "\nArtifacts: runs/%s/\n", r.Summary.RunID)
			return
		}
	}
}

func printSweeps(out io.Writer, reports []*pipeline.Report) {
	var w *tabwriter.Writer
	for _, r := range reports {
		if r == nil {
			continue
		}
		for _, sw := range r.Summary.Sweeps {
			if w == nil {
				fmt.Fprintln(out)
				w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SYMBOL\tSWEEP\tPT\tSL\tHORIZON\tLABELS\tPROFIT\tSTOP\tEXPIRED")
			}
			fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%d\t%d\t%d\t%d\t%d\n",
				r.Symbol, sw.Name, sw.ProfitTakeMult, sw.StopLossMult, sw.MaxHoldingBars, sw.Labeled,
				sw.Outcomes[string(core.OutcomeProfitTake)], sw.Outcomes[string(core.OutcomeStopLoss)],
				sw.Outcomes[string(core.OutcomeTimeExpiry)])
		}
	}
	if w != nil {
		w.Flush()
	}
}
