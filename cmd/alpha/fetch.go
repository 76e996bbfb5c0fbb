package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/HuiruG/BTC-HFT-Alpha/internal/logger"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/tickdata"
	"github.com/HuiruG/BTC-HFT-Alpha/internal/tickdata/binance"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	fetchSymbol string
	fetchFrom   string
	fetchTo     string
	fetchOut    string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download Binance aggregated trades into a tick CSV",
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchSymbol, "symbol", "", "Binance symbol, e.g. BTCUSDT (required)")
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "Start, YYYY-MM-DD or RFC 3339 (required)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "End (exclusive), YYYY-MM-DD or RFC 3339 (required)")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "Output CSV path (required)")

	fetchCmd.MarkFlagRequired("symbol")
	fetchCmd.MarkFlagRequired("from")
	fetchCmd.MarkFlagRequired("to")
	fetchCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(fetchCmd)
}

func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func runFetch(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug, "")
	defer log.Sync()

	from, err := parseWhen(fetchFrom)
	if err != nil {
		return fmt.Errorf("invalid from date format (expected YYYY-MM-DD or RFC 3339): %w", err)
	}
	to, err := parseWhen(fetchTo)
	if err != nil {
		return fmt.Errorf("invalid to date format (expected YYYY-MM-DD or RFC 3339): %w", err)
	}
	if !to.After(from) {
		return fmt.Errorf("end date must be after start date")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticks, err := binance.New(log).FetchTrades(ctx, fetchSymbol, from, to)
	if err != nil {
		return err
	}
	if err := tickdata.WriteFile(fetchOut, ticks); err != nil {
		return err
	}

	log.Info("ticks written", zap.String("path", fetchOut), zap.Int("ticks", len(ticks)))
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d ticks -> %s\n", fetchSymbol, len(ticks), fetchOut)
	return nil
}
