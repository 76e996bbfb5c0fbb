package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "alpha",
	Short: "BTC-HFT-Alpha - activity bars, triple-barrier labels and event-driven backtests",
	Long: `alpha samples tick data into volume or turnover bars, denoises closes with a
Kalman filter, labels events with triple barriers and replays model scores
through a look-ahead free backtester. Symbols run in parallel.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
