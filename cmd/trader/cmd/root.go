// Package cmd implements the trader CLI: a single-process, one-shot tool
// for submitting a backtest/execution run and inspecting the durable run
// store. The run-orchestration HTTP surface described alongside RunManager
// is a separate, out-of-scope process; this CLI drives RunManager directly
// in-process instead of over a wire protocol.
package cmd

import (
	"github.com/spf13/cobra"
)

var appConfigPath string

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Event-driven backtesting and live-strategy execution runtime",
	Long: `trader assembles a data feed, strategies, a portfolio, a risk chain,
an execution handler and reporters into a deterministic event-driven engine,
then runs it to completion.

  trader run -f run.yaml        submit and execute a run, blocking until terminal
  trader list                   list every run recorded in the durable store
  trader status <run-id>        show one run's current status
  trader cancel <run-id>        request cancellation of a running run

Complete documentation lives alongside the module.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&appConfigPath, "config", "c", "", "path to the controller config file (default configs/config.yaml)")
}
