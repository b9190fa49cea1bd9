// Command kbengine is the CLI front end for the offline debugging
// knowledge base engine: it opens the local store, runs one operation,
// and exits, the same one-shot-process-per-invocation model the corpus's
// own "bd" CLI defaults to when no daemon is running.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	flagDataDir    string
	flagConfigDir  string
	flagLogLevel   string
	flagMetrics    bool
	rootCtx        context.Context
	rootCancel     context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "kbengine",
	Short: "kbengine - offline engineering knowledge base engine",
	Long:  `Stores, searches, and exchanges engineering debugging records across disconnected installations.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdownMetrics()
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the configured data directory")
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "override the configured config directory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&flagMetrics, "metrics", false, "print operation metrics to stdout on exit")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
