// Package cmd wires the CLI surface: the crawl run itself and the
// active/expired reconciliation pass over its output.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wikisync",
		Short: "Resumable wiki data extraction and sync.",
		Long: `wikisync crawls a configured list of wiki pages, extracts the
embedded data blob from each one, and checkpoints results so an
interrupted run picks up exactly where it left off.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newReconcileCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
