// Package cmd wires the cc-discussion command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cc-discussion",
	Short: "Multi-agent AI discussion orchestrator",
	Long: `cc-discussion runs turn-based discussions between AI agent CLIs.

A facilitator agent opens the topic and nominates speakers via @mentions;
participants respond in turn, preparing their contributions in the background
while others speak. Discussions are served over a REST and WebSocket API and
can be watched live from the terminal.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.cc-discussion/config.yaml)")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
