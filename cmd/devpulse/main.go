// Package main provides the entry point for the devpulse CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sumatoshi-tech/devpulse/cmd/devpulse/commands"
	"github.com/sumatoshi-tech/devpulse/pkg/version"
)

var (
	verbose bool
	quiet   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "devpulse",
		Short: "devpulse - developer workstation observability",
		Long: `devpulse watches a developer's workstation (files, git, tests,
builds, AI-assistant activity) and turns it into structured insight:
a stage/methodology analysis layer, bottleneck detection, and a
WebSocket/MCP-facing query surface.

Commands:
  start          Run the monitors/bus/queues/analyzers/stream server
  status         Rebuild project status from the event store and print it
  export-events  Dump stored events as newline-delimited JSON
  replay         Print events from a running instance's in-memory replay ring
  mcp            Start an MCP stdio server over the facade`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	rootCmd.AddCommand(commands.NewStartCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewExportEventsCommand())
	rootCmd.AddCommand(commands.NewReplayCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "devpulse %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
