package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sumatoshi-tech/devpulse/pkg/config"
)

// NewStatusCommand builds the "status" subcommand: a one-shot read of
// the project's current stage/methodology/monitor state, rebuilt cold
// from the stored event log rather than querying a running start
// process directly (there is no daemon RPC surface to query).
func NewStatusCommand() *cobra.Command {
	var configFile string
	var includeDetails bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the project's current status from the stored event log",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			f, st, err := coldRebuild(cfg, logger)
			if err != nil {
				return fmt.Errorf("rebuild state: %w", err)
			}
			defer st.Close()

			status, facadeErr := f.GetProjectStatus(includeDetails)
			if facadeErr != nil {
				return fmt.Errorf("get project status: %w", facadeErr)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Configuration file path (default: ./config.yaml)")
	cmd.Flags().BoolVar(&includeDetails, "details", false, "Include recent activity in the status report")

	return cmd
}
