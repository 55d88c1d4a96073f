package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sumatoshi-tech/devpulse/internal/observability"
	"github.com/sumatoshi-tech/devpulse/pkg/config"
	"github.com/sumatoshi-tech/devpulse/pkg/mcp"
)

// NewMCPCommand builds the "mcp" subcommand: a stdio MCP server
// exposing the facade's operations as tools, backed by the same cold
// event-log rebuild status uses. This is devpulse's one in-tree
// consumer of the facade; a full JSON-RPC dispatcher over the facade
// is an external collaborator's concern, not this binary's.
func NewMCPCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start an MCP stdio server over the project facade",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			obsCfg := observability.DefaultConfig()
			obsCfg.Mode = observability.ModeMCP
			obsCfg.LogLevel = parseLogLevel(cfg.Logging.Level)

			providers, err := observability.Init(obsCfg)
			if err != nil {
				return fmt.Errorf("init observability: %w", err)
			}
			defer providers.Shutdown(cmd.Context())

			f, st, err := coldRebuild(cfg, logger)
			if err != nil {
				return fmt.Errorf("rebuild state: %w", err)
			}
			defer st.Close()

			redMetrics, err := observability.NewREDMetrics(providers.Meter)
			if err != nil {
				return fmt.Errorf("build red metrics: %w", err)
			}

			srv := mcp.NewServer(mcp.ServerDeps{
				Facade:  f,
				Logger:  providers.Logger,
				Metrics: redMetrics,
				Tracer:  providers.Tracer,
			})

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Configuration file path (default: ./config.yaml)")

	return cmd
}
