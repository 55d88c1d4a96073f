package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sumatoshi-tech/devpulse/pkg/config"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
	"github.com/sumatoshi-tech/devpulse/pkg/store"
)

// NewExportEventsCommand builds the "export-events" subcommand: it
// dumps stored events as newline-delimited JSON to stdout, oldest
// first, for offline analysis or feeding into another tool's ingest
// pipeline.
func NewExportEventsCommand() *cobra.Command {
	var configFile string
	var sinceArg string
	var category string
	var limit int

	cmd := &cobra.Command{
		Use:   "export-events",
		Short: "Dump stored events as newline-delimited JSON",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			startMs, err := parseSince(sinceArg)
			if err != nil {
				return fmt.Errorf("parse --since: %w", err)
			}

			st, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			var filter *store.TimeRangeFilter
			if category != "" || limit > 0 {
				filter = &store.TimeRangeFilter{Category: eventCategory(category), Limit: limit}
			}

			events, err := st.FindByTimeRange(context.Background(), startMs, time.Now().UnixMilli(), filter)
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}

			w := bufio.NewWriter(os.Stdout)
			defer w.Flush()

			enc := json.NewEncoder(w)
			for _, e := range events {
				if err := enc.Encode(e); err != nil {
					return fmt.Errorf("encode event: %w", err)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Configuration file path (default: ./config.yaml)")
	cmd.Flags().StringVar(&sinceArg, "since", "", "Only export events after this time (e.g. '24h', RFC3339); default all time")
	cmd.Flags().StringVar(&category, "category", "", "Restrict to one event category")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events to export, oldest-first (0 = no limit)")

	return cmd
}

func eventCategory(raw string) event.Category {
	return event.Category(raw)
}

func parseSince(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("not a duration or RFC3339 timestamp: %q", raw)
	}
	return t.UnixMilli(), nil
}
