package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/aiusage"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/metrics"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/methodology"
	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/stage"
	"github.com/sumatoshi-tech/devpulse/pkg/config"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
	"github.com/sumatoshi-tech/devpulse/pkg/facade"
	"github.com/sumatoshi-tech/devpulse/pkg/store"
)

// coldRebuild opens the store a running "start" instance writes to and
// replays every stored event forward through fresh analyzer instances,
// reconstructing the in-memory state start's long-lived process holds
// without needing an RPC channel into that process. Used by status and
// mcp, both of which are one-shot reads against the same database file.
func coldRebuild(cfg *config.Config, logger *slog.Logger) (*facade.Impl, *store.Store, error) {
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	stageAnalyzer := stage.New(stage.Options{
		ConfidenceThreshold: cfg.StageAnalyzer.ConfidenceThreshold,
		TransitionCooldown:  cfg.StageAnalyzer.TransitionCooldown(),
		Window:              cfg.StageAnalyzer.Window(),
		MaxTransitions:      cfg.StageAnalyzer.HistorySize,
		Logger:              logger,
	}, nil, nil)

	methodologyAnalyzer := methodology.New(methodology.Options{Logger: logger})
	aiUsageAnalyzer := aiusage.New(aiusage.Options{Logger: logger})
	metricsCollector := metrics.NewCollector(0)

	bottleneckDetector := metrics.NewDetector(metricsCollector, metrics.Options{
		Logger: logger,
		StageStatus: func() metrics.StageStatus {
			res := stageAnalyzer.Analyze()
			return metrics.StageStatus{
				Stage:       string(res.CurrentStage),
				Progress:    res.StageProgress[res.CurrentStage],
				TimeInStage: res.TimeSpent[res.CurrentStage],
			}
		},
	})

	ctx := context.Background()

	events, err := st.FindByTimeRange(ctx, 0, time.Now().UnixMilli(), nil)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("replay stored events: %w", err)
	}

	for _, e := range events {
		if rehydrateErr := e.Rehydrate(); rehydrateErr != nil {
			logger.Warn("skipping event with undecodable payload", "event_id", e.ID, "error", rehydrateErr)
			continue
		}
		stageAnalyzer.Ingest(ctx, e)
		methodologyAnalyzer.Ingest(e)
		aiUsageAnalyzer.Ingest(e)
	}

	replayMetricsFeed(metricsCollector, events)

	f := facade.New(facade.Deps{
		Store:               st,
		StageAnalyzer:        stageAnalyzer,
		MethodologyAnalyzer: methodologyAnalyzer,
		AIUsageAnalyzer:     aiUsageAnalyzer,
		MetricsCollector:    metricsCollector,
		BottleneckDetector:  bottleneckDetector,
	})

	return f, st, nil
}

// replayMetricsFeed mirrors subscribeMetricsFeed's event->series
// translation for cold-start replay, where there is no live bus to
// subscribe against.
func replayMetricsFeed(collector *metrics.Collector, events []*event.Event) {
	for _, e := range events {
		at := time.UnixMilli(e.Timestamp)

		switch data := e.Data.(type) {
		case *event.GitPayload:
			if data.Action != event.GitActionCommit {
				continue
			}
			collector.Record("commits.frequency", metrics.CategoryProductivity, 1, at)
			if data.Analysis != nil {
				collector.Record("commits.risk", metrics.CategoryQuality, data.Analysis.Risk, at)
			}
			if data.Stats != nil {
				collector.Record("commits.lines_changed", metrics.CategoryProductivity, float64(data.Stats.Adds+data.Stats.Dels), at)
			}

		case *event.FilePayload:
			collector.Record("files.changed.count", metrics.CategoryProductivity, 1, at)

		case *event.RunPayload:
			switch e.Category {
			case event.CategoryTest:
				collector.Record("tests.duration_ms", metrics.CategoryPerformance, float64(data.DurationMs), at)
				collector.Record("tests.pass_rate", metrics.CategoryQuality, passRate(data.Status), at)
				if data.Coverage != nil {
					collector.Record("tests.coverage", metrics.CategoryQuality, *data.Coverage, at)
				}
			case event.CategoryBuild:
				collector.Record("build.duration_ms", metrics.CategoryPerformance, float64(data.DurationMs), at)
				collector.Record("build.pass_rate", metrics.CategoryQuality, passRate(data.Status), at)
			}

		case *event.AIPayload:
			collector.Record("ai.interaction.elapsed_ms", metrics.CategoryCollaboration, float64(data.ElapsedMs), at)
			if data.Accepted != nil && *data.Accepted {
				collector.Record("ai.suggestion.accepted", metrics.CategoryCollaboration, 1, at)
			}
		}
	}
}
