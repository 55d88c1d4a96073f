package commands

import (
	"context"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/analyzer/metrics"
	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// subscribeMetricsFeed feeds the rolling series collector.Record needs
// to answer getMetrics, translating raw event payloads into the four
// tracked dimensions (productivity, quality, performance,
// collaboration). Series names carry the "commit"/"file"/"test"/
// "build" substrings getMetrics' kind filter matches against.
func subscribeMetricsFeed(b *bus.Bus, collector *metrics.Collector) string {
	return b.Subscribe("*", func(_ context.Context, e *event.Event) {
		at := time.UnixMilli(e.Timestamp)

		switch data := e.Data.(type) {
		case *event.GitPayload:
			if data.Action != event.GitActionCommit {
				return
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
	}, bus.SubscribeOptions{
		Filter: &bus.Filter{
			Categories: []event.Category{
				event.CategoryFile, event.CategoryGit, event.CategoryTest,
				event.CategoryBuild, event.CategoryAI,
			},
		},
	})
}

func passRate(status event.RunStatus) float64 {
	if status == event.RunStatusPassed || status == event.RunStatusSuccess {
		return 1
	}
	return 0
}
