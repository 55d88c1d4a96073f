package aiusage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

func newTestAnalyzer(clock *time.Time) *Analyzer {
	return New(Options{
		SessionGap: 10 * time.Minute,
		now:        func() time.Time { return *clock },
	})
}

func boolPtr(b bool) *bool { return &b }

func TestAnalyzer_SessionGap(t *testing.T) {
	t.Parallel()

	base := time.Unix(1_700_000_000, 0)
	clock := base
	a := newTestAnalyzer(&clock)

	a.Ingest(event.New("ai:prompt", event.CategoryAI, event.SeverityInfo, "copilot", &event.AIPayload{
		Tool:            "copilot",
		InteractionType: event.InteractionPrompt,
	}))

	clock = base.Add(2 * time.Minute)
	a.Ingest(event.New("ai:completion", event.CategoryAI, event.SeverityInfo, "copilot", &event.AIPayload{
		Tool:            "copilot",
		InteractionType: event.InteractionCompletion,
	}))

	// Gap exceeds SessionGap: this starts a second session.
	clock = base.Add(20 * time.Minute)
	a.Ingest(event.New("ai:prompt", event.CategoryAI, event.SeverityInfo, "copilot", &event.AIPayload{
		Tool:            "copilot",
		InteractionType: event.InteractionPrompt,
	}))

	snap := a.Snapshot()
	stats := snap.Tools["copilot"]
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 3, stats.Interactions)
}

func TestAnalyzer_AcceptanceAndMinutesSaved(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	a := newTestAnalyzer(&clock)

	a.Ingest(event.New("ai:suggestion", event.CategoryAI, event.SeverityInfo, "cursor", &event.AIPayload{
		Tool:            "cursor",
		InteractionType: event.InteractionSuggestion,
		Accepted:        boolPtr(true),
		CodeBlock:       "line1\nline2\nline3",
		ElapsedMs:       1000,
	}))
	a.Ingest(event.New("ai:suggestion", event.CategoryAI, event.SeverityInfo, "cursor", &event.AIPayload{
		Tool:            "cursor",
		InteractionType: event.InteractionSuggestion,
		Accepted:        boolPtr(false),
		ElapsedMs:       500,
	}))
	a.Ingest(event.New("ai:suggestion", event.CategoryAI, event.SeverityInfo, "cursor", &event.AIPayload{
		Tool:            "cursor",
		InteractionType: event.InteractionSuggestion,
	}))

	snap := a.Snapshot()
	stats := snap.Tools["cursor"]
	require.Equal(t, 3, stats.Suggestions)
	assert.Equal(t, 1, stats.Accepted)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Modified)
	assert.InDelta(t, 0.5, stats.AcceptanceRate, 0.001)
	assert.InDelta(t, 3, stats.MeanLinesAccepted, 0.001)
	assert.InDelta(t, 3*DefaultPerLineMinutesSaved, stats.MinutesSaved, 0.001)
}

func TestAnalyzer_PeakHours(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	a := newTestAnalyzer(&clock)

	for range 3 {
		a.Ingest(event.New("ai:prompt", event.CategoryAI, event.SeverityInfo, "copilot", &event.AIPayload{
			Tool: "copilot", InteractionType: event.InteractionPrompt,
		}))
	}

	clock = time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	a.Ingest(event.New("ai:prompt", event.CategoryAI, event.SeverityInfo, "copilot", &event.AIPayload{
		Tool: "copilot", InteractionType: event.InteractionPrompt,
	}))

	snap := a.Snapshot()
	require.NotEmpty(t, snap.PeakHours)
	assert.Equal(t, 9, snap.PeakHours[0])
}

func TestCountLines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, countLines(""))
	assert.Equal(t, 1, countLines("one line"))
	assert.Equal(t, 3, countLines("a\nb\nc"))
}
