package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
	"github.com/sumatoshi-tech/devpulse/pkg/queue"
)

func newTestDetector(clock *time.Time, opts Options) (*Collector, *Detector) {
	c := NewCollector(50)
	opts.now = func() time.Time { return *clock }
	return c, NewDetector(c, opts)
}

func TestDetector_Threshold(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	minVal := 0.5
	c, d := newTestDetector(&clock, Options{
		Thresholds: map[string]Threshold{"coverage": {Min: &minVal}},
	})
	c.Record("coverage", CategoryQuality, 0.2, clock)

	out := d.Check()
	require.Len(t, out, 1)
	assert.Equal(t, BottleneckThreshold, out[0].Type)
	assert.Equal(t, "coverage", out[0].Subject)
	assert.Equal(t, event.SeverityError, out[0].Severity, "a breach 60%% past the bound grades RiskCritical")
}

func TestDetector_Threshold_GradesNearBreachLower(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	minVal := 0.5
	c, d := newTestDetector(&clock, Options{
		Thresholds: map[string]Threshold{"coverage": {Min: &minVal}},
	})
	c.Record("coverage", CategoryQuality, 0.48, clock)

	out := d.Check()
	require.Len(t, out, 1)
	assert.Equal(t, event.SeverityWarning, out[0].Severity, "a breach just past the bound grades RiskHigh, not RiskCritical")
}

func TestDetector_TrendAnomaly(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	c, d := newTestDetector(&clock, Options{ZScoreThreshold: 2.0})

	for i := range 10 {
		c.Record("build_time_ms", CategoryPerformance, 100, clock.Add(time.Duration(i)*time.Minute))
	}
	c.Record("build_time_ms", CategoryPerformance, 10000, clock.Add(11*time.Minute))

	out := d.Check()
	var found bool
	for _, b := range out {
		if b.Type == BottleneckTrendAnomaly && b.Subject == "build_time_ms" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetector_StuckStage(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	c, d := newTestDetector(&clock, Options{
		StuckStageCeiling: time.Hour,
		StageStatus: func() StageStatus {
			return StageStatus{Stage: "coding", Progress: 40, TimeInStage: 2 * time.Hour}
		},
	})
	_ = c

	out := d.Check()
	require.Len(t, out, 1)
	assert.Equal(t, BottleneckStuckStage, out[0].Type)
	assert.Equal(t, "coding", out[0].Subject)
}

func TestDetector_HotspotAndCooldown(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	c, d := newTestDetector(&clock, Options{HotspotThreshold: 3, Cooldown: 10 * time.Minute})
	_ = c

	for range 4 {
		d.recordFileTouch("pkg/hot/file.go", clock)
	}

	out := d.Check()
	require.Len(t, out, 1)
	assert.Equal(t, BottleneckHotspot, out[0].Type)
	assert.Equal(t, 1, out[0].Frequency)

	// Within cooldown: same bottleneck bumps frequency, not a new record.
	clock = clock.Add(time.Minute)
	d.recordFileTouch("pkg/hot/file.go", clock)
	out = d.Check()
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Frequency)
}

func TestDetector_QueueBacklog(t *testing.T) {
	t.Parallel()

	clock := time.Unix(1_700_000_000, 0)
	c, d := newTestDetector(&clock, Options{
		QueueBacklogThreshold: 100,
		QueueStats: func() []queue.Stats {
			return []queue.Stats{{Name: "events", Pending: 500}}
		},
	})
	_ = c

	out := d.Check()
	require.Len(t, out, 1)
	assert.Equal(t, BottleneckQueueBacklog, out[0].Type)
	assert.Equal(t, "events", out[0].Subject)
}
