package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordAndSummarize(t *testing.T) {
	t.Parallel()

	c := NewCollector(10)
	base := time.Unix(1_700_000_000, 0)

	c.Record("commits_per_day", CategoryProductivity, 3, base)
	c.Record("commits_per_day", CategoryProductivity, 5, base.Add(time.Hour))
	c.Record("commits_per_day", CategoryProductivity, 1, base.Add(2*time.Hour))

	s := c.Series("commits_per_day")
	require.NotNil(t, s)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 1, s.Min, 0.001)
	assert.InDelta(t, 5, s.Max, 0.001)
	assert.InDelta(t, 3, s.Mean, 0.001)
	assert.InDelta(t, 1, s.Latest, 0.001)
}

func TestCollector_BoundedCapacity(t *testing.T) {
	t.Parallel()

	c := NewCollector(2)
	base := time.Unix(1_700_000_000, 0)

	c.Record("m", CategoryQuality, 1, base)
	c.Record("m", CategoryQuality, 2, base.Add(time.Minute))
	c.Record("m", CategoryQuality, 3, base.Add(2*time.Minute))

	s := c.Series("m")
	require.NotNil(t, s)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, []float64{2, 3}, s.Values())
}
