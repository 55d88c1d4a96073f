package metrics

import (
	"fmt"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
	pmetrics "github.com/sumatoshi-tech/devpulse/pkg/metrics"
)

// thresholdMetric evaluates one named series' latest value against its
// configured Threshold and grades the result as a pmetrics.RiskResult
// rather than the bare above/below boolean the detector used to compute
// inline. It implements pmetrics.Metric[float64, pmetrics.RiskResult].
type thresholdMetric struct {
	pmetrics.MetricMeta
	threshold Threshold
}

func newThresholdMetric(name string, threshold Threshold) *thresholdMetric {
	return &thresholdMetric{
		MetricMeta: pmetrics.MetricMeta{
			MetricName:        name,
			MetricDisplayName: name,
			MetricDescription: fmt.Sprintf("threshold evaluation for %s", name),
			MetricType:        "threshold",
		},
		threshold: threshold,
	}
}

// Compute grades value against the configured bounds. A value within
// bounds is RiskLow; a breach is graded RiskHigh within 25% of the
// bound and RiskCritical beyond that, so the detector can distinguish
// a metric that just crossed the line from one badly out of range.
func (m *thresholdMetric) Compute(value float64) pmetrics.RiskResult {
	if m.threshold.Min != nil && value < *m.threshold.Min {
		return m.gradeBreach(value, *m.threshold.Min, fmt.Sprintf("%s (%.2f) is below its configured minimum (%.2f)", m.Name(), value, *m.threshold.Min))
	}
	if m.threshold.Max != nil && value > *m.threshold.Max {
		return m.gradeBreach(value, *m.threshold.Max, fmt.Sprintf("%s (%.2f) is above its configured maximum (%.2f)", m.Name(), value, *m.threshold.Max))
	}
	return pmetrics.RiskResult{Value: value, Level: pmetrics.RiskLow, Threshold: 0, Message: ""}
}

func (m *thresholdMetric) gradeBreach(value, bound float64, message string) pmetrics.RiskResult {
	span := bound
	if span == 0 {
		span = 1
	}
	deviation := (value - bound) / span
	if deviation < 0 {
		deviation = -deviation
	}

	level := pmetrics.RiskHigh
	if deviation > 0.25 {
		level = pmetrics.RiskCritical
	}
	return pmetrics.RiskResult{Value: value, Level: level, Threshold: bound, Message: message}
}

// riskSeverity maps a pmetrics.RiskLevel to the event.Severity a raised
// Bottleneck should carry.
func riskSeverity(level pmetrics.RiskLevel) event.Severity {
	switch level {
	case pmetrics.RiskCritical:
		return event.SeverityError
	case pmetrics.RiskHigh:
		return event.SeverityWarning
	case pmetrics.RiskMedium:
		return event.SeverityNotice
	default:
		return event.SeverityInfo
	}
}
