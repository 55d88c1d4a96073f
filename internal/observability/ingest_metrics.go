package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricEventsTotal  = "devpulse.ingest.events.total"
	metricDroppedTotal = "devpulse.ingest.dropped.total"
	metricQueueDepth   = "devpulse.ingest.queue.depth"
	metricQueueBytes   = "devpulse.ingest.queue.bytes"

	attrCategory = "category"
	attrQueue    = "queue"
)

// QueueSample is one named queue's instantaneous backlog, decoupled
// from pkg/queue.Stats so this package has no import-cycle risk on it.
type QueueSample struct {
	Name         string
	Pending      int
	ByteSize     int64
	DroppedDelta int64
}

// IngestMetrics holds OTel instruments for the event plane: bus
// throughput by category, and per-queue backlog sampled from
// queue.Manager.Stats. Queue depth/bytes are observable gauges backed
// by the last samples passed to RecordQueues; the meter's periodic
// reader invokes the callback automatically.
type IngestMetrics struct {
	eventsTotal  metric.Int64Counter
	droppedTotal metric.Int64Counter
	queueDepth   metric.Int64ObservableGauge
	queueBytes   metric.Int64ObservableGauge

	mu      sync.Mutex
	samples []QueueSample
}

// NewIngestMetrics creates ingest metric instruments from the given meter.
func NewIngestMetrics(mt metric.Meter) (*IngestMetrics, error) {
	b := newMetricBuilder(mt)

	im := &IngestMetrics{
		eventsTotal:  b.counter(metricEventsTotal, "Total events dispatched by the bus, by category", "{event}"),
		droppedTotal: b.counter(metricDroppedTotal, "Total queue entries dropped, by queue", "{entry}"),
		queueDepth:   b.gauge(metricQueueDepth, "Current pending entries, by queue", "{entry}"),
		queueBytes:   b.gauge(metricQueueBytes, "Current byte size, by queue", "By"),
	}

	if b.err != nil {
		return nil, b.err
	}

	if _, err := mt.RegisterCallback(im.observe, im.queueDepth, im.queueBytes); err != nil {
		return nil, err
	}

	return im, nil
}

// RecordEvents adds delta dispatched events for category. Safe to call
// on a nil receiver (no-op).
func (im *IngestMetrics) RecordEvents(ctx context.Context, category string, delta int64) {
	if im == nil || delta == 0 {
		return
	}

	im.eventsTotal.Add(ctx, delta, metric.WithAttributes(attribute.String(attrCategory, category)))
}

// RecordQueues stores the latest sampling pass over every named queue's
// current depth/bytes, observed on the next callback, and immediately
// accounts any accumulated drop delta since the last sample. Safe to
// call on a nil receiver (no-op).
func (im *IngestMetrics) RecordQueues(ctx context.Context, samples []QueueSample) {
	if im == nil {
		return
	}

	im.mu.Lock()
	im.samples = samples
	im.mu.Unlock()

	for _, s := range samples {
		if s.DroppedDelta > 0 {
			im.droppedTotal.Add(ctx, s.DroppedDelta, metric.WithAttributes(attribute.String(attrQueue, s.Name)))
		}
	}
}

// observe reports the most recent RecordQueues sample for each queue.
func (im *IngestMetrics) observe(_ context.Context, obs metric.Observer) error {
	im.mu.Lock()
	samples := im.samples
	im.mu.Unlock()

	for _, s := range samples {
		attrs := metric.WithAttributes(attribute.String(attrQueue, s.Name))
		obs.ObserveInt64(im.queueDepth, int64(s.Pending), attrs)
		obs.ObserveInt64(im.queueBytes, s.ByteSize, attrs)
	}

	return nil
}
