// Package commands implements the devpulse CLI's subcommands: start
// wires the whole event pipeline together; status/export-events/replay
// and mcp are thin read-side adapters over the same store file.
package commands

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sumatoshi-tech/devpulse/pkg/bus"
	"github.com/sumatoshi-tech/devpulse/pkg/event"
	"github.com/sumatoshi-tech/devpulse/pkg/facade"
)

// busNotifier adapts pkg/monitor.Notifier onto the bus, publishing
// system.monitor_restart / system.monitor_fatal events so a monitor's
// restart history is visible in the activity log and replayable from
// the store, not just written to the process log.
type busNotifier struct {
	publisher  *bus.Bus
	statusMu   sync.Mutex
	statusByID map[string]*facade.MonitorStatus
}

func newBusNotifier(publisher *bus.Bus) *busNotifier {
	return &busNotifier{publisher: publisher, statusByID: make(map[string]*facade.MonitorStatus)}
}

// MonitorRestarting implements monitor.Notifier.
func (n *busNotifier) MonitorRestarting(name string, attempt int, cause error, backoff time.Duration) {
	n.markEvent(name)
	e := event.New("system:monitor_restart", event.CategorySystem, event.SeverityWarning, name, map[string]any{
		"monitor": name,
		"attempt": attempt,
		"error":   cause.Error(),
		"backoff": backoff.String(),
	})
	_, _ = n.publisher.Publish(context.Background(), e, bus.PublishOptions{UseQueue: true})
}

// MonitorFatal implements monitor.Notifier.
func (n *busNotifier) MonitorFatal(name string, cause error) {
	n.markDown(name)
	e := event.New("system:monitor_fatal", event.CategorySystem, event.SeverityCritical, name, map[string]any{
		"monitor": name,
		"error":   cause.Error(),
	})
	_, _ = n.publisher.Publish(context.Background(), e, bus.PublishOptions{UseQueue: true})
}

func (n *busNotifier) markRunning(name string) {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	n.statusByID[name] = &facade.MonitorStatus{Running: true}
}

func (n *busNotifier) markEvent(name string) {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	st, ok := n.statusByID[name]
	if !ok {
		st = &facade.MonitorStatus{}
		n.statusByID[name] = st
	}
	now := time.Now()
	st.LastEventAt = &now
}

func (n *busNotifier) markDown(name string) {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	st, ok := n.statusByID[name]
	if !ok {
		st = &facade.MonitorStatus{}
		n.statusByID[name] = st
	}
	st.Running = false
}

// snapshot returns the monitor-status map facade.Deps.MonitorStatus needs.
func (n *busNotifier) snapshot() map[string]facade.MonitorStatus {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()

	out := make(map[string]facade.MonitorStatus, len(n.statusByID))
	for name, st := range n.statusByID {
		out[name] = *st
	}
	return out
}

// subscriberErrorHook logs a subscriber fault and publishes a
// system.subscriber_error event, mirroring bus.WithSubscriberErrorHook's
// documented purpose.
func subscriberErrorHook(logger *slog.Logger, publisher *bus.Bus) func(ctx context.Context, subID string, err error) {
	return func(ctx context.Context, subID string, err error) {
		logger.Error("bus subscriber fault", slog.String("subscription", subID), slog.String("error", err.Error()))
		e := event.New("system:subscriber_error", event.CategorySystem, event.SeverityError, "bus", map[string]any{
			"subscription": subID,
			"error":        err.Error(),
		})
		_, _ = publisher.Publish(ctx, e, bus.PublishOptions{UseQueue: true})
	}
}
