package queue

import (
	"context"

	"github.com/sumatoshi-tech/devpulse/pkg/event"
)

// Rule is a routing rule: if Predicate matches, the event is enqueued
// onto TargetQueue. Rules are evaluated in descending Priority; the
// first match wins, ties broken by registration order.
type Rule struct {
	Name       string
	Predicate  func(*event.Event) bool
	TargetQueue string
	Priority   int
}

// DefaultRules returns the spec-mandated default ruleset: severity ∈
// {error, critical} routes to priority; category ∈ {metric, activity}
// routes to batch; everything else routes to default.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "high-severity-to-priority",
			Priority: 100,
			TargetQueue: QueuePriority,
			Predicate: func(e *event.Event) bool {
				return e.Severity == event.SeverityError || e.Severity == event.SeverityCritical
			},
		},
		{
			Name:     "bulk-categories-to-batch",
			Priority: 50,
			TargetQueue: QueueBatch,
			Predicate: func(e *event.Event) bool {
				return e.Category == "metric" || e.Category == event.CategoryActivity
			},
		},
	}
}

// SetRouting installs the rule list used by Route. Rules are sorted by
// descending priority once here, rather than on every Route call.
func (m *Manager) SetRouting(rules []Rule) {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	stableSortByPriorityDesc(sorted)

	m.mu.Lock()
	m.rules = sorted
	m.mu.Unlock()
}

func stableSortByPriorityDesc(rules []Rule) {
	for i := 1; i < len(rules); i++ {
		j := i
		for j > 0 && rules[j-1].Priority < rules[j].Priority {
			rules[j-1], rules[j] = rules[j], rules[j-1]
			j--
		}
	}
}

// Route implements pkg/bus.Router: it evaluates the installed rules in
// priority order and enqueues e onto the first matching rule's target
// queue, falling back to the default queue when none match. Route is
// deterministic for a fixed ruleset, per spec.md §8 property 4.
func (m *Manager) Route(_ context.Context, e *event.Event) error {
	m.mu.RLock()
	rules := m.rules
	m.mu.RUnlock()

	target := QueueDefault
	for _, rule := range rules {
		if rule.Predicate(e) {
			target = rule.TargetQueue
			break
		}
	}

	return m.Enqueue(target, e)
}
