// Package alert defines AlertRule and the comparator/cooldown logic shared
// by internal/alertsvc (C11).
package alert

import "time"

// MetricType selects what an alert rule measures.
type MetricType string

const (
	MetricCPUUsagePercent     MetricType = "cpu_usage_percent"
	MetricMemoryUsagePercent  MetricType = "memory_usage_percent"
	MetricTrafficUsagePercent MetricType = "traffic_usage_percent"
)

// Comparator is the relation applied between the observed value and
// Rule.Threshold.
type Comparator string

const (
	ComparatorGT Comparator = ">"
	ComparatorLT Comparator = "<"
	ComparatorGE Comparator = ">="
	ComparatorLE Comparator = "<="
	ComparatorEQ Comparator = "="
	ComparatorNE Comparator = "!="
)

// Evaluate applies comparator to (value, threshold). Returns false for an
// unsupported comparator (the caller must log and treat as "not triggered",
// per spec §4.C11 edge cases).
func (c Comparator) Evaluate(value, threshold float64) bool {
	switch c {
	case ComparatorGT:
		return value > threshold
	case ComparatorLT:
		return value < threshold
	case ComparatorGE:
		return value >= threshold
	case ComparatorLE:
		return value <= threshold
	case ComparatorEQ:
		return value == threshold
	case ComparatorNE:
		return value != threshold
	default:
		return false
	}
}

// Rule is a threshold-based alert definition. HostID == "" means the rule
// applies to every host owned by OwnerID.
type Rule struct {
	ID              string
	OwnerID         string
	HostID          string
	Name            string
	Metric          MetricType
	Threshold       float64
	Comparator      Comparator
	DurationSeconds int
	CooldownSeconds int
	Active          bool
	NotificationTarget string
	LastTriggeredAt *time.Time
}

// InCooldown reports whether the rule cannot re-trigger at instant now
// (Testable Property #7): a rule with LastTriggeredAt=t and
// CooldownSeconds=k never triggers at any time strictly less than t+k.
func (r Rule) InCooldown(now time.Time) bool {
	if r.LastTriggeredAt == nil {
		return false
	}
	return now.Before(r.LastTriggeredAt.Add(time.Duration(r.CooldownSeconds) * time.Second))
}

// EvaluateDurationWindow implements the cpu/memory branch: trigger only if
// every point in the window satisfies the comparator against threshold.
// An empty window never triggers.
func (r Rule) EvaluateDurationWindow(values []float64) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !r.Comparator.Evaluate(v, r.Threshold) {
			return false
		}
	}
	return true
}

// EvaluateInstant implements the traffic_usage_percent branch: a single
// value compared against threshold, no duration window.
func (r Rule) EvaluateInstant(value float64) bool {
	return r.Comparator.Evaluate(value, r.Threshold)
}
