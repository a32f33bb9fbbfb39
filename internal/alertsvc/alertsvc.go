// Package alertsvc implements the alert evaluation loop (C11): per-rule
// threshold checks over recent metrics or current traffic counters, gated
// by cooldown, dispatching to notify.Dispatcher on trigger.
package alertsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/nodenexus/nodenexus/internal/domain/alert"
	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/metrics"
	"github.com/nodenexus/nodenexus/internal/notify"
	"github.com/nodenexus/nodenexus/pkg/logger"
)

// Period is the default evaluation interval (spec §4.C11: "period_s, 60s
// default").
const Period = 60 * time.Second

// RuleStore is the C11 storage surface for alert rules.
type RuleStore interface {
	ListEnabled(ctx context.Context) ([]alert.Rule, error)
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// HostStore resolves a rule's target host set and current traffic state.
type HostStore interface {
	Get(ctx context.Context, id string) (*host.Host, error)
	List(ctx context.Context, ownerID string) ([]*host.Host, error)
}

// SnapshotStore supplies the raw points a duration-window metric reads.
type SnapshotStore interface {
	Range(ctx context.Context, hostID string, from, to time.Time) ([]metrics.Snapshot, error)
}

// Service is the wired C11 evaluator.
type Service struct {
	Rules      RuleStore
	Hosts      HostStore
	Snapshots  SnapshotStore
	Dispatcher *notify.Dispatcher
	Log        *logger.Logger
}

// New constructs a Service.
func New(rules RuleStore, hosts HostStore, snapshots SnapshotStore, dispatcher *notify.Dispatcher, log *logger.Logger) *Service {
	return &Service{Rules: rules, Hosts: hosts, Snapshots: snapshots, Dispatcher: dispatcher, Log: log}
}

// Run ticks every Period until ctx is cancelled, evaluating all enabled
// rules each tick. Matches the spec's "global shutdown observed by every
// loop" cancellation model: ctx.Done wins over a pending tick.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvaluateAll(ctx, time.Now().UTC())
		}
	}
}

// EvaluateAll evaluates every enabled rule against now, used directly by
// tests (and by Run) so no ticker needs to fire to exercise the logic.
func (s *Service) EvaluateAll(ctx context.Context, now time.Time) {
	rules, err := s.Rules.ListEnabled(ctx)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Warn("alertsvc: list enabled rules failed")
		}
		return
	}
	for _, r := range rules {
		s.evaluateRule(ctx, r, now)
	}
}

func (s *Service) evaluateRule(ctx context.Context, r alert.Rule, now time.Time) {
	if r.InCooldown(now) {
		return
	}

	hosts, err := s.targetHosts(ctx, r)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("rule_id", r.ID).Warn("alertsvc: resolve target hosts failed")
		}
		return
	}

	var triggeredOn []string
	for _, h := range hosts {
		triggered, err := s.evaluateHost(ctx, r, h, now)
		if err != nil {
			if s.Log != nil {
				s.Log.WithError(err).WithField("rule_id", r.ID).WithField("host_id", h.ID).Debug("alertsvc: skip host")
			}
			continue
		}
		if triggered {
			triggeredOn = append(triggeredOn, h.ID)
		}
	}

	if len(triggeredOn) == 0 {
		return
	}

	message := buildMessage(r, triggeredOn)
	if s.Dispatcher != nil {
		s.Dispatcher.Dispatch(ctx, r.NotificationTarget, message)
	}
	if err := s.Rules.MarkTriggered(ctx, r.ID, now); err != nil && s.Log != nil {
		s.Log.WithError(err).WithField("rule_id", r.ID).Warn("alertsvc: mark triggered failed")
	}
}

// targetHosts resolves a rule to its specific host, or every host owned by
// the rule's user when HostID is empty (spec §4.C11 step 2).
func (s *Service) targetHosts(ctx context.Context, r alert.Rule) ([]*host.Host, error) {
	if r.HostID != "" {
		h, err := s.Hosts.Get(ctx, r.HostID)
		if err != nil {
			return nil, err
		}
		return []*host.Host{h}, nil
	}
	return s.Hosts.List(ctx, r.OwnerID)
}

// evaluateHost applies the duration-window or instant branch for one host,
// per spec §4.C11 step 3. A false, nil result means "not triggered",
// including for an unsupported comparator. A non-nil error (unsupported
// metric type, no traffic limit configured, or a failed snapshot read)
// makes the caller skip this host and is never a hard failure. Memory
// points with a zero total are skipped inside the window without an error.
func (s *Service) evaluateHost(ctx context.Context, r alert.Rule, h *host.Host, now time.Time) (bool, error) {
	switch r.Metric {
	case alert.MetricCPUUsagePercent, alert.MetricMemoryUsagePercent:
		return s.evaluateDurationWindow(ctx, r, h, now)
	case alert.MetricTrafficUsagePercent:
		return s.evaluateTrafficInstant(r, h)
	default:
		return false, fmt.Errorf("alertsvc: unsupported metric type %q", r.Metric)
	}
}

func (s *Service) evaluateDurationWindow(ctx context.Context, r alert.Rule, h *host.Host, now time.Time) (bool, error) {
	from := now.Add(-time.Duration(r.DurationSeconds) * time.Second)
	points, err := s.Snapshots.Range(ctx, h.ID, from, now)
	if err != nil {
		return false, err
	}

	values := make([]float64, 0, len(points))
	for _, p := range points {
		switch r.Metric {
		case alert.MetricCPUUsagePercent:
			values = append(values, p.CPUPercent)
		case alert.MetricMemoryUsagePercent:
			pct, ok := p.MemoryPercent()
			if !ok {
				continue // mem_total_bytes == 0: skip this point, not errored
			}
			values = append(values, pct)
		}
	}
	return r.EvaluateDurationWindow(values), nil
}

func (s *Service) evaluateTrafficInstant(r alert.Rule, h *host.Host) (bool, error) {
	pct, ok := h.TrafficUsagePercent()
	if !ok {
		return false, fmt.Errorf("alertsvc: host %s has no traffic limit configured", h.ID)
	}
	return r.EvaluateInstant(pct), nil
}

func buildMessage(r alert.Rule, hostIDs []string) string {
	return fmt.Sprintf("alert %q (%s %s %.2f) triggered on %d host(s): %v",
		r.Name, r.Metric, r.Comparator, r.Threshold, len(hostIDs), hostIDs)
}
