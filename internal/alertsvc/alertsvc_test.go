package alertsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/alert"
	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/metrics"
	"github.com/nodenexus/nodenexus/internal/notify"
)

type fakeRuleStore struct {
	rules     []alert.Rule
	triggered map[string]time.Time
}

func (f *fakeRuleStore) ListEnabled(context.Context) ([]alert.Rule, error) { return f.rules, nil }
func (f *fakeRuleStore) MarkTriggered(_ context.Context, id string, at time.Time) error {
	if f.triggered == nil {
		f.triggered = map[string]time.Time{}
	}
	f.triggered[id] = at
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules[i].LastTriggeredAt = &at
		}
	}
	return nil
}

type fakeHostStore struct {
	byID map[string]*host.Host
}

func (f *fakeHostStore) Get(_ context.Context, id string) (*host.Host, error) {
	h, ok := f.byID[id]
	if !ok {
		return nil, fmtErr("host not found")
	}
	return h, nil
}

func (f *fakeHostStore) List(_ context.Context, ownerID string) ([]*host.Host, error) {
	var out []*host.Host
	for _, h := range f.byID {
		if h.OwnerID == ownerID {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeSnapshotStore struct {
	byHost map[string][]metrics.Snapshot
}

func (f *fakeSnapshotStore) Range(_ context.Context, hostID string, _, _ time.Time) ([]metrics.Snapshot, error) {
	return f.byHost[hostID], nil
}

type stubErr string

func (e stubErr) Error() string { return string(e) }
func fmtErr(s string) error     { return stubErr(s) }

type capturingSender struct {
	messages []string
}

func (c *capturingSender) Send(_ context.Context, _ notify.Channel, message string) error {
	c.messages = append(c.messages, message)
	return nil
}

func TestAlertCooldownGatesRepeatTrigger(t *testing.T) {
	rule := alert.Rule{
		ID: "r1", HostID: "h1", Name: "cpu-hot",
		Metric: alert.MetricCPUUsagePercent, Comparator: alert.ComparatorGT,
		Threshold: 80, DurationSeconds: 60, CooldownSeconds: 300, Active: true,
		NotificationTarget: "test:chan",
	}
	ruleStore := &fakeRuleStore{rules: []alert.Rule{rule}}
	hosts := &fakeHostStore{byID: map[string]*host.Host{"h1": {ID: "h1"}}}
	snapshots := &fakeSnapshotStore{byHost: map[string][]metrics.Snapshot{
		"h1": {{CPUPercent: 95}, {CPUPercent: 96}},
	}}
	sender := &capturingSender{}
	dispatcher := notify.NewDispatcher(nil, 1000, 10)
	dispatcher.Register("test", sender)

	svc := New(ruleStore, hosts, snapshots, dispatcher, nil)

	t0 := time.Unix(0, 0).UTC()
	svc.EvaluateAll(context.Background(), t0)
	require.Len(t, sender.messages, 1)
	require.Equal(t, t0, ruleStore.triggered["r1"])

	for _, offset := range []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second} {
		sender.messages = nil
		svc.EvaluateAll(context.Background(), t0.Add(offset))
		require.Empty(t, sender.messages, "expected cooldown to suppress retrigger at +%s", offset)
	}

	sender.messages = nil
	svc.EvaluateAll(context.Background(), t0.Add(301*time.Second))
	require.Len(t, sender.messages, 1)
}

func TestMemoryAlertSkipsZeroTotalBytes(t *testing.T) {
	rule := alert.Rule{
		ID: "r2", HostID: "h1", Metric: alert.MetricMemoryUsagePercent,
		Comparator: alert.ComparatorGT, Threshold: 50, DurationSeconds: 60, Active: true,
	}
	ruleStore := &fakeRuleStore{rules: []alert.Rule{rule}}
	hosts := &fakeHostStore{byID: map[string]*host.Host{"h1": {ID: "h1"}}}
	snapshots := &fakeSnapshotStore{byHost: map[string][]metrics.Snapshot{
		"h1": {{MemoryUsedBytes: 10, MemoryTotalBytes: 0}},
	}}
	svc := New(ruleStore, hosts, snapshots, nil, nil)

	svc.EvaluateAll(context.Background(), time.Unix(0, 0).UTC())
	require.Nil(t, ruleStore.triggered["r2"])
}

func TestTrafficInstantEvaluationSkipsMissingLimit(t *testing.T) {
	rule := alert.Rule{
		ID: "r3", HostID: "h1", Metric: alert.MetricTrafficUsagePercent,
		Comparator: alert.ComparatorGT, Threshold: 90, Active: true,
	}
	ruleStore := &fakeRuleStore{rules: []alert.Rule{rule}}
	hosts := &fakeHostStore{byID: map[string]*host.Host{"h1": {ID: "h1", TrafficLimitBytes: 0}}}
	svc := New(ruleStore, hosts, &fakeSnapshotStore{}, nil, nil)

	svc.EvaluateAll(context.Background(), time.Unix(0, 0).UTC())
	require.Nil(t, ruleStore.triggered["r3"])
}

func TestTrafficInstantEvaluationTriggersOverThreshold(t *testing.T) {
	rule := alert.Rule{
		ID: "r4", HostID: "h1", Metric: alert.MetricTrafficUsagePercent,
		Comparator: alert.ComparatorGT, Threshold: 90, Active: true,
		NotificationTarget: "test:chan",
	}
	ruleStore := &fakeRuleStore{rules: []alert.Rule{rule}}
	hosts := &fakeHostStore{byID: map[string]*host.Host{
		"h1": {ID: "h1", TrafficLimitBytes: 100, TrafficCurrentCycleRxBytes: 95, TrafficBillingRule: host.TrafficBillingOutOnly, TrafficCurrentCycleTxBytes: 95},
	}}
	sender := &capturingSender{}
	dispatcher := notify.NewDispatcher(nil, 1000, 10)
	dispatcher.Register("test", sender)
	svc := New(ruleStore, hosts, &fakeSnapshotStore{}, dispatcher, nil)

	svc.EvaluateAll(context.Background(), time.Unix(0, 0).UTC())
	require.Len(t, sender.messages, 1)
	require.NotNil(t, ruleStore.triggered["r4"])
}
