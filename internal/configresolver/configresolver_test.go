package configresolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/monitor"
)

func TestMergeOnlyAppliesPresentFields(t *testing.T) {
	defaults := Defaults{
		MetricsCollectIntervalSeconds: 10,
		MetricsUploadIntervalSeconds:  30,
		LogLevel:                      "info",
		FeatureFlags:                  map[string]string{"x": "1"},
	}
	cfg := Merge(defaults, `{"log_level":"debug","heartbeat_interval_seconds":15}`)

	require.Equal(t, 10, cfg.MetricsCollectIntervalSeconds) // untouched
	require.Equal(t, 30, cfg.MetricsUploadIntervalSeconds)  // untouched
	require.Equal(t, "debug", cfg.LogLevel)                 // overridden
	require.Equal(t, 15, cfg.HeartbeatIntervalSeconds)      // overridden
	require.Equal(t, "1", cfg.FeatureFlags["x"])
}

func TestMergeEmptyOverrideIsNoOp(t *testing.T) {
	defaults := Defaults{LogLevel: "warn"}
	cfg := Merge(defaults, "")
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestMergeInvalidJSONFallsBackToDefaults(t *testing.T) {
	defaults := Defaults{LogLevel: "warn"}
	cfg := Merge(defaults, "{not json")
	require.Equal(t, "warn", cfg.LogLevel)
}

type fakeOverrides struct {
	defaults     Defaults
	overrideJSON string
}

func (f fakeOverrides) GlobalDefaults(context.Context) (Defaults, error) { return f.defaults, nil }
func (f fakeOverrides) OverrideJSON(context.Context, string) (string, error) {
	return f.overrideJSON, nil
}

type fakeMonitors struct {
	monitors []monitor.Monitor
}

func (f fakeMonitors) RunnableMonitors(context.Context, string) ([]monitor.Monitor, error) {
	return f.monitors, nil
}

func TestResolverBuildAttachesMonitorTasks(t *testing.T) {
	r := &Resolver{
		Overrides: fakeOverrides{defaults: Defaults{LogLevel: "info"}},
		Monitors: fakeMonitors{monitors: []monitor.Monitor{
			{ID: "m1", Type: monitor.TypeHTTP, Target: "https://example.com", FrequencySeconds: 60, TimeoutSeconds: 5},
		}},
	}
	cfg, err := r.BuildConfig(context.Background(), "h1")
	require.NoError(t, err)
	require.Len(t, cfg.ServiceMonitorTasks, 1)
	require.Equal(t, "m1", cfg.ServiceMonitorTasks[0].MonitorID)
}
