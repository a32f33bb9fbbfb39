// Package configresolver implements the config resolver (C8): merging a
// global default AgentConfig with a per-host override JSON, field-present
// wins, plus attaching the host's runnable ServiceMonitorTask list.
package configresolver

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/nodenexus/nodenexus/internal/domain/monitor"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Defaults is the global AgentConfig template every host starts from.
type Defaults struct {
	MetricsCollectIntervalSeconds int
	MetricsUploadIntervalSeconds  int
	MetricsUploadBatchMaxSize     int
	HeartbeatIntervalSeconds      int
	LogLevel                      string
	FeatureFlags                  map[string]string
}

func (d Defaults) toAgentConfig() protocol.AgentConfig {
	flags := make(map[string]string, len(d.FeatureFlags))
	for k, v := range d.FeatureFlags {
		flags[k] = v
	}
	return protocol.AgentConfig{
		MetricsCollectIntervalSeconds: d.MetricsCollectIntervalSeconds,
		MetricsUploadIntervalSeconds:  d.MetricsUploadIntervalSeconds,
		MetricsUploadBatchMaxSize:     d.MetricsUploadBatchMaxSize,
		HeartbeatIntervalSeconds:      d.HeartbeatIntervalSeconds,
		LogLevel:                      d.LogLevel,
		FeatureFlags:                  flags,
	}
}

// override is the JSON shape a host-specific config override takes; only
// present fields are applied (nil pointer = "not overridden").
type override struct {
	MetricsCollectIntervalSeconds *int               `json:"metrics_collect_interval_seconds"`
	MetricsUploadIntervalSeconds  *int               `json:"metrics_upload_interval_seconds"`
	MetricsUploadBatchMaxSize     *int               `json:"metrics_upload_batch_max_size"`
	HeartbeatIntervalSeconds      *int               `json:"heartbeat_interval_seconds"`
	LogLevel                      *string            `json:"log_level"`
	FeatureFlags                  map[string]string  `json:"feature_flags"`
}

// Merge applies overrideJSON on top of defaults; an empty/invalid
// overrideJSON leaves defaults untouched.
func Merge(defaults Defaults, overrideJSON string) protocol.AgentConfig {
	cfg := defaults.toAgentConfig()
	if overrideJSON == "" {
		return cfg
	}

	var o override
	if err := json.Unmarshal([]byte(overrideJSON), &o); err != nil {
		return cfg
	}

	if o.MetricsCollectIntervalSeconds != nil {
		cfg.MetricsCollectIntervalSeconds = *o.MetricsCollectIntervalSeconds
	}
	if o.MetricsUploadIntervalSeconds != nil {
		cfg.MetricsUploadIntervalSeconds = *o.MetricsUploadIntervalSeconds
	}
	if o.MetricsUploadBatchMaxSize != nil {
		cfg.MetricsUploadBatchMaxSize = *o.MetricsUploadBatchMaxSize
	}
	if o.HeartbeatIntervalSeconds != nil {
		cfg.HeartbeatIntervalSeconds = *o.HeartbeatIntervalSeconds
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	for k, v := range o.FeatureFlags {
		if cfg.FeatureFlags == nil {
			cfg.FeatureFlags = map[string]string{}
		}
		cfg.FeatureFlags[k] = v
	}
	return cfg
}

// MonitorProvider resolves the runnable ServiceMonitorTask set for a host,
// backed by internal/monitorsvc (wrapping domain/monitor.Resolve).
type MonitorProvider interface {
	RunnableMonitors(ctx context.Context, hostID string) ([]monitor.Monitor, error)
}

// HostOverride supplies the global defaults and a host's override JSON.
type HostOverride interface {
	GlobalDefaults(ctx context.Context) (Defaults, error)
	OverrideJSON(ctx context.Context, hostID string) (string, error)
}

// Resolver is the wired C8 component: build the effective config for a
// host, attaching its runnable monitor task list.
type Resolver struct {
	Overrides HostOverride
	Monitors  MonitorProvider
}

// BuildConfig produces the effective AgentConfig delivered at handshake and
// pushed on change.
func (r *Resolver) BuildConfig(ctx context.Context, hostID string) (protocol.AgentConfig, error) {
	defaults, err := r.Overrides.GlobalDefaults(ctx)
	if err != nil {
		return protocol.AgentConfig{}, err
	}
	overrideJSON, err := r.Overrides.OverrideJSON(ctx, hostID)
	if err != nil {
		return protocol.AgentConfig{}, err
	}
	cfg := Merge(defaults, overrideJSON)

	monitors, err := r.Monitors.RunnableMonitors(ctx, hostID)
	if err != nil {
		return protocol.AgentConfig{}, err
	}
	cfg.ServiceMonitorTasks = make([]protocol.ServiceMonitorTask, 0, len(monitors))
	for _, m := range monitors {
		cfg.ServiceMonitorTasks = append(cfg.ServiceMonitorTasks, protocol.ServiceMonitorTask{
			MonitorID:       m.ID,
			MonitorType:     string(m.Type),
			Target:          m.Target,
			IntervalSeconds: m.FrequencySeconds,
			TimeoutSeconds:  m.TimeoutSeconds,
			ConfigJSON:      m.ConfigJSON,
		})
	}
	return cfg, nil
}
