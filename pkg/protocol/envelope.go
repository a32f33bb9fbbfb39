// Package protocol implements the framed duplex agent/server wire format:
// every message is a MessageToServer or MessageToAgent envelope carrying
// exactly one payload variant, length-delimited over either a raw TCP
// "RPC-stream" or a binary WebSocket connection.
package protocol

// StreamType marks which output stream a batch-command chunk came from.
type StreamType int

const (
	StreamUnspecified StreamType = 0
	StreamStdout      StreamType = 1
	StreamStderr      StreamType = 2
)

// CommandResultStatus is the agent's terminal verdict for a batch command.
type CommandResultStatus string

const (
	CommandResultSuccess    CommandResultStatus = "Success"
	CommandResultFailure    CommandResultStatus = "Failure"
	CommandResultTerminated CommandResultStatus = "Terminated"
)

// CPUStaticInfo is reported once per handshake.
type CPUStaticInfo struct {
	Name      string  `json:"name,omitempty"`
	Frequency float64 `json:"frequency,omitempty"`
	VendorID  string  `json:"vendor_id,omitempty"`
	Brand     string  `json:"brand,omitempty"`
}

// AgentHandshake is the first message of every agent session.
type AgentHandshake struct {
	AgentIDHint        string          `json:"agent_id_hint,omitempty"`
	AgentVersion        string          `json:"agent_version"`
	OSType              string          `json:"os_type"`
	OSName              string          `json:"os_name"`
	Arch                string          `json:"arch"`
	Hostname            string          `json:"hostname"`
	PublicIPAddresses   []string        `json:"public_ip_addresses,omitempty"`
	KernelVersion       string          `json:"kernel_version,omitempty"`
	OSVersionDetail     string          `json:"os_version_detail,omitempty"`
	LongOSVersion       string          `json:"long_os_version,omitempty"`
	DistributionID      string          `json:"distribution_id,omitempty"`
	PhysicalCoreCount   *int            `json:"physical_core_count,omitempty"`
	TotalMemoryBytes    *uint64         `json:"total_memory_bytes,omitempty"`
	TotalSwapBytes      *uint64         `json:"total_swap_bytes,omitempty"`
	CPUStaticInfo       *CPUStaticInfo  `json:"cpu_static_info,omitempty"`
	CountryCode         string          `json:"country_code,omitempty"`
}

// Heartbeat keeps a session's last-seen timestamp fresh between batches.
type Heartbeat struct {
	TimestampUnixMS int64 `json:"timestamp_unix_ms"`
}

// DiskUsage is one mounted filesystem's usage at collection time.
type DiskUsage struct {
	MountPoint    string  `json:"mount_point"`
	UsedBytes     uint64  `json:"used_bytes"`
	TotalBytes    uint64  `json:"total_bytes"`
	FSType        string  `json:"fstype"`
	UsagePercent  float64 `json:"usage_percent"`
}

// PerformanceSnapshot is one collection tick's full metric set.
type PerformanceSnapshot struct {
	TimestampUnixMS                int64        `json:"timestamp_unix_ms"`
	CPUOverallUsagePercent          float64      `json:"cpu_overall_usage_percent"`
	MemoryUsageBytes                uint64       `json:"memory_usage_bytes"`
	MemoryTotalBytes                uint64       `json:"memory_total_bytes"`
	SwapUsageBytes                  uint64       `json:"swap_usage_bytes"`
	SwapTotalBytes                  uint64       `json:"swap_total_bytes"`
	DiskTotalIOReadBytesPerSec      float64      `json:"disk_total_io_read_bytes_per_sec"`
	DiskTotalIOWriteBytesPerSec     float64      `json:"disk_total_io_write_bytes_per_sec"`
	DiskUsages                      []DiskUsage  `json:"disk_usages,omitempty"`
	TotalDiskSpaceBytes              uint64       `json:"total_disk_space_bytes"`
	UsedDiskSpaceBytes                uint64       `json:"used_disk_space_bytes"`
	NetworkRxBytesCumulative         uint64       `json:"network_rx_bytes_cumulative"`
	NetworkTxBytesCumulative         uint64       `json:"network_tx_bytes_cumulative"`
	UptimeSeconds                    uint64       `json:"uptime_seconds"`
	TotalProcessesCount               int          `json:"total_processes_count"`
	RunningProcessesCount              int          `json:"running_processes_count"`
	TCPEstablishedConnectionCount      int          `json:"tcp_established_connection_count"`
	NetworkRxBytesPerSec              float64      `json:"network_rx_bytes_per_sec"`
	NetworkTxBytesPerSec              float64      `json:"network_tx_bytes_per_sec"`
}

// PerformanceBatch is a flushed batch of collected snapshots.
type PerformanceBatch struct {
	Snapshots []PerformanceSnapshot `json:"snapshots"`
}

// UpdateConfigResponse is the agent's ack for a pushed config.
type UpdateConfigResponse struct {
	ConfigVersionID string `json:"config_version_id"`
	Success         bool   `json:"success"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// BatchCommandOutputStream is one streamed chunk of a running command's
// stdout/stderr.
type BatchCommandOutputStream struct {
	CommandID  string     `json:"command_id"`
	StreamType StreamType `json:"stream_type"`
	Chunk      []byte     `json:"chunk"`
	Timestamp  int64      `json:"timestamp"`
}

// BatchCommandResult is the agent's terminal report for a batch command.
type BatchCommandResult struct {
	CommandID    string               `json:"command_id"`
	Status       CommandResultStatus  `json:"status"`
	ExitCode     *int                 `json:"exit_code,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

// ServiceMonitorResult is a single probe's outcome.
type ServiceMonitorResult struct {
	MonitorID       string  `json:"monitor_id"`
	TimestampUnixMS int64   `json:"timestamp_unix_ms"`
	Successful      bool    `json:"successful"`
	ResponseTimeMS  *int64  `json:"response_time_ms,omitempty"`
	Details         string  `json:"details,omitempty"`
}

// MessageToServer is the envelope for every agent -> server frame.
type MessageToServer struct {
	ClientMessageID uint64 `json:"client_message_id"`
	VPSDBID         string `json:"vps_db_id"`
	AgentSecret     string `json:"agent_secret"`

	Handshake             *AgentHandshake             `json:"handshake,omitempty"`
	Heartbeat             *Heartbeat                  `json:"heartbeat,omitempty"`
	PerformanceBatch      *PerformanceBatch           `json:"performance_batch,omitempty"`
	UpdateConfigResponse  *UpdateConfigResponse       `json:"update_config_response,omitempty"`
	BatchOutputStream     *BatchCommandOutputStream   `json:"batch_output_stream,omitempty"`
	BatchResult           *BatchCommandResult         `json:"batch_result,omitempty"`
	MonitorResult         *ServiceMonitorResult       `json:"monitor_result,omitempty"`
}

// Variant reports which payload is set, for dispatch and logging.
func (m *MessageToServer) Variant() string {
	switch {
	case m.Handshake != nil:
		return "handshake"
	case m.Heartbeat != nil:
		return "heartbeat"
	case m.PerformanceBatch != nil:
		return "performance_batch"
	case m.UpdateConfigResponse != nil:
		return "update_config_response"
	case m.BatchOutputStream != nil:
		return "batch_output_stream"
	case m.BatchResult != nil:
		return "batch_result"
	case m.MonitorResult != nil:
		return "monitor_result"
	default:
		return "empty"
	}
}

// ServiceMonitorTask is one probe definition pushed to an agent.
type ServiceMonitorTask struct {
	MonitorID        string `json:"monitor_id"`
	MonitorType      string `json:"monitor_type"`
	Target           string `json:"target"`
	IntervalSeconds  int    `json:"interval_seconds"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	ConfigJSON       string `json:"config_json,omitempty"`
}

// AgentConfig is the effective configuration delivered at handshake and on
// change.
type AgentConfig struct {
	MetricsCollectIntervalSeconds int                 `json:"metrics_collect_interval_seconds"`
	MetricsUploadIntervalSeconds  int                 `json:"metrics_upload_interval_seconds"`
	MetricsUploadBatchMaxSize     int                 `json:"metrics_upload_batch_max_size"`
	HeartbeatIntervalSeconds      int                 `json:"heartbeat_interval_seconds"`
	LogLevel                      string              `json:"log_level"`
	FeatureFlags                  map[string]string   `json:"feature_flags,omitempty"`
	ServiceMonitorTasks           []ServiceMonitorTask `json:"service_monitor_tasks,omitempty"`
}

// ServerHandshakeAck answers an AgentHandshake.
type ServerHandshakeAck struct {
	AuthenticationSuccessful bool         `json:"authentication_successful"`
	ErrorMessage             string       `json:"error_message,omitempty"`
	InitialConfig            *AgentConfig `json:"initial_config,omitempty"`
	NewAgentSecret           string       `json:"new_agent_secret,omitempty"`
	ServerTimeUnixMS         int64        `json:"server_time_unix_ms"`
}

// UpdateConfigRequest pushes a new effective config mid-session.
type UpdateConfigRequest struct {
	ConfigVersionID string      `json:"config_version_id"`
	NewConfig       AgentConfig `json:"new_config"`
}

// BatchAgentCommandRequest dispatches one child command task to an agent.
type BatchAgentCommandRequest struct {
	CommandID          string            `json:"command_id"`
	Content            string            `json:"content"`
	WorkingDirectory   string            `json:"working_directory,omitempty"`
	EnvironmentVariables map[string]string `json:"environment_variables,omitempty"`
}

// BatchTerminateCommandRequest asks the agent to kill a running command.
type BatchTerminateCommandRequest struct {
	CommandID string `json:"command_id"`
}

// TriggerUpdateCheck asks the agent to check for (and apply) an update.
type TriggerUpdateCheck struct{}

// MessageToAgent is the envelope for every server -> agent frame.
type MessageToAgent struct {
	ServerMessageID uint64 `json:"server_message_id"`

	HandshakeAck     *ServerHandshakeAck           `json:"handshake_ack,omitempty"`
	UpdateConfig     *UpdateConfigRequest          `json:"update_config,omitempty"`
	AgentCommand     *BatchAgentCommandRequest     `json:"agent_command,omitempty"`
	TerminateCommand *BatchTerminateCommandRequest `json:"terminate_command,omitempty"`
	TriggerUpdate    *TriggerUpdateCheck           `json:"trigger_update,omitempty"`
}

// Variant reports which payload is set, for dispatch and logging.
func (m *MessageToAgent) Variant() string {
	switch {
	case m.HandshakeAck != nil:
		return "handshake_ack"
	case m.UpdateConfig != nil:
		return "update_config"
	case m.AgentCommand != nil:
		return "agent_command"
	case m.TerminateCommand != nil:
		return "terminate_command"
	case m.TriggerUpdate != nil:
		return "trigger_update"
	default:
		return "empty"
	}
}
