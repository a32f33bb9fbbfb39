// Package session implements the agent session manager (C6): the per
// connection handshake → streaming → cleanup state machine, the
// registry of connected agents, and the liveness sweeper.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nodenexus/nodenexus/internal/broadcast"
	"github.com/nodenexus/nodenexus/internal/domain/batch"
	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/metrics"
	"github.com/nodenexus/nodenexus/internal/domain/monitor"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// SweepInterval and StaleAfter are the liveness sweeper's defaults from
// spec §4.C6; internal/app overrides them from RuntimeConfig.
const (
	SweepInterval = 60 * time.Second
	StaleAfter    = 60 * time.Second
)

// Authenticator looks up and verifies a host's agent secret. A cache or a
// quick indexed query backs this in production, per spec's "cheap;
// secret looked up via cache or quick query" note.
type Authenticator interface {
	Authenticate(ctx context.Context, hostID, secret string) (*host.Host, error)
}

// ConfigBuilder produces the effective AgentConfig for a host (C8).
type ConfigBuilder interface {
	BuildConfig(ctx context.Context, hostID string) (protocol.AgentConfig, error)
}

// HostUpdater persists handshake/streaming side effects on the Host row.
type HostUpdater interface {
	MarkOnline(ctx context.Context, hostID string, metadataFields map[string]any) error
	MarkOffline(ctx context.Context, hostID string) error
	SetConfigStatus(ctx context.Context, hostID string, status host.ConfigStatus) error
}

// SnapshotWriter is C2's enqueue surface, called once per PerformanceBatch.
type SnapshotWriter interface {
	Enqueue(s metrics.Snapshot)
}

// MonitorRecorder is C9's result-recording surface.
type MonitorRecorder interface {
	RecordResult(ctx context.Context, res monitor.Result) error
}

// BatchHandler is C10's inbound surface for output/status updates.
type BatchHandler interface {
	RecordOutput(ctx context.Context, commandID string, stream protocol.StreamType, chunk []byte) error
	UpdateChildStatus(ctx context.Context, commandID string, status batch.ChildStatus, exitCode *int, errMsg string) error
}

// Deps bundles every collaborator a Handler needs. Built once in
// internal/app and shared across all sessions.
type Deps struct {
	Auth        Authenticator
	Config      ConfigBuilder
	Hosts       HostUpdater
	Snapshots   SnapshotWriter
	Monitors    MonitorRecorder
	Batches     BatchHandler
	Fabric      *broadcast.Fabric
	Registry    *Registry
}

// Session is one connected agent's live state.
type Session struct {
	HostID string
	Duplex protocol.ServerDuplex

	mu       sync.RWMutex
	lastSeen time.Time

	cancel context.CancelFunc
}

func newSession(hostID string, d protocol.ServerDuplex, cancel context.CancelFunc) *Session {
	s := &Session{HostID: hostID, Duplex: d, cancel: cancel}
	s.touch()
	return s
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen reports the last time a message was received on this session.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Close closes the session's duplex and cancels its handler goroutine.
func (s *Session) Close() {
	s.cancel()
	_ = s.Duplex.Close()
}

// Registry is the single-mutex table of currently connected agents,
// keyed by host ID (spec §4.C6: "insert new ConnectedAgent ... if an old
// entry existed, close its sender asynchronously").
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert replaces any existing session for hostID, closing the old one
// asynchronously so a slow close never blocks the new handshake.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	old := r.sessions[s.HostID]
	r.sessions[s.HostID] = s
	r.mu.Unlock()

	if old != nil {
		go old.Close()
	}
}

// Remove deletes the entry for hostID if it still points at session s
// (prevents a sweep of a stale session from evicting a newer connection's
// entry after a fast reconnect).
func (r *Registry) Remove(hostID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[hostID] == s {
		delete(r.sessions, hostID)
	}
}

// Get returns the session for hostID, if connected.
func (r *Registry) Get(hostID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[hostID]
	return s, ok
}

// Snapshot returns every currently connected session.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Sweep implements the liveness sweeper (spec §4.C6): any session whose
// LastSeen is older than staleAfter is removed, closed, and its host
// marked offline. Returns true if any host's status changed, the signal
// the caller uses to decide whether to ping the debouncer.
func Sweep(ctx context.Context, r *Registry, hosts HostUpdater, now time.Time, staleAfter time.Duration) bool {
	changed := false
	for _, s := range r.Snapshot() {
		if now.Sub(s.LastSeen()) <= staleAfter {
			continue
		}
		r.Remove(s.HostID, s)
		s.Close()
		if err := hosts.MarkOffline(ctx, s.HostID); err == nil {
			changed = true
		}
	}
	return changed
}

// ErrAuthMismatch names the case of a post-handshake message whose
// credentials no longer match the store. Handle does not return it: such a
// message is dropped, not the connection, per spec §4.C6.
var ErrAuthMismatch = errors.New("session: credential mismatch mid-stream")

// Handle runs one connection's full state machine to completion: handshake,
// then streaming until EOF/error, then cleanup. It never removes the
// registry entry itself on the streaming error path — only the sweeper or
// a subsequent handshake does that, per the spec's CLEANUP step.
func Handle(ctx context.Context, d protocol.ServerDuplex, deps Deps) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := d.Recv()
	if err != nil {
		return err
	}
	if first.Handshake == nil {
		_ = d.Send(&protocol.MessageToAgent{HandshakeAck: &protocol.ServerHandshakeAck{
			AuthenticationSuccessful: false,
			ErrorMessage:             "first message must be a handshake",
		}})
		return errors.New("session: first message was not a handshake")
	}

	h, err := deps.Auth.Authenticate(ctx, first.VPSDBID, first.AgentSecret)
	if err != nil {
		_ = d.Send(&protocol.MessageToAgent{HandshakeAck: &protocol.ServerHandshakeAck{
			AuthenticationSuccessful: false,
			ErrorMessage:             "authentication failed",
		}})
		return err
	}

	cfg, err := deps.Config.BuildConfig(ctx, h.ID)
	if err != nil {
		return err
	}

	if err := deps.Hosts.MarkOnline(ctx, h.ID, handshakeMetadata(first.Handshake)); err != nil {
		return err
	}
	deps.Fabric.Ping()

	sess := newSession(h.ID, d, cancel)
	deps.Registry.Insert(sess)

	if err := d.Send(&protocol.MessageToAgent{HandshakeAck: &protocol.ServerHandshakeAck{
		AuthenticationSuccessful: true,
		InitialConfig:            &cfg,
		NewAgentSecret:           h.NewAgentSecret,
		ServerTimeUnixMS:         time.Now().UnixMilli(),
	}}); err != nil {
		return err
	}

	for {
		msg, err := d.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		// Always re-authenticate; mismatch drops the message, not the
		// connection (spec §4.C6).
		if _, err := deps.Auth.Authenticate(ctx, msg.VPSDBID, msg.AgentSecret); err != nil {
			continue
		}
		sess.touch()

		if err := dispatch(ctx, msg, h.ID, deps); err != nil {
			return err
		}
	}
}

func dispatch(ctx context.Context, msg *protocol.MessageToServer, hostID string, deps Deps) error {
	switch {
	case msg.Heartbeat != nil:
		return nil
	case msg.PerformanceBatch != nil:
		for _, snap := range msg.PerformanceBatch.Snapshots {
			deps.Snapshots.Enqueue(toDomainSnapshot(hostID, snap))
		}
		deps.Fabric.Ping()
		return nil
	case msg.UpdateConfigResponse != nil:
		status := host.ConfigStatusSynced
		if !msg.UpdateConfigResponse.Success {
			status = host.ConfigStatusFailed
		}
		if err := deps.Hosts.SetConfigStatus(ctx, hostID, status); err != nil {
			return err
		}
		deps.Fabric.Ping()
		return nil
	case msg.BatchOutputStream != nil:
		return deps.Batches.RecordOutput(ctx, msg.BatchOutputStream.CommandID, msg.BatchOutputStream.StreamType, msg.BatchOutputStream.Chunk)
	case msg.BatchResult != nil:
		return deps.Batches.UpdateChildStatus(ctx, msg.BatchResult.CommandID, childStatusFrom(msg.BatchResult.Status), msg.BatchResult.ExitCode, msg.BatchResult.ErrorMessage)
	case msg.MonitorResult != nil:
		res := monitor.Result{
			MonitorID: msg.MonitorResult.MonitorID,
			HostID:    hostID,
			Time:      time.UnixMilli(msg.MonitorResult.TimestampUnixMS),
			Success:   msg.MonitorResult.Successful,
			Details:   msg.MonitorResult.Details,
		}
		if msg.MonitorResult.ResponseTimeMS != nil {
			res.LatencyMS = *msg.MonitorResult.ResponseTimeMS
		}
		if err := deps.Monitors.RecordResult(ctx, res); err != nil {
			return err
		}
		deps.Fabric.PublishMonitorResult(res)
		return nil
	default:
		return nil
	}
}

func childStatusFrom(s protocol.CommandResultStatus) batch.ChildStatus {
	switch s {
	case protocol.CommandResultSuccess:
		return batch.ChildCompletedSuccessfully
	case protocol.CommandResultTerminated:
		return batch.ChildTerminated
	default:
		return batch.ChildCompletedWithFailure
	}
}

func toDomainSnapshot(hostID string, p protocol.PerformanceSnapshot) metrics.Snapshot {
	return metrics.Snapshot{
		HostID:                hostID,
		Time:                  time.UnixMilli(p.TimestampUnixMS),
		CPUPercent:            p.CPUOverallUsagePercent,
		MemoryUsedBytes:       p.MemoryUsageBytes,
		MemoryTotalBytes:      p.MemoryTotalBytes,
		SwapUsedBytes:         p.SwapUsageBytes,
		SwapTotalBytes:        p.SwapTotalBytes,
		DiskReadBytesPerSec:   p.DiskTotalIOReadBytesPerSec,
		DiskWriteBytesPerSec:  p.DiskTotalIOWriteBytesPerSec,
		DiskUsedBytes:         p.UsedDiskSpaceBytes,
		DiskTotalBytes:        p.TotalDiskSpaceBytes,
		NetworkRxCumulative:   p.NetworkRxBytesCumulative,
		NetworkTxCumulative:   p.NetworkTxBytesCumulative,
		NetworkRxBytesPerSec:  p.NetworkRxBytesPerSec,
		NetworkTxBytesPerSec:  p.NetworkTxBytesPerSec,
		UptimeSeconds:         p.UptimeSeconds,
		TotalProcessesCount:   p.TotalProcessesCount,
		RunningProcessesCount: p.RunningProcessesCount,
		TCPEstablishedCount:   p.TCPEstablishedConnectionCount,
	}
}

func handshakeMetadata(h *protocol.AgentHandshake) map[string]any {
	fields := map[string]any{
		"agent_version": h.AgentVersion,
		"os_type":       h.OSType,
		"os_name":       h.OSName,
		"arch":          h.Arch,
		"hostname":      h.Hostname,
	}
	if h.KernelVersion != "" {
		fields["kernel_version"] = h.KernelVersion
	}
	if h.DistributionID != "" {
		fields["distribution_id"] = h.DistributionID
	}
	if h.PhysicalCoreCount != nil {
		fields["physical_core_count"] = *h.PhysicalCoreCount
	}
	if h.TotalMemoryBytes != nil {
		fields["total_memory_bytes"] = *h.TotalMemoryBytes
	}
	if h.CountryCode != "" {
		fields["country_code"] = h.CountryCode
	}
	return fields
}
