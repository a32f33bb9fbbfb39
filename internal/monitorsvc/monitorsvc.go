// Package monitorsvc wraps internal/domain/monitor.Resolve with
// storage-backed loading, result recording, and the affected-hosts
// re-push/broadcast side effects described in spec §4.C9.
package monitorsvc

import (
	"context"
	"sync"

	"github.com/nodenexus/nodenexus/internal/broadcast"
	"github.com/nodenexus/nodenexus/internal/domain/monitor"
)

// Store is the storage surface this service needs.
type Store interface {
	ListActive(ctx context.Context, ownerID string) ([]monitor.Monitor, error)
	RecordResult(ctx context.Context, res monitor.Result) error
}

// HostFactSource supplies the (ownerID, tags) facts Resolve needs for
// every host owned by ownerID.
type HostFactSource interface {
	HostFacts(ctx context.Context, ownerID string) ([]monitor.HostFact, error)
}

// Pusher delivers a freshly rebuilt effective config to a connected host,
// implemented by internal/session against the live registry.
type Pusher interface {
	PushConfig(ctx context.Context, hostID string) error
}

// Service is the wired C9 component. It caches the last-resolved runnable
// set per owner so AffectedHosts can be computed on every recompute.
type Service struct {
	store  Store
	hosts  HostFactSource
	pusher Pusher
	fabric *broadcast.Fabric

	mu   sync.Mutex
	last map[string]map[string][]monitor.Monitor // ownerID -> hostID -> monitors
}

// New constructs a Service.
func New(store Store, hosts HostFactSource, pusher Pusher, fabric *broadcast.Fabric) *Service {
	return &Service{
		store:  store,
		hosts:  hosts,
		pusher: pusher,
		fabric: fabric,
		last:   make(map[string]map[string][]monitor.Monitor),
	}
}

// Recompute resolves ownerID's runnable monitor sets, diffs against the
// previous resolution, pushes fresh configs to any affected connected
// host, and pings the debouncer (spec §4.C9).
func (s *Service) Recompute(ctx context.Context, ownerID string) error {
	monitors, err := s.store.ListActive(ctx, ownerID)
	if err != nil {
		return err
	}
	facts, err := s.hosts.HostFacts(ctx, ownerID)
	if err != nil {
		return err
	}

	resolved := monitor.Resolve(monitors, facts)

	s.mu.Lock()
	before := s.last[ownerID]
	s.last[ownerID] = resolved
	s.mu.Unlock()

	affected := monitor.AffectedHosts(before, resolved)
	for _, hostID := range affected {
		// Best-effort: a host that isn't currently connected simply gets
		// the fresh set at its next handshake.
		_ = s.pusher.PushConfig(ctx, hostID)
	}
	if len(affected) > 0 {
		s.fabric.Ping()
	}
	return nil
}

// RunnableMonitors implements internal/configresolver.MonitorProvider for
// one host, resolving fresh rather than reading the cached diff state
// (handshake always wants the current truth).
func (s *Service) RunnableMonitors(ctx context.Context, hostID string) ([]monitor.Monitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, hostSets := range s.last {
		if m, ok := hostSets[hostID]; ok {
			return m, nil
		}
	}
	return nil, nil
}

// RecordResult stores a probe outcome and fans it out as an undebounced
// broadcast (spec §4.C9: "a per-result broadcast is also emitted").
func (s *Service) RecordResult(ctx context.Context, res monitor.Result) error {
	if err := s.store.RecordResult(ctx, res); err != nil {
		return err
	}
	s.fabric.PublishMonitorResult(res)
	return nil
}
