package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/nodenexus/nodenexus/internal/cache"
	"github.com/nodenexus/nodenexus/internal/configresolver"
	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/monitor"
	"github.com/nodenexus/nodenexus/internal/monitorsvc"
	"github.com/nodenexus/nodenexus/internal/session"
	"github.com/nodenexus/nodenexus/internal/storage"
	"github.com/nodenexus/nodenexus/pkg/config"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// agentDefaultsToConfigresolver adapts the static config section to the
// shape configresolver.Defaults expects.
func agentDefaultsToConfigresolver(d config.AgentDefaultsConfig) configresolver.Defaults {
	return configresolver.Defaults{
		MetricsCollectIntervalSeconds: d.MetricsCollectIntervalSeconds,
		MetricsUploadIntervalSeconds:  d.MetricsUploadIntervalSeconds,
		MetricsUploadBatchMaxSize:     d.MetricsUploadBatchMaxSize,
		HeartbeatIntervalSeconds:      d.HeartbeatIntervalSeconds,
		LogLevel:                      d.LogLevel,
		FeatureFlags:                  d.FeatureFlags,
	}
}

var (
	_ session.Authenticator        = (*hostAuthenticator)(nil)
	_ session.HostUpdater          = (*hostUpdater)(nil)
	_ cache.HostLoader             = (*hostLoader)(nil)
	_ configresolver.HostOverride  = (*hostOverride)(nil)
	_ monitorsvc.HostFactSource    = (*hostFactSource)(nil)
	_ monitorsvc.Pusher            = (*configPusher)(nil)
)

// hostAuthenticator implements session.Authenticator over the host
// repository, comparing secrets in constant time the way the teacher's
// handler.go compares bearer tokens (crypto/subtle).
type hostAuthenticator struct {
	hosts storage.HostRepository
}

func (a *hostAuthenticator) Authenticate(ctx context.Context, hostID, secret string) (*host.Host, error) {
	h, err := a.hosts.Get(ctx, hostID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(h.AgentSecret), []byte(secret)) != 1 {
		return nil, fmt.Errorf("app: agent secret mismatch for host %s", hostID)
	}
	return h, nil
}

// hostUpdater implements session.HostUpdater as a read-modify-write over
// the host repository; there is no dedicated status-only update path, so
// each call re-reads the row first (connect/disconnect/config-ack events
// are low-frequency compared to metric writes).
type hostUpdater struct {
	hosts storage.HostRepository
}

func (u *hostUpdater) MarkOnline(ctx context.Context, hostID string, metadataFields map[string]any) error {
	h, err := u.hosts.Get(ctx, hostID)
	if err != nil {
		return err
	}
	h.Status = host.StatusOnline
	if h.Metadata == nil {
		h.Metadata = map[string]any{}
	}
	for k, v := range metadataFields {
		h.Metadata[k] = v
	}
	return u.hosts.Update(ctx, h)
}

func (u *hostUpdater) MarkOffline(ctx context.Context, hostID string) error {
	h, err := u.hosts.Get(ctx, hostID)
	if err != nil {
		return err
	}
	h.Status = host.StatusOffline
	return u.hosts.Update(ctx, h)
}

func (u *hostUpdater) SetConfigStatus(ctx context.Context, hostID string, status host.ConfigStatus) error {
	h, err := u.hosts.Get(ctx, hostID)
	if err != nil {
		return err
	}
	h.ConfigStatus = status
	return u.hosts.Update(ctx, h)
}

// agentSender implements both httpapi.AgentSender and batchsvc.AgentSender
// over the live session registry: a disconnected host just reports false,
// the caller's own retry/backoff policy (or the user re-issuing the
// action) covers the rest.
type agentSender struct {
	registry *session.Registry
}

func (a *agentSender) SendToAgent(ctx context.Context, hostID string, msg *protocol.MessageToAgent) bool {
	sess, ok := a.registry.Get(hostID)
	if !ok {
		return false
	}
	return sess.Duplex.Send(msg) == nil
}

// configPusher implements monitorsvc.Pusher: rebuild hostID's effective
// config and, if it is currently connected, push it as an
// UpdateConfigRequest and flip its config status to pending until the
// agent acks. A disconnected host simply gets the fresh config at its
// next handshake, per spec §4.C8/C9.
type configPusher struct {
	resolver *configresolver.Resolver
	registry *session.Registry
	hosts    storage.HostRepository
}

func (p *configPusher) PushConfig(ctx context.Context, hostID string) error {
	cfg, err := p.resolver.BuildConfig(ctx, hostID)
	if err != nil {
		return err
	}
	sess, ok := p.registry.Get(hostID)
	if !ok {
		return nil
	}
	if err := sess.Duplex.Send(&protocol.MessageToAgent{
		UpdateConfig: &protocol.UpdateConfigRequest{
			ConfigVersionID: fmt.Sprintf("%d", time.Now().UnixNano()),
			NewConfig:       cfg,
		},
	}); err != nil {
		return err
	}
	h, err := p.hosts.Get(ctx, hostID)
	if err != nil {
		return err
	}
	h.ConfigStatus = host.ConfigStatusPending
	return p.hosts.Update(ctx, h)
}

// hostLoader implements cache.HostLoader: join a host row with its latest
// metric snapshot, the two facts every ServerWithDetails carries.
type hostLoader struct {
	hosts     storage.HostRepository
	snapshots storage.SnapshotRepository
}

func (l *hostLoader) LoadServerWithDetails(ctx context.Context, hostID string) (*cache.ServerWithDetails, error) {
	h, err := l.hosts.Get(ctx, hostID)
	if err != nil {
		if storage.KindOf(err) == storage.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	snap, err := l.snapshots.Latest(ctx, hostID)
	if err != nil {
		return nil, err
	}
	details := &cache.ServerWithDetails{Host: *h, LatestSnapshot: snap}
	if pct, ok := h.TrafficUsagePercent(); ok {
		details.TrafficPercent = pct
		details.TrafficTracked = true
	}
	return details, nil
}

// hostFactSource implements monitorsvc.HostFactSource over the host
// repository: every host owned by ownerID, with its tag set, is a fact the
// C9 resolver matches tag-based monitor assignments against.
type hostFactSource struct {
	hosts storage.HostRepository
}

func (s *hostFactSource) HostFacts(ctx context.Context, ownerID string) ([]monitor.HostFact, error) {
	hosts, err := s.hosts.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	facts := make([]monitor.HostFact, 0, len(hosts))
	for _, h := range hosts {
		facts = append(facts, monitor.HostFact{HostID: h.ID, OwnerID: h.OwnerID, Tags: h.Tags})
	}
	return facts, nil
}

// configOverrideKey is the Metadata key a host's raw config-override JSON is
// stashed under; it rides the same free-form map the handshake facts use
// rather than earning its own column, since it is opaque to every consumer
// but configresolver.Merge.
const configOverrideKey = "config_override_json"

// hostOverride implements configresolver.HostOverride: global defaults come
// from static config, the per-host override comes back out of Metadata.
type hostOverride struct {
	hosts    storage.HostRepository
	defaults configresolver.Defaults
}

func (o *hostOverride) GlobalDefaults(ctx context.Context) (configresolver.Defaults, error) {
	return o.defaults, nil
}

func (o *hostOverride) OverrideJSON(ctx context.Context, hostID string) (string, error) {
	h, err := o.hosts.Get(ctx, hostID)
	if err != nil {
		return "", err
	}
	raw, _ := h.Metadata[configOverrideKey].(string)
	return raw, nil
}
