// Package httpapi implements the REST surface spec §6 describes: VPS
// CRUD plus bulk operations, service-monitor CRUD and timeseries, alert
// rule CRUD, and batch-command lifecycle endpoints. Routing follows the
// teacher's http.ServeMux + path-segment dispatch style rather than a
// third-party router, since the route set here is small and flat.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/nodenexus/nodenexus/internal/broadcast"
	"github.com/nodenexus/nodenexus/internal/domain/alert"
	"github.com/nodenexus/nodenexus/internal/domain/batch"
	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/monitor"
	"github.com/nodenexus/nodenexus/internal/storage"
	"github.com/nodenexus/nodenexus/pkg/config"
	pkgmetrics "github.com/nodenexus/nodenexus/pkg/metrics"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// HostStore is the C1 surface hosts.go needs.
type HostStore interface {
	Create(ctx context.Context, h *host.Host) error
	Get(ctx context.Context, id string) (*host.Host, error)
	List(ctx context.Context, ownerID string) ([]*host.Host, error)
	Update(ctx context.Context, h *host.Host) error
	Delete(ctx context.Context, id string) error
}

// MonitorStore is the C1 surface monitors.go needs.
type MonitorStore interface {
	Create(ctx context.Context, m *monitor.Monitor) error
	Get(ctx context.Context, id string) (*monitor.Monitor, error)
	ListActive(ctx context.Context, ownerID string) ([]monitor.Monitor, error)
	Update(ctx context.Context, m *monitor.Monitor) error
	Delete(ctx context.Context, id string) error
	RecentResults(ctx context.Context, monitorID, hostID string, since time.Time) ([]monitor.Result, error)
	Timeseries(ctx context.Context, monitorID, hostID string, since time.Time, bucketSeconds int) ([]storage.TimeseriesPoint, error)
}

// MonitorRecomputer re-resolves and re-pushes a owner's runnable monitor
// set after a monitor definition changes, implemented by
// internal/monitorsvc.Service.
type MonitorRecomputer interface {
	Recompute(ctx context.Context, ownerID string) error
}

// AlertStore is the C1 surface alerts.go needs.
type AlertStore interface {
	Create(ctx context.Context, r *alert.Rule) error
	Get(ctx context.Context, id string) (*alert.Rule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]alert.Rule, error)
	Update(ctx context.Context, r *alert.Rule) error
	Delete(ctx context.Context, id string) error
}

// BatchService is C10's service surface, implemented by *batchsvc.Service.
type BatchService interface {
	Create(ctx context.Context, ownerID, requestPayload string, targetHostIDs []string) (string, error)
	TerminateParent(ctx context.Context, parentID string) error
	TerminateChild(ctx context.Context, childID string) error
}

// BatchStore is the read-only half of C10's storage surface, used directly
// by the detail endpoint.
type BatchStore interface {
	GetParent(ctx context.Context, id string) (*batch.Parent, error)
	ListChildren(ctx context.Context, parentID string) ([]batch.Child, error)
}

// AgentSender dispatches an out-of-band frame (e.g. TriggerUpdateCheck) to
// a connected host, implemented by internal/app against the live session
// registry. Returns false if the host is not currently connected.
type AgentSender interface {
	SendToAgent(ctx context.Context, hostID string, msg *protocol.MessageToAgent) bool
}

// Deps bundles every collaborator the HTTP surface needs. Built once in
// internal/app.
type Deps struct {
	Hosts       HostStore
	Monitors    MonitorStore
	MonitorSync MonitorRecomputer
	Alerts      AlertStore
	Batches   BatchService
	BatchRead BatchStore
	Agents    AgentSender
	Live      *broadcast.Fabric
	Auth      config.AuthConfig
}

// NewHandler builds the routed, auth-wrapped, metrics-instrumented HTTP
// handler.
func NewHandler(deps Deps) http.Handler {
	h := &handler{deps: deps}

	mux := http.NewServeMux()
	mux.Handle("/metrics", pkgmetrics.Handler())
	mux.HandleFunc("/healthz", h.health)

	mux.HandleFunc("/hosts", h.hosts)
	mux.HandleFunc("/hosts/", h.hostResource)

	mux.HandleFunc("/monitors", h.monitors)
	mux.HandleFunc("/monitors/", h.monitorResource)

	mux.HandleFunc("/alerts", h.alerts)
	mux.HandleFunc("/alerts/", h.alertResource)

	mux.HandleFunc("/batch", h.batchCreate)
	mux.HandleFunc("/batch/", h.batchResource)

	mux.HandleFunc("/ws/live", h.liveWS)

	return pkgmetrics.InstrumentHandler(wrapWithAuth(mux, deps.Auth))
}

type handler struct {
	deps Deps
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
