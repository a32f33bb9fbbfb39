// Package app wires every domain service onto a shared *sql.DB and exposes
// the resulting HTTP handler and agent-facing listeners, mirroring how the
// teacher's cmd/appserver/main.go builds its stores-then-services-then-http
// chain, just folded into a constructor cmd/server can call.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodenexus/nodenexus/internal/aggregation"
	"github.com/nodenexus/nodenexus/internal/alertsvc"
	"github.com/nodenexus/nodenexus/internal/batchsvc"
	"github.com/nodenexus/nodenexus/internal/broadcast"
	"github.com/nodenexus/nodenexus/internal/cache"
	"github.com/nodenexus/nodenexus/internal/configresolver"
	"github.com/nodenexus/nodenexus/internal/httpapi"
	"github.com/nodenexus/nodenexus/internal/monitorsvc"
	"github.com/nodenexus/nodenexus/internal/notify"
	"github.com/nodenexus/nodenexus/internal/platform/database"
	"github.com/nodenexus/nodenexus/internal/renewalsvc"
	"github.com/nodenexus/nodenexus/internal/secretcrypto"
	"github.com/nodenexus/nodenexus/internal/session"
	"github.com/nodenexus/nodenexus/internal/storage"
	"github.com/nodenexus/nodenexus/internal/traffic"
	"github.com/nodenexus/nodenexus/internal/writer"
	"github.com/nodenexus/nodenexus/pkg/config"
	"github.com/nodenexus/nodenexus/pkg/logger"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// BatchLogRoot is the base directory streamed batch-command output is
// written under (spec §4.C10).
const BatchLogRoot = "logs/batch_commands"

// notifyRatePerSecond/notifyBurst bound the dispatcher's overall outbound
// rate across every registered channel (spec §4.C11 leaves the concrete
// limit to the deployment; these are conservative defaults).
const (
	notifyRatePerSecond = 5.0
	notifyBurst         = 10
)

// App is every wired subsystem, ready for Start/Stop and for cmd/server to
// mount its Handler and ServeAgentWS.
type App struct {
	cfg *config.Config
	log *logger.Logger

	hosts     *storage.SQLiteHostRepository
	snapshots *storage.SQLiteSnapshotRepository
	summaries *storage.SQLiteSummaryRepository
	monitors  *storage.SQLiteMonitorRepository
	alerts    *storage.SQLiteAlertRuleRepository
	batches   *storage.SQLiteBatchRepository

	registry *session.Registry
	fabric   *broadcast.Fabric
	cache    *cache.Cache

	writer      *writer.Writer
	aggregation *aggregation.Scheduler
	traffic     *traffic.Scheduler
	renewal     *renewalsvc.Scheduler
	monitorSvc  *monitorsvc.Service
	batchSvc    *batchsvc.Service
	alertSvc    *alertsvc.Service
	resolver    *configresolver.Resolver

	sessionDeps session.Deps
	dbPool      *database.Pool

	// Handler is the fully routed, auth-wrapped REST + UI WebSocket surface
	// (C1/C9/C10/C11 endpoints plus /ws/live).
	Handler http.Handler

	agentUpgrader websocket.Upgrader
}

// New builds every service against db. secretCipher encrypts alert rules'
// notification targets at rest (agent secrets are stored as given); pass
// secretcrypto.NewNoop() to disable.
func New(cfg *config.Config, db *sql.DB, log *logger.Logger, secretCipher secretcrypto.Cipher) (*App, error) {
	if secretCipher == nil {
		secretCipher = secretcrypto.NewNoop()
	}

	a := &App{cfg: cfg, log: log}

	a.hosts = storage.NewSQLiteHostRepository(db)
	a.snapshots = storage.NewSQLiteSnapshotRepository(db)
	a.summaries = storage.NewSQLiteSummaryRepository(db)
	a.monitors = storage.NewSQLiteMonitorRepository(db)
	a.alerts = storage.NewSQLiteAlertRuleRepository(db, secretCipher)
	a.batches = storage.NewSQLiteBatchRepository(db)

	a.registry = session.NewRegistry()
	a.cache = cache.New(&hostLoader{hosts: a.hosts, snapshots: a.snapshots})
	a.fabric = broadcast.New(a.cache, a.hosts)

	sender := &agentSender{registry: a.registry}

	a.resolver = &configresolver.Resolver{
		Overrides: &hostOverride{hosts: a.hosts, defaults: agentDefaultsToConfigresolver(cfg.AgentDefaults)},
	}
	a.monitorSvc = monitorsvc.New(a.monitors, &hostFactSource{hosts: a.hosts}, &configPusher{
		resolver: a.resolver,
		registry: a.registry,
		hosts:    a.hosts,
	}, a.fabric)
	a.resolver.Monitors = a.monitorSvc

	a.writer = writer.New(a.snapshots, a.hosts, a.fabric, log)
	a.aggregation = aggregation.New(a.hosts, a.snapshots, a.summaries, aggregation.Retention{
		Raw: cfg.Runtime.RetentionRaw,
		M1:  cfg.Runtime.Retention1m,
		H1:  cfg.Runtime.Retention1h,
		D1:  cfg.Runtime.Retention1d,
	}, log)
	a.traffic = traffic.New(a.hosts, log)
	a.renewal = renewalsvc.New(a.hosts, a.fabric, log)
	a.batchSvc = batchsvc.New(a.batches, sender, a.fabric, BatchLogRoot)

	// notify.NewDispatcher ships with zero registered senders: core carries
	// no concrete Telegram/webhook transport, per spec's stated non-goal.
	// A deployment that needs live delivery registers senders before traffic
	// flows; until then Dispatch simply records a per-channel "no sender"
	// result rather than erroring.
	dispatcher := notify.NewDispatcher(log, notifyRatePerSecond, notifyBurst)
	a.alertSvc = alertsvc.New(a.alerts, a.hosts, a.snapshots, dispatcher, log)

	a.sessionDeps = session.Deps{
		Auth:      &hostAuthenticator{hosts: a.hosts},
		Config:    a.resolver,
		Hosts:     &hostUpdater{hosts: a.hosts},
		Snapshots: a.writer,
		Monitors:  a.monitorSvc,
		Batches:   a.batchSvc,
		Fabric:    a.fabric,
		Registry:  a.registry,
	}

	// C1's async façade: every request handler runs through a fixed-size
	// worker pool instead of directly against *sql.DB, bounding concurrent
	// store access to GOMAXPROCS regardless of inbound HTTP concurrency.
	a.dbPool = database.NewPool(0)

	restHandler := httpapi.NewHandler(httpapi.Deps{
		Hosts:       a.hosts,
		Monitors:    a.monitors,
		MonitorSync: a.monitorSvc,
		Alerts:      a.alerts,
		Batches:     a.batchSvc,
		BatchRead:   a.batches,
		Agents:      sender,
		Live:        a.fabric,
		Auth:        cfg.Auth,
	})
	a.Handler = asyncFacade(a.dbPool, restHandler)

	a.agentUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return a, nil
}

// ServeAgentWS upgrades an inbound agent connection and runs it through the
// session state machine until disconnect. Mounted by cmd/server at the
// agent-facing WebSocket route, distinct from httpapi's UI-facing /ws/live.
func (a *App) ServeAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.agentUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.WithField("err", err).Warn("agent websocket upgrade failed")
		return
	}
	duplex := protocol.NewWSServerDuplex(conn)
	if err := session.Handle(r.Context(), duplex, a.sessionDeps); err != nil {
		a.log.WithField("err", err).Debug("agent session ended")
	}
}

// ServeAgentTCP runs the raw-stream (non-WebSocket) duplex variant for one
// already-accepted connection; cmd/server's TCP accept loop calls this per
// connection in its own goroutine.
func (a *App) ServeAgentTCP(ctx context.Context, duplex protocol.ServerDuplex) {
	if err := session.Handle(ctx, duplex, a.sessionDeps); err != nil {
		a.log.WithField("err", err).Debug("agent session ended")
	}
}

// Start launches every periodic subsystem. Returns once all schedulers have
// been armed; each runs its own goroutine(s) until ctx is cancelled or Stop
// closes them.
func (a *App) Start(ctx context.Context) error {
	go a.fabric.Run(ctx)
	go a.writer.Run(ctx)

	if err := a.aggregation.Start(ctx, "@hourly"); err != nil {
		return fmt.Errorf("app: start aggregation scheduler: %w", err)
	}
	if err := a.traffic.Start(ctx); err != nil {
		return fmt.Errorf("app: start traffic scheduler: %w", err)
	}
	if err := a.renewal.Start(ctx); err != nil {
		return fmt.Errorf("app: start renewal scheduler: %w", err)
	}
	go a.alertSvc.Run(ctx)
	go a.sweepLoop(ctx)

	return nil
}

// Stop releases every cron-backed scheduler; goroutine-backed loops exit on
// ctx cancellation, which the caller is responsible for triggering first.
func (a *App) Stop() {
	a.aggregation.Stop()
	a.traffic.Stop()
	a.renewal.Stop()
	a.fabric.Close()
	a.dbPool.Close()
}

// asyncFacade routes every request's handling through pool, bounding
// concurrent store access the way spec §4.C1 describes for the async
// surface. /ws/live is excluded: it upgrades to a long-lived connection
// that does no direct store I/O of its own (it only relays broadcast.Fabric
// pushes), and holding a pool worker for a connection's whole lifetime
// would starve ordinary REST requests.
func asyncFacade(pool *database.Pool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws/live" {
			next.ServeHTTP(w, r)
			return
		}
		_ = pool.Submit(r.Context(), func(ctx context.Context) error {
			next.ServeHTTP(w, r.WithContext(ctx))
			return nil
		})
	})
}

// sweepLoop runs the C6 liveness sweep on the configured interval until ctx
// is cancelled.
func (a *App) sweepLoop(ctx context.Context) {
	interval := a.cfg.Runtime.SessionSweepInterval
	staleAfter := a.cfg.Runtime.SessionStaleAfter
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if session.Sweep(ctx, a.registry, &hostUpdater{hosts: a.hosts}, now, staleAfter) {
				a.fabric.Ping()
			}
		}
	}
}
