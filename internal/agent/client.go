// Package agent implements the agent-side runtime (C14): the
// connect-handshake-reconnect client, the metrics collector, the
// service-monitor reconciler, the batch-command executor, the config
// handler, and the self-updater, wired together by Client.
package agent

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/url"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nodenexus/nodenexus/pkg/logger"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// Identity is the pre-shared credential an agent authenticates the
// handshake with; NewAgentSecret in the ack (if set) replaces Secret for
// every subsequent reconnect.
type Identity struct {
	HostID  string
	Secret  string
	Version string
}

// Options configures a Client.
type Options struct {
	ServerAddr string // e.g. "ws://host:8080/agent/ws" or "tcp://host:9090"
	Identity   Identity

	ConfigPath string

	MinBackoff time.Duration
	MaxBackoff time.Duration // spec §4.C14: capped at, e.g., 60s
}

// Client owns the single active session to the server and every
// subsystem whose cadence depends on it.
type Client struct {
	opts Options
	log  *logger.Logger

	identity Identity

	config    *ConfigStore
	collector *Collector
	monitors  *MonitorRunner
	commands  *CommandExecutor
	updater   *Updater

	sendMu sync.Mutex
	duplex protocol.AgentDuplex

	batchMu sync.Mutex
	batch   []protocol.PerformanceSnapshot
}

// New constructs a Client with every subsystem wired to send through its
// current duplex (set per-connection inside Run).
func New(opts Options, log *logger.Logger) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 60 * time.Second
	}

	c := &Client{
		opts:      opts,
		log:       log,
		identity:  opts.Identity,
		collector: NewCollector(),
		updater:   NewUpdater(log),
	}
	c.config = NewConfigStore(opts.ConfigPath, protocol.AgentConfig{
		MetricsCollectIntervalSeconds: 10,
		MetricsUploadIntervalSeconds:  60,
		MetricsUploadBatchMaxSize:     120,
		HeartbeatIntervalSeconds:      30,
		LogLevel:                      "info",
	})
	c.monitors = NewMonitorRunner(c, log)
	c.commands = NewCommandExecutor(c, log)
	return c
}

// SendResult implements MonitorSink.
func (c *Client) SendResult(res protocol.ServiceMonitorResult) {
	c.send(&protocol.MessageToServer{MonitorResult: &res})
}

// SendOutput implements CommandSink.
func (c *Client) SendOutput(chunk protocol.BatchCommandOutputStream) {
	c.send(&protocol.MessageToServer{BatchOutputStream: &chunk})
}

// SendCommandResult implements CommandSink (named differently from
// MonitorSink's SendResult to keep both interfaces satisfied without a
// method-name collision).
func (c *Client) SendCommandResult(res protocol.BatchCommandResult) {
	c.send(&protocol.MessageToServer{BatchResult: &res})
}

func (c *Client) send(msg *protocol.MessageToServer) {
	msg.VPSDBID = c.identity.HostID
	msg.AgentSecret = c.identity.Secret

	c.sendMu.Lock()
	d := c.duplex
	c.sendMu.Unlock()
	if d == nil {
		return
	}
	if err := d.Send(msg); err != nil && c.log != nil {
		c.log.WithError(err).Debug("agent: send failed")
	}
}

// Run maintains exactly one active session, reconnecting with exponential
// backoff on failure, until ctx is cancelled. An authentication failure is
// fatal: Run returns the error instead of retrying, per spec.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if errors.Is(err, errAuthFailed) {
			return err
		}
		if c.log != nil {
			c.log.WithError(err).Warnf("agent: session ended, reconnecting in %s", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter(backoff/4)):
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

var errAuthFailed = errors.New("agent: authentication failed")

func (c *Client) runOnce(ctx context.Context) error {
	duplex, err := dial(ctx, c.opts.ServerAddr)
	if err != nil {
		return err
	}
	defer duplex.Close()

	c.sendMu.Lock()
	c.duplex = duplex
	c.sendMu.Unlock()
	defer func() {
		c.sendMu.Lock()
		c.duplex = nil
		c.sendMu.Unlock()
	}()

	ack, err := c.handshake(duplex)
	if err != nil {
		return err
	}
	if !ack.AuthenticationSuccessful {
		return errAuthFailed
	}
	if ack.NewAgentSecret != "" {
		c.identity.Secret = ack.NewAgentSecret
	}
	if ack.InitialConfig != nil {
		_ = c.config.Replace(*ack.InitialConfig)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.metricsLoop(sessionCtx) }()
	go func() { defer wg.Done(); c.monitorReconcileLoop(sessionCtx) }()
	go func() { defer wg.Done(); c.heartbeatLoop(sessionCtx) }()

	readErr := c.readLoop(sessionCtx, duplex)
	cancel()
	c.monitors.StopAll()
	wg.Wait()
	return readErr
}

func (c *Client) handshake(duplex protocol.AgentDuplex) (*protocol.ServerHandshakeAck, error) {
	hostname, _ := os.Hostname()
	handshake := &protocol.AgentHandshake{
		AgentIDHint:  c.identity.HostID,
		AgentVersion: c.identity.Version,
		OSType:       runtime.GOOS,
		OSName:       runtime.GOOS,
		Arch:         runtime.GOARCH,
		Hostname:     hostname,
	}
	if err := duplex.Send(&protocol.MessageToServer{
		VPSDBID:     c.identity.HostID,
		AgentSecret: c.identity.Secret,
		Handshake:   handshake,
	}); err != nil {
		return nil, err
	}
	reply, err := duplex.Recv()
	if err != nil {
		return nil, err
	}
	if reply.HandshakeAck == nil {
		return nil, errors.New("agent: expected handshake ack as first reply")
	}
	return reply.HandshakeAck, nil
}

func (c *Client) readLoop(ctx context.Context, duplex protocol.AgentDuplex) error {
	for {
		msg, err := duplex.Recv()
		if err != nil {
			return err
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Client) dispatch(ctx context.Context, msg *protocol.MessageToAgent) {
	switch {
	case msg.UpdateConfig != nil:
		err := c.config.Replace(msg.UpdateConfig.NewConfig)
		resp := protocol.UpdateConfigResponse{ConfigVersionID: msg.UpdateConfig.ConfigVersionID, Success: err == nil}
		if err != nil {
			resp.ErrorMessage = err.Error()
		}
		c.send(&protocol.MessageToServer{UpdateConfigResponse: &resp})
	case msg.AgentCommand != nil:
		go c.commands.Run(ctx, *msg.AgentCommand)
	case msg.TerminateCommand != nil:
		c.commands.Terminate(msg.TerminateCommand.CommandID)
	case msg.TriggerUpdate != nil:
		c.updater.TriggerCheck()
	}
}

func (c *Client) metricsLoop(ctx context.Context) {
	cfg := c.config.Current()
	collectEvery := time.Duration(cfg.MetricsCollectIntervalSeconds) * time.Second
	uploadEvery := time.Duration(cfg.MetricsUploadIntervalSeconds) * time.Second
	if collectEvery <= 0 {
		collectEvery = 10 * time.Second
	}
	if uploadEvery <= 0 {
		uploadEvery = 60 * time.Second
	}

	collectTicker := time.NewTicker(collectEvery)
	uploadTicker := time.NewTicker(uploadEvery)
	defer collectTicker.Stop()
	defer uploadTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-collectTicker.C:
			snap, err := c.collector.Collect(ctx)
			if err != nil {
				continue
			}
			c.batchMu.Lock()
			c.batch = append(c.batch, snap)
			shouldFlush := len(c.batch) >= c.config.Current().MetricsUploadBatchMaxSize && c.config.Current().MetricsUploadBatchMaxSize > 0
			c.batchMu.Unlock()
			if shouldFlush {
				c.flushBatch()
			}
		case <-uploadTicker.C:
			c.flushBatch()
		}
	}
}

func (c *Client) flushBatch() {
	c.batchMu.Lock()
	if len(c.batch) == 0 {
		c.batchMu.Unlock()
		return
	}
	out := c.batch
	c.batch = nil
	c.batchMu.Unlock()

	c.send(&protocol.MessageToServer{PerformanceBatch: &protocol.PerformanceBatch{Snapshots: out}})
}

func (c *Client) monitorReconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.monitors.Reconcile(ctx, c.config.Current().ServiceMonitorTasks)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	interval := time.Duration(c.config.Current().HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.send(&protocol.MessageToServer{Heartbeat: &protocol.Heartbeat{TimestampUnixMS: time.Now().UnixMilli()}})
		}
	}
}

// dial opens the transport named by addr's scheme: "ws"/"wss" for a
// WebSocket duplex, "tcp" for the raw RPC-stream duplex.
func dial(ctx context.Context, addr string) (protocol.AgentDuplex, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws", "wss":
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		return protocol.NewWSAgentDuplex(conn), nil
	case "tcp", "":
		host := u.Host
		if host == "" {
			host = strings.TrimPrefix(addr, "tcp://")
		}
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, err
		}
		return protocol.NewTCPAgentDuplex(conn), nil
	default:
		return nil, errors.New("agent: unsupported server address scheme " + u.Scheme)
	}
}

// jitter returns a value in [0, d) to desynchronize many agents restarting
// together after an outage.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}
