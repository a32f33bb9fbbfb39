package agent

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nodenexus/nodenexus/pkg/logger"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

// MonitorSink is where a completed probe result is sent upstream.
type MonitorSink interface {
	SendResult(res protocol.ServiceMonitorResult)
}

// MonitorRunner reconciles the currently-applied set of ServiceMonitorTasks
// against a table of running probe loops: every 5s it diffs the two sets,
// stopping removed tasks, starting added ones, and restarting any whose
// definition changed (spec §4.C14's "service-monitor reconciler").
type MonitorRunner struct {
	sink MonitorSink
	log  *logger.Logger

	mu      sync.Mutex
	running map[string]*runningProbe
}

type runningProbe struct {
	task   protocol.ServiceMonitorTask
	cancel context.CancelFunc
}

// NewMonitorRunner constructs an idle runner; call Reconcile on a 5s
// ticker with the agent's current config.
func NewMonitorRunner(sink MonitorSink, log *logger.Logger) *MonitorRunner {
	return &MonitorRunner{sink: sink, log: log, running: make(map[string]*runningProbe)}
}

// Reconcile brings the running probe set in line with tasks.
func (r *MonitorRunner) Reconcile(ctx context.Context, tasks []protocol.ServiceMonitorTask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]protocol.ServiceMonitorTask, len(tasks))
	for _, t := range tasks {
		wanted[t.MonitorID] = t
	}

	for id, rp := range r.running {
		if _, ok := wanted[id]; !ok {
			rp.cancel()
			delete(r.running, id)
		}
	}

	for id, task := range wanted {
		existing, ok := r.running[id]
		if ok && sameTask(existing.task, task) {
			continue
		}
		if ok {
			existing.cancel()
			delete(r.running, id)
		}
		probeCtx, cancel := context.WithCancel(ctx)
		r.running[id] = &runningProbe{task: task, cancel: cancel}
		go r.runLoop(probeCtx, task)
	}
}

// StopAll cancels every running probe; used on shutdown.
func (r *MonitorRunner) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rp := range r.running {
		rp.cancel()
		delete(r.running, id)
	}
}

func sameTask(a, b protocol.ServiceMonitorTask) bool {
	return a.MonitorType == b.MonitorType &&
		a.Target == b.Target &&
		a.IntervalSeconds == b.IntervalSeconds &&
		a.TimeoutSeconds == b.TimeoutSeconds &&
		a.ConfigJSON == b.ConfigJSON
}

func (r *MonitorRunner) runLoop(ctx context.Context, task protocol.ServiceMonitorTask) {
	interval := time.Duration(task.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.probeOnce(ctx, task)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeOnce(ctx, task)
		}
	}
}

func (r *MonitorRunner) probeOnce(ctx context.Context, task protocol.ServiceMonitorTask) {
	timeout := time.Duration(task.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var success bool
	var details string

	switch task.MonitorType {
	case "http":
		success, details = probeHTTP(probeCtx, task.Target, false)
	case "https":
		success, details = probeHTTP(probeCtx, task.Target, true)
	case "tcp":
		success, details = probeTCP(probeCtx, task.Target, timeout)
	case "ping":
		success, details = probePing(probeCtx, task.Target, timeout)
	default:
		success, details = false, "unknown monitor type"
	}

	latency := time.Since(start).Milliseconds()
	res := protocol.ServiceMonitorResult{
		MonitorID:       task.MonitorID,
		TimestampUnixMS: time.Now().UnixMilli(),
		Successful:      success,
		ResponseTimeMS:  &latency,
		Details:         details,
	}
	if r.sink != nil {
		r.sink.SendResult(res)
	}
}

func probeHTTP(ctx context.Context, target string, useTLS bool) (bool, string) {
	url := target
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: useTLS}, //nolint:gosec // probing reachability, not validating identity
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return true, ""
	}
	return false, resp.Status
}

func probeTCP(ctx context.Context, target string, timeout time.Duration) (bool, string) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return false, err.Error()
	}
	_ = conn.Close()
	return true, ""
}

// probePing sends a single ICMP echo with a random identifier. Raw ICMP
// sockets need elevated privileges on most platforms; an agent without
// them reports the dial error as the probe failure, matching how the
// other probe types surface unreachability.
func probePing(ctx context.Context, target string, timeout time.Duration) (bool, string) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "ip4:icmp", target)
	if err != nil {
		return false, err.Error()
	}
	defer conn.Close()

	id := uint16(rand.Intn(1 << 16))
	msg := buildEchoRequest(id, 1)
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return false, err.Error()
	}
	if _, err := conn.Write(msg); err != nil {
		return false, err.Error()
	}
	reply := make([]byte, 512)
	if _, err := conn.Read(reply); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// buildEchoRequest constructs a minimal ICMP echo-request packet.
func buildEchoRequest(id, seq uint16) []byte {
	msg := make([]byte, 8)
	msg[0] = 8 // type: echo request
	msg[1] = 0 // code
	msg[4] = byte(id >> 8)
	msg[5] = byte(id)
	msg[6] = byte(seq >> 8)
	msg[7] = byte(seq)

	var checksum uint32
	for i := 0; i < len(msg); i += 2 {
		checksum += uint32(msg[i])<<8 | uint32(msg[i+1])
	}
	for checksum>>16 > 0 {
		checksum = (checksum & 0xffff) + (checksum >> 16)
	}
	cs := ^uint16(checksum)
	msg[2] = byte(cs >> 8)
	msg[3] = byte(cs)
	return msg
}
