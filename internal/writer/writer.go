// Package writer implements the metric writer queue (C2): a single
// long-lived task draining a bounded channel of PerformanceSnapshot
// records, persisting each with its host's traffic-counter delta, and
// pinging the broadcast debouncer on success.
package writer

import (
	"context"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/metrics"
	"github.com/nodenexus/nodenexus/pkg/logger"
)

// QueueCapacity bounds the enqueue channel. Spec §4.C2 allows "unbounded or
// very-large bounded"; a large bounded channel keeps enqueue non-blocking
// in practice while bounding worst-case memory.
const QueueCapacity = 10_000

// SnapshotStore is the C2 persistence surface.
type SnapshotStore interface {
	Insert(ctx context.Context, s metrics.Snapshot) error
}

// HostStore resolves and persists the host row the traffic delta is
// folded into.
type HostStore interface {
	Get(ctx context.Context, id string) (*host.Host, error)
	Update(ctx context.Context, h *host.Host) error
}

// Pinger wakes the broadcast debouncer after a successful persist.
type Pinger interface {
	Ping()
}

// Writer is the wired C2 component: one queue, one consumer goroutine.
type Writer struct {
	snapshots SnapshotStore
	hosts     HostStore
	fabric    Pinger
	log       *logger.Logger

	queue chan metrics.Snapshot
}

// New constructs a Writer. Run must be started in its own goroutine.
func New(snapshots SnapshotStore, hosts HostStore, fabric Pinger, log *logger.Logger) *Writer {
	return &Writer{
		snapshots: snapshots,
		hosts:     hosts,
		fabric:    fabric,
		log:       log,
		queue:     make(chan metrics.Snapshot, QueueCapacity),
	}
}

// Enqueue offers s to the queue without blocking; if the queue is full the
// snapshot is dropped and a warning logged (spec §4.C2: "metric loss is
// preferred to backpressure into the agent-receive loop").
func (w *Writer) Enqueue(s metrics.Snapshot) {
	select {
	case w.queue <- s:
	default:
		if w.log != nil {
			w.log.WithField("host_id", s.HostID).Warn("writer: queue full, dropping snapshot")
		}
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-w.queue:
			w.persist(ctx, s)
		}
	}
}

func (w *Writer) persist(ctx context.Context, s metrics.Snapshot) {
	if err := w.snapshots.Insert(ctx, s); err != nil {
		if w.log != nil {
			w.log.WithError(err).WithField("host_id", s.HostID).Warn("writer: insert snapshot failed")
		}
		return
	}

	if err := w.applyTrafficDelta(ctx, s); err != nil && w.log != nil {
		w.log.WithError(err).WithField("host_id", s.HostID).Warn("writer: traffic delta update failed")
	}

	if w.fabric != nil {
		w.fabric.Ping()
	}
}

// applyTrafficDelta folds this snapshot's cumulative counters into the
// host's current-cycle traffic totals (spec §4.C12).
func (w *Writer) applyTrafficDelta(ctx context.Context, s metrics.Snapshot) error {
	h, err := w.hosts.Get(ctx, s.HostID)
	if err != nil {
		return err
	}
	h.ApplyTrafficDelta(s.NetworkRxCumulative, s.NetworkTxCumulative)
	return w.hosts.Update(ctx, h)
}
