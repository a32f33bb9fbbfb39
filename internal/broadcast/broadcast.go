// Package broadcast implements the debounced broadcast fabric (C5): two
// pub/sub topics (authenticated, public) fed by a single debounced
// coalescing loop, plus an undebounced per-monitor-result bypass.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/nodenexus/nodenexus/internal/cache"
	"github.com/nodenexus/nodenexus/internal/domain/monitor"
)

// Debounce is the coalescing window from spec §4.C5.
const Debounce = 2000 * time.Millisecond

// FullServerList is the payload both topics receive after a debounce
// cycle. Public subscribers get a redacted view (see Redact).
type FullServerList struct {
	Servers []cache.ServerWithDetails
}

// Redact strips fields the public topic must never carry: renewal, traffic
// limits, tags, and IP addresses. Name, status, and basic metrics survive.
func (f FullServerList) Redact() FullServerList {
	out := make([]cache.ServerWithDetails, len(f.Servers))
	for i, s := range f.Servers {
		redacted := s
		redacted.Host.PublicIPAddresses = nil
		redacted.Host.Tags = nil
		redacted.Host.TrafficLimitBytes = 0
		redacted.Host.NextRenewalDate = nil
		redacted.Host.NextTrafficResetAt = nil
		out[i] = redacted
	}
	return FullServerList{Servers: out}
}

// MonitorResultEvent is the undebounced, per-result broadcast variant.
type MonitorResultEvent struct {
	Result monitor.Result
}

// Topic is a fan-out point: every Subscribe call gets its own buffered
// channel so one slow consumer cannot stall the others.
type Topic struct {
	mu          sync.Mutex
	subscribers map[chan any]struct{}
}

func newTopic() *Topic {
	return &Topic{subscribers: make(map[chan any]struct{})}
}

// Subscribe registers a new consumer channel; call the returned func to
// unsubscribe and close the channel.
func (t *Topic) Subscribe(buffer int) (<-chan any, func()) {
	ch := make(chan any, buffer)
	t.mu.Lock()
	t.subscribers[ch] = struct{}{}
	t.mu.Unlock()

	unsub := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subscribers[ch]; ok {
			delete(t.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsub
}

func (t *Topic) publish(msg any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subscribers {
		select {
		case ch <- msg:
		default:
			// Slow consumer: drop rather than block the fabric. The next
			// FullServerList supersedes any missed one anyway.
		}
	}
}

// Store is the read surface the debounce loop rebuilds the cache from.
type Store interface {
	AllHostIDs(ctx context.Context) ([]string, error)
}

// Fabric owns the two topics and the debounce consumer loop.
type Fabric struct {
	Authenticated *Topic
	Public        *Topic

	cache   *cache.Cache
	store   Store
	pings   chan struct{}
	closing chan struct{}
	done    chan struct{}
}

// New constructs a Fabric. Run must be started in its own goroutine.
func New(c *cache.Cache, store Store) *Fabric {
	return &Fabric{
		Authenticated: newTopic(),
		Public:        newTopic(),
		cache:         c,
		store:         store,
		pings:         make(chan struct{}, 1),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Ping schedules a rebuild-and-publish cycle. Non-blocking: a ping already
// queued is sufficient, matching "drain any additional pings" in step 3.
func (f *Fabric) Ping() {
	select {
	case f.pings <- struct{}{}:
	default:
	}
}

// PublishMonitorResult bypasses the debouncer entirely (spec §4.C5: "ship
// on a separate message variant").
func (f *Fabric) PublishMonitorResult(res monitor.Result) {
	evt := MonitorResultEvent{Result: res}
	f.Authenticated.publish(evt)
}

// PublishAuthenticated ships an arbitrary small, independent event (e.g.
// C10's NewLogOutput/ChildTaskUpdate/BatchTaskUpdate) straight to the
// authenticated topic, bypassing the debouncer the same way
// PublishMonitorResult does.
func (f *Fabric) PublishAuthenticated(event any) {
	f.Authenticated.publish(event)
}

// Run is the single consumer task implementing the four-step debounce
// contract. It exits when ctx is cancelled or Close is called.
func (f *Fabric) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.closing:
			return
		case <-f.pings:
		}

		timer := time.NewTimer(Debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		f.drainPings()
		f.rebuildAndPublish(ctx)
	}
}

func (f *Fabric) drainPings() {
	for {
		select {
		case <-f.pings:
		default:
			return
		}
	}
}

func (f *Fabric) rebuildAndPublish(ctx context.Context) {
	hostIDs, err := f.store.AllHostIDs(ctx)
	if err != nil {
		return
	}
	for _, id := range hostIDs {
		_ = f.cache.Refresh(ctx, id)
	}

	full := FullServerList{Servers: f.cache.Snapshot()}
	f.Authenticated.publish(full)
	f.Public.publish(full.Redact())
}

// Close stops Run and waits for it to exit.
func (f *Fabric) Close() {
	select {
	case <-f.closing:
	default:
		close(f.closing)
	}
	<-f.done
}
