// Package notify is the notification sender contract: a Sender turns one
// channel config plus a message into a delivery Result. Core ships no
// concrete Telegram/webhook transport (spec non-goal); callers register
// whatever Sender implementations they need against a Dispatcher.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nodenexus/nodenexus/pkg/logger"
)

// Channel is one parsed notification target: "telegram:123456" or
// "webhook:https://example.com/hook" split on the first colon.
type Channel struct {
	Type   string
	Config string
}

// ParseTargets splits an alert rule's comma-separated NotificationTarget
// field into individual channels. Empty segments are skipped.
func ParseTargets(raw string) []Channel {
	var out []Channel
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		typ, cfg, found := strings.Cut(part, ":")
		if !found {
			out = append(out, Channel{Type: "unknown", Config: part})
			continue
		}
		out = append(out, Channel{Type: typ, Config: cfg})
	}
	return out
}

// Result is one channel's delivery outcome.
type Result struct {
	Channel Channel
	SentAt  time.Time
	Err     error
}

// Sender delivers message to one channel. Implementations for concrete
// transports (Telegram, webhook, email) live outside core and register
// themselves with a Dispatcher by Channel.Type.
type Sender interface {
	Send(ctx context.Context, channel Channel, message string) error
}

// Dispatcher fans a message out to every channel in a rule's target list,
// isolating each channel's failure from the others (spec §7 — "one
// channel's failure must not suppress sends to the others for the same
// rule"), and rate-limits outbound sends so a rule with many channels (or
// many rules firing at once) cannot overwhelm a downstream transport.
type Dispatcher struct {
	senders map[string]Sender
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewDispatcher builds a Dispatcher. ratePerSecond/burst bound the overall
// outbound notification rate across all channels.
func NewDispatcher(log *logger.Logger, ratePerSecond float64, burst int) *Dispatcher {
	return &Dispatcher{
		senders: make(map[string]Sender),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		log:     log,
	}
}

// Register binds a Sender to a channel type (e.g. "telegram", "webhook").
func (d *Dispatcher) Register(channelType string, sender Sender) {
	d.senders[channelType] = sender
}

// Dispatch delivers message to every channel encoded in rawTargets,
// returning one Result per channel. An unregistered channel type or a
// rate-limiter wait error yields a Result carrying that error without
// touching any other channel.
func (d *Dispatcher) Dispatch(ctx context.Context, rawTargets, message string) []Result {
	channels := ParseTargets(rawTargets)
	results := make([]Result, 0, len(channels))
	for _, ch := range channels {
		results = append(results, d.sendOne(ctx, ch, message))
	}
	return results
}

func (d *Dispatcher) sendOne(ctx context.Context, ch Channel, message string) Result {
	if err := d.limiter.Wait(ctx); err != nil {
		return Result{Channel: ch, Err: fmt.Errorf("notify: rate limit wait: %w", err)}
	}

	sender, ok := d.senders[ch.Type]
	if !ok {
		return Result{Channel: ch, Err: fmt.Errorf("notify: no sender registered for channel type %q", ch.Type)}
	}

	if err := sender.Send(ctx, ch, message); err != nil {
		if d.log != nil {
			d.log.WithField("channel_type", ch.Type).WithError(err).Warn("notification send failed")
		}
		return Result{Channel: ch, Err: err}
	}
	return Result{Channel: ch, SentAt: time.Now()}
}
