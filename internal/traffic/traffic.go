// Package traffic implements the traffic-cycle manager (C12): per-batch
// counter-delta accounting (performed inline by the writer's host-row
// update, see internal/writer) plus the periodic reset sweep that zeros
// each host's current-cycle counters once its reset deadline passes.
package traffic

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/renewal"
	"github.com/nodenexus/nodenexus/pkg/logger"
)

// ResetSweepSchedule runs the due-host scan every 5 minutes (spec §4.C12).
const ResetSweepSchedule = "@every 5m"

// HostStore is the C12 surface: find hosts whose reset is due, persist the
// reset.
type HostStore interface {
	DueTrafficReset(ctx context.Context, now time.Time) ([]*host.Host, error)
	Update(ctx context.Context, h *host.Host) error
}

// Scheduler drives the periodic traffic-reset sweep on a robfig/cron
// schedule, mirroring the rest of the module's periodic tasks (C3/C11/C13).
type Scheduler struct {
	Hosts HostStore
	Log   *logger.Logger

	cron *cron.Cron
}

// New constructs a Scheduler.
func New(hosts HostStore, log *logger.Logger) *Scheduler {
	return &Scheduler{Hosts: hosts, Log: log}
}

// Start registers the sweep and starts the cron scheduler. Call Stop to
// drain and shut it down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(ResetSweepSchedule, func() {
		s.Sweep(ctx, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep resets every host whose NextTrafficResetAt has passed, computing
// each host's next deadline per its configured ResetPolicy (spec §4.C12).
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	due, err := s.Hosts.DueTrafficReset(ctx, now)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Warn("traffic: due-reset query failed")
		}
		return
	}

	for _, h := range due {
		scheduled := *h.NextTrafficResetAt
		h.TrafficCurrentCycleRxBytes = 0
		h.TrafficCurrentCycleTxBytes = 0
		h.TrafficLastResetAt = &scheduled

		day, offsetSeconds := parseMonthlyPolicy(h.TrafficResetPolicyValue, h.TrafficCycleDayOfMonth)
		next := renewal.NextTrafficReset(scheduled, renewal.ResetPolicy(h.TrafficResetPolicy),
			day, offsetSeconds, parseFixedDays(h.TrafficResetPolicyValue))
		h.NextTrafficResetAt = &next

		if err := s.Hosts.Update(ctx, h); err != nil && s.Log != nil {
			s.Log.WithError(err).WithField("host_id", h.ID).Warn("traffic: reset update failed")
		}
	}
}

// defaultTrafficResetOffsetSeconds is 08:00 UTC, the spec example's
// "time_offset_seconds:28800" ("day:15,time_offset_seconds:28800").
const defaultTrafficResetOffsetSeconds = 8 * 60 * 60

// parseMonthlyPolicy reads "day:N,time_offset_seconds:M" out of a
// monthly_day_of_month policy value, falling back to fallbackDay and the
// spec's default 08:00 UTC offset for any key that's absent or malformed.
func parseMonthlyPolicy(value string, fallbackDay int) (day, offsetSeconds int) {
	day, offsetSeconds = fallbackDay, defaultTrafficResetOffsetSeconds
	for _, part := range splitComma(value) {
		key, num, ok := cutColonInt(part)
		if !ok {
			continue
		}
		switch key {
		case "day":
			day = num
		case "time_offset_seconds":
			offsetSeconds = num
		}
	}
	return day, offsetSeconds
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func cutColonInt(part string) (key string, num int, ok bool) {
	for i := 0; i < len(part); i++ {
		if part[i] == ':' {
			key = part[:i]
			digits := part[i+1:]
			n := 0
			found := false
			for _, c := range digits {
				if c < '0' || c > '9' {
					continue
				}
				n = n*10 + int(c-'0')
				found = true
			}
			return key, n, found
		}
	}
	return "", 0, false
}

func parseFixedDays(value string) int {
	n := 0
	for _, c := range value {
		if c < '0' || c > '9' {
			continue
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return 30
	}
	return n
}
