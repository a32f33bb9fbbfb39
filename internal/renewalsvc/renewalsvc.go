// Package renewalsvc implements the renewal scheduler (C13): two
// independent 6-hour loops, one arming upcoming-renewal reminders, one
// advancing hosts whose auto-renewal is due.
package renewalsvc

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/renewal"
	"github.com/nodenexus/nodenexus/pkg/logger"
)

// Schedule is the 6-hour cadence both loops share (spec §4.C13: "every 6h").
const Schedule = "@every 6h"

// Pinger lets the scheduler wake the broadcast debouncer when a reminder
// flips on, matching every other state-changing path in the module.
type Pinger interface {
	Ping()
}

// HostStore is the C13 storage surface.
type HostStore interface {
	DueRenewalReminder(ctx context.Context, now time.Time) ([]*host.Host, error)
	DueAutoRenewal(ctx context.Context, now time.Time) ([]*host.Host, error)
	Update(ctx context.Context, h *host.Host) error
}

// Scheduler drives the two renewal loops on robfig/cron.
type Scheduler struct {
	Hosts  HostStore
	Fabric Pinger
	Log    *logger.Logger

	cron *cron.Cron
}

// New constructs a Scheduler.
func New(hosts HostStore, fabric Pinger, log *logger.Logger) *Scheduler {
	return &Scheduler{Hosts: hosts, Fabric: fabric, Log: log}
}

// Start registers both loops and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(Schedule, func() { s.ArmReminders(ctx, time.Now().UTC()) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(Schedule, func() { s.ProcessAutoRenewals(ctx, time.Now().UTC()) }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// ArmReminders finds renewals within 7 days whose reminder isn't active yet
// and flips it on (spec §4.C13 "Reminder activation").
func (s *Scheduler) ArmReminders(ctx context.Context, now time.Time) {
	due, err := s.Hosts.DueRenewalReminder(ctx, now)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Warn("renewalsvc: due-reminder query failed")
		}
		return
	}

	var changed bool
	for _, h := range due {
		if h.NextRenewalDate == nil || !renewal.ShouldArmReminder(now, *h.NextRenewalDate, h.ReminderActive) {
			continue
		}
		h.ReminderActive = true
		if err := s.Hosts.Update(ctx, h); err != nil {
			if s.Log != nil {
				s.Log.WithError(err).WithField("host_id", h.ID).Warn("renewalsvc: reminder update failed")
			}
			continue
		}
		changed = true
	}
	if changed && s.Fabric != nil {
		s.Fabric.Ping()
	}
}

// ProcessAutoRenewals advances every host whose auto-renewal is due,
// clearing its reminder flag (spec §4.C13 "Auto-renewal processing").
func (s *Scheduler) ProcessAutoRenewals(ctx context.Context, now time.Time) {
	due, err := s.Hosts.DueAutoRenewal(ctx, now)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Warn("renewalsvc: due-auto-renewal query failed")
		}
		return
	}

	for _, h := range due {
		if h.NextRenewalDate == nil || !renewal.ShouldAutoRenew(now, *h.NextRenewalDate, h.AutoRenewEnabled) {
			continue
		}
		last := *h.NextRenewalDate
		next := renewal.ComputeNext(last, renewal.Cycle(h.RenewalCycle), h.CustomDays)
		h.LastRenewalDate = &last
		h.NextRenewalDate = &next
		h.ReminderActive = false
		if err := s.Hosts.Update(ctx, h); err != nil && s.Log != nil {
			s.Log.WithError(err).WithField("host_id", h.ID).Warn("renewalsvc: auto-renewal update failed")
		}
	}
}
