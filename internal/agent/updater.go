package agent

import (
	"sync/atomic"

	"github.com/nodenexus/nodenexus/pkg/logger"
)

// Updater cooperatively single-flights update checks: a TriggerUpdateCheck
// that arrives while one is already running is a no-op, per spec §4.C14.
// The binary-swap mechanics are deployment-specific (packaging, download
// source); here the hook is a replaceable func so an embedder can wire a
// real one without touching the single-flight guard.
type Updater struct {
	log     *logger.Logger
	running int32

	Check func() error
}

// NewUpdater constructs an Updater with a no-op Check; set Check to wire a
// real update mechanism.
func NewUpdater(log *logger.Logger) *Updater {
	return &Updater{log: log, Check: func() error { return nil }}
}

// TriggerCheck attempts to acquire the single-flight guard; if another
// check is already in flight, this call is a no-op and returns
// immediately.
func (u *Updater) TriggerCheck() {
	if !atomic.CompareAndSwapInt32(&u.running, 0, 1) {
		if u.log != nil {
			u.log.Debug("agent: update check already in flight, ignoring trigger")
		}
		return
	}
	go func() {
		defer atomic.StoreInt32(&u.running, 0)
		if err := u.Check(); err != nil && u.log != nil {
			u.log.WithError(err).Warn("agent: update check failed")
		}
	}()
}
