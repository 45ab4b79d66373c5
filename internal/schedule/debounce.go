// Package schedule provides cancellable deferred work.
package schedule

import (
	"sync"
	"time"

	"github.com/telhawk-systems/deploydash/common/clock"
)

// Debouncer coalesces bursts of Trigger calls into a single invocation of
// fn, delay after the last call. Re-arming replaces the pending run rather
// than stacking another one.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration
	fn    func()

	mu         sync.Mutex
	armed      bool
	timer      *clock.Timer
	generation uint64
}

// NewDebouncer returns a Debouncer that runs fn on c after delay of quiet.
func NewDebouncer(c clock.Clock, delay time.Duration, fn func()) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	return &Debouncer{clock: c, delay: delay, fn: fn}
}

// Trigger arms the task, cancelling any run that is still pending.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.generation++
	d.armed = true
	gen := d.generation
	d.mu.Unlock()

	// The fake clock runs non-positive delays inline, so the timer is
	// created outside the lock.
	timer := d.clock.AfterFunc(d.delay, func() { d.fire(gen) })

	d.mu.Lock()
	if d.generation == gen && d.armed {
		d.timer = timer
	}
	d.mu.Unlock()
}

// Cancel drops a pending run. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelLocked()
}

// Flush runs fn now if a run was pending.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	pending := d.cancelLocked()
	d.mu.Unlock()
	if pending {
		d.fn()
	}
	return pending
}

// Pending reports whether a run is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *Debouncer) cancelLocked() bool {
	if !d.armed {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = nil
	d.armed = false
	d.generation++
	return true
}

// fire runs fn only for the most recent arm. A timer that was already
// running when it got replaced sees a stale generation and does nothing.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.generation != gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.armed = false
	d.mu.Unlock()
	d.fn()
}
