// dispatcher.go implements the debounced delivery trigger.

package jstrack

import (
	"sync"
	"time"
)

// Timer is a pending scheduled call.
type Timer interface {
	// Stop prevents the call from running. It reports whether the call was stopped.
	Stop() bool
}

// Scheduler runs f once after d elapses. The default uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// debouncer coalesces bursts of triggers into one call of fire, made once
// delay has passed without a new trigger.
type debouncer struct {
	mu      sync.Mutex
	sched   Scheduler
	delay   time.Duration
	pending Timer
	gen     uint64
	fire    func()
}

func newDebouncer(sched Scheduler, delay time.Duration, fire func()) *debouncer {
	return &debouncer{
		sched: sched,
		delay: delay,
		fire:  fire,
	}
}

// Trigger cancels the pending timer, if any, and schedules a new one.
// A timer that already fired but has not yet taken the lock sees a newer
// generation and does nothing.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = d.sched.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.mu.Unlock()

		d.fire()
	})
}

// Cancel drops the pending timer without firing. It reports whether one was pending.
func (d *debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return false
	}
	d.pending.Stop()
	d.pending = nil
	d.gen++
	return true
}

// SetDelay changes the quiet period for the next Trigger.
func (d *debouncer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}

// Pending reports whether a flush is scheduled.
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}
