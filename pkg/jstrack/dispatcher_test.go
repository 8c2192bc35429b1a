package jstrack

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_FiresOnceAfterQuietPeriod(t *testing.T) {
	sched := &fakeScheduler{}
	var fired atomic.Int32
	d := newDebouncer(sched, testDelay, func() { fired.Add(1) })

	d.Trigger()
	d.Trigger()
	d.Trigger()
	if sched.Armed() != 1 {
		t.Errorf("Armed timers = %d, want 1", sched.Armed())
	}

	sched.Advance(testDelay - time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired before the quiet period elapsed")
	}
	sched.Advance(time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}
	if d.Pending() {
		t.Error("Pending should be false after firing")
	}
}

func TestDebouncer_RetriggerPostpones(t *testing.T) {
	sched := &fakeScheduler{}
	var fired atomic.Int32
	d := newDebouncer(sched, testDelay, func() { fired.Add(1) })

	d.Trigger()
	sched.Advance(testDelay / 2)
	d.Trigger()
	sched.Advance(testDelay / 2)
	if fired.Load() != 0 {
		t.Fatalf("retrigger should postpone the flush")
	}
	sched.Advance(testDelay / 2)
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}
}

func TestDebouncer_StaleTimerDoesNothing(t *testing.T) {
	sched := &fakeScheduler{}
	var fired atomic.Int32
	d := newDebouncer(sched, testDelay, func() { fired.Add(1) })

	d.Trigger()
	stale := sched.timers[0].f
	d.Trigger()

	// A timer that fired after Stop lost the race runs its callback anyway.
	stale()
	if fired.Load() != 0 {
		t.Errorf("superseded timer should not fire")
	}
	if !d.Pending() {
		t.Error("the newer timer should still be pending")
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	sched := &fakeScheduler{}
	var fired atomic.Int32
	d := newDebouncer(sched, testDelay, func() { fired.Add(1) })

	if d.Cancel() {
		t.Error("Cancel with nothing pending should return false")
	}
	d.Trigger()
	if !d.Cancel() {
		t.Error("Cancel should report the pending timer")
	}
	sched.Advance(testDelay)
	if fired.Load() != 0 {
		t.Errorf("cancelled timer fired")
	}
}

func TestDebouncer_SetDelay(t *testing.T) {
	sched := &fakeScheduler{}
	var fired atomic.Int32
	d := newDebouncer(sched, testDelay, func() { fired.Add(1) })

	d.SetDelay(time.Second)
	d.Trigger()
	sched.Advance(testDelay)
	if fired.Load() != 0 {
		t.Fatalf("fired with the old delay")
	}
	sched.Advance(time.Second)
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}
}

func TestDebouncer_RealScheduler(t *testing.T) {
	done := make(chan struct{})
	d := newDebouncer(realScheduler{}, 10*time.Millisecond, func() { close(done) })

	d.Trigger()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("real scheduler never fired")
	}
}
