package jstrack

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeScheduler is a manually advanced clock for debounce tests.
type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that came due, in
// deadline order, outside the scheduler lock.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Armed returns the number of timers that are neither stopped nor fired.
func (s *fakeScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recordingSink captures batches for verification in tests.
type recordingSink struct {
	mu       sync.Mutex
	batches  [][]ErrorRecord
	writeErr error
	panicMsg string
	flushes  int
	closed   bool
}

func (s *recordingSink) Write(ctx context.Context, records []ErrorRecord) error {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]ErrorRecord, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return s.writeErr
}

func (s *recordingSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) getBatches() [][]ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([][]ErrorRecord, len(s.batches))
	copy(result, s.batches)
	return result
}

func (s *recordingSink) getRecords() []ErrorRecord {
	var all []ErrorRecord
	for _, b := range s.getBatches() {
		all = append(all, b...)
	}
	return all
}

// recordingObserver counts pipeline notifications.
type recordingObserver struct {
	mu        sync.Mutex
	captured  map[Kind]int
	discarded map[DiscardReason]int
	flushed   []int
	flushErrs []error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		captured:  make(map[Kind]int),
		discarded: make(map[DiscardReason]int),
	}
}

func (o *recordingObserver) Captured(kind Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.captured[kind]++
}

func (o *recordingObserver) Discarded(kind Kind, reason DiscardReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discarded[reason]++
}

func (o *recordingObserver) Flushed(size int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushed = append(o.flushed, size)
	o.flushErrs = append(o.flushErrs, err)
}

func (o *recordingObserver) discards(reason DiscardReason) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.discarded[reason]
}

func (o *recordingObserver) captures(kind Kind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.captured[kind]
}

// alwaysAdmit is a sampling draw that never rejects.
func alwaysAdmit() float64 { return 0 }

// newTestPipeline returns a batch-mode pipeline on a fake clock.
func newTestPipeline(t interface{ Fatalf(string, ...any) }, opts ...Option) (*Pipeline, *recordingSink, *fakeScheduler) {
	sink := &recordingSink{}
	sched := &fakeScheduler{}
	base := []Option{
		WithSink(sink),
		WithScheduler(sched),
		WithRandom(alwaysAdmit),
		WithConsole(func(any) {}),
	}
	p, err := NewPipeline(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewPipeline returned error: %v", err)
	}
	return p, sink, sched
}
