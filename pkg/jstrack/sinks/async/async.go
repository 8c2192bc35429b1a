// Package async provides a sink wrapper with a bounded queue of batches.
// Batches are queued and written in the background; the oldest batch is
// dropped when the queue is full.
package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strongdm/jstrack/pkg/jstrack"
)

// AsyncSinkOption configures the async sink.
type AsyncSinkOption func(*asyncSinkConfig)

type asyncSinkConfig struct {
	queueSize    int
	pollInterval time.Duration
	onDropped    func(records int)
	onError      func(err error)
}

// WithQueueSize sets the maximum number of queued batches (default: 64).
func WithQueueSize(size int) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithPollInterval sets how often Flush checks for a drained queue (default: 10ms).
func WithPollInterval(d time.Duration) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithOnDropped sets a callback invoked with the record count of every batch
// dropped due to queue overflow.
func WithOnDropped(fn func(records int)) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		c.onDropped = fn
	}
}

// WithOnError sets a callback invoked when the inner sink fails a background write.
func WithOnError(fn func(err error)) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		c.onError = fn
	}
}

// asyncSink wraps a sink with a bounded queue.
type asyncSink struct {
	inner        jstrack.Sink
	queue        chan []jstrack.ErrorRecord
	done         chan struct{}
	closeOnce    sync.Once
	closeMu      sync.RWMutex
	closed       bool
	wg           sync.WaitGroup
	pending      atomic.Int64
	pollInterval time.Duration
	onDropped    func(records int)
	onError      func(err error)
}

// NewAsyncSink wraps a sink with a bounded queue for async writes.
// Write() returns immediately; batches are written in the background.
// When the queue is full, the oldest batch is dropped to make room.
func NewAsyncSink(inner jstrack.Sink, opts ...AsyncSinkOption) jstrack.Sink {
	cfg := &asyncSinkConfig{
		queueSize:    64,
		pollInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &asyncSink{
		inner:        inner,
		queue:        make(chan []jstrack.ErrorRecord, cfg.queueSize),
		done:         make(chan struct{}),
		pollInterval: cfg.pollInterval,
		onDropped:    cfg.onDropped,
		onError:      cfg.onError,
	}

	s.wg.Add(1)
	go s.processLoop()

	return s
}

// processLoop drains the queue and writes to the inner sink.
func (s *asyncSink) processLoop() {
	defer s.wg.Done()
	for {
		select {
		case batch := <-s.queue:
			s.write(batch)
		case <-s.done:
			// Drain remaining batches
			for {
				select {
				case batch := <-s.queue:
					s.write(batch)
				default:
					return
				}
			}
		}
	}
}

func (s *asyncSink) write(batch []jstrack.ErrorRecord) {
	defer s.pending.Add(-1)
	if err := s.inner.Write(context.Background(), batch); err != nil && s.onError != nil {
		s.onError(err)
	}
}

// Write enqueues a batch for async processing.
// Returns immediately. If the queue is full, drops the oldest batch.
func (s *asyncSink) Write(ctx context.Context, records []jstrack.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return jstrack.ErrClosed
	}

	batch := make([]jstrack.ErrorRecord, len(records))
	copy(batch, records)

	s.pending.Add(1)
	select {
	case s.queue <- batch:
	default:
		s.dropOldestAndEnqueue(batch)
	}
	return nil
}

// dropOldestAndEnqueue drops the oldest batch and enqueues the new one.
func (s *asyncSink) dropOldestAndEnqueue(batch []jstrack.ErrorRecord) {
	select {
	case old := <-s.queue:
		s.dropped(old)
	default:
		// Queue was emptied by processor, try again
	}

	select {
	case s.queue <- batch:
	default:
		// Still full, just drop the new batch
		s.dropped(batch)
	}
}

func (s *asyncSink) dropped(batch []jstrack.ErrorRecord) {
	s.pending.Add(-1)
	if s.onDropped != nil {
		s.onDropped(len(batch))
	}
}

// Flush blocks until every queued batch has been written, then flushes the
// inner sink.
func (s *asyncSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return s.inner.Flush(ctx)
}

// Close stops the background writer after draining the queue and closes the
// inner sink.
func (s *asyncSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.done)
		s.wg.Wait()
	})

	return s.inner.Close()
}
