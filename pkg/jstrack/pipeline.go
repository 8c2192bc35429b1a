// pipeline.go provides the Pipeline controller and its configuration options.

package jstrack

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotInitialized is returned by Flush before Init.
var ErrNotInitialized = errors.New("jstrack: pipeline not initialized")

// Default configuration values.
const (
	DefaultBatchMode     = true
	DefaultDebounceDelay = 2 * time.Second
	DefaultMaxQueueSize  = 16
	DefaultSamplingRate  = 1.0
)

// Handlers are the capture entry points an EventSource calls into.
type Handlers struct {
	RuntimeError  func(RuntimeSignal)
	ResourceError func(ResourceSignal)
	ConsoleError  func(arg any)
}

// EventSource delivers host signals to the pipeline. Subscribe is called once,
// on the first Init.
type EventSource interface {
	Subscribe(h Handlers) error
}

// Config is the resolved pipeline configuration.
type Config struct {
	// BatchMode buffers records and delivers them after a quiet period.
	// When false, each admitted record is delivered on its own immediately.
	BatchMode bool

	// DebounceDelay is the quiet period before a batch is flushed.
	DebounceDelay time.Duration

	// MaxQueueSize caps the number of buffered records.
	MaxQueueSize int

	// SamplingRate is the probability, in [0,1], that a record is admitted.
	SamplingRate float64

	// Sink receives the batches.
	Sink Sink

	// Console is the original console error function. OnConsoleError always
	// calls it after capturing.
	Console func(arg any)
}

// DefaultConfig returns the configuration used when no option overrides it.
func DefaultConfig() Config {
	return Config{
		BatchMode:     DefaultBatchMode,
		DebounceDelay: DefaultDebounceDelay,
		MaxQueueSize:  DefaultMaxQueueSize,
		SamplingRate:  DefaultSamplingRate,
		Sink:          &noopSinkInternal{},
		Console:       defaultConsole,
	}
}

func defaultConsole(arg any) {
	fmt.Fprintln(os.Stderr, arg)
}

// Option configures a Pipeline at Init.
type Option func(*settings)

type settings struct {
	cfg       Config
	source    EventSource
	logger    *zerolog.Logger
	observer  Observer
	scrubber  *Scrubber
	hostState *bool
	scheduler Scheduler
	random    func() float64
}

// WithBatchMode enables or disables buffering and debounced delivery.
func WithBatchMode(enabled bool) Option {
	return func(s *settings) {
		s.cfg.BatchMode = enabled
	}
}

// WithDebounceDelay sets the quiet period before a batch flush (default: 2s).
// Negative values are ignored.
func WithDebounceDelay(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.cfg.DebounceDelay = d
		}
	}
}

// WithMaxQueueSize sets the hard cap on buffered records (default: 16).
// Non-positive values are ignored.
func WithMaxQueueSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.cfg.MaxQueueSize = n
		}
	}
}

// WithSamplingRate sets the per-record admission probability (default: 1).
// Rates outside [0,1] behave as 1.
func WithSamplingRate(rate float64) Option {
	return func(s *settings) {
		s.cfg.SamplingRate = rate
	}
}

// WithSink sets the sink that receives batches.
func WithSink(sink Sink) Option {
	return func(s *settings) {
		if sink != nil {
			s.cfg.Sink = sink
		}
	}
}

// WithReportFunc sets a plain callback as the sink.
func WithReportFunc(fn func(ctx context.Context, records []ErrorRecord) error) Option {
	return func(s *settings) {
		if fn != nil {
			s.cfg.Sink = SinkFunc(fn)
		}
	}
}

// WithConsole sets the original console error function that OnConsoleError
// passes through to (default: print to stderr).
func WithConsole(fn func(arg any)) Option {
	return func(s *settings) {
		if fn != nil {
			s.cfg.Console = fn
		}
	}
}

// WithEventSource sets the source whose signals feed the pipeline.
func WithEventSource(src EventSource) Option {
	return func(s *settings) {
		s.source = src
	}
}

// WithLogger sets the logger for sink failures and lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = &logger
	}
}

// WithObserver sets the observer notified of captures, discards and flushes.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithScrubber configures the pipeline with a custom scrubber configuration.
func WithScrubber(cfg ScrubberConfig) Option {
	return func(s *settings) {
		s.scrubber = NewScrubber(cfg)
	}
}

// WithDefaultScrubbing enables scrubbing with production-safe defaults.
func WithDefaultScrubbing() Option {
	return func(s *settings) {
		s.scrubber = NewScrubber(DefaultScrubberConfig())
	}
}

// WithHostState attaches a HostState snapshot to every admitted record.
func WithHostState(enabled bool) Option {
	return func(s *settings) {
		s.hostState = &enabled
	}
}

// WithScheduler sets the timer source for debounced flushes.
func WithScheduler(sched Scheduler) Option {
	return func(s *settings) {
		if sched != nil {
			s.scheduler = sched
		}
	}
}

// WithRandom sets the source of uniform draws in [0,1) used for sampling.
func WithRandom(fn func() float64) Option {
	return func(s *settings) {
		if fn != nil {
			s.random = fn
		}
	}
}

// Pipeline captures, classifies, samples, buffers and delivers error records.
//
// A Pipeline starts uninitialized; Init moves it to active. Entry points are
// safe for concurrent use.
type Pipeline struct {
	mu sync.Mutex

	cfg        Config
	active     bool
	closed     bool
	subscribed bool

	queue        *errorQueue
	debounce     *debouncer
	suppressNext bool
	guards       *guardRegistry

	logger    zerolog.Logger
	observer  Observer
	scrubber  *Scrubber
	hostState bool
	scheduler Scheduler
	random    func() float64
	startTime time.Time
}

// New returns an uninitialized Pipeline. Signals reaching it before Init are
// dropped.
func New() *Pipeline {
	return &Pipeline{
		cfg:       DefaultConfig(),
		guards:    newGuardRegistry(),
		logger:    zerolog.Nop(),
		observer:  noopObserver{},
		scheduler: realScheduler{},
		random:    rand.Float64,
		startTime: time.Now(),
	}
}

// NewPipeline returns an initialized Pipeline.
func NewPipeline(opts ...Option) (*Pipeline, error) {
	p := New()
	if err := p.Init(opts...); err != nil {
		return nil, err
	}
	return p, nil
}

// Init applies opts over the current configuration (the defaults on the first
// call; last write wins afterwards) and activates the pipeline. The event
// source is subscribed on the first call only.
func (p *Pipeline) Init(opts ...Option) error {
	p.mu.Lock()

	s := &settings{cfg: p.cfg}
	for _, opt := range opts {
		opt(s)
	}

	p.cfg = s.cfg
	if s.logger != nil {
		p.logger = *s.logger
	}
	if s.observer != nil {
		p.observer = s.observer
	}
	if s.scrubber != nil {
		p.scrubber = s.scrubber
	}
	if s.hostState != nil {
		p.hostState = *s.hostState
	}
	if s.random != nil {
		p.random = s.random
	}

	var trimmed []ErrorRecord
	if p.queue == nil {
		p.queue = newErrorQueue(p.cfg.MaxQueueSize)
	} else {
		trimmed = p.queue.resize(p.cfg.MaxQueueSize)
	}

	reinit := p.active
	if p.debounce == nil {
		if s.scheduler != nil {
			p.scheduler = s.scheduler
		}
		p.debounce = newDebouncer(p.scheduler, p.cfg.DebounceDelay, p.flushPending)
	} else {
		p.debounce.SetDelay(p.cfg.DebounceDelay)
	}
	p.active = true

	source := s.source
	subscribe := source != nil && !p.subscribed
	if subscribe {
		p.subscribed = true
	}
	logger := p.logger
	observer := p.observer
	p.mu.Unlock()

	for _, r := range trimmed {
		observer.Discarded(r.Kind, ReasonQueueOverflow)
	}

	if reinit {
		logger.Debug().
			Bool("batch_mode", s.cfg.BatchMode).
			Dur("debounce_delay", s.cfg.DebounceDelay).
			Int("max_queue_size", s.cfg.MaxQueueSize).
			Float64("sampling_rate", s.cfg.SamplingRate).
			Msg("jstrack: pipeline reconfigured")
		if source != nil && !subscribe {
			logger.Warn().Msg("jstrack: event source already subscribed, ignoring")
		}
	}

	if subscribe {
		if err := source.Subscribe(p.Handlers()); err != nil {
			p.mu.Lock()
			p.subscribed = false
			p.mu.Unlock()
			return fmt.Errorf("subscribe event source: %w", err)
		}
	}
	return nil
}

// Handlers returns the pipeline's capture entry points.
func (p *Pipeline) Handlers() Handlers {
	return Handlers{
		RuntimeError:  p.OnRuntimeError,
		ResourceError: p.OnResourceLoadError,
		ConsoleError:  p.OnConsoleError,
	}
}

func (p *Pipeline) currentObserver() Observer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observer
}

// Config returns the current configuration.
func (p *Pipeline) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// OnRuntimeError records an uncaught runtime error. If a guarded function has
// just re-panicked, this signal is its echo: it is dropped and the suppression
// flag is cleared.
func (p *Pipeline) OnRuntimeError(sig RuntimeSignal) {
	p.mu.Lock()
	if p.suppressNext {
		p.suppressNext = false
		observer := p.observer
		p.mu.Unlock()
		observer.Discarded(KindRuntime, ReasonSuppressed)
		return
	}
	p.mu.Unlock()

	p.submit(ClassifyRuntime(sig))
}

// OnResourceLoadError records a resource load failure. Window-targeted
// signals and unsupported elements are ignored.
func (p *Pipeline) OnResourceLoadError(sig ResourceSignal) {
	record, ok := ClassifyResourceLoad(sig)
	if !ok {
		p.currentObserver().Discarded(0, ReasonUnrecognized)
		return
	}
	p.submit(record)
}

// OnConsoleError records a console error call, then passes arg through to the
// original console function.
func (p *Pipeline) OnConsoleError(arg any) {
	p.submit(ClassifyConsole(arg))

	p.mu.Lock()
	console := p.cfg.Console
	p.mu.Unlock()
	console(arg)
}

// InstrumentConsole returns a replacement for orig that records each call
// before invoking orig with the same argument.
func (p *Pipeline) InstrumentConsole(orig func(arg any)) func(arg any) {
	return func(arg any) {
		p.submit(ClassifyConsole(arg))
		if orig != nil {
			orig(arg)
		}
	}
}

// Capture classifies an arbitrary signal and submits it. It reports whether
// the signal had a recognized shape.
func (p *Pipeline) Capture(signal any) bool {
	if sig, ok := signal.(RuntimeSignal); ok {
		p.OnRuntimeError(sig)
		return true
	}
	if sig, ok := signal.(*RuntimeSignal); ok && sig != nil {
		p.OnRuntimeError(*sig)
		return true
	}
	record, ok := Classify(signal)
	if !ok {
		p.currentObserver().Discarded(0, ReasonUnrecognized)
		return false
	}
	p.submit(record)
	return true
}

// submit samples a classified record and either delivers it now or queues it
// and re-arms the debounced flush.
func (p *Pipeline) submit(record ErrorRecord) {
	p.mu.Lock()
	observer := p.observer

	switch {
	case !p.active:
		p.mu.Unlock()
		observer.Discarded(record.Kind, ReasonUninitialized)
		return
	case p.closed:
		p.mu.Unlock()
		observer.Discarded(record.Kind, ReasonClosed)
		return
	}

	admitted := shouldReport(p.cfg.SamplingRate, p.random)
	scrubber, hostState, startTime := p.scrubber, p.hostState, p.startTime
	p.mu.Unlock()

	// Host capture makes syscalls, so enrichment runs unlocked.
	if admitted {
		record = enrich(record, scrubber, hostState, startTime)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		observer.Discarded(record.Kind, ReasonClosed)
		return
	}

	if !p.cfg.BatchMode {
		sink := p.cfg.Sink
		p.mu.Unlock()

		observer.Captured(record.Kind)
		if !admitted {
			observer.Discarded(record.Kind, ReasonSampleRate)
			return
		}
		_ = p.deliver(context.Background(), sink, []ErrorRecord{record})
		return
	}

	var reason DiscardReason
	switch {
	case !admitted:
		reason = ReasonSampleRate
	case !p.queue.push(record):
		reason = ReasonQueueOverflow
	}
	// The flush is re-armed whether or not this record was queued.
	p.debounce.Trigger()
	p.mu.Unlock()

	observer.Captured(record.Kind)
	if reason != "" {
		observer.Discarded(record.Kind, reason)
	}
}

// enrich assigns identity, time, host state and fingerprint, and applies
// scrubbing.
func enrich(r ErrorRecord, scrubber *Scrubber, hostState bool, startTime time.Time) ErrorRecord {
	r.ID = uuid.NewString()
	r.Timestamp = time.Now()
	if scrubber != nil {
		r = scrubber.ScrubRecord(r)
	}
	if hostState {
		r.Host = CaptureHostState(startTime)
	}
	r.Fingerprint = Fingerprint(r)
	return r
}

// flushPending is the debounced flush: it takes the whole queue and hands it
// to the sink.
func (p *Pipeline) flushPending() {
	p.mu.Lock()
	batch := p.queue.drain()
	sink := p.cfg.Sink
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	_ = p.deliver(context.Background(), sink, batch)
}

// deliver writes a batch to the sink. Sink errors and panics are logged and
// reported to the observer; they never reach capture callers.
func (p *Pipeline) deliver(ctx context.Context, sink Sink, batch []ErrorRecord) (err error) {
	p.mu.Lock()
	logger := p.logger
	observer := p.observer
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %s", formatRecovered(r))
		}
		if err != nil {
			logger.Error().Err(err).Int("records", len(batch)).Msg("jstrack: failed to deliver batch")
		}
		observer.Flushed(len(batch), err)
	}()

	return sink.Write(ctx, batch)
}

// Flush cancels the pending debounced flush and delivers the queue now,
// returning the sink's error.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.debounce.Cancel()
	batch := p.queue.drain()
	sink := p.cfg.Sink
	p.mu.Unlock()

	if len(batch) > 0 {
		if err := p.deliver(ctx, sink, batch); err != nil {
			return err
		}
	}
	return sink.Flush(ctx)
}

// Close flushes pending records and closes the sink. Signals arriving after
// Close are dropped.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil
	}
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sink := p.cfg.Sink
	p.mu.Unlock()

	// Flush still drains: the closed flag only stops new submissions.
	flushErr := p.Flush(ctx)
	return errors.Join(flushErr, sink.Close())
}

// Pending returns the number of queued records.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue == nil {
		return 0
	}
	return p.queue.len()
}
