// Package jstrack provides a client-side error telemetry pipeline.
//
// jstrack turns raw error signals from a script host (uncaught runtime
// errors, resource load failures, error-level console calls and panics in
// guarded functions) into canonical error records, samples them, buffers them
// in a bounded queue and hands them to a sink in debounced batches.
//
// # Core Components
//
//   - ErrorRecord: The canonical record with kind, interpretation, description and stack
//   - Classifier: Maps a capture signal to exactly one record kind, or rejects it
//   - Pipeline: Owns configuration and orchestrates sampling, queueing and delivery
//   - Sink: Destination for batches (beacon, redis, clickhouse, cxdb, stderr, async, multi, noop)
//   - Guard: Wraps a function so that its panics are recorded once and re-raised
//
// # Quick Start
//
//	p := jstrack.New()
//	err := p.Init(
//	    jstrack.WithSink(stderr.NewStderrSink()),
//	    jstrack.WithDebounceDelay(500*time.Millisecond),
//	    jstrack.WithDefaultScrubbing(),
//	)
//	defer p.Close(ctx)
//
//	handler := jstrack.Guard(p, func(msg Message) { ... })
//
// # Design Principles
//
//   - Telemetry never breaks the host: capture paths never panic or return errors
//   - Guarded functions keep their failure contract: panics are re-raised unchanged
//   - Best effort: a full queue drops the newest record, failed batches are not retried
package jstrack
