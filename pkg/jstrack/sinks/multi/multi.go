// Package multi provides a sink that fans out to multiple sinks.
// All sinks receive all batches; errors are aggregated.
package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/strongdm/jstrack/pkg/jstrack"
)

// multiSink fans out to multiple sinks.
type multiSink struct {
	sinks []jstrack.Sink
}

// NewMultiSink creates a sink that writes to multiple sinks.
// All sinks receive all batches. Errors are aggregated via errors.Join.
// Nil sinks are skipped.
func NewMultiSink(sinks ...jstrack.Sink) jstrack.Sink {
	kept := make([]jstrack.Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &multiSink{
		sinks: kept,
	}
}

// Write sends the batch to all sinks, collecting any errors.
// All sinks are called even if some return errors or panic.
func (s *multiSink) Write(ctx context.Context, records []jstrack.ErrorRecord) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := writeIsolated(ctx, sink, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeIsolated keeps one sink's panic from starving the others.
func writeIsolated(ctx context.Context, sink jstrack.Sink, records []jstrack.ErrorRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Write(ctx, records)
}

// Flush calls Flush on all sinks, collecting any errors.
func (s *multiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on all sinks, collecting any errors.
func (s *multiSink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
