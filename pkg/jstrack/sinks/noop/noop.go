// Package noop provides a no-operation sink that discards all batches.
// Useful for testing and for disabling delivery.
package noop

import (
	"context"

	"github.com/strongdm/jstrack/pkg/jstrack"
)

// noopSink discards all batches.
type noopSink struct{}

// NewNoopSink creates a sink that discards all batches.
// All methods return nil and perform no operations.
func NewNoopSink() jstrack.Sink {
	return &noopSink{}
}

// Write discards the batch and returns nil.
func (s *noopSink) Write(ctx context.Context, records []jstrack.ErrorRecord) error {
	return nil
}

// Flush is a no-op and returns nil.
func (s *noopSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op and returns nil.
func (s *noopSink) Close() error {
	return nil
}
