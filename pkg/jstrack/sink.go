// sink.go defines the Sink interface for batch destinations.

package jstrack

import (
	"context"
	"errors"
)

// ErrClosed is returned by sinks used after Close.
var ErrClosed = errors.New("jstrack: sink is closed")

// Sink is the destination for batches of error records.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write delivers one batch. Records are in arrival order.
	Write(ctx context.Context, records []ErrorRecord) error

	// Flush ensures any buffered batches are delivered.
	// For synchronous sinks, this may be a no-op.
	Flush(ctx context.Context) error

	// Close releases resources held by the sink.
	Close() error
}

// SinkFunc adapts a plain report callback to Sink.
type SinkFunc func(ctx context.Context, records []ErrorRecord) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, records []ErrorRecord) error {
	return f(ctx, records)
}

// Flush is a no-op.
func (f SinkFunc) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (f SinkFunc) Close() error {
	return nil
}

// noopSinkInternal is an internal noop sink to avoid import cycles.
type noopSinkInternal struct{}

func (s *noopSinkInternal) Write(ctx context.Context, records []ErrorRecord) error {
	return nil
}

func (s *noopSinkInternal) Flush(ctx context.Context) error {
	return nil
}

func (s *noopSinkInternal) Close() error {
	return nil
}
