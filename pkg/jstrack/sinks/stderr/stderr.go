// Package stderr provides a sink that prints records to stderr in human-readable format.
// Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/strongdm/jstrack/pkg/jstrack"
)

// StderrSinkOption configures the stderr sink.
type StderrSinkOption func(*stderrSinkConfig)

type stderrSinkConfig struct {
	verbose bool
	out     io.Writer
}

// WithVerbose enables full record details including stack traces.
func WithVerbose() StderrSinkOption {
	return func(c *stderrSinkConfig) {
		c.verbose = true
	}
}

// WithWriter sends output to w instead of os.Stderr.
func WithWriter(w io.Writer) StderrSinkOption {
	return func(c *stderrSinkConfig) {
		if w != nil {
			c.out = w
		}
	}
}

// stderrSink writes records to stderr in human-readable format.
type stderrSink struct {
	mu      sync.Mutex
	verbose bool
	out     io.Writer
}

// NewStderrSink creates a sink that writes to stderr.
func NewStderrSink(opts ...StderrSinkOption) jstrack.Sink {
	cfg := &stderrSinkConfig{out: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}
	return &stderrSink{
		verbose: cfg.verbose,
		out:     cfg.out,
	}
}

// Write formats and outputs each record of the batch.
func (s *stderrSink) Write(ctx context.Context, records []jstrack.ErrorRecord) error {
	var b strings.Builder
	for _, r := range records {
		s.format(&b, r)
	}

	// One write per batch keeps batches from interleaving.
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, b.String())
	return err
}

func (s *stderrSink) format(b *strings.Builder, r jstrack.ErrorRecord) {
	// Format: [JSTRACK] <timestamp> <KIND> <interpretation>
	timestamp := r.Timestamp.Format("2006-01-02T15:04:05Z07:00")
	fmt.Fprintf(b, "[JSTRACK] %s %s %s\n", timestamp, r.Kind, r.Interpretation)

	if msg := r.Message(); msg != "" {
		fmt.Fprintf(b, "        Message: %s\n", msg)
	}
	if d, ok := r.Description.(jstrack.RuntimeDescription); ok && d.Source != "" {
		fmt.Fprintf(b, "        Source: %s:%d:%d\n", d.Source, d.Line, d.Column)
	}
	if d, ok := r.Description.(jstrack.LoadDescription); ok && d.BaseURL != "" {
		fmt.Fprintf(b, "        Base: %s\n", d.BaseURL)
	}
	if r.Fingerprint != "" {
		fmt.Fprintf(b, "        Fingerprint: %s\n", r.Fingerprint)
	}

	// Stack trace (only in verbose mode)
	if s.verbose && r.HasStack() {
		b.WriteString("        Stack trace:\n")
		for _, line := range strings.Split(r.StackTrace, "\n") {
			fmt.Fprintf(b, "          %s\n", line)
		}
	}
}

// Flush is a no-op for stderr sink.
func (s *stderrSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for stderr sink.
func (s *stderrSink) Close() error {
	return nil
}
