// observer.go defines hooks for watching records move through the pipeline.

package jstrack

// DiscardReason explains why a capture signal never reached the sink.
type DiscardReason string

const (
	// ReasonSampleRate means the sampler rejected the record.
	ReasonSampleRate DiscardReason = "sample_rate"

	// ReasonQueueOverflow means the queue was at capacity.
	ReasonQueueOverflow DiscardReason = "queue_overflow"

	// ReasonSuppressed means a runtime error was the re-raise of a guarded panic
	// that had already been captured.
	ReasonSuppressed DiscardReason = "suppressed"

	// ReasonUnrecognized means the signal had no known shape or element type.
	ReasonUnrecognized DiscardReason = "unrecognized"

	// ReasonUninitialized means the signal arrived before Init.
	ReasonUninitialized DiscardReason = "uninitialized"

	// ReasonClosed means the signal arrived after Close.
	ReasonClosed DiscardReason = "closed"
)

// Observer is notified as records move through the pipeline.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	// Captured is called once a record has been classified.
	Captured(kind Kind)

	// Discarded is called when a record or signal is dropped. kind is zero
	// when the signal could not be classified.
	Discarded(kind Kind, reason DiscardReason)

	// Flushed is called after every sink delivery with the batch size and the
	// sink's error, if any.
	Flushed(size int, err error)
}

type noopObserver struct{}

func (noopObserver) Captured(Kind)                {}
func (noopObserver) Discarded(Kind, DiscardReason) {}
func (noopObserver) Flushed(int, error)            {}
