// record.go defines the canonical error record produced by the classifier.

package jstrack

import (
	"fmt"
	"time"
)

// NoStack is the stack trace recorded when the originating error has none.
const NoStack = "no stack"

// Kind identifies what produced an error record.
// The numeric values are the wire codes used by browser trackers.
type Kind int

const (
	// KindRuntime is an uncaught runtime error.
	KindRuntime Kind = iota + 1

	// KindScriptLoad is a <script> that failed to load.
	KindScriptLoad

	// KindStyleLoad is a stylesheet <link> that failed to load.
	KindStyleLoad

	// KindImageLoad is an <img> that failed to load.
	KindImageLoad

	// KindAudioLoad is an <audio> element that failed to load.
	KindAudioLoad

	// KindVideoLoad is a <video> element that failed to load.
	KindVideoLoad

	// KindConsole is an error-level console call.
	KindConsole

	// KindGuardedCall is a panic raised inside a guarded function.
	KindGuardedCall
)

var kindNames = map[Kind]string{
	KindRuntime:     "RUNTIME",
	KindScriptLoad:  "SCRIPT_LOAD",
	KindStyleLoad:   "STYLE_LOAD",
	KindImageLoad:   "IMAGE_LOAD",
	KindAudioLoad:   "AUDIO_LOAD",
	KindVideoLoad:   "VIDEO_LOAD",
	KindConsole:     "CONSOLE",
	KindGuardedCall: "GUARDED_CALL",
}

var kindInterpretations = map[Kind]string{
	KindRuntime:     "script runtime error",
	KindScriptLoad:  "script failed to load",
	KindStyleLoad:   "stylesheet failed to load",
	KindImageLoad:   "image failed to load",
	KindAudioLoad:   "audio failed to load",
	KindVideoLoad:   "video failed to load",
	KindConsole:     "console.error",
	KindGuardedCall: "try catch",
}

// String returns the upper-case kind name, e.g. "IMAGE_LOAD".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Interpretation returns the fixed human-readable label for the kind.
func (k Kind) Interpretation() string {
	return kindInterpretations[k]
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// RuntimeDescription is the payload of a RUNTIME record.
type RuntimeDescription struct {
	Message string `json:"message"`
	Source  string `json:"source"`
	Line    int    `json:"lineno"`
	Column  int    `json:"colno"`
}

// LoadDescription is the payload of a resource load failure record.
type LoadDescription struct {
	BaseURL string `json:"baseUrl"`
	Href    string `json:"href"`
}

// HostState is a snapshot of the process and host taken when a record was admitted.
type HostState struct {
	// HostName is the hostname of the machine running the pipeline.
	HostName string `json:"host_name,omitempty"`

	// MemoryBytes is the process heap allocation in bytes.
	MemoryBytes int64 `json:"memory_bytes"`

	// HostMemoryUsedPercent is the host-wide memory usage, 0 when unavailable.
	HostMemoryUsedPercent float64 `json:"host_memory_used_percent,omitempty"`

	// GoroutineCount is the number of live goroutines.
	GoroutineCount int `json:"goroutine_count"`

	// UptimeMs is the pipeline uptime in milliseconds.
	UptimeMs int64 `json:"uptime_ms"`
}

// ErrorRecord is the unit of telemetry handed to sinks.
//
// Kind, Description, Interpretation and StackTrace come from the classifier.
// ID, Timestamp, Fingerprint and Host are filled in once a record is admitted
// past the sampler.
type ErrorRecord struct {
	ID             string     `json:"id,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	Kind           Kind       `json:"type"`
	Interpretation string     `json:"intr"`
	Description    any        `json:"desc"`
	StackTrace     string     `json:"stack"`
	Fingerprint    string     `json:"fingerprint,omitempty"`
	Host           *HostState `json:"host,omitempty"`
}

// newRecord builds a record of the given kind with its interpretation set.
func newRecord(kind Kind, desc any, stack string) ErrorRecord {
	if stack == "" {
		stack = NoStack
	}
	return ErrorRecord{
		Kind:           kind,
		Interpretation: kind.Interpretation(),
		Description:    desc,
		StackTrace:     stack,
	}
}

// Message returns a one-line summary of the record's description.
func (r ErrorRecord) Message() string {
	switch d := r.Description.(type) {
	case RuntimeDescription:
		return d.Message
	case LoadDescription:
		return d.Href
	case string:
		return d
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", d)
	}
}

// Source returns the script or resource URL the record points at, if any.
func (r ErrorRecord) Source() string {
	switch d := r.Description.(type) {
	case RuntimeDescription:
		return d.Source
	case LoadDescription:
		return d.Href
	default:
		return ""
	}
}

// HasStack reports whether the record carries a real stack trace.
func (r ErrorRecord) HasStack() bool {
	return r.StackTrace != "" && r.StackTrace != NoStack
}
