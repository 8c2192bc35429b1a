// classify.go maps raw capture signals to error records.

package jstrack

import (
	"errors"
	"fmt"
	"strings"
)

// Stacker is implemented by errors that carry their own stack trace.
type Stacker interface {
	Stack() string
}

// ScriptError is an error object reported by a script host, e.g. a decoded
// browser Error with name, message and stack.
type ScriptError struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (e *ScriptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// RuntimeSignal is an uncaught runtime error as reported by the host.
type RuntimeSignal struct {
	Message string
	Source  string
	Line    int
	Column  int

	// Err is the native error object, if the host provided one.
	Err error
}

// ResourceSignal is a load failure reported by an element.
type ResourceSignal struct {
	// TagName is the failing element's node name, e.g. "IMG".
	TagName string

	// URL is the element's resolved src or href.
	URL string

	// BaseURL is the document base URL.
	BaseURL string

	// WindowTarget marks events whose target is the top-level window. Those
	// duplicate runtime errors and are never classified as load failures.
	WindowTarget bool
}

// ConsoleSignal is the argument of an error-level console call.
type ConsoleSignal struct {
	Arg any
}

var loadKinds = map[string]Kind{
	"SCRIPT": KindScriptLoad,
	"LINK":   KindStyleLoad,
	"IMG":    KindImageLoad,
	"AUDIO":  KindAudioLoad,
	"VIDEO":  KindVideoLoad,
}

// ClassifyRuntime builds a RUNTIME record.
func ClassifyRuntime(sig RuntimeSignal) ErrorRecord {
	desc := RuntimeDescription{
		Message: sig.Message,
		Source:  sig.Source,
		Line:    sig.Line,
		Column:  sig.Column,
	}
	return newRecord(KindRuntime, desc, stackOf(sig.Err))
}

// ClassifyResourceLoad builds a load failure record. It returns false for
// window-targeted signals and for elements other than script, link, img,
// audio and video.
func ClassifyResourceLoad(sig ResourceSignal) (ErrorRecord, bool) {
	if sig.WindowTarget {
		return ErrorRecord{}, false
	}
	kind, ok := loadKinds[strings.ToUpper(strings.TrimSpace(sig.TagName))]
	if !ok {
		return ErrorRecord{}, false
	}
	desc := LoadDescription{
		BaseURL: sig.BaseURL,
		Href:    sig.URL,
	}
	return newRecord(kind, desc, NoStack), true
}

// ClassifyConsole builds a CONSOLE record holding arg verbatim.
func ClassifyConsole(arg any) ErrorRecord {
	return newRecord(KindConsole, arg, NoStack)
}

// ClassifyGuarded builds a GUARDED_CALL record from a recovered panic value.
// The value's own stack wins over the captured goroutine stack.
func ClassifyGuarded(recovered any, stack string) ErrorRecord {
	if err, ok := recovered.(error); ok {
		if own := stackOf(err); own != "" {
			stack = own
		}
	}
	return newRecord(KindGuardedCall, formatRecovered(recovered), stack)
}

// Classify dispatches on the signal shape. Unrecognized shapes return false.
func Classify(signal any) (ErrorRecord, bool) {
	switch s := signal.(type) {
	case RuntimeSignal:
		return ClassifyRuntime(s), true
	case *RuntimeSignal:
		if s == nil {
			return ErrorRecord{}, false
		}
		return ClassifyRuntime(*s), true
	case ResourceSignal:
		return ClassifyResourceLoad(s)
	case *ResourceSignal:
		if s == nil {
			return ErrorRecord{}, false
		}
		return ClassifyResourceLoad(*s)
	case ConsoleSignal:
		return ClassifyConsole(s.Arg), true
	case *ConsoleSignal:
		if s == nil {
			return ErrorRecord{}, false
		}
		return ClassifyConsole(s.Arg), true
	default:
		return ErrorRecord{}, false
	}
}

// stackOf extracts a stack from err or anything it wraps.
func stackOf(err error) string {
	if err == nil {
		return ""
	}
	var se *ScriptError
	if errors.As(err, &se) && se != nil {
		return se.Stack
	}
	var st Stacker
	if errors.As(err, &st) {
		return st.Stack()
	}
	return ""
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
