package jstrack

import (
	"errors"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

func newGuardPipeline(t *testing.T) (*Pipeline, *recordingSink) {
	t.Helper()
	p, sink, _ := newTestPipeline(t, WithBatchMode(false))
	return p, sink
}

// callRecovering invokes fn and returns what it panicked with, if anything.
func callRecovering(fn func()) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	fn()
	return nil
}

func sameFunc(a, b any) bool {
	return funcIdentity(reflect.ValueOf(a)) == funcIdentity(reflect.ValueOf(b))
}

func TestGuard_PassesArgumentsAndResults(t *testing.T) {
	p, sink := newGuardPipeline(t)

	add := Guard(p, func(a, b int) (int, error) { return a + b, nil })
	got, err := add(2, 3)

	if err != nil || got != 5 {
		t.Errorf("add(2, 3) = %d, %v, want 5, nil", got, err)
	}
	if n := len(sink.getRecords()); n != 0 {
		t.Errorf("Expected no records, got %d", n)
	}
}

func TestGuard_RecordsAndRepanics(t *testing.T) {
	p, sink := newGuardPipeline(t)
	original := errors.New("fetch failed")

	fetch := Guard(p, func() { panic(original) })
	recovered := callRecovering(fetch)

	if recovered != original {
		t.Errorf("re-panicked with %v, want the original error", recovered)
	}
	records := sink.getRecords()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.Kind != KindGuardedCall {
		t.Errorf("Kind = %v, want %v", r.Kind, KindGuardedCall)
	}
	if r.Description != "fetch failed" {
		t.Errorf("Description = %v, want %q", r.Description, "fetch failed")
	}
	if r.Interpretation != "try catch" {
		t.Errorf("Interpretation = %q, want %q", r.Interpretation, "try catch")
	}
	if !strings.Contains(r.StackTrace, "goroutine") {
		t.Errorf("StackTrace should hold the goroutine stack, got %q", r.StackTrace)
	}
}

func TestGuard_UsesErrorOwnStack(t *testing.T) {
	p, sink := newGuardPipeline(t)

	fn := Guard(p, func() {
		panic(&ScriptError{Name: "TypeError", Message: "x is null", Stack: "at f (http://x/a.js:1:2)"})
	})
	callRecovering(fn)

	records := sink.getRecords()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].StackTrace != "at f (http://x/a.js:1:2)" {
		t.Errorf("StackTrace = %q, want the error's own stack", records[0].StackTrace)
	}
	if records[0].Description != "TypeError: x is null" {
		t.Errorf("Description = %v", records[0].Description)
	}
}

func TestGuard_Idempotent(t *testing.T) {
	p, _ := newGuardPipeline(t)
	fn := func(s string) string { return s }

	g1 := Guard(p, fn)
	g2 := Guard(p, fn)
	g3 := Guard(p, g1)

	if !sameFunc(g1, g2) {
		t.Error("guarding the same function twice should return the same wrapper")
	}
	if !sameFunc(g1, g3) {
		t.Error("guarding a wrapper should return it unchanged")
	}
	if sameFunc(g1, fn) {
		t.Error("wrapper should differ from the original function")
	}
}

func TestGuard_OneRecordPerPanicRegardlessOfDepth(t *testing.T) {
	p, sink := newGuardPipeline(t)

	fn := func() { panic("deep") }
	wrapped := Guard(p, Guard(p, Guard(p, fn)))
	callRecovering(wrapped)

	if n := len(sink.getRecords()); n != 1 {
		t.Errorf("Expected 1 record, got %d", n)
	}
}

func TestGuard_NonFunctionsUnchanged(t *testing.T) {
	p, _ := newGuardPipeline(t)

	if got := Guard(p, 42); got != 42 {
		t.Errorf("Guard(42) = %v", got)
	}
	var nilFn func()
	if got := Guard(p, nilFn); got != nil {
		t.Error("Guard(nil func) should return nil")
	}
}

func TestGuard_Variadic(t *testing.T) {
	p, _ := newGuardPipeline(t)

	join := Guard(p, func(sep string, parts ...string) string {
		return strings.Join(parts, sep)
	})
	if got := join("-", "a", "b", "c"); got != "a-b-c" {
		t.Errorf("join = %q, want %q", got, "a-b-c")
	}
}

func TestGuardArguments_GuardsCallbacks(t *testing.T) {
	p, sink := newGuardPipeline(t)

	subscribe := GuardArguments(p, func(topic string, handler func(msg string)) {
		handler(topic)
	})
	recovered := callRecovering(func() {
		subscribe("orders", func(msg string) { panic("handler failed: " + msg) })
	})

	if recovered != "handler failed: orders" {
		t.Errorf("recovered = %v", recovered)
	}
	records := sink.getRecords()
	if len(records) != 1 || records[0].Kind != KindGuardedCall {
		t.Errorf("records = %+v, want one GUARDED_CALL", records)
	}
}

func TestGuardArguments_FreshClosuresAreReleased(t *testing.T) {
	p, _ := newGuardPipeline(t)

	subscribe := GuardArguments(p, func(topic string, handler func()) {
		handler()
	})

	const calls = 1000
	var total int
	for i := 0; i < calls; i++ {
		n := i
		subscribe("ticks", func() { total += n })
	}
	if total != calls*(calls-1)/2 {
		t.Fatalf("handlers summed to %d, want %d", total, calls*(calls-1)/2)
	}

	size := p.guards.len()
	for attempt := 0; attempt < 100 && size >= calls/10; attempt++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
		size = p.guards.len()
	}
	if size >= calls/10 {
		t.Errorf("guard registry holds %d entries after %d calls, want them released", size, calls)
	}
}

func TestGuard_WrapperStaysIdempotentAcrossCollections(t *testing.T) {
	p, _ := newGuardPipeline(t)

	fn := func(n int) int { return n * 2 }
	g1 := Guard(p, fn)
	runtime.GC()
	time.Sleep(10 * time.Millisecond)

	if g2 := Guard(p, fn); !sameFunc(g1, g2) {
		t.Error("Guard(fn) should return the live wrapper after a collection")
	}
	if g3 := Guard(p, g1); !sameFunc(g1, g3) {
		t.Error("Guard(Guard(fn)) should return the live wrapper after a collection")
	}
	runtime.KeepAlive(g1)
}

func TestGuardArguments_DoesNotGuardOuterFunction(t *testing.T) {
	p, sink := newGuardPipeline(t)

	fn := GuardArguments(p, func(n int) { panic("outer") })
	recovered := callRecovering(func() { fn(1) })

	if recovered != "outer" {
		t.Errorf("recovered = %v, want outer", recovered)
	}
	if n := len(sink.getRecords()); n != 0 {
		t.Errorf("outer panic should not be recorded, got %d records", n)
	}
}

func TestGuardArguments_VariadicInterfaceArgs(t *testing.T) {
	p, sink := newGuardPipeline(t)

	var calls int
	dispatch := GuardArguments(p, func(args ...any) {
		for _, a := range args {
			if f, ok := a.(func()); ok {
				calls++
				callRecovering(f)
			}
		}
	})
	dispatch("label", func() { panic("first") }, 7, func() {})

	if calls != 2 {
		t.Errorf("callbacks invoked %d times, want 2", calls)
	}
	if n := len(sink.getRecords()); n != 1 {
		t.Errorf("Expected 1 record, got %d", n)
	}
}

func TestRecover_RecordsRuntimeError(t *testing.T) {
	p, sink := newGuardPipeline(t)

	var got any
	func() {
		defer func() { got = recover() }()
		func() {
			defer p.Recover()
			panic("top level")
		}()
	}()

	if got != nil {
		t.Errorf("Recover should not re-panic, got %v", got)
	}
	records := sink.getRecords()
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Kind != KindRuntime {
		t.Errorf("Kind = %v, want %v", records[0].Kind, KindRuntime)
	}
	if records[0].Message() != "top level" {
		t.Errorf("Message = %q, want %q", records[0].Message(), "top level")
	}
	if !records[0].HasStack() {
		t.Error("runtime record from Recover should carry a stack")
	}
}

func TestRecover_SuppressesGuardedEcho(t *testing.T) {
	obs := newRecordingObserver()
	p, sink, _ := newTestPipeline(t, WithBatchMode(false), WithObserver(obs))

	guarded := Guard(p, func() { panic("once") })
	func() {
		defer p.Recover()
		guarded()
	}()

	records := sink.getRecords()
	if len(records) != 1 {
		t.Fatalf("Expected exactly 1 record, got %d", len(records))
	}
	if records[0].Kind != KindGuardedCall {
		t.Errorf("Kind = %v, want %v", records[0].Kind, KindGuardedCall)
	}
	if got := obs.discards(ReasonSuppressed); got != 1 {
		t.Errorf("suppressed discards = %d, want 1", got)
	}

	// The flag is consumed: the next unrelated runtime error is recorded.
	func() {
		defer p.Recover()
		panic("unrelated")
	}()
	if n := len(sink.getRecords()); n != 2 {
		t.Errorf("Expected 2 records after unrelated panic, got %d", n)
	}
}
