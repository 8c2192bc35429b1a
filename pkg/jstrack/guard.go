// guard.go wraps functions so that their panics are captured once and re-raised.

package jstrack

import (
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"unsafe"
	"weak"
)

// Guard returns a function of the same type as fn that calls fn with the same
// arguments. If fn panics, the panic is recorded as a GUARDED_CALL record, the
// pipeline's suppression flag is set and the original value is re-panicked.
//
// Guard is idempotent per function value: guarding fn twice, or guarding a
// function Guard returned, yields the same wrapper. Closures are distinct
// values; method values are distinct each time they are evaluated. Values
// that are not functions, and nil functions, are returned unchanged.
//
//	load := jstrack.Guard(p, func(id string) (*Item, error) { ... })
func Guard[F any](p *Pipeline, fn F) F {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fn
	}
	return p.guards.wrap(v, p.captureGuarded).Interface().(F)
}

// GuardArguments returns a function of the same type as fn that guards every
// function-typed argument before passing it on. fn itself is not guarded, so
// its own panics propagate untouched.
//
//	subscribe := jstrack.GuardArguments(p, bus.Subscribe)
//	subscribe("topic", func(msg Message) { ... }) // handler is guarded
func GuardArguments[F any](p *Pipeline, fn F) F {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fn
	}
	variadic := v.Type().IsVariadic()
	w := reflect.MakeFunc(v.Type(), func(args []reflect.Value) []reflect.Value {
		guarded := make([]reflect.Value, len(args))
		for i, arg := range args {
			guarded[i] = p.guardValue(arg)
		}
		if variadic {
			last := len(guarded) - 1
			guarded[last] = p.guardSlice(guarded[last])
			return v.CallSlice(guarded)
		}
		return v.Call(guarded)
	})
	return w.Interface().(F)
}

// guardValue guards arg if it holds a non-nil function. Arguments of
// interface type are inspected through their dynamic value.
func (p *Pipeline) guardValue(arg reflect.Value) reflect.Value {
	target := arg
	if target.Kind() == reflect.Interface {
		if target.IsNil() {
			return arg
		}
		target = target.Elem()
	}
	if target.Kind() != reflect.Func || target.IsNil() {
		return arg
	}
	w := p.guards.wrap(target, p.captureGuarded)
	if arg.Kind() == reflect.Interface {
		out := reflect.New(arg.Type()).Elem()
		out.Set(w)
		return out
	}
	return w
}

// guardSlice guards the elements of a variadic argument slice.
func (p *Pipeline) guardSlice(s reflect.Value) reflect.Value {
	if s.Kind() != reflect.Slice || s.Len() == 0 {
		return s
	}
	out := reflect.MakeSlice(s.Type(), s.Len(), s.Len())
	for i := 0; i < s.Len(); i++ {
		out.Index(i).Set(p.guardValue(s.Index(i)))
	}
	return out
}

// guardRegistry maps function identities to their wrappers. Entries are
// held weakly: once a wrapper is collected its entries are removed, so
// guarding fresh closures does not grow the registry.
type guardRegistry struct {
	mu       sync.Mutex
	wrapped  map[uintptr]weak.Pointer[byte]
	wrappers map[uintptr]weak.Pointer[byte]
}

func newGuardRegistry() *guardRegistry {
	return &guardRegistry{
		wrapped:  make(map[uintptr]weak.Pointer[byte]),
		wrappers: make(map[uintptr]weak.Pointer[byte]),
	}
}

// registryKeys names the two entries a wrapper owns.
type registryKeys struct {
	fn      uintptr
	wrapper uintptr
}

// wrap returns the wrapper for fn, creating it on first use. Wrappers passed
// back in are returned as-is.
func (r *guardRegistry) wrap(fn reflect.Value, onPanic func(recovered any, stack []byte)) reflect.Value {
	id := uintptr(funcIdentity(fn))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := live(r.wrappers, id); ok {
		return fn
	}
	if w, ok := live(r.wrapped, id); ok {
		return funcFromIdentity(fn.Type(), w)
	}

	variadic := fn.Type().IsVariadic()
	w := reflect.MakeFunc(fn.Type(), func(args []reflect.Value) []reflect.Value {
		defer func() {
			if rec := recover(); rec != nil {
				onPanic(rec, debug.Stack())
				panic(rec)
			}
		}()
		if variadic {
			return fn.CallSlice(args)
		}
		return fn.Call(args)
	})

	// The wrapper closes over fn, so fn lives at least as long as it does.
	wid := (*byte)(funcIdentity(w))
	wp := weak.Make(wid)
	r.wrapped[id] = wp
	r.wrappers[uintptr(unsafe.Pointer(wid))] = wp
	runtime.AddCleanup(wid, r.forget, registryKeys{fn: id, wrapper: uintptr(unsafe.Pointer(wid))})
	return w
}

// forget drops the entries of a collected wrapper. An address may already
// have been reused by a newer live wrapper; those entries are kept.
func (r *guardRegistry) forget(keys registryKeys) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := live(r.wrapped, keys.fn); !ok {
		delete(r.wrapped, keys.fn)
	}
	if _, ok := live(r.wrappers, keys.wrapper); !ok {
		delete(r.wrappers, keys.wrapper)
	}
}

// len reports the number of entries held.
func (r *guardRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wrapped) + len(r.wrappers)
}

// live returns the wrapper stored under key if it has not been collected.
func live(m map[uintptr]weak.Pointer[byte], key uintptr) (unsafe.Pointer, bool) {
	wp, ok := m[key]
	if !ok {
		return nil, false
	}
	v := wp.Value()
	if v == nil {
		return nil, false
	}
	return unsafe.Pointer(v), true
}

// funcIdentity returns the pointer a func value holds: the closure for
// closures and method values, the static function value for plain functions.
func funcIdentity(fn reflect.Value) unsafe.Pointer {
	slot := reflect.New(fn.Type())
	slot.Elem().Set(fn)
	return *(*unsafe.Pointer)(slot.UnsafePointer())
}

// funcFromIdentity rebuilds a func value of type typ from its identity.
func funcFromIdentity(typ reflect.Type, id unsafe.Pointer) reflect.Value {
	slot := reflect.New(typ)
	*(*unsafe.Pointer)(slot.UnsafePointer()) = id
	return slot.Elem()
}

// captureGuarded records a guarded panic and sets the suppression flag.
func (p *Pipeline) captureGuarded(recovered any, stack []byte) {
	p.submit(ClassifyGuarded(recovered, string(stack)))

	p.mu.Lock()
	p.suppressNext = true
	p.mu.Unlock()
}

// Recover is a top-level listener for panics that escape a goroutine. It
// recovers the panic, routes it through OnRuntimeError and returns the
// recovered value. Unlike Guard, Recover does NOT re-panic.
//
// A panic re-raised by a guarded function has already been recorded; the
// suppression flag makes Recover drop it instead of recording it twice.
//
//	go func() {
//	    defer p.Recover()
//	    // code that might panic
//	}()
func (p *Pipeline) Recover() any {
	r := recover()
	if r == nil {
		return nil
	}

	file, line := panicSite()
	p.OnRuntimeError(RuntimeSignal{
		Message: formatRecovered(r),
		Source:  file,
		Line:    line,
		Err:     &recoveredPanic{value: r, stack: string(debug.Stack())},
	})
	return r
}

// recoveredPanic carries a recovered value and the stack it was raised on.
type recoveredPanic struct {
	value any
	stack string
}

func (e *recoveredPanic) Error() string { return formatRecovered(e.value) }
func (e *recoveredPanic) Stack() string { return e.stack }

// panicSite returns the innermost frame outside the runtime and reflect
// packages on the panicking goroutine.
func panicSite() (string, int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" &&
			!strings.HasPrefix(frame.Function, "runtime.") &&
			!strings.HasPrefix(frame.Function, "reflect.") {
			return frame.File, frame.Line
		}
		if !more {
			return "", 0
		}
	}
}
