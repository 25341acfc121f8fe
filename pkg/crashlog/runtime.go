// runtime.go provides the process-wide default handler chain and the guards
// that route escaping panics into it.
//
// Go has no hook for panics escaping arbitrary goroutines, so goroutines opt
// in with Guard or start through Go.

package crashlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
)

// Goroutine identifies the goroutine an error escaped from.
type Goroutine struct {
	ID   int64
	Name string
}

// String returns "goroutine 7 (worker)" or "goroutine 7".
func (g Goroutine) String() string {
	if g.Name == "" {
		return "goroutine " + strconv.FormatInt(g.ID, 10)
	}
	return fmt.Sprintf("goroutine %d (%s)", g.ID, g.Name)
}

// CurrentGoroutine describes the calling goroutine.
func CurrentGoroutine(name string) Goroutine {
	return Goroutine{ID: goroutineID(), Name: name}
}

// goroutineID parses the "goroutine N [running]:" header of the current stack.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		field = field[:i]
	}
	id, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// UncaughtHandler receives errors that escaped all user code on a goroutine.
type UncaughtHandler interface {
	Uncaught(g Goroutine, err error)
}

// UncaughtHandlerFunc adapts a function to UncaughtHandler.
type UncaughtHandlerFunc func(g Goroutine, err error)

// Uncaught calls f(g, err).
func (f UncaughtHandlerFunc) Uncaught(g Goroutine, err error) {
	f(g, err)
}

// TerminalHandler prints the error and its trace to w and exits with
// status 2, like the Go runtime does for an unrecovered panic.
func TerminalHandler(w io.Writer, exit func(int)) UncaughtHandler {
	return UncaughtHandlerFunc(func(g Goroutine, err error) {
		fmt.Fprintf(w, "panic: %v [recovered on %s]\n\n%s", err, g, RenderTrace(err))
		exit(2)
	})
}

type handlerSlot struct {
	h UncaughtHandler
}

// Runtime holds the default UncaughtHandler. Safe for concurrent use.
type Runtime struct {
	slot atomic.Pointer[handlerSlot]
}

// NewRuntime creates a Runtime whose default handler is initial.
func NewRuntime(initial UncaughtHandler) *Runtime {
	r := &Runtime{}
	r.SetDefaultHandler(initial)
	return r
}

// Process is the process-wide Runtime used by the package-level Guard and Go.
var Process = NewRuntime(TerminalHandler(os.Stderr, os.Exit))

// DefaultHandler returns the installed default handler.
func (r *Runtime) DefaultHandler() UncaughtHandler {
	if s := r.slot.Load(); s != nil {
		return s.h
	}
	return nil
}

// SetDefaultHandler installs h as the default handler.
func (r *Runtime) SetDefaultHandler(h UncaughtHandler) {
	r.slot.Store(&handlerSlot{h: h})
}

// Guard recovers a panic and dispatches it to the default handler. It must
// be deferred directly:
//
//	go func() {
//	    defer rt.Guard()
//	    work()
//	}()
//
// If the handler returns, Guard re-panics with the original value so the
// faulted goroutine never continues.
func (r *Runtime) Guard() {
	if v := recover(); v != nil {
		r.dispatch("", v)
	}
}

// Go runs fn on a new guarded goroutine named from ctx.
func (r *Runtime) Go(ctx context.Context, fn func(ctx context.Context)) {
	name, _ := GoroutineNameFromContext(ctx)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				r.dispatch(name, v)
			}
		}()
		fn(ctx)
	}()
}

func (r *Runtime) dispatch(name string, v any) {
	fault := FaultFromPanic(v)
	if h := r.DefaultHandler(); h != nil {
		h.Uncaught(CurrentGoroutine(name), fault)
	}
	panic(v)
}

// Guard recovers a panic on the calling goroutine and dispatches it to the
// Process runtime. It must be deferred directly.
func Guard() {
	if v := recover(); v != nil {
		Process.dispatch("", v)
	}
}

// Go runs fn on a new goroutine guarded by the Process runtime.
func Go(ctx context.Context, fn func(ctx context.Context)) {
	Process.Go(ctx, fn)
}
