// fault.go captures call stacks for errors and renders causal chains as text.

package crashlog

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
)

const maxStackDepth = 64

// Frame is one rendered stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// String renders the frame as "pkg.Func(file.go:42)".
func (f Frame) String() string {
	return fmt.Sprintf("%s(%s:%d)", f.Function, filepath.Base(f.File), f.Line)
}

// StackTracer is implemented by errors that carry the stack they were created on.
type StackTracer interface {
	StackFrames() []Frame
}

// Fault is an error carrying a class name, an optional cause and the call
// stack at the point it was created.
type Fault struct {
	Class   string
	Message string
	Cause   error
	pcs     []uintptr

	// recovered marks faults built from a recovered panic, whose raw stack
	// still holds the recovery machinery above the panicking function.
	recovered bool
}

// NewFault creates a Fault recording the caller's stack.
func NewFault(class, message string, cause error) *Fault {
	return newFault(class, message, cause, 3)
}

// FaultFromPanic converts a recovered panic value into a Fault recording the
// stack of the panicking goroutine. A recovered error keeps its type name as
// the class and its unwrapped cause as the cause.
func FaultFromPanic(recovered any) *Fault {
	var f *Fault
	switch v := recovered.(type) {
	case *Fault:
		return v
	case error:
		f = newFault(ClassName(v), v.Error(), errors.Unwrap(v), 3)
	default:
		f = newFault("panic", formatRecovered(recovered), nil, 3)
	}
	f.recovered = true
	return f
}

func newFault(class, message string, cause error, skip int) *Fault {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	return &Fault{Class: class, Message: message, Cause: cause, pcs: pcs[:n]}
}

// Error returns "class: message".
func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Class
	}
	return f.Class + ": " + f.Message
}

// Unwrap returns the cause.
func (f *Fault) Unwrap() error {
	return f.Cause
}

// StackFrames resolves the recorded program counters.
func (f *Fault) StackFrames() []Frame {
	if len(f.pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(f.pcs)
	out := make([]Frame, 0, len(f.pcs))
	for {
		fr, more := frames.Next()
		out = append(out, Frame{Function: fr.Function, File: fr.File, Line: fr.Line})
		if !more {
			break
		}
	}
	if f.recovered {
		out = panicSite(out)
	}
	return out
}

// panicSite drops the frames above the function that panicked: everything
// up to runtime.gopanic, then the runtime helpers that raised the panic
// (map writes, nil dereferences, index checks). Stacks without a gopanic
// frame are returned unchanged.
func panicSite(frames []Frame) []Frame {
	for i, fr := range frames {
		if fr.Function != "runtime.gopanic" {
			continue
		}
		rest := frames[i+1:]
		for len(rest) > 1 && isRuntimeFrame(rest[0]) {
			rest = rest[1:]
		}
		return rest
	}
	return frames
}

func isRuntimeFrame(fr Frame) bool {
	return strings.HasPrefix(fr.Function, "runtime.") || strings.HasPrefix(fr.Function, "internal/runtime/")
}

// ClassName returns the Fault class, or the dynamic type name of err
// without the pointer marker (e.g. "errors.errorString").
func ClassName(err error) string {
	if err == nil {
		return ""
	}
	if f, ok := err.(*Fault); ok {
		return f.Class
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// RenderTrace renders err and every cause reached through errors.Unwrap,
// one section per link, root error first:
//
//	pkg.MyError: top message
//		at main.run(main.go:12)
//	Caused by: *fs.PathError: open x: no such file or directory
//
// Frames are only rendered for links implementing StackTracer.
func RenderTrace(err error) string {
	var b strings.Builder
	var seen []error
	for i, cur := 0, err; cur != nil; i, cur = i+1, errors.Unwrap(cur) {
		if visited(seen, cur) {
			fmt.Fprintf(&b, "[CIRCULAR REFERENCE: %s]\n", sectionHeader(cur))
			break
		}
		seen = append(seen, cur)

		if i > 0 {
			b.WriteString("Caused by: ")
		}
		b.WriteString(sectionHeader(cur))
		b.WriteByte('\n')

		if st, ok := cur.(StackTracer); ok {
			for _, fr := range st.StackFrames() {
				b.WriteString("\tat ")
				b.WriteString(fr.String())
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

func sectionHeader(err error) string {
	if f, ok := err.(*Fault); ok {
		return f.Error()
	}
	return ClassName(err) + ": " + err.Error()
}

// visited reports whether err already appeared in the chain.
// Errors whose values can not be compared, including structs holding an
// uncomparable error in an interface field, are never considered repeats.
func visited(seen []error, err error) bool {
	if !reflect.ValueOf(err).Comparable() {
		return false
	}
	for _, s := range seen {
		if reflect.TypeOf(s) == reflect.TypeOf(err) && reflect.ValueOf(s).Comparable() && s == err {
			return true
		}
	}
	return false
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
