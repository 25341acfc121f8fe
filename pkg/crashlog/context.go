// context.go propagates goroutine names through context.Context so guarded
// goroutines can be identified in reports.

package crashlog

import "context"

type goroutineNameKey struct{}

// WithGoroutineName returns a context naming goroutines started by Go.
func WithGoroutineName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, goroutineNameKey{}, name)
}

// GoroutineNameFromContext extracts the goroutine name from context.
// Returns empty string and false if not set or empty.
func GoroutineNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(goroutineNameKey{}).(string)
	return name, ok && name != ""
}
