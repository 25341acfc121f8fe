// sink.go defines the Sink interface, the send hook for written reports.

package crashlog

import "context"

// Sink receives every report after it has been written to disk.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write delivers a report. Errors are logged by the writer, never
	// propagated into the crash path.
	Write(ctx context.Context, report Report) error

	// Flush ensures any buffered reports are delivered.
	// For synchronous sinks, this may be a no-op.
	Flush(ctx context.Context) error

	// Close releases resources held by the sink.
	Close() error
}

// noopSinkInternal is the default sink, kept here to avoid import cycles.
type noopSinkInternal struct{}

func (s *noopSinkInternal) Write(ctx context.Context, report Report) error {
	return nil
}

func (s *noopSinkInternal) Flush(ctx context.Context) error {
	return nil
}

func (s *noopSinkInternal) Close() error {
	return nil
}
