// Package stderr provides a sink that prints written reports to stderr in
// human-readable format. Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
)

// StderrSinkOption configures the stderr sink.
type StderrSinkOption func(*stderrSinkConfig)

type stderrSinkConfig struct {
	verbose bool
	out     io.Writer
}

// WithVerbose enables the full report body (trace or note text).
func WithVerbose() StderrSinkOption {
	return func(c *stderrSinkConfig) {
		c.verbose = true
	}
}

// WithOutput redirects the sink away from os.Stderr.
func WithOutput(w io.Writer) StderrSinkOption {
	return func(c *stderrSinkConfig) {
		if w != nil {
			c.out = w
		}
	}
}

type stderrSink struct {
	verbose bool
	out     io.Writer
}

// NewStderrSink creates a sink that writes to stderr.
func NewStderrSink(opts ...StderrSinkOption) crashlog.Sink {
	cfg := &stderrSinkConfig{out: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}
	return &stderrSink{
		verbose: cfg.verbose,
		out:     cfg.out,
	}
}

// Write formats and outputs the report.
func (s *stderrSink) Write(ctx context.Context, report crashlog.Report) error {
	kind := strings.ToUpper(string(report.Kind))

	// Format: [CRASHLOG] <timestamp> <KIND> <class> on <goroutine>
	timestamp := report.Timestamp.Format("2006-01-02T15:04:05Z07:00")

	parts := []string{fmt.Sprintf("[CRASHLOG] %s %s", timestamp, kind)}
	if report.Class != "" {
		parts = append(parts, report.Class)
	}
	if report.Goroutine.ID != 0 {
		parts = append(parts, fmt.Sprintf("on %s", report.Goroutine))
	}

	var b strings.Builder
	b.WriteString(strings.Join(parts, " "))
	b.WriteByte('\n')

	if report.Message != "" {
		fmt.Fprintf(&b, "        Message: %s\n", report.Message)
	}
	if report.Fingerprint != "" {
		fmt.Fprintf(&b, "        Fingerprint: %s\n", report.Fingerprint)
	}
	if report.Path != "" {
		fmt.Fprintf(&b, "        Path: %s\n", report.Path)
	}
	if st := report.SystemState; st != nil {
		fmt.Fprintf(&b, "        System: heap=%dB goroutines=%d uptime=%dms host=%s\n",
			st.MemoryBytes, st.GoroutineCount, st.UptimeMs, st.HostName)
	}

	if s.verbose && report.Body != "" {
		b.WriteString("        Body:\n")
		for _, line := range strings.Split(strings.TrimRight(report.Body, "\n"), "\n") {
			fmt.Fprintf(&b, "          %s\n", line)
		}
	}

	_, err := io.WriteString(s.out, b.String())
	return err
}

// Flush is a no-op for stderr sink.
func (s *stderrSink) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op for stderr sink.
func (s *stderrSink) Close() error {
	return nil
}
