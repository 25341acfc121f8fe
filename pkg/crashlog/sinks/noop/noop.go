// Package noop has a sink for hosts that want report files on disk and
// nothing else.
package noop

import (
	"context"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
)

// Sink accepts reports and drops them. The zero value is ready to use.
type Sink struct{}

var _ crashlog.Sink = Sink{}

// NewNoopSink returns a Sink.
func NewNoopSink() Sink {
	return Sink{}
}

func (Sink) Write(context.Context, crashlog.Report) error { return nil }

func (Sink) Flush(context.Context) error { return nil }

func (Sink) Close() error { return nil }
