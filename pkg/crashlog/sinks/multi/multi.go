// Package multi delivers each report to several sinks, such as a terminal
// echo next to a queue feeding an upload.
package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
)

// Sink hands every report to each member in order. A member that fails
// does not stop delivery to the rest; failures come back joined, each
// tagged with the member's position.
type Sink struct {
	members []crashlog.Sink
}

// NewMultiSink returns a Sink over the non-nil members.
func NewMultiSink(members ...crashlog.Sink) *Sink {
	s := &Sink{members: make([]crashlog.Sink, 0, len(members))}
	for _, m := range members {
		if m != nil {
			s.members = append(s.members, m)
		}
	}
	return s
}

// Len returns the number of members.
func (s *Sink) Len() int {
	return len(s.members)
}

func (s *Sink) Write(ctx context.Context, report crashlog.Report) error {
	return s.each("write", func(m crashlog.Sink) error {
		return m.Write(ctx, report)
	})
}

func (s *Sink) Flush(ctx context.Context) error {
	return s.each("flush", func(m crashlog.Sink) error {
		return m.Flush(ctx)
	})
}

func (s *Sink) Close() error {
	return s.each("close", crashlog.Sink.Close)
}

func (s *Sink) each(op string, fn func(crashlog.Sink) error) error {
	var errs []error
	for i, m := range s.members {
		if err := fn(m); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %s: %w", i, op, err))
		}
	}
	return errors.Join(errs...)
}
