// Package async provides a sink wrapper with a bounded queue so slow send
// hooks never block the crashing goroutine. Reports are delivered in the
// background; the oldest report is dropped when the queue is full.
package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strongdm/ai-crashlog/pkg/crashlog"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("async sink is closed")

// AsyncSinkOption configures the async sink.
type AsyncSinkOption func(*asyncSinkConfig)

type asyncSinkConfig struct {
	queueSize int
	onDropped func(count int)
}

// WithQueueSize sets the maximum number of queued reports (default: 64).
func WithQueueSize(size int) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithOnDropped sets a callback invoked when reports are dropped due to queue overflow.
func WithOnDropped(fn func(count int)) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		c.onDropped = fn
	}
}

// asyncSink wraps a sink with a bounded queue.
type asyncSink struct {
	inner     crashlog.Sink
	queue     chan crashlog.Report
	done      chan struct{}
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	pending   atomic.Int64
	onDropped func(count int)
}

// NewAsyncSink wraps a sink with a bounded queue for async writes.
// Write returns immediately; reports are processed in the background.
func NewAsyncSink(inner crashlog.Sink, opts ...AsyncSinkOption) crashlog.Sink {
	cfg := &asyncSinkConfig{
		queueSize: 64,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &asyncSink{
		inner:     inner,
		queue:     make(chan crashlog.Report, cfg.queueSize),
		done:      make(chan struct{}),
		onDropped: cfg.onDropped,
	}

	s.wg.Add(1)
	go s.processLoop()

	return s
}

// processLoop drains the queue and writes to the inner sink.
func (s *asyncSink) processLoop() {
	defer s.wg.Done()
	for {
		select {
		case report := <-s.queue:
			s.deliver(report)
		case <-s.done:
			for {
				select {
				case report := <-s.queue:
					s.deliver(report)
				default:
					return
				}
			}
		}
	}
}

// deliver writes one report, ignoring inner errors (fire and forget).
func (s *asyncSink) deliver(report crashlog.Report) {
	defer s.pending.Add(-1)
	_ = s.inner.Write(context.Background(), report)
}

// Write enqueues a report. If the queue is full, the oldest report is dropped.
func (s *asyncSink) Write(ctx context.Context, report crashlog.Report) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	s.pending.Add(1)
	select {
	case s.queue <- report:
		return nil
	default:
		s.dropOldestAndEnqueue(report)
		return nil
	}
}

// dropOldestAndEnqueue drops the oldest report and enqueues the new one.
func (s *asyncSink) dropOldestAndEnqueue(report crashlog.Report) {
	select {
	case <-s.queue:
		s.dropped()
	default:
		// emptied by the processor meanwhile
	}

	select {
	case s.queue <- report:
	default:
		s.dropped()
	}
}

func (s *asyncSink) dropped() {
	s.pending.Add(-1)
	if s.onDropped != nil {
		s.onDropped(1)
	}
}

// Flush blocks until every accepted report was delivered or dropped.
func (s *asyncSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return s.inner.Flush(ctx)
}

// Close stops the processor after draining the queue and closes the inner sink.
func (s *asyncSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.done)
		s.wg.Wait()
	})

	return s.inner.Close()
}
