package crashlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// fakeHost is a Host with a fixed identity and configurable fields.
type fakeHost struct {
	name       string
	pkg        string
	info       PackageInfo
	infoErr    error
	fields     []BuildField
	debuggable bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		name: "demo",
		pkg:  "example.com/demo",
		info: PackageInfo{VersionName: "1.2.0", VersionCode: 12},
		fields: []BuildField{
			{Name: "GOOS", Value: constant("linux")},
			{Name: "MODEL", Value: constant("test-box")},
		},
	}
}

func (h *fakeHost) PackageName() string     { return h.pkg }
func (h *fakeHost) ApplicationName() string { return h.name }
func (h *fakeHost) BuildFields() []BuildField {
	return h.fields
}
func (h *fakeHost) Debuggable() bool { return h.debuggable }

func (h *fakeHost) PackageInfo() (PackageInfo, error) {
	if h.infoErr != nil {
		return PackageInfo{}, h.infoErr
	}
	return h.info, nil
}

// fakeNotifier records notifications on buffered channels.
type fakeNotifier struct {
	messages chan string
	opened   chan string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		messages: make(chan string, 16),
		opened:   make(chan string, 16),
	}
}

func (n *fakeNotifier) ShowMessage(msg string)   { n.messages <- msg }
func (n *fakeNotifier) OpenDocument(path string) { n.opened <- path }

// drain waits briefly and returns everything received on ch.
func drain(ch chan string) []string {
	var got []string
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case v := <-ch:
			got = append(got, v)
		case <-timeout:
			return got
		}
	}
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 26, 15, 4, 5, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// exitRecorder replaces os.Exit and time.Sleep.
type exitRecorder struct {
	mu     sync.Mutex
	codes  []int
	sleeps []time.Duration
}

func (e *exitRecorder) Exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) Sleep(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sleeps = append(e.sleeps, d)
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

// failingKV fails every operation.
type failingKV struct{}

func (failingKV) Get(context.Context, string, string) (string, bool, error) {
	return "", false, errors.New("kv offline")
}

func (failingKV) Set(context.Context, string, string, string) error {
	return errors.New("kv offline")
}

// unavailableFiles is a FileStore whose every write fails.
type unavailableFiles struct {
	*OSFileStore
}

func (unavailableFiles) WriteFile(string, []byte) error {
	return errors.New("disk unavailable")
}

// recordingSink keeps every report it receives.
type recordingSink struct {
	mu       sync.Mutex
	reports  []Report
	writeErr error
	flushed  int
}

func (s *recordingSink) Write(ctx context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return s.writeErr
}

func (s *recordingSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed++
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Reports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report(nil), s.reports...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
