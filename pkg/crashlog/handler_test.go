package crashlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongdm/ai-crashlog/pkg/crashlog/stores/memory"
)

// countingHandler is a comparable UncaughtHandler that records calls.
type countingHandler struct {
	mu   sync.Mutex
	errs []error
}

func (c *countingHandler) Uncaught(g Goroutine, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *countingHandler) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

type testEnv struct {
	h        *Handler
	rt       *Runtime
	prev     *countingHandler
	kv       *memory.Store
	notifier *fakeNotifier
	exits    *exitRecorder
	clock    *fakeClock
	sink     *recordingSink
	root     string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		prev:     &countingHandler{},
		kv:       memory.New(),
		notifier: newFakeNotifier(),
		exits:    &exitRecorder{},
		clock:    newFakeClock(),
		sink:     &recordingSink{},
		root:     t.TempDir(),
	}
	env.rt = NewRuntime(env.prev)
	base := []Option{
		WithRuntime(env.rt),
		WithStore(env.kv),
		WithFileStore(&OSFileStore{FilesDir: env.root}),
		WithNotifier(env.notifier),
		WithSink(env.sink),
		WithLogger(discardLogger()),
		WithClock(env.clock.Now),
		WithSleepFunc(env.exits.Sleep),
		WithExitFunc(env.exits.Exit),
	}
	env.h = New(append(base, opts...)...)
	return env
}

func (env *testEnv) init(t *testing.T) *fakeHost {
	t.Helper()
	host := newFakeHost()
	require.NoError(t, env.h.Init(host))
	return host
}

func listReports(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestHandler_Init_NilHost(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.h.Init(nil), ErrNilHost)
	assert.False(t, env.h.IsInitialized())
}

func TestHandler_Init_AnySequenceInstallsHandler(t *testing.T) {
	for calls := 1; calls <= 4; calls++ {
		env := newTestEnv(t)
		for i := 0; i < calls; i++ {
			if i == 1 {
				// Something else takes over between calls.
				env.rt.SetDefaultHandler(&countingHandler{})
			}
			env.init(t)
		}
		assert.True(t, env.h.IsInitialized(), "calls=%d", calls)
		assert.Same(t, env.h, env.rt.DefaultHandler(), "calls=%d", calls)
		assert.Same(t, env.prev, env.h.state.Load().previous, "previous must be captured once, calls=%d", calls)
	}
}

func TestHandler_Init_NoPreviousFallsBackToTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.rt.SetDefaultHandler(nil)
	env.init(t)

	assert.True(t, env.h.IsInitialized())
	assert.NotNil(t, env.h.state.Load().previous)
}

func TestHandler_Init_ChainsToEarlierHandler(t *testing.T) {
	first := newTestEnv(t)
	first.init(t)

	second := New(WithRuntime(first.rt), WithStore(memory.New()), WithLogger(discardLogger()))
	require.NoError(t, second.Init(newFakeHost()))

	assert.Same(t, first.h, second.state.Load().previous)
	assert.Same(t, second, first.rt.DefaultHandler())
}

func TestHandler_SettersBeforeInit(t *testing.T) {
	env := newTestEnv(t)

	assert.ErrorIs(t, env.h.SetNotifyEnabled(false), ErrNotInitialized)
	assert.ErrorIs(t, env.h.SetAutoOpenOnCrash(true), ErrNotInitialized)
	_, err := env.h.IsStartedFromCrash(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = env.h.WriteNote(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = env.h.ReportDir()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, env.h.IsDebuggable())

	// Clearing works without Init.
	assert.NoError(t, env.h.ClearCrashMarker(context.Background()))

	env.init(t)
	assert.NoError(t, env.h.SetNotifyEnabled(false))
	assert.NoError(t, env.h.SetAutoOpenOnCrash(true))
}

func TestHandler_Uncaught_Boom(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)

	env.h.Uncaught(Goroutine{ID: 9, Name: "threadX"}, NewFault("NullPointerException", "boom", nil))

	marker, err := NewCrashStore(env.kv).Marker(context.Background())
	require.NoError(t, err)
	assert.True(t, marker.Crashed)
	assert.Equal(t, env.h.Token(), marker.OwnerToken)

	dir, err := env.h.ReportDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, "crashlog", "demo", "12_1.2.0"), dir)

	names := listReports(t, dir)
	require.Len(t, names, 1)
	assert.Regexp(t, regexp.MustCompile(`^crash-\d{4}-\d{2}-\d{2}-\d{2}-\d{2}-\d{2}-\d+\.log$`), names[0])

	data, err := os.ReadFile(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "versionName=1.2.0\nversionCode=12\nGOOS=linux\nMODEL=test-box\n\n"), content)
	assert.Contains(t, content, "NullPointerException: boom")
	assert.Contains(t, content, "\tat ")

	assert.Equal(t, []int{1}, env.exits.Codes())
	assert.Equal(t, []time.Duration{DefaultGracePeriod}, env.exits.sleeps)
	assert.Zero(t, env.prev.Calls(), "handled errors are not chained")

	reports := env.sink.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, KindCrash, reports[0].Kind)
	assert.Equal(t, "NullPointerException", reports[0].Class)
	assert.Equal(t, "threadX", reports[0].Goroutine.Name)
	assert.NotNil(t, reports[0].SystemState)
	assert.Equal(t, 1, env.sink.flushed)
}

func TestHandler_Uncaught_NilErrorChainsToPrevious(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)

	env.h.Uncaught(Goroutine{ID: 3}, nil)

	assert.Equal(t, 1, env.prev.Calls())
	assert.Empty(t, env.exits.Codes(), "chained errors leave termination to the previous handler")
}

func TestHandler_Uncaught_NotInitializedStillTerminates(t *testing.T) {
	env := newTestEnv(t)

	env.h.Uncaught(Goroutine{ID: 3}, errors.New("early"))

	marker, err := NewCrashStore(env.kv).Marker(context.Background())
	require.NoError(t, err)
	assert.True(t, marker.Crashed)
	assert.Equal(t, []int{1}, env.exits.Codes())
	assert.Zero(t, env.prev.Calls())
}

func TestHandler_Uncaught_StepFailuresDoNotAbort(t *testing.T) {
	env := newTestEnv(t, WithStore(failingKV{}))
	host := newFakeHost()
	host.infoErr = errors.New("no package manager")
	host.fields = append(host.fields, BuildField{Name: "BROKEN", Value: func() (string, error) {
		panic("sensor missing")
	}})
	require.NoError(t, env.h.Init(host))

	env.h.Uncaught(Goroutine{ID: 1}, errors.New("disk on fire"))

	assert.Equal(t, []int{1}, env.exits.Codes())
	reports := env.sink.Reports()
	require.Len(t, reports, 1, "the report is written even though collection failed")
	assert.Contains(t, reports[0].Snapshot, Pair{Key: "versionName", Value: "null"})
	assert.Contains(t, reports[0].Snapshot, Pair{Key: "MODEL", Value: "test-box"})
	assert.Equal(t, []string{NotifyMessage}, drain(env.notifier.messages), "a failing throttle store lets the notification through")
}

func TestHandler_HandleException_NotInitialized(t *testing.T) {
	env := newTestEnv(t)
	assert.False(t, env.h.HandleException(errors.New("x")))

	env.init(t)
	assert.False(t, env.h.HandleException(nil))
	assert.True(t, env.h.HandleException(errors.New("x")))
}

func TestHandler_NotificationThrottle(t *testing.T) {
	tests := []struct {
		name string
		gap  time.Duration
		want int
	}{
		{"within window", 4999 * time.Millisecond, 1},
		{"at window", 5000 * time.Millisecond, 2},
		{"beyond window", time.Minute, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.init(t)

			require.True(t, env.h.HandleException(errors.New("first")))
			env.clock.Advance(tt.gap)
			require.True(t, env.h.HandleException(errors.New("second")))

			assert.Len(t, drain(env.notifier.messages), tt.want)
			assert.Len(t, env.sink.Reports(), 2, "every crash is written regardless of throttling")
		})
	}
}

func TestHandler_ThrottleSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	require.True(t, env.h.ShouldNotify())

	// A new process instance sharing the store within the window.
	next := New(WithStore(env.kv), WithClock(env.clock.Now), WithRuntime(NewRuntime(nil)), WithLogger(discardLogger()))
	assert.False(t, next.ShouldNotify())
}

func TestHandler_AutoOpen(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	require.NoError(t, env.h.SetNotifyEnabled(false))
	require.NoError(t, env.h.SetAutoOpenOnCrash(true))

	require.True(t, env.h.HandleException(errors.New("boom")))

	opened := drain(env.notifier.opened)
	require.Len(t, opened, 1)
	assert.FileExists(t, opened[0])
	assert.Empty(t, drain(env.notifier.messages))
}

func TestHandler_NotifyDisabled_SkipsThrottle(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)
	require.NoError(t, env.h.SetNotifyEnabled(false))

	require.True(t, env.h.HandleException(errors.New("boom")))

	assert.Empty(t, drain(env.notifier.messages))
	_, ok, err := NewCrashStore(env.kv).LastNotify(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "the throttle is not consulted when nothing would be shown")
}

func TestHandler_WriteFailureLeavesNoFile(t *testing.T) {
	env := newTestEnv(t)
	env.h.files = unavailableFiles{&OSFileStore{FilesDir: env.root}}
	env.init(t)

	assert.True(t, env.h.HandleException(errors.New("boom")))

	dir, err := env.h.ReportDir()
	require.NoError(t, err)
	assert.Empty(t, listReports(t, dir))
	assert.Empty(t, env.sink.Reports())
}

func TestHandler_WriteNote(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)

	path, err := env.h.WriteNote(context.Background(), "heartbeat")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(path), "crashlog-"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "heartbeat")
	assert.NotContains(t, string(data), "\tat ")
}

func TestHandler_WriteNote_ReinitKeepsNamesUnique(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)

	first, err := env.h.WriteNote(context.Background(), "before")
	require.NoError(t, err)
	env.init(t)
	second, err := env.h.WriteNote(context.Background(), "after")
	require.NoError(t, err)

	// The clock is frozen, so both notes fall in the same millisecond.
	assert.NotEqual(t, first, second)
	assert.FileExists(t, first)
	assert.FileExists(t, second)
}

func TestHandler_Uncaught_Concurrent(t *testing.T) {
	const n = 16
	env := newTestEnv(t)
	env.init(t)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env.h.Uncaught(CurrentGoroutine("worker"), NewFault("WorkerFailure", fmt.Sprintf("worker %d", i), nil))
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent crashes did not complete")
	}

	dir, err := env.h.ReportDir()
	require.NoError(t, err)
	assert.Len(t, listReports(t, dir), n)
	assert.Len(t, env.sink.Reports(), n)

	codes := env.exits.Codes()
	require.Len(t, codes, n)
	for _, code := range codes {
		assert.Equal(t, 1, code)
	}
	assert.Zero(t, env.prev.Calls())
}

// detailsError has an uncomparable dynamic type.
type detailsError map[string]string

func (e detailsError) Error() string { return "details: " + e["reason"] }

// wrapperError is a comparable type that can carry a detailsError.
type wrapperError struct {
	details error
	cause   error
}

func (e wrapperError) Error() string { return "wrapped " + e.details.Error() }
func (e wrapperError) Unwrap() error { return e.cause }

func TestHandler_Uncaught_UncomparableErrorChain(t *testing.T) {
	env := newTestEnv(t)
	env.init(t)

	err := wrapperError{
		details: detailsError{"reason": "outer"},
		cause:   wrapperError{details: detailsError{"reason": "inner"}},
	}
	assert.NotPanics(t, func() {
		env.h.Uncaught(Goroutine{ID: 4}, err)
	})

	dir, dirErr := env.h.ReportDir()
	require.NoError(t, dirErr)
	names := listReports(t, dir)
	require.Len(t, names, 1)
	data, readErr := os.ReadFile(filepath.Join(dir, names[0]))
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "Caused by: crashlog.wrapperError: wrapped details: inner")
	assert.Zero(t, env.prev.Calls(), "a rendered report must not be deferred upstream")
	assert.Equal(t, []int{1}, env.exits.Codes())
}

func TestTerminalHandler_UncomparableErrorChain(t *testing.T) {
	var code int
	h := TerminalHandler(io.Discard, func(c int) { code = c })

	err := wrapperError{
		details: detailsError{"reason": "a"},
		cause:   wrapperError{details: detailsError{"reason": "b"}},
	}
	assert.NotPanics(t, func() { h.Uncaught(Goroutine{ID: 2}, err) })
	assert.Equal(t, 2, code)
}

func TestHandler_IsStartedFromCrash(t *testing.T) {
	crashed := newTestEnv(t)
	crashed.init(t)
	crashed.h.Uncaught(Goroutine{ID: 1}, errors.New("boom"))

	same, err := crashed.h.IsStartedFromCrash(context.Background())
	require.NoError(t, err)
	assert.False(t, same, "the crashing instance does not see its own marker")

	next := New(WithStore(crashed.kv), WithRuntime(NewRuntime(nil)), WithLogger(discardLogger()))
	require.NoError(t, next.Init(newFakeHost()))

	started, err := next.IsStartedFromCrash(context.Background())
	require.NoError(t, err)
	assert.True(t, started)

	require.NoError(t, next.ClearCrashMarker(context.Background()))
	started, err = next.IsStartedFromCrash(context.Background())
	require.NoError(t, err)
	assert.False(t, started)
}

func TestHandler_IsDebuggable(t *testing.T) {
	env := newTestEnv(t)
	host := newFakeHost()
	host.debuggable = true
	require.NoError(t, env.h.Init(host))

	assert.True(t, env.h.IsDebuggable())
}

func TestHandler_CollectDeviceInfo(t *testing.T) {
	env := newTestEnv(t)
	host := newFakeHost()
	host.fields = append(host.fields, BuildField{Name: "SERIAL", Value: func() (string, error) {
		return "", errors.New("permission denied")
	}})

	info, err := env.h.CollectDeviceInfo(host)
	assert.ErrorIs(t, err, ErrCollectionPartial)
	assert.Equal(t, "test-box", info["MODEL"])
	assert.NotContains(t, info, "SERIAL")

	_, err = env.h.CollectDeviceInfo(nil)
	assert.ErrorIs(t, err, ErrNilHost)
}

func TestHandler_WithConfig(t *testing.T) {
	off := false
	cfg := DefaultConfig()
	cfg.Notify = &off
	cfg.AutoOpen = true
	cfg.GracePeriod = time.Second
	cfg.ThrottleWindow = time.Minute
	cfg.FilesDir = t.TempDir()

	h := New(WithConfig(cfg), WithStore(memory.New()), WithRuntime(NewRuntime(nil)))

	assert.False(t, h.notifyEnabled.Load())
	assert.True(t, h.autoOpen.Load())
	assert.Equal(t, time.Second, h.grace)
	assert.Equal(t, time.Minute, h.window)
}

func TestHandler_Token(t *testing.T) {
	a := newTestEnv(t)
	b := newTestEnv(t)
	assert.NotZero(t, a.h.Token())
	assert.NotEqual(t, a.h.Token(), b.h.Token())
}

func TestHandler_GuardedGoroutine(t *testing.T) {
	codes := make(chan int, 1)
	env := newTestEnv(t, WithExitFunc(func(code int) {
		codes <- code
		select {} // a real exit never returns
	}))
	env.init(t)

	ctx := WithGoroutineName(context.Background(), "worker")
	env.rt.Go(ctx, func(ctx context.Context) {
		panic(errors.New("kaboom"))
	})

	select {
	case code := <-codes:
		assert.Equal(t, 1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not terminate")
	}

	reports := env.sink.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "worker", reports[0].Goroutine.Name)
	assert.Equal(t, "errors.errorString", reports[0].Class)
	assert.Contains(t, reports[0].Body, "kaboom")
}

func TestHandler_Close(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.h.Close(context.Background()))
	assert.Equal(t, 1, env.sink.flushed)
}
