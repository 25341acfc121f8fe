// handler.go implements Handler, the process-scoped crash handler that turns
// unhandled errors into reports and terminates the process.

package crashlog

import (
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/strongdm/ai-crashlog/pkg/crashlog/stores/memory"
)

const (
	// DefaultGracePeriod is the wait between handling a crash and forced
	// termination, leaving time for the notification to show.
	DefaultGracePeriod = 3 * time.Second

	// DefaultThrottleWindow is the minimum time between two notifications.
	DefaultThrottleWindow = 5 * time.Second

	// NotifyMessage is the text of the crash notification.
	NotifyMessage = "The application hit an unexpected error and will close."

	exitStatus = 1
)

// Option configures a Handler.
type Option func(*handlerConfig)

type handlerConfig struct {
	store    KVStore
	files    FileStore
	notifier Notifier
	runtime  *Runtime
	sink     Sink
	scrubber *Scrubber
	logger   *slog.Logger
	clock    func() time.Time
	sleep    func(time.Duration)
	exit     func(int)
	grace    time.Duration
	window   time.Duration
	notify   bool
	autoOpen bool
}

// WithStore sets the durable store for the crash marker and throttle.
// Defaults to an in-memory store, which does not survive restarts.
func WithStore(kv KVStore) Option {
	return func(c *handlerConfig) {
		c.store = kv
	}
}

// WithFileStore sets where reports are written. Defaults to DefaultFileStore.
func WithFileStore(fs FileStore) Option {
	return func(c *handlerConfig) {
		c.files = fs
	}
}

// WithNotifier sets the notification surface. Defaults to a noop notifier.
func WithNotifier(n Notifier) Option {
	return func(c *handlerConfig) {
		c.notifier = n
	}
}

// WithRuntime sets the handler chain to install into. Defaults to Process.
func WithRuntime(r *Runtime) Option {
	return func(c *handlerConfig) {
		c.runtime = r
	}
}

// WithSink sets the send hook receiving every written report.
func WithSink(sink Sink) Option {
	return func(c *handlerConfig) {
		c.sink = sink
	}
}

// WithScrubber configures report scrubbing with a custom configuration.
func WithScrubber(cfg ScrubberConfig) Option {
	return func(c *handlerConfig) {
		c.scrubber = NewScrubber(cfg)
	}
}

// WithDefaultScrubbing enables scrubbing with production-safe defaults.
func WithDefaultScrubbing() Option {
	return WithScrubber(DefaultScrubberConfig())
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *handlerConfig) {
		c.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *handlerConfig) {
		c.clock = clock
	}
}

// WithSleepFunc sets the function used to wait out the grace period.
func WithSleepFunc(sleep func(time.Duration)) Option {
	return func(c *handlerConfig) {
		c.sleep = sleep
	}
}

// WithExitFunc sets the function terminating the process. Defaults to os.Exit.
func WithExitFunc(exit func(int)) Option {
	return func(c *handlerConfig) {
		c.exit = exit
	}
}

// WithGracePeriod sets the wait before forced termination.
func WithGracePeriod(d time.Duration) Option {
	return func(c *handlerConfig) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// WithThrottleWindow sets the minimum time between notifications.
func WithThrottleWindow(d time.Duration) Option {
	return func(c *handlerConfig) {
		if d >= 0 {
			c.window = d
		}
	}
}

// WithConfig applies file settings: flags, durations, report roots and scrubbing.
func WithConfig(cfg Config) Option {
	return func(c *handlerConfig) {
		if cfg.Notify != nil {
			c.notify = *cfg.Notify
		}
		c.autoOpen = cfg.AutoOpen
		if cfg.GracePeriod > 0 {
			c.grace = cfg.GracePeriod
		}
		if cfg.ThrottleWindow > 0 {
			c.window = cfg.ThrottleWindow
		}
		c.files = cfg.FileStore()
		if cfg.Scrub {
			c.scrubber = NewScrubber(DefaultScrubberConfig())
		}
	}
}

// installState is published once Init succeeds.
type installState struct {
	host     Host
	previous UncaughtHandler
	writer   *Writer
}

// Handler is the crash handler. Construct one per process with New and
// install it with Init.
//
// Crash handling takes no locks beyond the snapshot's own; concurrent
// crashes may each write a report and notify.
type Handler struct {
	initMu sync.Mutex
	state  atomic.Pointer[installState]

	notifyEnabled atomic.Bool
	autoOpen      atomic.Bool

	token     int64
	startTime time.Time
	snapshot  *Snapshot
	store     *CrashStore

	runtime  *Runtime
	files    FileStore
	notifier Notifier
	sink     Sink
	scrubber *Scrubber
	logger   *slog.Logger
	clock    func() time.Time
	sleep    func(time.Duration)
	exit     func(int)
	grace    time.Duration
	window   time.Duration
}

// New creates a Handler. It is inert until Init.
func New(opts ...Option) *Handler {
	cfg := &handlerConfig{
		grace:  DefaultGracePeriod,
		window: DefaultThrottleWindow,
		notify: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.store == nil {
		cfg.logger.Warn("no crash store configured, crash markers will not survive a restart")
		cfg.store = memory.New()
	}
	if cfg.files == nil {
		cfg.files = DefaultFileStore()
	}
	if cfg.notifier == nil {
		cfg.notifier = noopNotifier{}
	}
	if cfg.runtime == nil {
		cfg.runtime = Process
	}
	if cfg.sink == nil {
		cfg.sink = &noopSinkInternal{}
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.sleep == nil {
		cfg.sleep = time.Sleep
	}
	if cfg.exit == nil {
		cfg.exit = os.Exit
	}

	h := &Handler{
		token:     newProcessToken(),
		startTime: cfg.clock(),
		snapshot:  NewSnapshot(),
		store:     NewCrashStore(cfg.store),
		runtime:   cfg.runtime,
		files:     cfg.files,
		notifier:  cfg.notifier,
		sink:      cfg.sink,
		scrubber:  cfg.scrubber,
		logger:    cfg.logger,
		clock:     cfg.clock,
		sleep:     cfg.sleep,
		exit:      cfg.exit,
		grace:     cfg.grace,
		window:    cfg.window,
	}
	h.notifyEnabled.Store(cfg.notify)
	h.autoOpen.Store(cfg.autoOpen)
	return h
}

// newProcessToken derives a non-zero token from a random UUID.
func newProcessToken() int64 {
	id := uuid.New()
	token := int64(binary.BigEndian.Uint64(id[:8]))
	if token == 0 {
		token = 1
	}
	return token
}

// Init captures the runtime's default handler and installs h in its place.
//
// Only the first call captures the previous handler. Later calls never
// re-capture it, so h can not chain to itself; they only reinstall h if
// another handler replaced it meanwhile. If the runtime has no usable
// previous handler, a TerminalHandler writing to stderr stands in.
func (h *Handler) Init(host Host) error {
	if host == nil {
		return ErrNilHost
	}

	h.initMu.Lock()
	defer h.initMu.Unlock()

	var (
		previous UncaughtHandler
		writer   *Writer
	)
	if st := h.state.Load(); st != nil {
		previous = st.previous
		writer = st.writer.rebind(host)
	} else {
		previous = h.runtime.DefaultHandler()
		if previous == nil || previous == UncaughtHandler(h) {
			previous = TerminalHandler(os.Stderr, h.exit)
		}
		writer = NewWriter(WriterConfig{
			Files:    h.files,
			Host:     host,
			Snapshot: h.snapshot,
			Sink:     h.sink,
			Scrubber: h.scrubber,
			Clock:    h.clock,
			Logger:   h.logger,
		})
	}

	h.state.Store(&installState{
		host:     host,
		previous: previous,
		writer:   writer,
	})
	h.runtime.SetDefaultHandler(h)

	h.logger.Info("crash handler installed", "app", applicationName(host), "token", h.token)
	return nil
}

// IsInitialized reports whether Init has set a host and a previous handler.
func (h *Handler) IsInitialized() bool {
	st := h.state.Load()
	return st != nil && st.host != nil && st.previous != nil
}

// Token returns the identity token of this process instance.
func (h *Handler) Token() int64 {
	return h.token
}

// SetNotifyEnabled toggles the crash notification. Returns
// ErrNotInitialized before Init.
func (h *Handler) SetNotifyEnabled(enabled bool) error {
	if !h.IsInitialized() {
		h.logger.Debug("crash handler has not been initialized")
		return ErrNotInitialized
	}
	h.notifyEnabled.Store(enabled)
	return nil
}

// SetAutoOpenOnCrash toggles opening the report after a crash. Returns
// ErrNotInitialized before Init.
func (h *Handler) SetAutoOpenOnCrash(enabled bool) error {
	if !h.IsInitialized() {
		h.logger.Debug("crash handler has not been initialized")
		return ErrNotInitialized
	}
	h.autoOpen.Store(enabled)
	return nil
}

// Uncaught handles an error that escaped all user code on g. It runs on the
// failing goroutine and, unless the error is deferred to the previous
// handler, ends by calling the exit function with a non-zero status.
func (h *Handler) Uncaught(g Goroutine, err error) {
	h.safely("mark crashed", func() {
		if err := h.store.MarkCrashed(context.Background(), h.token); err != nil {
			h.logger.Error("could not record crash marker", "error", err)
		}
	})

	handled := false
	h.safely("handle exception", func() {
		handled = h.handle(g, err)
	})

	if st := h.state.Load(); !handled && st != nil && st.previous != nil {
		chainedCrashes.Inc()
		h.logger.Info("deferring unhandled error to previous handler", "goroutine", g.String())
		st.previous.Uncaught(g, err)
		return
	}

	h.safely("flush sink", func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.grace)
		defer cancel()
		if err := h.sink.Flush(ctx); err != nil {
			h.logger.Warn("report sink flush failed", "error", err)
		}
	})

	h.logger.Error("terminating process after unhandled error", "goroutine", g.String(), "error", err, "grace", h.grace)
	h.sleep(h.grace)
	h.exit(exitStatus)
}

// HandleException records err as a crash report. It returns false when the
// handler is not initialized or err is nil, meaning the error should be
// deferred upstream, and true otherwise.
func (h *Handler) HandleException(err error) bool {
	return h.handle(CurrentGoroutine(""), err)
}

func (h *Handler) handle(g Goroutine, err error) bool {
	st := h.state.Load()
	if st == nil {
		h.logger.Debug("crash handler has not been initialized")
		return false
	}
	if err == nil {
		return false
	}

	rec := NewRecord(g, err, h.clock())
	rec.SystemState = CaptureSystemState(h.startTime)
	h.logger.Error("unhandled error", "goroutine", g.String(), "class", rec.Class, "error", err, "trace", rec.Trace)

	h.safely("collect device info", func() {
		// Field failures are already logged by Collect.
		_ = h.snapshot.Collect(st.host, h.logger)
	})

	var path string
	h.safely("write report", func() {
		if p, err := st.writer.WriteCrash(context.Background(), rec); err == nil {
			path = p
		}
	})

	notify := h.notifyEnabled.Load()
	open := h.autoOpen.Load() && path != ""
	if (notify || open) && h.ShouldNotify() {
		if notify {
			notificationsShown.Inc()
			h.detach("show notification", func() { h.notifier.ShowMessage(NotifyMessage) })
		}
		if open {
			h.detach("open report", func() { h.notifier.OpenDocument(path) })
		}
	}
	return true
}

// ShouldNotify is the notification throttle. It passes when no previous
// check was recorded or the last one is at least the throttle window old,
// and records the current time on every call.
func (h *Handler) ShouldNotify() bool {
	ctx := context.Background()
	now := h.clock()

	last, ok, err := h.store.LastNotify(ctx)
	if err != nil {
		h.logger.Warn("could not read notification throttle", "error", err)
		ok = false
	}
	if err := h.store.SetLastNotify(ctx, now); err != nil {
		h.logger.Warn("could not record notification throttle", "error", err)
	}
	return !ok || now.Sub(last) >= h.window
}

// CollectDeviceInfo adds host facts to the snapshot and returns a copy of it.
// A partial failure returns the collected facts with an error wrapping
// ErrCollectionPartial.
func (h *Handler) CollectDeviceInfo(host Host) (map[string]string, error) {
	err := h.snapshot.Collect(host, h.logger)
	return h.snapshot.Map(), err
}

// WriteNote writes text as an informational report and returns its path.
func (h *Handler) WriteNote(ctx context.Context, text string) (string, error) {
	st := h.state.Load()
	if st == nil {
		return "", ErrNotInitialized
	}
	return st.writer.WriteNote(ctx, text)
}

// ReportDir returns the directory reports are written to.
func (h *Handler) ReportDir() (string, error) {
	st := h.state.Load()
	if st == nil {
		return "", ErrNotInitialized
	}
	return st.writer.Dir()
}

// IsStartedFromCrash reports whether the previous process run crashed.
// Returns ErrNotInitialized before Init.
func (h *Handler) IsStartedFromCrash(ctx context.Context) (bool, error) {
	if !h.IsInitialized() {
		h.logger.Debug("crash handler has not been initialized")
		return false, ErrNotInitialized
	}
	return h.store.IsStartedFromCrash(ctx, h.token)
}

// ClearCrashMarker acknowledges a previous crash. It works before Init.
func (h *Handler) ClearCrashMarker(ctx context.Context) error {
	if !h.IsInitialized() {
		h.logger.Debug("crash handler has not been initialized, clearing marker anyway")
	}
	return h.store.Clear(ctx)
}

// IsDebuggable reports whether the host is a debug build.
func (h *Handler) IsDebuggable() bool {
	st := h.state.Load()
	if st == nil {
		return false
	}
	if d, ok := st.host.(DebuggableHost); ok {
		return d.Debuggable()
	}
	return false
}

// Close flushes and closes the sink.
func (h *Handler) Close(ctx context.Context) error {
	if err := h.sink.Flush(ctx); err != nil {
		h.logger.Warn("report sink flush failed", "error", err)
	}
	return h.sink.Close()
}

// safely runs step, logging instead of propagating a panic.
func (h *Handler) safely(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("crash handling step failed", "step", step, "panic", formatRecovered(r))
		}
	}()
	fn()
}

// detach runs fn on a new goroutine so slow notification surfaces never
// delay the failing goroutine.
func (h *Handler) detach(step string, fn func()) {
	go h.safely(step, fn)
}
