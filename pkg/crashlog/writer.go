// writer.go serializes crash records and notes to report files.

package crashlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ReportsDirName is the directory created under a storage root to hold reports.
const ReportsDirName = "crashlog"

// WriterConfig configures a Writer. Files, Host and Snapshot are required.
type WriterConfig struct {
	Files    FileStore
	Host     Host
	Snapshot *Snapshot

	// Sink receives every written report. Defaults to a noop sink.
	Sink Sink

	// Scrubber, when set, redacts report content before it is written.
	Scrubber *Scrubber

	Clock  func() time.Time
	Logger *slog.Logger
}

// Writer writes reports under
// <root>/crashlog/<applicationName>/<versionCode>_<versionName>/.
type Writer struct {
	files    FileStore
	host     Host
	snapshot *Snapshot
	sink     Sink
	scrubber *Scrubber
	clock    func() time.Time
	logger   *slog.Logger

	// lastMillis keeps file name suffixes strictly increasing. Writers
	// rebound to a new host share it.
	lastMillis *atomic.Int64
}

// NewWriter creates a Writer from cfg.
func NewWriter(cfg WriterConfig) *Writer {
	w := &Writer{
		files:    cfg.Files,
		host:     cfg.Host,
		snapshot: cfg.Snapshot,
		sink:     cfg.Sink,
		scrubber: cfg.Scrubber,
		clock:    cfg.Clock,
		logger:   cfg.Logger,

		lastMillis: new(atomic.Int64),
	}
	if w.sink == nil {
		w.sink = &noopSinkInternal{}
	}
	if w.snapshot == nil {
		w.snapshot = NewSnapshot()
	}
	if w.clock == nil {
		w.clock = time.Now
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// rebind returns a copy of w writing for host. The copy continues w's file
// name sequence, so reports written on either side never collide.
func (w *Writer) rebind(host Host) *Writer {
	next := *w
	next.host = host
	return &next
}

// Dir resolves the report directory. The root is the external store if it
// is available, else the cache store if available, else the files store.
func (w *Writer) Dir() (string, error) {
	if w.files == nil || w.host == nil {
		return "", errors.New("writer has no file store or host")
	}

	root := w.files.FilesRoot()
	if dir, ok := w.files.ExternalRoot(); ok {
		root = dir
	} else if dir, ok := w.files.CacheRoot(); ok {
		root = dir
	}
	if root == "" {
		return "", errors.New("no storage root available")
	}

	return filepath.Join(root, ReportsDirName, pathSegment(applicationName(w.host)), versionSegment(w.host)), nil
}

// WriteCrash writes rec and returns the report path. On failure the
// returned error wraps ErrWrite and no file is left behind.
func (w *Writer) WriteCrash(ctx context.Context, rec *Record) (string, error) {
	body := rec.Trace
	message := rec.Message
	if w.scrubber != nil {
		body = w.scrubber.ScrubTrace(body)
		message = w.scrubber.ScrubMessage(message)
	}

	report := Report{
		ID:          rec.ID,
		Kind:        KindCrash,
		Timestamp:   rec.Timestamp,
		Goroutine:   rec.Goroutine,
		Class:       rec.Class,
		Message:     message,
		Fingerprint: rec.Fingerprint,
		Body:        body,
		SystemState: rec.SystemState,
	}
	return w.write(ctx, report)
}

// WriteNote writes text as an informational report and returns its path.
func (w *Writer) WriteNote(ctx context.Context, text string) (string, error) {
	if w.scrubber != nil {
		text = w.scrubber.ScrubMessage(text)
	}
	report := Report{
		ID:        uuid.NewString(),
		Kind:      KindNote,
		Timestamp: w.clock(),
		Body:      text,
	}
	return w.write(ctx, report)
}

func (w *Writer) write(ctx context.Context, report Report) (string, error) {
	if report.Timestamp.IsZero() {
		report.Timestamp = w.clock()
	}

	dir, err := w.Dir()
	if err != nil {
		return "", w.fail(report.Kind, "", err)
	}
	if err := w.files.MkdirAll(dir); err != nil {
		return "", w.fail(report.Kind, dir, fmt.Errorf("create directory: %w", err))
	}

	report.Snapshot = w.snapshot.Pairs()
	if w.scrubber != nil {
		report.Snapshot = w.scrubber.ScrubPairs(report.Snapshot)
	}

	name := FileName(report.Kind, report.Timestamp, w.nextMillis(report.Timestamp))
	path := filepath.Join(dir, name)
	if err := w.files.WriteFile(path, EncodeReport(report.Snapshot, report.Body)); err != nil {
		return "", w.fail(report.Kind, path, err)
	}
	reportsWritten.WithLabelValues(string(report.Kind)).Inc()
	w.logger.Info("report written", "kind", report.Kind, "path", path, "id", report.ID)

	report.Path = path
	if err := w.sink.Write(ctx, report); err != nil {
		w.logger.Warn("report sink failed", "path", path, "error", err)
	}
	return path, nil
}

func (w *Writer) fail(kind Kind, path string, err error) error {
	writeFailures.Inc()
	w.logger.Error("an error occurred while writing report", "kind", kind, "path", path, "error", err)
	return fmt.Errorf("%w: %w", ErrWrite, err)
}

// nextMillis returns t in Unix milliseconds, bumped past the last value this
// writer used so two reports never share a name.
func (w *Writer) nextMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	for {
		last := w.lastMillis.Load()
		next := ms
		if next <= last {
			next = last + 1
		}
		if w.lastMillis.CompareAndSwap(last, next) {
			return next
		}
	}
}

// applicationName falls back to the package name, then "unknown".
func applicationName(host Host) string {
	if name := strings.TrimSpace(host.ApplicationName()); name != "" {
		return name
	}
	if name := strings.TrimSpace(host.PackageName()); name != "" {
		return name
	}
	return "unknown"
}

// versionSegment renders "<versionCode>_<versionName>", "0_null" when the
// version is unavailable.
func versionSegment(host Host) string {
	info, err := host.PackageInfo()
	if err != nil {
		return "0_null"
	}
	name := info.VersionName
	if name == "" {
		name = "null"
	}
	return pathSegment(fmt.Sprintf("%d_%s", info.VersionCode, name))
}

// pathSegment makes s safe to use as a single directory name.
func pathSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "." || s == ".." {
		return "_"
	}
	return s
}
