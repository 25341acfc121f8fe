// record.go defines the crash record and the report handed to sinks.

package crashlog

import (
	"os"
	"runtime"
	"runtime/metrics"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes crash reports from informational notes.
type Kind string

const (
	// KindCrash is a report written for an unhandled error.
	KindCrash Kind = "crash"

	// KindNote is a non-fatal informational log entry.
	KindNote Kind = "note"
)

// SystemState captures process metrics at crash time.
type SystemState struct {
	// MemoryBytes is the current heap allocation in bytes.
	MemoryBytes int64

	// GoroutineCount is the number of live goroutines.
	GoroutineCount int

	// UptimeMs is the process uptime in milliseconds.
	UptimeMs int64

	// HostName is the hostname of the machine.
	HostName string
}

// heapObjectsMetric is the runtime/metrics equivalent of MemStats.HeapAlloc.
// Reading it does not stop the world, unlike runtime.ReadMemStats.
const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// CaptureSystemState captures process metrics at the current moment.
// The startTime parameter is used to calculate uptime.
func CaptureSystemState(startTime time.Time) *SystemState {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)

	var heap int64
	if sample[0].Value.Kind() == metrics.KindUint64 {
		heap = int64(sample[0].Value.Uint64())
	}

	hostname, _ := os.Hostname() // empty hostname is acceptable

	uptimeMs := time.Since(startTime).Milliseconds()
	if uptimeMs < 0 {
		uptimeMs = 0
	}

	return &SystemState{
		MemoryBytes:    heap,
		GoroutineCount: runtime.NumGoroutine(),
		UptimeMs:       uptimeMs,
		HostName:       hostname,
	}
}

// Record is one handled unhandled error. It only lives until it is written.
type Record struct {
	// ID is a unique identifier for this record (UUID).
	ID string

	// Timestamp is when the error was observed.
	Timestamp time.Time

	// Goroutine is the goroutine the error escaped from.
	Goroutine Goroutine

	// Class is the error class name.
	Class string

	// Message is the error message.
	Message string

	// Trace is the rendered error and causal chain.
	Trace string

	// Fingerprint groups records with the same class and top frames.
	Fingerprint string

	// SystemState is captured alongside the record. Sinks receive it; the
	// report file does not.
	SystemState *SystemState
}

// NewRecord builds a record for err observed on g at now.
func NewRecord(g Goroutine, err error, now time.Time) *Record {
	rec := &Record{
		ID:        uuid.NewString(),
		Timestamp: now,
		Goroutine: g,
		Class:     ClassName(err),
		Trace:     RenderTrace(err),
	}
	if f, ok := err.(*Fault); ok {
		rec.Message = f.Message
	} else if err != nil {
		rec.Message = err.Error()
	}
	rec.Fingerprint = Fingerprint(rec.Class, rec.Trace)
	return rec
}

// Report is a written report as delivered to a Sink.
type Report struct {
	ID          string
	Kind        Kind
	Path        string
	Timestamp   time.Time
	Goroutine   Goroutine
	Class       string
	Message     string
	Fingerprint string
	Snapshot    []Pair
	Body        string
	SystemState *SystemState
}
