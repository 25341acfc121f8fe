// errors.go defines the sentinel errors returned by crashlog.

package crashlog

import "errors"

var (
	// ErrNotInitialized is returned by operations that require Handler.Init.
	ErrNotInitialized = errors.New("crashlog: handler has not been initialized")

	// ErrNilHost is returned when Init or a collection call receives a nil Host.
	ErrNilHost = errors.New("crashlog: nil host")

	// ErrCollectionPartial wraps the failures of individual build fields.
	// The snapshot still holds every field that could be read.
	ErrCollectionPartial = errors.New("crashlog: device info partially collected")

	// ErrPersistence wraps failures of the crash marker store.
	ErrPersistence = errors.New("crashlog: crash store failure")

	// ErrWrite wraps failures to create or write a report file.
	ErrWrite = errors.New("crashlog: report write failed")
)
