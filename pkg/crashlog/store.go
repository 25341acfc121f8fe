// store.go persists the crash marker and notification throttle across runs.

package crashlog

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Namespace is the key-value namespace owned by the crash handler.
const Namespace = "crashlog.CrashHandler"

const (
	keyCrashed    = "crashed"
	keyOwnerToken = "owner_token"
	keyNotifyTime = "notify_time"
)

// KVStore is a durable, namespaced string map that survives process restarts.
// Implementations must be safe for concurrent use.
type KVStore interface {
	// Get returns the value for key, and false if it was never set.
	Get(ctx context.Context, namespace, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, namespace, key, value string) error
}

// CrashMarker records that a process instance terminated via an unhandled error.
type CrashMarker struct {
	Crashed bool

	// OwnerToken identifies the process instance that wrote the marker.
	// It is a best-effort differentiator, not a unique identifier.
	OwnerToken int64
}

// CrashStore reads and writes the crash marker in a KVStore.
type CrashStore struct {
	kv        KVStore
	namespace string
}

// NewCrashStore creates a CrashStore over kv using Namespace.
func NewCrashStore(kv KVStore) *CrashStore {
	return &CrashStore{kv: kv, namespace: Namespace}
}

// MarkCrashed records crashed=true owned by token.
func (s *CrashStore) MarkCrashed(ctx context.Context, token int64) error {
	if err := s.kv.Set(ctx, s.namespace, keyCrashed, "true"); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrPersistence, keyCrashed, err)
	}
	if err := s.kv.Set(ctx, s.namespace, keyOwnerToken, strconv.FormatInt(token, 10)); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrPersistence, keyOwnerToken, err)
	}
	return nil
}

// Clear resets the marker to crashed=false, owner 0.
func (s *CrashStore) Clear(ctx context.Context) error {
	if err := s.kv.Set(ctx, s.namespace, keyCrashed, "false"); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrPersistence, keyCrashed, err)
	}
	if err := s.kv.Set(ctx, s.namespace, keyOwnerToken, "0"); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrPersistence, keyOwnerToken, err)
	}
	return nil
}

// Marker returns the stored marker. Missing keys read as the zero marker.
func (s *CrashStore) Marker(ctx context.Context) (CrashMarker, error) {
	var m CrashMarker

	raw, ok, err := s.kv.Get(ctx, s.namespace, keyCrashed)
	if err != nil {
		return m, fmt.Errorf("%w: get %s: %w", ErrPersistence, keyCrashed, err)
	}
	if ok {
		if m.Crashed, err = strconv.ParseBool(raw); err != nil {
			return CrashMarker{}, fmt.Errorf("%w: parse %s: %w", ErrPersistence, keyCrashed, err)
		}
	}

	raw, ok, err = s.kv.Get(ctx, s.namespace, keyOwnerToken)
	if err != nil {
		return m, fmt.Errorf("%w: get %s: %w", ErrPersistence, keyOwnerToken, err)
	}
	if ok {
		if m.OwnerToken, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return CrashMarker{}, fmt.Errorf("%w: parse %s: %w", ErrPersistence, keyOwnerToken, err)
		}
	}
	return m, nil
}

// IsStartedFromCrash reports whether a process instance other than current
// recorded a crash: crashed is set, and the owner is non-zero and not current.
func (s *CrashStore) IsStartedFromCrash(ctx context.Context, current int64) (bool, error) {
	m, err := s.Marker(ctx)
	if err != nil {
		return false, err
	}
	return m.Crashed && m.OwnerToken != 0 && m.OwnerToken != current, nil
}

// LastNotify returns the time of the last throttle check, and false if none
// was ever recorded.
func (s *CrashStore) LastNotify(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.namespace, keyNotifyTime)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: get %s: %w", ErrPersistence, keyNotifyTime, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: parse %s: %w", ErrPersistence, keyNotifyTime, err)
	}
	return time.UnixMilli(ms), true, nil
}

// SetLastNotify records t as the time of the last throttle check.
func (s *CrashStore) SetLastNotify(ctx context.Context, t time.Time) error {
	if err := s.kv.Set(ctx, s.namespace, keyNotifyTime, strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrPersistence, keyNotifyTime, err)
	}
	return nil
}
