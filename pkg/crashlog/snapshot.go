// snapshot.go collects the static host facts embedded in every report.

package crashlog

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
)

const (
	keyVersionName = "versionName"
	keyVersionCode = "versionCode"
)

// Pair is one snapshot entry.
type Pair struct {
	Key   string
	Value string
}

// Snapshot is an ordered, append-only string map.
// Keys keep their first insertion position; a repeated key updates its value.
// Safe for concurrent use.
type Snapshot struct {
	mu     sync.Mutex
	keys   []string
	values map[string]string
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{values: make(map[string]string)}
}

// Put records key=value.
func (s *Snapshot) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get returns the value recorded for key.
func (s *Snapshot) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of recorded keys.
func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Pairs returns a copy of the entries in insertion order.
func (s *Snapshot) Pairs() []Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := make([]Pair, len(s.keys))
	for i, k := range s.keys {
		pairs[i] = Pair{Key: k, Value: s.values[k]}
	}
	return pairs
}

// Map returns a copy of the entries. Order is lost; use Pairs to keep it.
func (s *Snapshot) Map() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]string, len(s.values))
	for k, v := range s.values {
		m[k] = v
	}
	return m
}

// Collect adds the host's version metadata and build fields to the snapshot.
//
// Unavailable package info records versionName=null and no versionCode.
// Each build field is read independently: a failing field is logged and
// skipped, and all failures are returned together wrapped in
// ErrCollectionPartial. Fields that were read are kept either way.
func (s *Snapshot) Collect(host Host, logger *slog.Logger) error {
	if host == nil {
		return ErrNilHost
	}
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error

	info, err := host.PackageInfo()
	if err != nil {
		logger.Warn("an error occurred when collecting package info", "error", err)
		s.Put(keyVersionName, "null")
		errs = append(errs, fmt.Errorf("package info: %w", err))
	} else {
		name := info.VersionName
		if name == "" {
			name = "null"
		}
		s.Put(keyVersionName, name)
		s.Put(keyVersionCode, strconv.FormatInt(info.VersionCode, 10))
	}

	for _, field := range host.BuildFields() {
		value, err := readField(field)
		if err != nil {
			logger.Warn("an error occurred when collecting build field", "field", field.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		s.Put(field.Name, value)
		logger.Debug("collected build field", "field", field.Name, "value", value)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCollectionPartial, errors.Join(errs...))
	}
	return nil
}

// readField calls the field getter, converting a panic into an error.
func readField(field BuildField) (value string, err error) {
	if field.Value == nil {
		return "", fmt.Errorf("field %s: no getter", field.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("field %s: panic: %s", field.Name, formatRecovered(r))
		}
	}()
	value, err = field.Value()
	if err != nil {
		return "", fmt.Errorf("field %s: %w", field.Name, err)
	}
	return value, nil
}
