// Package memory provides an in-memory key-value store for the crash marker.
// Values do not survive the process; use it in tests or where no durable
// storage exists.
package memory

import (
	"context"
	"sync"
)

// Store is an in-memory namespaced string map.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]map[string]string)}
}

// Get returns the value for key in namespace.
func (s *Store) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[namespace][key]
	return v, ok, nil
}

// Set stores value under key in namespace.
func (s *Store) Set(ctx context.Context, namespace, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]string)
		s.data[namespace] = ns
	}
	ns[key] = value
	return nil
}
