// Package repository persists snapshots and cache entries in a keyed document store.
package repository

import (
	"context"
	"sync"
)

// DocStore is a keyed document store. Payloads are opaque bytes.
type DocStore interface {
	// Get returns the payload under key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put writes payload under key, replacing any previous value.
	Put(ctx context.Context, key string, payload []byte) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// MemoryDocStore is a map-backed DocStore for tests and ephemeral runs.
type MemoryDocStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryDocStore creates an empty store.
func NewMemoryDocStore() *MemoryDocStore {
	return &MemoryDocStore{docs: make(map[string][]byte)}
}

func (s *MemoryDocStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.docs[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, true, nil
}

func (s *MemoryDocStore) Put(ctx context.Context, key string, payload []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	s.mu.Lock()
	s.docs[key] = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryDocStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docs, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryDocStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryDocStore) Close() error { return nil }

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
