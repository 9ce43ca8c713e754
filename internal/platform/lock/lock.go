// Package lock provides keyed mutual exclusion used to serialize operations
// on a single order, either in-process or across instances via Redis.
package lock

import (
	"context"
	"sync"
)

// KeyedMutex serializes callers per key within a single process.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*mutexEntry
}

type mutexEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex constructs an empty in-process keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*mutexEntry)}
}

// WithLock runs fn while holding the mutex for key. Entries are removed once
// the last waiter releases them so the map does not grow unbounded.
func (m *KeyedMutex) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	entry, ok := m.entries[key]
	if !ok {
		entry = &mutexEntry{}
		m.entries[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}()

	return fn(ctx)
}
