package memory

import (
	"context"
	"sync"
	"time"
)

// KeyedMutex serializes work per key while unrelated keys proceed in
// parallel. Entries are reference counted and dropped when idle.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: map[string]*keyedEntry{}}
}

// Lock blocks until key is held or ctx ends. The returned unlock is idempotent.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.release(key, entry)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
}

// Locker adapts KeyedMutex to the application lock port. TTL is ignored:
// an in-process holder cannot outlive its process.
type Locker struct {
	keys *KeyedMutex
}

func NewLocker() *Locker {
	return &Locker{keys: NewKeyedMutex()}
}

func (l *Locker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	return l.keys.Lock(ctx, key)
}
