// Package memory provides a process-scoped storage backend, the sessionStorage analog.
// Several session stores may share one Backend; writes are reported to watchers.
package memory

import (
	"context"
	"sync"
)

// Backend is an in-memory key/value store. It is safe for concurrent use.
type Backend struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[int]func(string)
	nextID   int
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		data:     make(map[string]string),
		watchers: make(map[int]func(string)),
	}
}

func (b *Backend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *Backend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	b.data[key] = value
	b.mu.Unlock()
	b.notify(key)
	return nil
}

func (b *Backend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	_, existed := b.data[key]
	delete(b.data, key)
	b.mu.Unlock()
	if existed {
		b.notify(key)
	}
	return nil
}

func (b *Backend) Clear(_ context.Context) error {
	b.mu.Lock()
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	b.data = make(map[string]string)
	b.mu.Unlock()
	for _, k := range keys {
		b.notify(k)
	}
	return nil
}

// Len returns the number of stored keys.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Watch registers fn to be called with the key after every mutation.
func (b *Backend) Watch(fn func(key string)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.watchers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.watchers, id)
		b.mu.Unlock()
	}
}

// notify runs watchers without holding the lock so they may read the backend.
func (b *Backend) notify(key string) {
	b.mu.RLock()
	fns := make([]func(string), 0, len(b.watchers))
	for _, fn := range b.watchers {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(key)
	}
}
