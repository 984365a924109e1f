package lock

import (
	"context"
	"sync"
	"time"
)

// KeyedMutex is a set of in-process mutexes created lazily per key.
type KeyedMutex struct {
	locks map[string]chan struct{}
	mu    sync.RWMutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]chan struct{}),
	}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := k.get(key)
	select {
	case ch <- struct{}{}:
		return unlocker(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock ignores ttl; an in-process lock lives until released.
func (k *KeyedMutex) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	ch := k.get(key)
	select {
	case ch <- struct{}{}:
		return unlocker(ch), true, nil
	default:
		return nil, false, nil
	}
}

func (k *KeyedMutex) get(key string) chan struct{} {
	k.mu.RLock()
	ch, exists := k.locks[key]
	k.mu.RUnlock()

	if exists {
		return ch
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	// Double-check after acquiring write lock
	if ch, exists := k.locks[key]; exists {
		return ch
	}

	ch = make(chan struct{}, 1)
	k.locks[key] = ch
	return ch
}

func unlocker(ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}
}
