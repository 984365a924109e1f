// Package lock provides the mutual exclusion used around cluster mutation and
// risk runs: an in-process keyed mutex and a Redis-backed lock for
// deployments running more than one instance.
package lock

import (
	"context"
	"time"
)

// Locker blocks until the lock for key is held or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// TryLocker takes a lock without waiting. ok is false when someone else holds it.
type TryLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Noop never blocks. Used when per-key serialization is disabled.
type Noop struct{}

func (Noop) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

func (Noop) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}
