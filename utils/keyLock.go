package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/stock_backend/config"
)

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedMutexEntry
}

type keyedMutexEntry struct {
	mu   sync.Mutex
	refs int
}

var localLocks = &keyedMutex{locks: map[string]*keyedMutexEntry{}}

func (k *keyedMutex) entry(key string) *keyedMutexEntry {
	e, ok := k.locks[key]
	if !ok {
		e = &keyedMutexEntry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *keyedMutex) release(key string, e *keyedMutexEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e := k.entry(key)
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}
}

// tryLock takes the key's mutex only if it is free.
func (k *keyedMutex) tryLock(key string) (func(), bool) {
	k.mu.Lock()
	e := k.entry(key)
	k.mu.Unlock()

	if !e.mu.TryLock() {
		k.release(key, e)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}, true
}

// ObtainKeyLock serializes work on one key. The process-local mutex is always
// taken; when Redis is connected a redislock lease makes it cluster-wide.
// The returned release func must be called exactly once.
func ObtainKeyLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	unlockLocal := localLocks.lock(key)

	locker := config.GetRedisLock()
	if locker == nil {
		return unlockLocal, nil
	}

	retries := int(ttl / (100 * time.Millisecond))
	if retries < 1 {
		retries = 1
	}
	lock, err := locker.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), retries),
	})
	if err != nil {
		unlockLocal()
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %s", ErrorLockNotObtained, key)
		}
		return nil, err
	}

	return func() {
		if rerr := lock.Release(context.Background()); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			config.LogError(config.GetLogger(), "utils", "ObtainKeyLock", "release redis lock", key, rerr)
		}
		unlockLocal()
	}, nil
}

// TryKeyLock never waits. ok is false when this process or, with Redis
// connected, any other worker already holds the key.
func TryKeyLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	unlockLocal, ok := localLocks.tryLock(key)
	if !ok {
		return nil, false, nil
	}

	locker := config.GetRedisLock()
	if locker == nil {
		return unlockLocal, true, nil
	}
	lock, err := locker.Obtain(ctx, key, ttl, nil)
	if err != nil {
		unlockLocal()
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return func() {
		if rerr := lock.Release(context.Background()); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			config.LogError(config.GetLogger(), "utils", "TryKeyLock", "release redis lock", key, rerr)
		}
		unlockLocal()
	}, true, nil
}
