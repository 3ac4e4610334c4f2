package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrLockBusy is returned when another transition holds the guild's lock.
var ErrLockBusy = errors.New("transition already in progress")

const DefaultLockTimeout = 3 * time.Second

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
	held bool
}

// TransitionLocks is a keyed lock. A holder keeps its key until it releases
// it; the timeout only bounds how long another caller waits. Holders that
// change the playing track call Advanced, so a waiter can tell that a
// transition finished while it was queued.
type TransitionLocks struct {
	mu      sync.Mutex
	keys    map[string]*keyLock
	gens    map[string]uint64
	timeout time.Duration
}

func NewTransitionLocks(timeout time.Duration) *TransitionLocks {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &TransitionLocks{
		keys:    make(map[string]*keyLock),
		gens:    make(map[string]uint64),
		timeout: timeout,
	}
}

func (l *TransitionLocks) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[key]
	if !ok {
		k = &keyLock{sem: semaphore.NewWeighted(1)}
		l.keys[key] = k
	}
	k.refs++
	return k
}

func (l *TransitionLocks) unref(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 && l.keys[key] == k {
		delete(l.keys, key)
	}
}

// Acquire waits up to the timeout for key. The returned release func is safe
// to call more than once; only the first call has an effect.
func (l *TransitionLocks) Acquire(ctx context.Context, key string) (release func(), err error) {
	k := l.ref(key)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := k.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, k)
		return nil, ErrLockBusy
	}
	return l.hold(key, k), nil
}

// TryAcquire takes key only if nobody holds it.
func (l *TransitionLocks) TryAcquire(key string) (release func(), err error) {
	k := l.ref(key)
	if !k.sem.TryAcquire(1) {
		l.unref(key, k)
		return nil, ErrLockBusy
	}
	return l.hold(key, k), nil
}

func (l *TransitionLocks) hold(key string, k *keyLock) func() {
	l.mu.Lock()
	k.held = true
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			k.held = false
			l.mu.Unlock()
			k.sem.Release(1)
			l.unref(key, k)
		})
	}
}

// Advanced records a completed transition for key.
func (l *TransitionLocks) Advanced(key string) {
	l.mu.Lock()
	l.gens[key]++
	l.mu.Unlock()
}

// Generation counts the transitions of key since it was last forgotten.
func (l *TransitionLocks) Generation(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[key]
}

// Held reports whether someone holds key.
func (l *TransitionLocks) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[key]
	return ok && k.held
}

// Forget detaches key from its current holder and waiters. A later Acquire
// starts on a fresh lock and the detached holder's release does nothing.
func (l *TransitionLocks) Forget(key string) {
	l.mu.Lock()
	delete(l.keys, key)
	delete(l.gens, key)
	l.mu.Unlock()
}

func (l *TransitionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
