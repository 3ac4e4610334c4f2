package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusivePerKey(t *testing.T) {
	locks := NewTransitionLocks(50 * time.Millisecond)

	release, err := locks.Acquire(context.Background(), "g1")
	require.NoError(t, err)

	_, err = locks.Acquire(context.Background(), "g1")
	assert.ErrorIs(t, err, ErrLockBusy)

	other, err := locks.Acquire(context.Background(), "g2")
	require.NoError(t, err)
	other()

	release()
	assert.False(t, locks.Held("g1"))
	assert.Equal(t, 0, locks.Len())
}

func TestLockReleaseIsIdempotent(t *testing.T) {
	locks := NewTransitionLocks(time.Second)

	first, err := locks.Acquire(context.Background(), "g")
	require.NoError(t, err)
	first()

	second, err := locks.Acquire(context.Background(), "g")
	require.NoError(t, err)

	first()
	assert.True(t, locks.Held("g"), "a repeated release must not free a newer holder")
	second()
	assert.False(t, locks.Held("g"))
}

func TestLockReleasedAfterPanic(t *testing.T) {
	locks := NewTransitionLocks(time.Second)

	func() {
		defer func() { _ = recover() }()
		release, err := locks.Acquire(context.Background(), "g")
		require.NoError(t, err)
		defer release()
		panic("boom")
	}()

	release, err := locks.Acquire(context.Background(), "g")
	require.NoError(t, err)
	release()
}

func TestLockHolderKeepsKeyPastTimeout(t *testing.T) {
	locks := NewTransitionLocks(50 * time.Millisecond)

	held, err := locks.Acquire(context.Background(), "g")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	begin := time.Now()
	_, err = locks.Acquire(context.Background(), "g")
	assert.ErrorIs(t, err, ErrLockBusy)
	assert.GreaterOrEqual(t, time.Since(begin), 40*time.Millisecond, "acquire waits for the timeout")
	assert.True(t, locks.Held("g"))

	held()
	assert.False(t, locks.Held("g"))
}

func TestLockWaiterGetsKeyOnRelease(t *testing.T) {
	locks := NewTransitionLocks(time.Second)

	held, err := locks.Acquire(context.Background(), "g")
	require.NoError(t, err)
	gen := locks.Generation("g")

	acquired := make(chan error, 1)
	go func() {
		release, err := locks.Acquire(context.Background(), "g")
		if err == nil {
			release()
		}
		acquired <- err
	}()

	time.Sleep(20 * time.Millisecond)
	locks.Advanced("g")
	held()

	require.NoError(t, <-acquired)
	assert.Equal(t, gen+1, locks.Generation("g"))
}

func TestTryAcquireDoesNotWait(t *testing.T) {
	locks := NewTransitionLocks(time.Hour)

	held, err := locks.TryAcquire("g")
	require.NoError(t, err)

	_, err = locks.TryAcquire("g")
	assert.ErrorIs(t, err, ErrLockBusy)

	held()
	again, err := locks.TryAcquire("g")
	require.NoError(t, err)
	again()
}

func TestLockForget(t *testing.T) {
	locks := NewTransitionLocks(time.Second)
	release, err := locks.Acquire(context.Background(), "g")
	require.NoError(t, err)

	locks.Advanced("g")
	locks.Forget("g")
	assert.False(t, locks.Held("g"))
	assert.Equal(t, uint64(0), locks.Generation("g"))

	fresh, err := locks.TryAcquire("g")
	require.NoError(t, err)
	release()
	assert.True(t, locks.Held("g"), "a forgotten holder must not free the new one")
	fresh()
	assert.Equal(t, 0, locks.Len())
}

func TestLockOnlyOneConcurrentWinner(t *testing.T) {
	locks := NewTransitionLocks(time.Second)
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := locks.TryAcquire("g"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
