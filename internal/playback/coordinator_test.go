package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxnx/encore/internal/music"
)

type fakeDriver struct {
	mu       sync.Mutex
	advances []bool
	delay    time.Duration
	result   Advance
	err      error
	panics   bool
	started  []string
	cleanups []CleanupReason
}

func (d *fakeDriver) Advance(_ context.Context, _ string, skip bool) (Advance, error) {
	if d.panics {
		panic("driver exploded")
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advances = append(d.advances, skip)
	return d.result, d.err
}

func (d *fakeDriver) TrackStarted(_ context.Context, _ string, t music.Track) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, t.Info.Title)
}

func (d *fakeDriver) Cleanup(_ context.Context, _ string, reason CleanupReason) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanups = append(d.cleanups, reason)
	return true
}

func (d *fakeDriver) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.advances)
}

type fakeIdle struct {
	mu      sync.Mutex
	cleared int
}

func (f *fakeIdle) ClearIdleTimer(string) {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func newTestCoordinator(driver *fakeDriver, settle time.Duration) (*Coordinator, *music.QueueStore, *TransitionLocks, *fakeIdle) {
	queues := music.NewQueueStore(music.QueueDefaults{})
	queues.GetOrCreate(testGuild)
	locks := NewTransitionLocks(3 * time.Second)
	idle := &fakeIdle{}
	return NewCoordinator(queues, locks, driver, idle, nil, settle, nil), queues, locks, idle
}

func TestSingleAdvanceUnderSignalBurst(t *testing.T) {
	driver := &fakeDriver{delay: 100 * time.Millisecond}
	c, _, locks, _ := newTestCoordinator(driver, 0)

	signals := []PlayerEvent{
		{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished},
		{Kind: EventException, GuildID: testGuild, Err: errors.New("decode failed")},
		{Kind: EventStuck, GuildID: testGuild, Threshold: 10 * time.Second},
		{Kind: EventEnd, GuildID: testGuild, Reason: EndLoadFailed},
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, ev := range signals {
		wg.Add(1)
		go func(ev PlayerEvent) {
			defer wg.Done()
			<-start
			c.Handle(context.Background(), ev)
		}(ev)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, driver.calls())
	assert.False(t, locks.Held(testGuild))

	c.Handle(context.Background(), PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished})
	assert.Equal(t, 2, driver.calls(), "lock must be acquirable after the burst")
}

func TestEndReasonsThatDoNotAdvance(t *testing.T) {
	driver := &fakeDriver{}
	c, _, _, _ := newTestCoordinator(driver, 0)

	for _, reason := range []EndReason{EndStopped, EndReplaced, EndCleanup} {
		c.Handle(context.Background(), PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: reason})
	}
	assert.Equal(t, 0, driver.calls())
}

func TestFailuresSkipAndEndHonoursLoop(t *testing.T) {
	driver := &fakeDriver{}
	c, _, _, _ := newTestCoordinator(driver, 0)

	c.Handle(context.Background(), PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished})
	c.Handle(context.Background(), PlayerEvent{Kind: EventException, GuildID: testGuild})
	c.Handle(context.Background(), PlayerEvent{Kind: EventStuck, GuildID: testGuild})

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, []bool{false, true, true}, driver.advances)
}

func TestExceptionSuppressedWhileReplacing(t *testing.T) {
	driver := &fakeDriver{}
	c, queues, _, _ := newTestCoordinator(driver, 0)
	q, _ := queues.Get(testGuild)
	q.SetReplacing(true)

	c.Handle(context.Background(), PlayerEvent{Kind: EventException, GuildID: testGuild, Err: errors.New("interrupted")})
	assert.Equal(t, 0, driver.calls())

	q.SetReplacing(false)
	c.Handle(context.Background(), PlayerEvent{Kind: EventException, GuildID: testGuild, Err: errors.New("real failure")})
	assert.Equal(t, 1, driver.calls())
}

func TestLoopCounter(t *testing.T) {
	driver := &fakeDriver{result: Advance{Looped: true}}
	c, queues, _, _ := newTestCoordinator(driver, 0)
	q, _ := queues.Get(testGuild)

	end := PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished}
	c.Handle(context.Background(), end)
	c.Handle(context.Background(), end)
	assert.Equal(t, 2, q.LoopCount())

	driver.mu.Lock()
	driver.result = Advance{}
	driver.mu.Unlock()
	c.Handle(context.Background(), end)
	assert.Equal(t, 0, q.LoopCount())
}

func TestLockReleasedWhenDriverPanics(t *testing.T) {
	driver := &fakeDriver{panics: true}
	c, _, locks, _ := newTestCoordinator(driver, 0)

	require.NotPanics(t, func() {
		c.Handle(context.Background(), PlayerEvent{Kind: EventStuck, GuildID: testGuild})
	})
	assert.False(t, locks.Held(testGuild))
}

func TestAdvanceErrorReleasesLock(t *testing.T) {
	driver := &fakeDriver{err: errors.New("node unavailable")}
	c, _, locks, _ := newTestCoordinator(driver, 0)

	c.Handle(context.Background(), PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished})
	assert.Equal(t, 1, driver.calls())
	assert.False(t, locks.Held(testGuild))
}

func TestStartClearsIdleTimer(t *testing.T) {
	driver := &fakeDriver{}
	c, _, _, idle := newTestCoordinator(driver, 0)

	c.Handle(context.Background(), PlayerEvent{Kind: EventStart, GuildID: testGuild, Track: track("Intro")})

	idle.mu.Lock()
	assert.Equal(t, 1, idle.cleared)
	idle.mu.Unlock()
	assert.Equal(t, []string{"Intro"}, driver.started)
	assert.Equal(t, 0, driver.calls())
}

func TestClosedRunsCleanup(t *testing.T) {
	driver := &fakeDriver{}
	c, _, _, _ := newTestCoordinator(driver, 0)

	c.Handle(context.Background(), PlayerEvent{Kind: EventClosed, GuildID: testGuild})
	assert.Equal(t, []CleanupReason{ReasonClosed}, driver.cleanups)
}

func TestNoAdvanceWithoutQueue(t *testing.T) {
	driver := &fakeDriver{}
	c, queues, _, _ := newTestCoordinator(driver, 0)
	queues.Delete(testGuild)

	c.Handle(context.Background(), PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished})
	assert.Equal(t, 0, driver.calls())
}

func TestSettleDelayRespectsContext(t *testing.T) {
	driver := &fakeDriver{}
	c, _, locks, _ := newTestCoordinator(driver, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Handle(ctx, PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished})

	assert.Equal(t, 0, driver.calls())
	assert.False(t, locks.Held(testGuild))
}

func TestSlowAdvanceKeepsLockPastTimeout(t *testing.T) {
	driver := &fakeDriver{delay: 300 * time.Millisecond}
	queues := music.NewQueueStore(music.QueueDefaults{})
	queues.GetOrCreate(testGuild)
	locks := NewTransitionLocks(100 * time.Millisecond)
	c := NewCoordinator(queues, locks, driver, &fakeIdle{}, nil, 0, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Handle(context.Background(), PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished})
	}()

	time.Sleep(150 * time.Millisecond)
	c.Handle(context.Background(), PlayerEvent{Kind: EventStuck, GuildID: testGuild})
	<-done

	assert.Equal(t, 1, driver.calls())
	assert.False(t, locks.Held(testGuild))
}

func TestSignalQueuedBehindTransitionIsDropped(t *testing.T) {
	driver := &fakeDriver{delay: 100 * time.Millisecond}
	c, _, locks, _ := newTestCoordinator(driver, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Handle(context.Background(), PlayerEvent{Kind: EventEnd, GuildID: testGuild, Reason: EndFinished})
	}()

	time.Sleep(30 * time.Millisecond)
	require.True(t, locks.Held(testGuild))
	c.Handle(context.Background(), PlayerEvent{Kind: EventException, GuildID: testGuild, Err: errors.New("late")})
	<-done

	assert.Equal(t, 1, driver.calls())
}
