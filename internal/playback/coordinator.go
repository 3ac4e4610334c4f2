package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/events"
	"github.com/hxnx/encore/internal/music"
)

const (
	DefaultSettleDelay = 250 * time.Millisecond
	advanceTimeout     = 30 * time.Second
)

// Advance describes what a "play next" request did.
type Advance struct {
	Track      music.Track
	Looped     bool
	Autoplayed bool
	Finished   bool
}

// Driver performs the actions the coordinator decides on.
type Driver interface {
	Advance(ctx context.Context, guildID string, skip bool) (Advance, error)
	TrackStarted(ctx context.Context, guildID string, track music.Track)
	Cleanup(ctx context.Context, guildID string, reason CleanupReason) bool
}

type IdleTimers interface {
	ClearIdleTimer(guildID string)
}

// Coordinator turns player lifecycle events into queue transitions. All
// advancing signals of a guild share one TransitionLocks key, so a burst of
// end, exception and stuck results in a single advance.
type Coordinator struct {
	queues *music.QueueStore
	locks  *TransitionLocks
	driver Driver
	idle   IdleTimers
	bus    *events.Bus
	settle time.Duration
	logger *zap.Logger
}

func NewCoordinator(queues *music.QueueStore, locks *TransitionLocks, driver Driver, idle IdleTimers, bus *events.Bus, settle time.Duration, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Coordinator{
		queues: queues,
		locks:  locks,
		driver: driver,
		idle:   idle,
		bus:    bus,
		settle: settle,
		logger: logger.Named("transition"),
	}
}

// Dispatch handles ev on its own goroutine. Players call it from their
// event callbacks, which must not block on playback calls.
func (c *Coordinator) Dispatch(ev PlayerEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
		defer cancel()
		c.Handle(ctx, ev)
	}()
}

// Handle processes one player event synchronously.
func (c *Coordinator) Handle(ctx context.Context, ev PlayerEvent) {
	log := c.logger.With(zap.String("guild_id", ev.GuildID), zap.String("event", string(ev.Kind)))
	defer func() {
		if r := recover(); r != nil {
			log.Error("transition handler panicked", zap.Error(fmt.Errorf("%v", r)))
		}
	}()

	switch ev.Kind {
	case EventStart:
		c.idle.ClearIdleTimer(ev.GuildID)
		c.driver.TrackStarted(ctx, ev.GuildID, ev.Track)

	case EventEnd:
		c.bus.Publish(events.Event{
			Type:    events.TrackEnded,
			GuildID: ev.GuildID,
			Payload: events.Payload{"track": ev.Track, "reason": string(ev.Reason)},
		})
		if !ev.Reason.MayStartNext() {
			log.Debug("end ignored", zap.String("reason", string(ev.Reason)))
			return
		}
		c.advance(ctx, log, ev.GuildID, false)

	case EventException:
		if q, ok := c.queues.Get(ev.GuildID); ok && q.Replacing() {
			log.Debug("exception suppressed during replace", zap.Error(ev.Err))
			return
		}
		log.Error("track exception", zap.String("title", ev.Track.Info.Title), zap.Error(ev.Err))
		c.bus.Publish(events.Event{
			Type:    events.PlaybackError,
			GuildID: ev.GuildID,
			Payload: events.Payload{"track": ev.Track, "error": errString(ev.Err)},
		})
		c.advance(ctx, log, ev.GuildID, true)

	case EventStuck:
		log.Warn("track stuck", zap.String("title", ev.Track.Info.Title), zap.Duration("threshold", ev.Threshold))
		c.advance(ctx, log, ev.GuildID, true)

	case EventClosed:
		c.driver.Cleanup(ctx, ev.GuildID, ReasonClosed)

	default:
		log.Debug("unknown player event")
	}
}

// advance runs one transition under the guild's lock. A natural end waits
// for the settle delay and honours track loop; a failed track is skipped.
// A signal that waited behind another transition is dropped once that
// transition completes, since it already moved past the signalled track.
func (c *Coordinator) advance(ctx context.Context, log *zap.Logger, guildID string, skip bool) {
	gen := c.locks.Generation(guildID)
	release, err := c.locks.Acquire(ctx, guildID)
	if err != nil {
		log.Debug("transition already in flight")
		return
	}
	defer release()

	if c.locks.Generation(guildID) != gen {
		log.Debug("transition completed while waiting")
		return
	}

	if !skip && c.settle > 0 {
		timer := time.NewTimer(c.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	q, ok := c.queues.Get(guildID)
	if !ok {
		log.Debug("queue gone before advance")
		return
	}

	res, err := c.driver.Advance(ctx, guildID, skip)
	if err != nil {
		if errors.Is(err, ErrNoPlayer) {
			log.Debug("advance skipped, no player")
		} else {
			log.Error("advance failed", zap.Error(err))
		}
		return
	}
	c.locks.Advanced(guildID)

	if res.Looped {
		count := q.IncrementLoopCount()
		c.bus.Publish(events.Event{
			Type:    events.TrackLooped,
			GuildID: guildID,
			Payload: events.Payload{"track": res.Track, "loop_count": count},
		})
		return
	}
	q.ResetLoopCount()
	c.bus.Publish(events.Event{Type: events.NowPlayingReset, GuildID: guildID})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
