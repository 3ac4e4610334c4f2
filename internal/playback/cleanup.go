package playback

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/events"
)

// Cleanup tears a guild session down in a fixed order. Each step runs even
// when an earlier one failed. It returns false when there was nothing to
// clean or another cleanup of the guild is already running.
func (o *Orchestrator) Cleanup(ctx context.Context, guildID string, reason CleanupReason) bool {
	o.cleanMu.Lock()
	if o.cleaning[guildID] {
		o.cleanMu.Unlock()
		return false
	}
	q, hasQueue := o.queues.Get(guildID)
	if !hasQueue && !o.voice.Connected(guildID) {
		o.cleanMu.Unlock()
		return false
	}
	o.cleaning[guildID] = true
	o.cleanMu.Unlock()

	defer func() {
		o.cleanMu.Lock()
		delete(o.cleaning, guildID)
		o.cleanMu.Unlock()
	}()

	log := o.logger.With(zap.String("guild_id", guildID), zap.String("reason", string(reason)))
	log.Info("cleanup started")

	o.step(log, "publish cleanup started", func() error {
		o.bus.Publish(events.Event{
			Type:    events.CleanupStarted,
			GuildID: guildID,
			Payload: events.Payload{"reason": string(reason)},
		})
		return nil
	})
	o.step(log, "delete now playing message", func() error {
		if !hasQueue || o.notifier == nil {
			return nil
		}
		id := q.NowPlayingMessage()
		if id == "" {
			return nil
		}
		return o.notifier.Delete(ctx, q.TextChannel(), id)
	})
	o.step(log, "clear now playing", func() error {
		if hasQueue {
			q.SwapNowPlayingMessage("")
			q.ClearCurrent()
		}
		return nil
	})
	o.step(log, "stop listener monitor", func() error {
		o.voice.StopMonitor(guildID)
		return nil
	})
	o.step(log, "clear idle timer", func() error {
		o.voice.ClearIdleTimer(guildID)
		return nil
	})
	o.step(log, "unbind player events", func() error {
		o.voice.Unbind(guildID)
		if hasQueue {
			q.ClearEventsBound()
		}
		return nil
	})
	o.step(log, "remove guild listeners", func() error {
		if n := o.bus.RemoveGuildListeners(guildID); n > 0 {
			log.Debug("guild listeners removed", zap.Int("count", n))
		}
		return nil
	})
	o.step(log, "disconnect voice", func() error {
		return o.voice.Disconnect(ctx, guildID)
	})
	o.step(log, "delete queue", func() error {
		o.queues.Delete(guildID)
		o.locks.Forget(guildID)
		return nil
	})
	o.step(log, "publish cleanup complete", func() error {
		o.bus.Publish(events.Event{
			Type:    events.CleanupComplete,
			GuildID: guildID,
			Payload: events.Payload{"reason": string(reason)},
		})
		return nil
	})

	log.Info("cleanup complete")
	return true
}

func (o *Orchestrator) step(log *zap.Logger, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("cleanup step panicked", zap.String("step", name), zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	if err := fn(); err != nil {
		log.Warn("cleanup step failed", zap.String("step", name), zap.Error(err))
	}
}

// Shutdown cleans up every guild session.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	seen := make(map[string]bool)
	ids := append(o.queues.GuildIDs(), o.voice.GuildIDs()...)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		o.Cleanup(ctx, id, ReasonShutdown)
	}
}
