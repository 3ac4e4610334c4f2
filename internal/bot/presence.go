package bot

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const presenceUpdateInterval = 60 * time.Second

func (b *Bot) startPresenceUpdater() {
	if b.presenceStop != nil {
		return
	}
	b.presenceStop = make(chan struct{})
	stop := b.presenceStop
	go func() {
		ticker := time.NewTicker(presenceUpdateInterval)
		defer ticker.Stop()

		b.updatePresence()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.updatePresence()
			}
		}
	}()
}

func (b *Bot) stopPresenceUpdater() {
	if b.presenceStop == nil {
		return
	}
	close(b.presenceStop)
	b.presenceStop = nil
}

func presenceStatus(shardID, guildCount, playing int) string {
	status := fmt.Sprintf("#%d샤드 / %d개 서버 참가중", max(1, shardID+1), guildCount)
	if playing > 0 {
		status += fmt.Sprintf(" · %d곳에서 재생 중", playing)
	}
	return status
}

func (b *Bot) updatePresence() {
	playing := 0
	if b.handlers.ActiveSessions != nil {
		playing = b.handlers.ActiveSessions()
	}

	for _, s := range b.sessions {
		guildCount := 0
		if s.State != nil {
			guildCount = len(s.State.Guilds)
		}

		if err := s.UpdateGameStatus(0, presenceStatus(s.ShardID, guildCount, playing)); err != nil {
			b.logger.Debug("failed to update presence", zap.Int("shard", s.ShardID), zap.Error(err))
		}
	}
}
