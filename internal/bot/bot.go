package bot

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/hxnx/encore/config"
	"github.com/hxnx/encore/internal/features"
)

// Handlers are attached to every shard when the bot starts.
type Handlers struct {
	Router     *features.Router
	VoiceState func(*discordgo.Session, *discordgo.VoiceStateUpdate)
	// ActiveSessions feeds the presence line.
	ActiveSessions func() int
}

type Bot struct {
	config       *config.Config
	logger       *zap.Logger
	sessions     []*discordgo.Session
	handlers     Handlers
	started      bool
	presenceStop chan struct{}
}

func New(cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	shardCount := cfg.ShardCount
	if shardCount < 1 {
		s, err := discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			return nil, err
		}

		if gw, err := s.GatewayBot(); err == nil && gw.Shards > 0 {
			shardCount = gw.Shards
		} else {
			logger.Warn("failed to auto-detect shard count, defaulting to 1", zap.Error(err))
			shardCount = 1
		}
	}

	sessions := make([]*discordgo.Session, 0, shardCount)
	for shard := 0; shard < shardCount; shard++ {
		s, err := discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			return nil, err
		}

		s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

		if shardCount > 1 {
			s.Identify.Shard = &[2]int{shard, shardCount}
			s.ShardID = shard
			s.ShardCount = shardCount
		}

		sessions = append(sessions, s)
	}

	return &Bot{
		config:   cfg,
		logger:   logger,
		sessions: sessions,
	}, nil
}

// SessionFor returns the shard session that receives events for guildID.
func (b *Bot) SessionFor(guildID string) *discordgo.Session {
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[shardFor(guildID, len(b.sessions))]
}

// Primary is the first shard, used for REST calls that are not tied to a
// guild.
func (b *Bot) Primary() *discordgo.Session {
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[0]
}

func shardFor(guildID string, shardCount int) int {
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil || shardCount <= 1 {
		return 0
	}
	return int((id >> 22) % uint64(shardCount))
}

func (b *Bot) Start(h Handlers) error {
	if b.started {
		return nil
	}
	if len(b.sessions) == 0 {
		return errors.New("no shard sessions")
	}
	if h.Router == nil {
		return errors.New("command router is required")
	}
	b.handlers = h

	for _, s := range b.sessions {
		b.registerHandlers(s)
		h.Router.AddHandlers(s)
		if h.VoiceState != nil {
			s.AddHandler(h.VoiceState)
		}
	}

	if _, err := features.RegisterCommands(b.sessions[0], b.config.ApplicationID, b.config.GuildID, b.logger); err != nil {
		b.logger.Warn("failed to register slash commands", zap.Error(err))
	}

	for _, s := range b.sessions {
		if err := s.Open(); err != nil {
			return fmt.Errorf("open shard %d: %w", s.ShardID, err)
		}
	}

	b.startPresenceUpdater()
	b.started = true
	b.logger.Info("bot session opened", zap.Int("shards", len(b.sessions)))
	return nil
}

func (b *Bot) registerHandlers(s *discordgo.Session) {
	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("bot ready",
			zap.String("user", r.User.Username),
			zap.Int("shard", s.ShardID),
			zap.Int("guilds", len(r.Guilds)))
		b.updatePresence()
	})
}

func (b *Bot) Stop() error {
	if !b.started {
		return nil
	}

	b.started = false
	b.stopPresenceUpdater()

	var errs []error
	for _, s := range b.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close shard %d: %w", s.ShardID, err))
		}
	}

	b.logger.Info("bot session closed", zap.Int("shards", len(b.sessions)))
	return errors.Join(errs...)
}
