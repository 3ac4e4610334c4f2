package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/hxnx/encore/internal/playback"
)

var (
	ErrNoVoiceChannel = errors.New("user is not in a voice channel")
	ErrSessionNil     = errors.New("discord session is nil")
)

// SessionFor returns the shard session that owns a guild.
type SessionFor func(guildID string) *discordgo.Session

// VoiceConnector joins voice channels through the owning shard and wraps
// each connection in a VoicePlayer.
type VoiceConnector struct {
	sessions SessionFor
	streams  StreamResolver
	logger   *zap.Logger
}

func NewVoiceConnector(sessions SessionFor, streams StreamResolver, logger *zap.Logger) *VoiceConnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoiceConnector{sessions: sessions, streams: streams, logger: logger}
}

func (c *VoiceConnector) Join(_ context.Context, guildID, channelID string) (playback.Player, error) {
	s := c.sessions(guildID)
	if s == nil {
		return nil, ErrSessionNil
	}
	if channelID == "" {
		return nil, fmt.Errorf("channel ID is empty")
	}

	vc, err := s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}
	return NewVoicePlayer(guildID, vc, c.streams, c.logger), nil
}

// ListenerCounter counts humans who can hear the bot: members sharing its
// voice channel that are neither bots nor deafened.
type ListenerCounter struct {
	sessions SessionFor
}

func NewListenerCounter(sessions SessionFor) *ListenerCounter {
	return &ListenerCounter{sessions: sessions}
}

func (c *ListenerCounter) CountListeners(guildID string) (int, error) {
	s := c.sessions(guildID)
	if s == nil {
		return 0, ErrSessionNil
	}

	guild, err := guildWithVoiceStates(s, guildID)
	if err != nil {
		return 0, err
	}

	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	return countListeners(guild.VoiceStates, botID, func(userID string) bool {
		return isBot(s, guildID, userID)
	}), nil
}

func countListeners(states []*discordgo.VoiceState, botID string, bot func(userID string) bool) int {
	channelID := ""
	for _, vs := range states {
		if vs.UserID == botID && vs.ChannelID != "" {
			channelID = vs.ChannelID
			break
		}
	}
	if channelID == "" {
		return 0
	}

	count := 0
	for _, vs := range states {
		if vs.ChannelID != channelID || vs.UserID == botID {
			continue
		}
		if vs.Deaf || vs.SelfDeaf {
			continue
		}
		if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
			continue
		}
		if bot != nil && bot(vs.UserID) {
			continue
		}
		count++
	}
	return count
}

func isBot(s *discordgo.Session, guildID, userID string) bool {
	if s.State == nil {
		return false
	}
	m, err := s.State.Member(guildID, userID)
	if err != nil || m == nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

func guildWithVoiceStates(s *discordgo.Session, guildID string) (*discordgo.Guild, error) {
	if s.State != nil {
		if g, err := s.State.Guild(guildID); err == nil {
			return g, nil
		}
	}
	return s.Guild(guildID)
}

// FindUserVoiceChannel returns the voice channel userID is connected to.
func FindUserVoiceChannel(s *discordgo.Session, guildID string, userID string) (string, error) {
	if s == nil {
		return "", ErrSessionNil
	}

	guild, err := guildWithVoiceStates(s, guildID)
	if err != nil {
		return "", err
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, nil
		}
	}

	return "", ErrNoVoiceChannel
}

// Signaler receives lifecycle signals that originate outside the player.
type Signaler interface {
	Signal(ev playback.PlayerEvent)
}

// VoiceStateHandler reports a forced disconnect of the bot as a closed
// signal for that guild.
func VoiceStateHandler(target Signaler, logger *zap.Logger) func(*discordgo.Session, *discordgo.VoiceStateUpdate) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if s == nil || vs == nil || vs.VoiceState == nil || vs.GuildID == "" {
			return
		}
		if s.State == nil || s.State.User == nil || vs.UserID != s.State.User.ID {
			return
		}
		if vs.ChannelID != "" {
			return
		}

		logger.Info("Bot was disconnected from voice", zap.String("guild_id", vs.GuildID))
		target.Signal(playback.PlayerEvent{Kind: playback.EventClosed, GuildID: vs.GuildID})
	}
}

