package music

import (
	"context"
	"fmt"
	"strconv"

	redislib "github.com/redis/go-redis/v9"
)

const settingsKeyPrefix = "encore:settings:"

// SettingsStore persists per-guild queue settings in a Redis hash so they
// survive a session teardown. A nil client turns every call into a no-op.
type SettingsStore struct {
	client   *redislib.Client
	defaults QueueSettings
}

func NewSettingsStore(client *redislib.Client, defaults QueueSettings) *SettingsStore {
	if defaults.LoopMode == "" {
		defaults.LoopMode = LoopModeOff
	}
	return &SettingsStore{client: client, defaults: defaults}
}

func (s *SettingsStore) Enabled() bool {
	return s != nil && s.client != nil
}

// Get returns the stored settings; found is false when nothing was saved.
func (s *SettingsStore) Get(ctx context.Context, guildID string) (settings QueueSettings, found bool, err error) {
	if !s.Enabled() {
		return s.defaultsOrZero(), false, nil
	}
	if guildID == "" {
		return QueueSettings{}, false, fmt.Errorf("guild id is required")
	}

	data, err := s.client.HGetAll(ctx, settingsKey(guildID)).Result()
	if err != nil {
		return s.defaults, false, err
	}
	if len(data) == 0 {
		return s.defaults, false, nil
	}
	return parseSettings(data, s.defaults), true, nil
}

func (s *SettingsStore) Set(ctx context.Context, guildID string, settings QueueSettings) error {
	if !s.Enabled() {
		return nil
	}
	if guildID == "" {
		return fmt.Errorf("guild id is required")
	}
	return s.client.HSet(ctx, settingsKey(guildID), encodeSettings(settings)).Err()
}

func (s *SettingsStore) Delete(ctx context.Context, guildID string) error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Del(ctx, settingsKey(guildID)).Err()
}

func (s *SettingsStore) defaultsOrZero() QueueSettings {
	if s == nil {
		return QueueSettings{LoopMode: LoopModeOff}
	}
	return s.defaults
}

func settingsKey(guildID string) string {
	return settingsKeyPrefix + guildID
}

func encodeSettings(settings QueueSettings) map[string]interface{} {
	return map[string]interface{}{
		"loop_mode": string(settings.LoopMode),
		"shuffle":   strconv.FormatBool(settings.Shuffle),
		"volume":    strconv.Itoa(settings.Volume),
		"autoplay":  strconv.FormatBool(settings.Autoplay),
	}
}

func parseSettings(data map[string]string, defaults QueueSettings) QueueSettings {
	settings := defaults

	if v, ok := data["loop_mode"]; ok && v != "" {
		settings.LoopMode = ParseLoopMode(v)
	}
	if v, ok := data["shuffle"]; ok && v != "" {
		settings.Shuffle = v == "true"
	}
	if v, ok := data["volume"]; ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			settings.Volume = clampVolume(parsed)
		}
	}
	if v, ok := data["autoplay"]; ok && v != "" {
		settings.Autoplay = v == "true"
	}
	if settings.Autoplay {
		settings.LoopMode = LoopModeOff
	}

	return settings
}
