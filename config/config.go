package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken  string
	ApplicationID string
	GuildID       string

	ShardCount int

	LogLevel  string
	LogFormat string

	DefaultVolume        int
	MaxQueueSize         int
	AutoLeaveTimeout     int
	ListenerPollInterval int

	TransitionLockTimeout time.Duration
	TransitionSettleDelay time.Duration

	AutoplayTuningFile string
	WorkerPoolSize     int

	YTDLPProxy           string
	SearchCacheTTL       int
	HistoryRetentionDays int

	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	SpotifyClientID     string
	SpotifyClientSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:  os.Getenv("DISCORD_TOKEN"),
		ApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		GuildID:       os.Getenv("DISCORD_GUILD_ID"),

		ShardCount: getEnvAsIntWithDefault("SHARD_COUNT", 0),

		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "console"),

		DefaultVolume:        getEnvAsIntWithDefault("DEFAULT_VOLUME", 100),
		MaxQueueSize:         getEnvAsIntWithDefault("MAX_QUEUE_SIZE", 500),
		AutoLeaveTimeout:     getEnvAsIntWithDefault("AUTO_LEAVE_TIMEOUT", 300),
		ListenerPollInterval: getEnvAsIntWithDefault("LISTENER_POLL_INTERVAL", 30),

		TransitionLockTimeout: getEnvAsDurationMS("TRANSITION_LOCK_TIMEOUT_MS", 3000*time.Millisecond),
		TransitionSettleDelay: getEnvAsDurationMS("TRANSITION_SETTLE_MS", 250*time.Millisecond),

		AutoplayTuningFile: os.Getenv("AUTOPLAY_TUNING_FILE"),
		WorkerPoolSize:     getEnvAsIntWithDefault("WORKER_POOL_SIZE", 4),

		YTDLPProxy:           os.Getenv("YTDLP_PROXY"),
		SearchCacheTTL:       getEnvAsIntWithDefault("SEARCH_CACHE_TTL", 600),
		HistoryRetentionDays: getEnvAsIntWithDefault("HISTORY_RETENTION_DAYS", 90),

		DBDriver:   getEnvWithDefault("DB_DRIVER", "postgres"),
		DBPath:     os.Getenv("DB_PATH"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnvAsInt("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     getEnvAsInt("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsIntWithDefault("REDIS_DB", 0),

		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}

	if c.ApplicationID == "" {
		return errors.New("DISCORD_APPLICATION_ID is required")
	}

	if c.DefaultVolume < 0 || c.DefaultVolume > 1000 {
		return errors.New("DEFAULT_VOLUME must be between 0 and 1000")
	}

	if c.MaxQueueSize < 1 {
		return errors.New("MAX_QUEUE_SIZE must be at least 1")
	}

	if c.AutoLeaveTimeout < 0 {
		return errors.New("AUTO_LEAVE_TIMEOUT must not be negative")
	}

	if c.ListenerPollInterval < 1 {
		return errors.New("LISTENER_POLL_INTERVAL must be at least 1")
	}

	if c.TransitionLockTimeout <= 0 {
		return errors.New("TRANSITION_LOCK_TIMEOUT_MS must be positive")
	}

	if c.TransitionSettleDelay < 0 {
		return errors.New("TRANSITION_SETTLE_MS must not be negative")
	}

	if c.HistoryRetentionDays < 0 {
		return errors.New("HISTORY_RETENTION_DAYS must not be negative")
	}

	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return errors.New("DB_DRIVER must be postgres or sqlite")
	}

	return nil
}

func (c *Config) AutoLeave() time.Duration {
	return time.Duration(c.AutoLeaveTimeout) * time.Second
}

func (c *Config) ListenerPoll() time.Duration {
	return time.Duration(c.ListenerPollInterval) * time.Second
}

func (c *Config) SearchCache() time.Duration {
	return time.Duration(c.SearchCacheTTL) * time.Second
}

// HistoryRetention is zero when old history is never pruned.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}

func (c *Config) DatabaseEnabled() bool {
	if c.DBDriver == "sqlite" {
		return c.DBPath != ""
	}
	return c.DBHost != "" && c.DBName != ""
}

// IsDevelopment reports whether commands are registered to a single guild.
func (c *Config) IsDevelopment() bool {
	return c.GuildID != ""
}

func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

func getEnvAsInt(key string) int {
	return getEnvAsIntWithDefault(key, 0)
}

func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsDurationMS(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

type DBConfig struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c *Config) GetDBConfig() *DBConfig {
	return &DBConfig{
		Driver:   c.DBDriver,
		Path:     c.DBPath,
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Name:     c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c *Config) GetRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
