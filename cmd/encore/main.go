package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hxnx/encore/config"
	"github.com/hxnx/encore/internal/autoplay"
	"github.com/hxnx/encore/internal/bot"
	"github.com/hxnx/encore/internal/database"
	"github.com/hxnx/encore/internal/discord"
	"github.com/hxnx/encore/internal/events"
	"github.com/hxnx/encore/internal/features"
	"github.com/hxnx/encore/internal/features/botinfo"
	musiccmd "github.com/hxnx/encore/internal/features/music/commands"
	"github.com/hxnx/encore/internal/logging"
	"github.com/hxnx/encore/internal/music"
	"github.com/hxnx/encore/internal/playback"
	"github.com/hxnx/encore/internal/redis"
	"github.com/hxnx/encore/internal/worker"
)

const (
	searchResultLimit = 10
	shutdownTimeout   = 20 * time.Second
	pruneInterval     = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		printUsage(err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	logConfig(cfg, logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("bot stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redislib.Client
	if cfg.RedisEnabled() {
		client, err := redis.Open(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, settings and search cache stay local", zap.Error(err))
		} else {
			rdb = client
			defer func() { _ = rdb.Close() }()
		}
	}

	var history *database.HistoryRepository
	if cfg.DatabaseEnabled() {
		db, err := database.Open(ctx, &database.Config{
			Driver:   cfg.DBDriver,
			Path:     cfg.DBPath,
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		}, logger)
		if err != nil {
			logger.Warn("database unavailable, history and favorites disabled", zap.Error(err))
		} else {
			defer func() { _ = db.Close() }()
			history = database.NewHistoryRepository(db)
		}
	}

	pool := worker.New(cfg.WorkerPoolSize, logger)

	resolver := music.NewYTDLPResolver(cfg.YTDLPProxy)
	searcher := music.NewCachedSearcher(
		music.NewFallbackSearcher(logger).
			Add("ytmusic", music.YTMusicSearcher{}).
			Add("ytsearch", music.NewYTSearchSearcher(searchResultLimit)).
			Add("ytdlp", resolver),
		rdb, cfg.SearchCache(), logger)
	service := music.NewService(searcher, resolver)

	var recommender music.Recommender
	if cfg.SpotifyEnabled() {
		spotify := music.NewSpotifyClient(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		service.WithSpotify(spotify)
		recommender = music.NewSpotifyRecommender(spotify, searcher, logger)
	}

	tuning, err := autoplay.NewTuningSource(cfg.AutoplayTuningFile, logger)
	if err != nil {
		return fmt.Errorf("load autoplay tuning: %w", err)
	}
	if err := tuning.Watch(ctx); err != nil {
		logger.Warn("autoplay tuning will not hot-reload", zap.Error(err))
	}

	engineOpts := []autoplay.Option{autoplay.WithTuning(tuning), autoplay.WithLogger(logger)}
	if recommender != nil {
		engineOpts = append(engineOpts, autoplay.WithRecommender(recommender))
	}
	if history != nil {
		engineOpts = append(engineOpts, autoplay.WithPreferences(history))
	}
	engine := autoplay.NewEngine(searcher, engineOpts...)

	b, err := bot.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	bus := events.NewBus(logger)
	bus.Subscribe(events.Any, func(ev events.Event) {
		logger.Debug("playback event",
			zap.String("type", string(ev.Type)),
			logging.Guild(ev.GuildID),
			zap.Any("payload", ev.Payload))
	})

	orchOpts := []playback.Option{
		playback.WithBus(bus),
		playback.WithAutoplay(engine),
		playback.WithNotifier(discord.NewNotifier(b.Primary())),
		playback.WithListenerCounter(discord.NewListenerCounter(b.SessionFor)),
		playback.WithSettings(music.NewSettingsStore(rdb, music.QueueSettings{Volume: cfg.DefaultVolume})),
		playback.WithPool(pool),
		playback.WithLogger(logger),
	}
	if history != nil {
		orchOpts = append(orchOpts, playback.WithHistory(history))
	}
	orch := playback.NewOrchestrator(
		music.NewQueueStore(music.QueueDefaults{Volume: cfg.DefaultVolume, MaxSize: cfg.MaxQueueSize}),
		discord.NewVoiceConnector(b.SessionFor, resolver, logger),
		playback.Config{
			LockTimeout:  cfg.TransitionLockTimeout,
			SettleDelay:  cfg.TransitionSettleDelay,
			IdleTimeout:  cfg.AutoLeave(),
			PollInterval: cfg.ListenerPoll(),
		},
		orchOpts...,
	)

	var favorites musiccmd.Favorites
	if history != nil {
		favorites = history
	}
	locate := func(guildID, userID string) (string, error) {
		return discord.FindUserVoiceChannel(b.SessionFor(guildID), guildID, userID)
	}
	router := features.NewRouter(
		musiccmd.New(orch, service, favorites, locate, logger),
		func() botinfo.Stats {
			return botinfo.Stats{ActiveSessions: orch.Sessions(), QueuedTracks: orch.QueuedTracks()}
		},
		logger,
	)

	logger.Info("starting bot")
	if err := b.Start(bot.Handlers{
		Router:         router,
		VoiceState:     discord.VoiceStateHandler(orch, logger),
		ActiveSessions: orch.Sessions,
	}); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}

	if history != nil && cfg.HistoryRetention() > 0 {
		go pruneHistory(ctx, history, cfg.HistoryRetention(), logger)
	}

	logger.Info("bot is running, press CTRL+C to exit")
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	orch.Shutdown(shutdownCtx)
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker pool did not drain", zap.Error(err))
	}
	return b.Stop()
}

func pruneHistory(ctx context.Context, history *database.HistoryRepository, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		n, err := history.PruneHistory(ctx, retention)
		if err != nil {
			logger.Warn("failed to prune play history", zap.Error(err))
		} else if n > 0 {
			logger.Info("pruned play history", zap.Int64("rows", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printUsage(err error) {
	w := os.Stderr
	fmt.Fprintf(w, "Error: Failed to load configuration: %v\n\n", err)
	fmt.Fprintln(w, "Please ensure you have set the following environment variables:")
	fmt.Fprintln(w, "  DISCORD_TOKEN          - Your Discord bot token (required)")
	fmt.Fprintln(w, "  DISCORD_APPLICATION_ID - Your Discord application ID (required)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Optional environment variables:")
	fmt.Fprintln(w, "  DISCORD_GUILD_ID       - Guild ID for development (registers commands to specific guild)")
	fmt.Fprintln(w, "  SHARD_COUNT            - Number of shards (0 = auto-detect)")
	fmt.Fprintln(w, "  LOG_LEVEL, LOG_FORMAT  - debug|info|warn|error, console|json")
	fmt.Fprintln(w, "  DEFAULT_VOLUME         - Default volume level (0-1000, default: 100)")
	fmt.Fprintln(w, "  MAX_QUEUE_SIZE         - Maximum queue size per guild (default: 500)")
	fmt.Fprintln(w, "  AUTO_LEAVE_TIMEOUT     - Auto-leave timeout in seconds (0 = disabled, default: 300)")
	fmt.Fprintln(w, "  AUTOPLAY_TUNING_FILE   - YAML/JSON autoplay tuning, reloaded on change")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Database configuration:")
	fmt.Fprintln(w, "  DB_DRIVER (postgres|sqlite), DB_PATH, DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Redis configuration:")
	fmt.Fprintln(w, "  REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Spotify configuration:")
	fmt.Fprintln(w, "  SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET")
}

func logConfig(cfg *config.Config, logger *zap.Logger) {
	mode := "production"
	if cfg.IsDevelopment() {
		mode = "development"
	}

	logger.Info("Encore - Discord Music Bot",
		zap.String("mode", mode),
		zap.String("guild_id", cfg.GuildID),
		zap.String("log_level", cfg.LogLevel),
		zap.Int("default_volume", cfg.DefaultVolume),
		zap.Int("max_queue_size", cfg.MaxQueueSize),
		zap.Duration("auto_leave", cfg.AutoLeave()),
		zap.Int("shard_count", cfg.ShardCount),
		zap.Int("worker_pool_size", cfg.WorkerPoolSize),
	)
	logger.Info("storage",
		zap.String("db_driver", cfg.DBDriver),
		zap.Bool("db_enabled", cfg.DatabaseEnabled()),
		zap.Bool("redis_enabled", cfg.RedisEnabled()),
		zap.Bool("spotify_enabled", cfg.SpotifyEnabled()),
	)
}
