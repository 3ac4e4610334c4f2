package redis

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (cfg Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

const (
	pingAttempts   = 5
	initialBackoff = 200 * time.Millisecond
	pingTimeout    = 3 * time.Second
)

// Open builds a client and pings it with exponential backoff. The client
// is closed again when every attempt fails.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*redislib.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redislib.NewClient(&redislib.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := ping(ctx, client, logger, pingAttempts, initialBackoff); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr(), err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr()))
	return client, nil
}

func ping(ctx context.Context, client *redislib.Client, logger *zap.Logger, attempts int, backoff time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := client.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			return nil
		}

		lastErr = err
		logger.Debug("Redis ping failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}
