package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectBackoff = 2 * time.Second

// Connect pings addr until it answers or attempts run out.
func Connect(ctx context.Context, addr string, attempts int, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if lastErr = rdb.Ping(ctx).Err(); lastErr == nil {
			logger.Info("connected to redis", zap.String("addr", addr))
			return rdb, nil
		}
		logger.Warn("redis ping failed", zap.Int("attempt", i), zap.Int("max_attempts", attempts), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("redis connection failed after %d attempts: %w", attempts, lastErr)
}
