package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/GoPolymarket/pointgate/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects and pings. A blank address is an error; callers treat
// Redis as optional and fall back to the database stores.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
