package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-rest/pkg/config"
)

// NewRedisClient connects to the Redis server that engine instances share to
// fan table stats resets out to each other. A nil client and nil error mean
// Redis is not configured and resets stay local to this process.
//
// The client is only used for pub/sub, so it is verified with a PING before
// the reset listener subscribes.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	addr := cfg.Addr()
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: "ekaya-rest",
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return client, nil
}
