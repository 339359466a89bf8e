package store

import (
	"context"
	"time"

	"github.com/finquiz/backend/internal/config"
	"github.com/redis/go-redis/v9"
)

// Connect builds the shared key-value store client. Operation timeouts
// are bounded at the connection level (seconds) and are independent of
// the data expiries (minutes/hours) set per key.
func Connect(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
