package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDialTimeout = 3 * time.Second

// ErrRedisURLMissing is returned when redis is requested without a URL.
var ErrRedisURLMissing = errors.New("redis: url is required")

// ConnectRedis opens the client shared by the validation lock and the event
// bus. The client is closed again when the first ping fails.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, ErrRedisURLMissing
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := PingRedis(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// PingRedis checks the connection within the dial timeout.
func PingRedis(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}
