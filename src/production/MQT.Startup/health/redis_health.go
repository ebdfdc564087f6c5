package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	config "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Config"
)

// ConnectRedis creates a Redis client for the latest-reading cache and pings it
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to ping Redis: %w", err)
	}
	return client, nil
}
