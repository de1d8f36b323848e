// internal/cache/redis.go
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options selects the Redis server. URL wins over Addr when both are set.
type Options struct {
	URL  string
	Addr string
	DB   int
}

// Enabled reports whether any server is configured.
func (o Options) Enabled() bool {
	return o.URL != "" || o.Addr != ""
}

// ConnectRedis builds a client and pings it.
func ConnectRedis(ctx context.Context, o Options) (*redis.Client, error) {
	var opts *redis.Options
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: o.Addr, DB: o.DB}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}
