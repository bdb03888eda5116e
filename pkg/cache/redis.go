package cache

import (
	"context"
	"errors"
	"time"

	"github.com/kbforge/kbforge/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// Redis is a Cache shared between processes.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis connects using a redis:// URL and pings the server.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, models.WrapError(models.ErrCache, "invalid redis url", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, models.WrapError(models.ErrCache, "failed to connect to redis", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, models.WrapError(models.ErrCache, "failed to read "+key, err)
	}

	return value, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return models.WrapError(models.ErrCache, "failed to write "+key, err)
	}

	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return models.WrapError(models.ErrCache, "failed to delete "+key, err)
	}

	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
