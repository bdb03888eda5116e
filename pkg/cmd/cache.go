package cmd

import (
	"context"

	"github.com/kbforge/kbforge/pkg/cache"
)

// NewCache returns a Redis step cache when redisURL is set, else a process-local one.
func NewCache(ctx context.Context, redisURL string) (cache.Cache, error) {
	if redisURL == "" {
		return cache.NewMemory(), nil
	}

	return cache.NewRedis(ctx, redisURL)
}
