package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// NewRedisChecker проверяет Redis командой PING.
func NewRedisChecker(name string, client redis.Cmdable) *FuncChecker {
	return NewFuncChecker(name, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
