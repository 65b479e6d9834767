package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// limiter caps a queue's throughput with a fixed one-second window in
// redis, shared across all worker processes. Queues without a limit
// always pass.
type limiter struct {
	rdb    *redis.Client
	limits map[string]int
}

func newLimiter(rdb *redis.Client, limits map[string]int) *limiter {
	return &limiter{rdb: rdb, limits: limits}
}

func (l *limiter) Allow(ctx context.Context, queue string) bool {
	limit, ok := l.limits[queue]
	if !ok || limit <= 0 {
		return true
	}

	key := fmt.Sprintf("queue:rate:%s:%d", queue, time.Now().Unix())

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		// fail open when redis is unreachable
		slog.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return true
	}
	l.rdb.Expire(ctx, key, 2*time.Second)

	return count <= int64(limit)
}
