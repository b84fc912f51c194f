package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/metrics"
)

// RedisEventLog хранит последние события обновления в списке Redis.
type RedisEventLog struct {
	client *redis.Client
	key    string
	limit  int64
}

// NewRedisEventLog создаёт журнал по ключу key не длиннее limit записей.
func NewRedisEventLog(client *redis.Client, key string, limit int64) *RedisEventLog {
	if limit <= 0 {
		limit = 500
	}
	return &RedisEventLog{client: client, key: key, limit: limit}
}

// Publish добавляет событие в начало журнала и обрезает хвост.
func (l *RedisEventLog) Publish(ctx context.Context, event domain.RefreshEvent) (err error) {
	payload, err := encodeEvent(event)
	if err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("redis", "event_push", l.key, start, err)
	}()
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, l.key, payload)
	pipe.LTrim(ctx, l.key, 0, l.limit-1)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Recent возвращает до n последних событий, новые первыми.
func (l *RedisEventLog) Recent(ctx context.Context, n int64) ([]domain.RefreshEvent, error) {
	if n <= 0 || n > l.limit {
		n = l.limit
	}
	raw, err := l.client.LRange(ctx, l.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	out := make([]domain.RefreshEvent, 0, len(raw))
	for _, item := range raw {
		var event domain.RefreshEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, event)
	}
	return out, nil
}
