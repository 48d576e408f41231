package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mm-summarizer/internal/domain"
	"mm-summarizer/internal/infra/metrics"
)

// RedisSummaryQueue реализует очередь событий на базе Redis lists.
type RedisSummaryQueue struct {
	client *redis.Client
	key    string
}

var _ domain.SummaryQueue = (*RedisSummaryQueue)(nil)

// NewRedisSummaryQueue создаёт очередь по указанному ключу.
func NewRedisSummaryQueue(client *redis.Client, key string) *RedisSummaryQueue {
	return &RedisSummaryQueue{client: client, key: key}
}

// Publish публикует событие в очередь.
func (q *RedisSummaryQueue) Publish(ctx context.Context, summary domain.ChannelSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push summary: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие из очереди.
func (q *RedisSummaryQueue) Receive(ctx context.Context) (domain.ChannelSummary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ChannelSummary{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.ChannelSummary{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ChannelSummary{}, err
		}
		if len(res) != 2 {
			return domain.ChannelSummary{}, errors.New("redis queue: unexpected response")
		}
		var summary domain.ChannelSummary
		if err := json.Unmarshal([]byte(res[1]), &summary); err != nil {
			return domain.ChannelSummary{}, fmt.Errorf("decode summary: %w", err)
		}
		return summary, nil
	}
}
