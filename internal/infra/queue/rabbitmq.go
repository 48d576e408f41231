package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mm-summarizer/internal/domain"
	"mm-summarizer/internal/infra/metrics"
)

// AMQPSummaryQueue публикует и читает события через RabbitMQ.
type AMQPSummaryQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

var _ domain.SummaryQueue = (*AMQPSummaryQueue)(nil)

// NewAMQPSummaryQueue подключается к RabbitMQ и объявляет durable-очередь.
func NewAMQPSummaryQueue(amqpURL, queue string) (*AMQPSummaryQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare queue: %w", err)
	}
	return &AMQPSummaryQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Close освобождает соединение.
func (q *AMQPSummaryQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}

// Publish публикует событие в очередь.
func (q *AMQPSummaryQueue) Publish(ctx context.Context, summary domain.ChannelSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие из очереди.
func (q *AMQPSummaryQueue) Receive(ctx context.Context) (domain.ChannelSummary, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ChannelSummary{}, err
		}
		start := time.Now()
		delivery, ok, err := q.ch.Get(q.queue, true)
		metrics.ObserveNetworkRequest("rabbitmq", "get", q.queue, start, err)
		if err != nil {
			return domain.ChannelSummary{}, fmt.Errorf("fetch summary: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return domain.ChannelSummary{}, ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		var summary domain.ChannelSummary
		if err := json.Unmarshal(delivery.Body, &summary); err != nil {
			return domain.ChannelSummary{}, fmt.Errorf("decode summary: %w", err)
		}
		return summary, nil
	}
}
