package queue

import (
	"context"

	"mm-summarizer/internal/domain"
)

// MemorySummaryQueue — внутрипроцессная очередь событий для потребителя UI.
// Передача идёт по значению через канал, общего изменяемого состояния после
// публикации нет.
type MemorySummaryQueue struct {
	events chan domain.ChannelSummary
}

var _ domain.SummaryQueue = (*MemorySummaryQueue)(nil)

// NewMemorySummaryQueue создаёт очередь с указанной ёмкостью буфера.
func NewMemorySummaryQueue(capacity int) *MemorySummaryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemorySummaryQueue{events: make(chan domain.ChannelSummary, capacity)}
}

// Publish помещает событие в очередь.
func (q *MemorySummaryQueue) Publish(ctx context.Context, summary domain.ChannelSummary) error {
	select {
	case q.events <- summary:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive блокирующе читает событие из очереди.
func (q *MemorySummaryQueue) Receive(ctx context.Context) (domain.ChannelSummary, error) {
	select {
	case summary := <-q.events:
		return summary, nil
	case <-ctx.Done():
		return domain.ChannelSummary{}, ctx.Err()
	}
}
