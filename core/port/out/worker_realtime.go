package out

import (
	"context"

	"mailsort_server/core/domain"
)

// EventPublisher is the notification sink. Publish never blocks on delivery.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.RealtimeEvent)
}

// RealtimePort - 실시간 이벤트 푸시 (SSE)
type RealtimePort interface {
	EventPublisher

	Subscribe(userID string) <-chan *domain.RealtimeEvent
	Unsubscribe(userID string, ch <-chan *domain.RealtimeEvent)
	IsConnected(userID string) bool
}

// RefinementQueue hands refinement triggers to whichever process runs workers.
type RefinementQueue interface {
	EnqueueRefinement(ctx context.Context, userID, reason string) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *domain.RealtimeEvent) {}
