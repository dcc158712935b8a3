package messaging

import (
	"context"
	"fmt"

	"mailsort_server/core/port/out"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelCategoryInvalidate carries user ids whose category cache is stale.
const ChannelCategoryInvalidate = "category:invalidate"

// InvalidationBus implements out.InvalidationBus over Redis pub/sub.
// Delivery is best-effort; the cache TTL bounds staleness when a message is lost.
type InvalidationBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewInvalidationBus(client *redis.Client, log zerolog.Logger) *InvalidationBus {
	return &InvalidationBus{
		client: client,
		log:    log.With().Str("component", "invalidation_bus").Logger(),
	}
}

func (b *InvalidationBus) PublishInvalidation(ctx context.Context, userID string) error {
	if err := b.client.Publish(ctx, ChannelCategoryInvalidate, userID).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

func (b *InvalidationBus) SubscribeInvalidations(ctx context.Context, handler func(userID string)) error {
	sub := b.client.Subscribe(ctx, ChannelCategoryInvalidate)
	defer sub.Close()

	// 구독 확인 후 수신 시작
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe %s: %w", ChannelCategoryInvalidate, err)
	}
	b.log.Info().Str("channel", ChannelCategoryInvalidate).Msg("listening for cache invalidations")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload != "" {
				handler(msg.Payload)
			}
		}
	}
}

var _ out.InvalidationBus = (*InvalidationBus)(nil)
