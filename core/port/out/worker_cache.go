package out

import "context"

// InvalidationBus broadcasts category cache invalidations to every instance.
type InvalidationBus interface {
	PublishInvalidation(ctx context.Context, userID string) error

	// SubscribeInvalidations calls handler for every invalidation until ctx is done.
	SubscribeInvalidations(ctx context.Context, handler func(userID string)) error
}
