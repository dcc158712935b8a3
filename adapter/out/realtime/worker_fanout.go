package realtime

import (
	"context"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
)

// FanOut delivers every event to each sink in order.
type FanOut []out.EventPublisher

// NewFanOut drops nil sinks.
func NewFanOut(sinks ...out.EventPublisher) FanOut {
	f := make(FanOut, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			f = append(f, s)
		}
	}
	return f
}

func (f FanOut) Publish(ctx context.Context, event *domain.RealtimeEvent) {
	for _, s := range f {
		s.Publish(ctx, event)
	}
}

var _ out.EventPublisher = FanOut(nil)
