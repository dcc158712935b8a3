// Package messaging provides Redis stream and pub/sub adapters.
package messaging

import (
	"context"
	"fmt"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stream names
const (
	StreamRefineTrigger = "refine:trigger"
	StreamEvents        = "events:realtime"

	// events stream is a relay buffer, not a log
	eventsMaxLen = 10000
)

// streamAdder is the part of *redis.Client the producers use.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RefineTrigger is the payload of a refine:trigger entry.
type RefineTrigger struct {
	UserID      string    `json:"user_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// =============================================================================
// Refinement Producer
// =============================================================================

// RefinementProducer implements out.RefinementQueue on a Redis stream.
type RefinementProducer struct {
	client streamAdder
}

func NewRefinementProducer(client *redis.Client) *RefinementProducer {
	return &RefinementProducer{client: client}
}

func (p *RefinementProducer) EnqueueRefinement(ctx context.Context, userID, reason string) error {
	return publish(ctx, p.client, StreamRefineTrigger, 0, &RefineTrigger{
		UserID:      userID,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
	}, nil)
}

var _ out.RefinementQueue = (*RefinementProducer)(nil)

// =============================================================================
// Event Stream Publisher
// =============================================================================

// DefaultEventBuffer bounds events waiting for XADD.
const DefaultEventBuffer = 1024

// EventStreamPublisher relays events to other processes through a Redis
// stream. Publish only enqueues; Run performs the writes. A full buffer
// drops the event.
type EventStreamPublisher struct {
	client streamAdder
	origin string
	queue  chan *domain.RealtimeEvent
	log    zerolog.Logger
}

// NewEventStreamPublisher tags every entry with origin so the process that
// wrote an event can skip it when relaying.
func NewEventStreamPublisher(client *redis.Client, origin string, buffer int, log zerolog.Logger) *EventStreamPublisher {
	return newEventStreamPublisher(client, origin, buffer, log)
}

func newEventStreamPublisher(client streamAdder, origin string, buffer int, log zerolog.Logger) *EventStreamPublisher {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &EventStreamPublisher{
		client: client,
		origin: origin,
		queue:  make(chan *domain.RealtimeEvent, buffer),
		log:    log.With().Str("component", "event_stream").Logger(),
	}
}

func (p *EventStreamPublisher) Publish(ctx context.Context, event *domain.RealtimeEvent) {
	if event == nil {
		return
	}
	select {
	case p.queue <- event:
	default:
		metrics.EventsDropped.WithLabelValues("redis").Inc()
		p.log.Warn().Str("user_id", event.UserID).Str("event_type", string(event.Type)).Msg("event buffer full, dropping")
	}
}

// Run drains the buffer until ctx is done.
func (p *EventStreamPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-p.queue:
			// 종료 중에도 이미 꺼낸 이벤트는 짧게나마 기록 시도
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			err := publish(wctx, p.client, StreamEvents, eventsMaxLen, event, map[string]any{"origin": p.origin})
			cancel()
			if err != nil {
				metrics.EventsDropped.WithLabelValues("redis").Inc()
				p.log.Error().Err(err).Str("user_id", event.UserID).Msg("failed to relay event")
			}
		}
	}
}

var _ out.EventPublisher = (*EventStreamPublisher)(nil)

// publish writes job as the "data" field of a new stream entry.
func publish(ctx context.Context, client streamAdder, stream string, maxLen int64, job any, extra map[string]any) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	values := map[string]any{"data": string(data)}
	for k, v := range extra {
		values[k] = v
	}

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	if err := client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}
