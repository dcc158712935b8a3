package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventRelay tails the events stream and republishes entries written by
// other processes to a local sink (the SSE adapter of an API process).
// Every API instance reads the whole stream, so no consumer group is used.
type EventRelay struct {
	client *redis.Client
	self   string
	sink   out.EventPublisher
	log    zerolog.Logger
}

func NewEventRelay(client *redis.Client, self string, sink out.EventPublisher, log zerolog.Logger) *EventRelay {
	return &EventRelay{
		client: client,
		self:   self,
		sink:   sink,
		log:    log.With().Str("component", "event_relay").Logger(),
	}
}

// Run relays new entries until ctx is done. Entries older than the start
// of Run are not replayed.
func (r *EventRelay) Run(ctx context.Context) error {
	lastID := "$"
	r.log.Info().Str("stream", StreamEvents).Msg("starting event relay")

	for {
		if ctx.Err() != nil {
			return nil
		}

		result, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{StreamEvents, lastID},
			Count:   100,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error().Err(err).Msg("error reading events stream")
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				event, err := decodeEventEntry(msg, r.self)
				if err != nil {
					r.log.Warn().Err(err).Str("id", msg.ID).Msg("skipping malformed event")
					continue
				}
				if event != nil {
					r.sink.Publish(ctx, event)
				}
			}
		}
	}
}

// decodeEventEntry returns nil for entries written by self.
func decodeEventEntry(msg redis.XMessage, self string) (*domain.RealtimeEvent, error) {
	if origin, _ := msg.Values["origin"].(string); origin != "" && origin == self {
		return nil, nil
	}
	data, err := entryData(msg)
	if err != nil {
		return nil, err
	}
	var event domain.RealtimeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.UserID == "" {
		return nil, fmt.Errorf("event without user id")
	}
	return &event, nil
}
