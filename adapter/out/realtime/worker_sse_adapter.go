// Package realtime provides real-time communication adapters.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// =============================================================================
// SSE Adapter - RealtimePort 구현
// =============================================================================

// DefaultClientBuffer is the per-connection event buffer.
const DefaultClientBuffer = 256

// SSEAdapter implements out.RealtimePort using Server-Sent Events.
// Publish never blocks: events for a full connection buffer are dropped.
type SSEAdapter struct {
	clients map[string]map[chan *domain.RealtimeEvent]struct{} // userID -> channels
	mu      sync.RWMutex
	buffer  int
	log     zerolog.Logger

	sent       atomic.Int64
	dropped    atomic.Int64
	seqCounter atomic.Int64 // 전역 시퀀스 카운터
}

// NewSSEAdapter creates a new SSE adapter.
func NewSSEAdapter(log zerolog.Logger) *SSEAdapter {
	return NewSSEAdapterWithBuffer(DefaultClientBuffer, log)
}

// NewSSEAdapterWithBuffer creates an adapter with a custom per-connection buffer.
func NewSSEAdapterWithBuffer(buffer int, log zerolog.Logger) *SSEAdapter {
	if buffer < 1 {
		buffer = 1
	}
	return &SSEAdapter{
		clients: make(map[string]map[chan *domain.RealtimeEvent]struct{}),
		buffer:  buffer,
		log:     log.With().Str("component", "sse_adapter").Logger(),
	}
}

// Subscribe creates a new subscription channel for a user.
func (a *SSEAdapter) Subscribe(userID string) <-chan *domain.RealtimeEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan *domain.RealtimeEvent, a.buffer)
	if a.clients[userID] == nil {
		a.clients[userID] = make(map[chan *domain.RealtimeEvent]struct{})
	}
	a.clients[userID][ch] = struct{}{}

	a.log.Debug().
		Str("user_id", userID).
		Int("total_connections", len(a.clients[userID])).
		Msg("client subscribed")

	return ch
}

// Unsubscribe removes a subscription channel and closes it.
func (a *SSEAdapter) Unsubscribe(userID string, ch <-chan *domain.RealtimeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	channels, ok := a.clients[userID]
	if !ok {
		return
	}
	for c := range channels {
		if c == ch {
			delete(channels, c)
			close(c)
			break
		}
	}
	if len(channels) == 0 {
		delete(a.clients, userID)
	}

	a.log.Debug().Str("user_id", userID).Msg("client unsubscribed")
}

// Publish sends an event to every connection of event.UserID.
func (a *SSEAdapter) Publish(ctx context.Context, event *domain.RealtimeEvent) {
	if event == nil {
		return
	}

	// 시퀀스 번호 할당 (atomic - 순서 보장)
	e := *event
	e.Seq = a.seqCounter.Add(1)

	// 전송 중에도 RLock 유지: Unsubscribe가 채널을 닫는 것과 경합하지 않도록
	a.mu.RLock()
	defer a.mu.RUnlock()

	for ch := range a.clients[e.UserID] {
		select {
		case ch <- &e:
			a.sent.Add(1)
		default:
			a.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues("sse").Inc()
			a.log.Warn().
				Str("user_id", e.UserID).
				Str("event_type", string(e.Type)).
				Int64("seq", e.Seq).
				Msg("dropped event due to full buffer")
		}
	}
}

// IsConnected checks if a user has active connections.
func (a *SSEAdapter) IsConnected(userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients[userID]) > 0
}

// GetMetrics returns adapter metrics.
func (a *SSEAdapter) GetMetrics() SSEMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := 0
	for _, channels := range a.clients {
		total += len(channels)
	}
	return SSEMetrics{
		ConnectedUsers:   len(a.clients),
		TotalConnections: total,
		MessagesSent:     a.sent.Load(),
		MessagesDropped:  a.dropped.Load(),
	}
}

// SSEMetrics holds SSE adapter metrics.
type SSEMetrics struct {
	ConnectedUsers   int   `json:"connected_users"`
	TotalConnections int   `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`
}

// HeartbeatInterval is how often the HTTP handler writes a keep-alive comment.
const HeartbeatInterval = 30 * time.Second

// =============================================================================
// Event Serialization
// =============================================================================

// SerializeEvent converts a RealtimeEvent to an SSE frame.
func SerializeEvent(event *domain.RealtimeEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(payload)+len(event.Type)+32)
	frame = append(frame, "event: "...)
	frame = append(frame, event.Type...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

var _ out.RealtimePort = (*SSEAdapter)(nil)
