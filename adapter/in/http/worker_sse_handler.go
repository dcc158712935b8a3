package http

import (
	"bufio"
	"time"

	"mailsort_server/adapter/out/realtime"
	"mailsort_server/core/port/out"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// =============================================================================
// SSE Handler - RealtimePort 기반
// =============================================================================

// SSEHandler streams the caller's realtime events.
type SSEHandler struct {
	port      out.RealtimePort
	heartbeat time.Duration
	log       zerolog.Logger
}

func NewSSEHandler(port out.RealtimePort, log zerolog.Logger) *SSEHandler {
	return &SSEHandler{
		port:      port,
		heartbeat: realtime.HeartbeatInterval,
		log:       log.With().Str("handler", "sse").Logger(),
	}
}

func (h *SSEHandler) Register(router fiber.Router) {
	router.Get("/events", h.Stream)
}

// Stream writes events until the client goes away. Delivery is best-effort:
// events that overflow the connection buffer are dropped, never queued.
func (h *SSEHandler) Stream(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	events := h.port.Subscribe(userID)
	h.log.Info().Str("user_id", userID).Msg("SSE client connected")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no") // Nginx buffering 비활성화

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		defer func() {
			h.port.Unsubscribe(userID, events)
			h.log.Info().Str("user_id", userID).Msg("SSE client disconnected")
		}()

		w.WriteString("event: connected\ndata: {\"status\":\"connected\"}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				frame, err := realtime.SerializeEvent(event)
				if err != nil {
					h.log.Error().Err(err).Msg("failed to serialize event")
					continue
				}
				w.Write(frame)
				if err := w.Flush(); err != nil {
					return
				}

			case <-ticker.C:
				w.WriteString(": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}
