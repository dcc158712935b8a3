package worker

import (
	"context"
	"fmt"

	"mailsort_server/adapter/out/messaging"
	"mailsort_server/core/port/in"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// RefineTriggerHandler starts refinement workers for refine:trigger entries.
type RefineTriggerHandler struct {
	refinement in.RefinementService
	log        zerolog.Logger
}

func NewRefineTriggerHandler(refinement in.RefinementService, log zerolog.Logger) *RefineTriggerHandler {
	return &RefineTriggerHandler{
		refinement: refinement,
		log:        log.With().Str("component", "refine_trigger").Logger(),
	}
}

// Handle never blocks on the refinement itself; the registry runs it.
// Malformed payloads are acknowledged so they do not cycle through the DLQ.
func (h *RefineTriggerHandler) Handle(ctx context.Context, stream string, data []byte) error {
	if stream != messaging.StreamRefineTrigger {
		return fmt.Errorf("unexpected stream %q", stream)
	}

	var trigger messaging.RefineTrigger
	if err := json.Unmarshal(data, &trigger); err != nil || trigger.UserID == "" {
		h.log.Warn().Err(err).Bytes("payload", data).Msg("dropping malformed refine trigger")
		return nil
	}

	reason := trigger.Reason
	if reason == "" {
		reason = "trigger"
	}

	_, started := h.refinement.Start(trigger.UserID, reason)
	h.log.Debug().
		Str("user_id", trigger.UserID).
		Str("reason", reason).
		Bool("started", started).
		Msg("refine trigger handled")
	return nil
}

var _ messaging.Handler = (*RefineTriggerHandler)(nil)
