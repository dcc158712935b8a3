package classification

import (
	"context"
	"errors"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
)

// LabelWriter stores classification results. Category labels are written
// under the category store's guard, so a message never lands on a name a
// concurrent rename or delete has retired. The fallback label is always
// valid and skips the guard.
type LabelWriter struct {
	messages   out.MessageRepository
	guard      out.LabelGuard // nil writes unguarded
	classifier *Classifier
}

func NewLabelWriter(messages out.MessageRepository, guard out.LabelGuard, classifier *Classifier) *LabelWriter {
	return &LabelWriter{messages: messages, guard: guard, classifier: classifier}
}

// Write applies upd under the message's conditional update. It fails with
// out.ErrLabelGone when upd.Label stopped naming an active category.
func (w *LabelWriter) Write(ctx context.Context, userID, id string, upd *domain.ClassificationUpdate) (bool, error) {
	if w.guard == nil || upd.Label == "" || upd.Label == w.classifier.FallbackCategory() {
		return w.messages.UpdateClassification(ctx, userID, id, upd)
	}

	var applied bool
	err := w.guard.GuardLabel(ctx, userID, upd.Label, func(ctx context.Context) error {
		var err error
		applied, err = w.messages.UpdateClassification(ctx, userID, id, upd)
		return err
	})
	return applied, err
}

// Refresh drops this process's snapshot of the user's taxonomy and loads it again.
func (w *LabelWriter) Refresh(ctx context.Context, userID string) (*CategorySnapshot, error) {
	w.classifier.cache.InvalidateLocal(userID)
	return w.classifier.cache.Get(ctx, userID)
}

// Settle confirms the label m was inserted with. If its category went away
// after classification, m is classified again against the current taxonomy,
// and moved to the fallback label if that result is gone as well.
func (w *LabelWriter) Settle(ctx context.Context, m *domain.Message) error {
	if w.guard == nil || m.Label == "" || m.Label == w.classifier.FallbackCategory() {
		return nil
	}

	_, err := w.Write(ctx, m.UserID, m.ID, &domain.ClassificationUpdate{ExpectedLabel: m.Label, Label: m.Label})
	if !errors.Is(err, out.ErrLabelGone) {
		return err
	}

	next := w.classifier.fallback(w.classifier.cfg.Floor)
	if snap, err := w.Refresh(ctx, m.UserID); err == nil {
		next = w.classifier.ClassifyWith(ctx, snap, InputFromMessage(m))
	}
	upd := &domain.ClassificationUpdate{ExpectedLabel: m.Label, Label: next.Label, Classification: next}
	_, err = w.Write(ctx, m.UserID, m.ID, upd)
	if errors.Is(err, out.ErrLabelGone) {
		// 재분류 사이에 또 바뀐 경우
		next = w.classifier.fallback(w.classifier.cfg.Floor)
		upd.Label, upd.Classification = next.Label, next
		_, err = w.Write(ctx, m.UserID, m.ID, upd)
	}
	return err
}
