package classification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
)

// =============================================================================
// Phase-2 ML Classifier
// =============================================================================

var ErrMalformedPrediction = errors.New("malformed prediction")

// MLClassifier asks the external scoring service for a label.
type MLClassifier struct {
	scorer  out.MLScorer
	timeout time.Duration
	now     func() time.Time
}

// NewMLClassifier wraps scorer with a per-call timeout (default 12s).
func NewMLClassifier(scorer out.MLScorer, timeout time.Duration) *MLClassifier {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &MLClassifier{scorer: scorer, timeout: timeout, now: time.Now}
}

// Refine returns a Phase-2 result or an error. It never falls back by itself.
func (m *MLClassifier) Refine(ctx context.Context, userID string, in *Input, candidates []string) (*domain.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.scorer.Predict(ctx, &out.PredictRequest{
		Subject:    in.Subject,
		Body:       in.Body,
		UserID:     userID,
		Candidates: candidates,
	})
	if err != nil {
		return nil, fmt.Errorf("ml predict: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedPrediction)
	}

	label := strings.TrimSpace(resp.Label)
	if label == "" {
		return nil, fmt.Errorf("%w: empty label", ErrMalformedPrediction)
	}
	if math.IsNaN(resp.Confidence) || resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedPrediction, resp.Confidence)
	}

	version := resp.ModelVersion
	if version == "" {
		version = m.scorer.ModelVersion()
	}
	return &domain.Classification{
		Label:        label,
		Confidence:   resp.Confidence,
		Phase:        domain.PhaseModel,
		Method:       domain.MethodModel,
		ModelVersion: version,
		ClassifiedAt: m.now(),
	}, nil
}
