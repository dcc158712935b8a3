package out

import (
	"context"

	"mailsort_server/core/domain"
)

// =============================================================================
// ML Scoring Service Port
// =============================================================================

// MLScorer is the external scoring service.
type MLScorer interface {
	Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error)

	// SyncCategory pushes updated patterns. Callers treat failures as non-fatal.
	SyncCategory(ctx context.Context, userID string, category *domain.Category) error

	ModelVersion() string
}

// PredictRequest is the /predict payload. Candidates is local-only context
// for scorers that need the label set; it is not part of the wire body.
type PredictRequest struct {
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	UserID     string   `json:"userId"`
	Candidates []string `json:"-"`
}

// PredictResponse is the /predict result.
type PredictResponse struct {
	Label        string  `json:"label"`
	Confidence   float64 `json:"confidence"`
	ModelVersion string  `json:"modelVersion,omitempty"`
}
