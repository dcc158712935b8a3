package refinement

import "mailsort_server/core/domain"

// Decision is the outcome of comparing a refined classification to the stored one.
type Decision string

const (
	DecisionOverwrite  Decision = "overwrite"
	DecisionConfidence Decision = "confidence_update"
	DecisionUnchanged  Decision = "unchanged"
)

// float 비교 오차 허용
const epsilon = 1e-9

// Decide applies the overwrite policy. A change of label or of confidence is
// only accepted when the new confidence beats the stored one by margin.
// A message that never had a label always takes the new result.
func Decide(oldLabel string, oldConfidence float64, next *domain.Classification, margin float64) Decision {
	if next == nil || next.Label == "" {
		return DecisionUnchanged
	}
	if oldLabel == "" {
		return DecisionOverwrite
	}

	improved := next.Confidence+epsilon >= oldConfidence+margin
	switch {
	case !improved:
		return DecisionUnchanged
	case next.Label != oldLabel:
		return DecisionOverwrite
	default:
		return DecisionConfidence
	}
}

// update builds the conditional store write for a decision. Every outcome
// marks the message refined and drops its body.
func update(m *domain.Message, next *domain.Classification, d Decision) *domain.ClassificationUpdate {
	upd := &domain.ClassificationUpdate{
		ExpectedLabel:    m.Label,
		Label:            m.Label,
		RefinementStatus: domain.RefinementRefined,
		AnalysisDepth:    domain.AnalysisComprehensive,
		ClearBody:        true,
	}
	switch d {
	case DecisionOverwrite:
		upd.Label = next.Label
		upd.PreviousLabel = m.Label
		upd.Classification = next
	case DecisionConfidence:
		upd.Classification = next
	}
	return upd
}
