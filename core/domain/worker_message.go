package domain

import (
	"strings"
	"time"
)

// Provider identifies a remote mailbox provider.
type Provider string

const (
	ProviderGmail   Provider = "google"
	ProviderOutlook Provider = "outlook"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderGmail, ProviderOutlook:
		return true
	}
	return false
}

// RefinementStatus tracks background re-evaluation of a message.
type RefinementStatus string

const (
	RefinementPending  RefinementStatus = "pending"
	RefinementRefined  RefinementStatus = "refined"
	RefinementVerified RefinementStatus = "verified"
)

// AnalysisDepth records how much of the message the last classification saw.
type AnalysisDepth string

const (
	AnalysisBasic         AnalysisDepth = "basic"
	AnalysisComprehensive AnalysisDepth = "comprehensive"
)

// BodyType records which part of the provider body tree was kept.
type BodyType string

const (
	BodyTypeText    BodyType = "text"
	BodyTypeHTML    BodyType = "html"
	BodyTypeSnippet BodyType = "snippet"
)

// =============================================================================
// Message
// =============================================================================

// MessageIdentity is the idempotency key for ingestion.
type MessageIdentity struct {
	UserID            string
	Provider          Provider
	ProviderMessageID string
}

// Message is one ingested mailbox item.
type Message struct {
	ID                string   `json:"id"`
	UserID            string   `json:"user_id"`
	Provider          Provider `json:"provider"`
	ProviderMessageID string   `json:"provider_message_id"`
	ThreadID          string   `json:"thread_id,omitempty"`

	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"` // address only
	SenderName string    `json:"sender_name,omitempty"`
	Recipient  string    `json:"recipient"`
	Timestamp  time.Time `json:"timestamp"`
	Snippet    string    `json:"snippet"`

	Body            string     `json:"body,omitempty"`
	BodyType        BodyType   `json:"body_type,omitempty"`
	ContentLoaded   bool       `json:"content_loaded"`
	ContentLoadedAt *time.Time `json:"content_loaded_at,omitempty"`

	Label            string           `json:"label"`
	Classification   *Classification  `json:"classification,omitempty"`
	RefinementStatus RefinementStatus `json:"refinement_status"`
	AnalysisDepth    AnalysisDepth    `json:"analysis_depth"`
	PreviousLabel    string           `json:"previous_label,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Message) Identity() MessageIdentity {
	return MessageIdentity{
		UserID:            m.UserID,
		Provider:          m.Provider,
		ProviderMessageID: m.ProviderMessageID,
	}
}

// Confidence returns the stored classification confidence, 0 if unclassified.
func (m *Message) Confidence() float64 {
	if m.Classification == nil {
		return 0
	}
	return m.Classification.Confidence
}

// BestBody returns the body if still loaded, otherwise the preview snippet.
func (m *Message) BestBody() string {
	if m.ContentLoaded && m.Body != "" {
		return m.Body
	}
	return m.Snippet
}

// ApplyClassification sets label and record together so they never diverge.
func (m *Message) ApplyClassification(c *Classification) {
	if c == nil {
		return
	}
	m.Label = c.Label
	m.Classification = c
}

// ClearBody drops the stored body. Only a provider re-fetch loads it again.
func (m *Message) ClearBody() {
	m.Body = ""
	m.BodyType = ""
	m.ContentLoaded = false
	m.ContentLoadedAt = nil
}

// SenderDomain returns the lowercased domain part of the sender address.
func (m *Message) SenderDomain() string {
	return AddressDomain(m.Sender)
}

// AddressDomain extracts the lowercased domain of an email address.
func AddressDomain(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(addr[at+1:]))
}

// =============================================================================
// Classification
// =============================================================================

// Classification phases.
const (
	PhaseRules = 1
	PhaseModel = 2
)

// Classification methods.
const (
	MethodDomainMatch   = "domain-match"
	MethodSenderPattern = "sender-pattern"
	MethodKeywordMatch  = "keyword-match"
	MethodFallback      = "fallback"
	MethodModel         = "ml-model"
)

// Classification is the embedded record of the last decision on a message.
type Classification struct {
	Label        string    `json:"label" bson:"label"`
	Confidence   float64   `json:"confidence" bson:"confidence"`
	Phase        int       `json:"phase" bson:"phase"`
	Method       string    `json:"method" bson:"method"`
	ModelVersion string    `json:"model_version,omitempty" bson:"modelVersion,omitempty"`
	ClassifiedAt time.Time `json:"classified_at" bson:"classifiedAt"`
	Error        string    `json:"error,omitempty" bson:"error,omitempty"`
}

// ClassificationUpdate is a conditional write of a classification outcome.
// The store applies it only while the message still carries ExpectedLabel.
type ClassificationUpdate struct {
	ExpectedLabel    string
	Label            string
	PreviousLabel    string
	Classification   *Classification
	RefinementStatus RefinementStatus
	AnalysisDepth    AnalysisDepth
	ClearBody        bool
}

// MessageFilter selects messages for counting and batch reads.
type MessageFilter struct {
	UserID   string
	Label    string
	Provider Provider
}
