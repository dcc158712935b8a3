// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"errors"
	"strings"
	"time"

	"mailsort_server/core/domain"

	"golang.org/x/oauth2"
)

// =============================================================================
// Mail Provider Port (Gmail, Outlook)
// =============================================================================

// MailProvider is the remote mailbox collaborator used by ingestion.
// 구현체: Gmail 어댑터
type MailProvider interface {
	Name() domain.Provider

	// ListMessageIDs returns one page of message ids. An empty NextCursor ends the listing.
	ListMessageIDs(ctx context.Context, token *oauth2.Token, cursor string, pageSize int) (*MessagePage, error)

	// GetMessage returns a structured message with headers and the body tree.
	GetMessage(ctx context.Context, token *oauth2.Token, id string) (*ProviderMessage, error)

	// CurrentMarker returns the provider change marker as of now.
	CurrentMarker(ctx context.Context, token *oauth2.Token) (string, error)

	// ListChanges returns ids added or deleted since marker.
	ListChanges(ctx context.Context, token *oauth2.Token, marker string) (*ChangeSet, error)
}

// MessagePage is one page of the cursor listing.
type MessagePage struct {
	IDs        []string
	NextCursor string
	Estimate   int64
}

// ChangeSet is the result of a change-marker listing.
type ChangeSet struct {
	AddedIDs   []string
	DeletedIDs []string
	NextMarker string
}

// ProviderMessage is the provider's structured message.
type ProviderMessage struct {
	ID           string
	ThreadID     string
	Snippet      string
	InternalDate time.Time
	Headers      []Header
	Payload      *MessagePart
}

// Header returns the first header value with the given name (case-insensitive).
func (m *ProviderMessage) Header(name string) string {
	return findHeader(m.Headers, name)
}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// MessagePart is one node of a (possibly multi-part) body tree. Data is decoded.
type MessagePart struct {
	MimeType string
	Filename string
	Headers  []Header
	Data     []byte
	Parts    []*MessagePart
}

func findHeader(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// =============================================================================
// Provider Errors
// =============================================================================

type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrSyncRequired ProviderErrorCode = "full_sync_required"
)

// ProviderError is a classified provider failure.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// IsSyncRequired reports whether err asks for a full re-sync.
func IsSyncRequired(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == ProviderErrSyncRequired
}
