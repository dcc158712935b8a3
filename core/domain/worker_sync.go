package domain

import (
	"time"

	"golang.org/x/oauth2"
)

// =============================================================================
// Connection - 메일 계정 연결
// =============================================================================

// Connection is a user's authorised link to a mailbox provider.
type Connection struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	Provider     Provider  `json:"provider"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes"`
	IsConnected  bool      `json:"is_connected"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Token converts the stored credentials to an oauth2 token.
func (c *Connection) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresAt,
		TokenType:    "Bearer",
	}
}

// =============================================================================
// SyncCheckpoint - 재개 가능한 동기화 지점
// =============================================================================

// SyncCheckpoint stores where ingestion left off for one (user, provider).
// Cursor is the bulk listing page cursor (empty once a bulk pass finished);
// Marker is the provider change marker used by incremental sync.
type SyncCheckpoint struct {
	UserID         string    `json:"user_id" db:"user_id"`
	Provider       Provider  `json:"provider" db:"provider"`
	Cursor         string    `json:"cursor,omitempty" db:"cursor"`
	SyncedCount    int       `json:"synced_count" db:"synced_count"`
	Marker         string    `json:"marker,omitempty" db:"marker"`
	LastSyncAt     time.Time `json:"last_sync_at" db:"last_sync_at"`
	BulkCompleted  bool      `json:"bulk_completed" db:"bulk_completed"`
	LastSyncStatus string    `json:"last_sync_status,omitempty" db:"last_sync_status"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// HasCursor reports whether an interrupted bulk pass can be resumed.
func (c *SyncCheckpoint) HasCursor() bool {
	return c != nil && c.Cursor != ""
}

// CanIncremental reports whether a change marker is available.
func (c *SyncCheckpoint) CanIncremental() bool {
	return c != nil && c.BulkCompleted && c.Marker != ""
}

// SyncReport summarises one ingestion run.
type SyncReport struct {
	UserID   string        `json:"user_id"`
	Provider Provider      `json:"provider"`
	Mode     string        `json:"mode"`
	Total    int           `json:"total"`
	Fetched  int           `json:"fetched"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Deleted  int           `json:"deleted,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Sync modes reported in SyncReport.Mode.
const (
	SyncModeBulk        = "bulk"
	SyncModeIncremental = "incremental"
)
