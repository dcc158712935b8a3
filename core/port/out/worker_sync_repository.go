package out

import (
	"context"

	"mailsort_server/core/domain"
)

// SyncCheckpointRepository persists ingestion progress per (user, provider).
type SyncCheckpointRepository interface {
	// Get returns nil, nil when no checkpoint exists.
	Get(ctx context.Context, userID string, provider domain.Provider) (*domain.SyncCheckpoint, error)

	// SaveCursor records bulk progress. pendingMarker is the change marker
	// captured when the bulk pass started; it becomes usable once SaveMarker runs.
	SaveCursor(ctx context.Context, userID string, provider domain.Provider, cursor, pendingMarker string, syncedCount int) error

	// SaveMarker ends a pass: clears the cursor and stores the marker.
	SaveMarker(ctx context.Context, userID string, provider domain.Provider, marker string, status string) error
	Delete(ctx context.Context, userID string, provider domain.Provider) error
}

// ConnectionRepository stores provider credentials.
type ConnectionRepository interface {
	Get(ctx context.Context, userID string, provider domain.Provider) (*domain.Connection, error)
	ListConnected(ctx context.Context) ([]*domain.Connection, error)

	// Save upserts by (user, provider).
	Save(ctx context.Context, conn *domain.Connection) error
	Delete(ctx context.Context, userID string, provider domain.Provider) error
}
