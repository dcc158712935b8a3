// Package persistence provides PostgreSQL adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// CheckpointAdapter - 동기화 체크포인트 어댑터
// =============================================================================

// CheckpointSchema creates the checkpoint table.
const CheckpointSchema = `
CREATE TABLE IF NOT EXISTS sync_checkpoints (
	user_id          TEXT        NOT NULL,
	provider         TEXT        NOT NULL,
	cursor           TEXT,
	synced_count     INTEGER     NOT NULL DEFAULT 0,
	marker           TEXT,
	bulk_completed   BOOLEAN     NOT NULL DEFAULT FALSE,
	last_sync_status TEXT,
	last_sync_at     TIMESTAMPTZ,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, provider)
)`

type CheckpointAdapter struct {
	db *sqlx.DB
}

func NewCheckpointAdapter(db *sqlx.DB) *CheckpointAdapter {
	return &CheckpointAdapter{db: db}
}

// =============================================================================
// Entity
// =============================================================================

type checkpointEntity struct {
	UserID         string         `db:"user_id"`
	Provider       string         `db:"provider"`
	Cursor         sql.NullString `db:"cursor"`
	SyncedCount    int            `db:"synced_count"`
	Marker         sql.NullString `db:"marker"`
	BulkCompleted  bool           `db:"bulk_completed"`
	LastSyncStatus sql.NullString `db:"last_sync_status"`
	LastSyncAt     sql.NullTime   `db:"last_sync_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (e *checkpointEntity) toDomain() *domain.SyncCheckpoint {
	cp := &domain.SyncCheckpoint{
		UserID:        e.UserID,
		Provider:      domain.Provider(e.Provider),
		SyncedCount:   e.SyncedCount,
		BulkCompleted: e.BulkCompleted,
		UpdatedAt:     e.UpdatedAt,
	}

	// Nullable fields
	if e.Cursor.Valid {
		cp.Cursor = e.Cursor.String
	}
	if e.Marker.Valid {
		cp.Marker = e.Marker.String
	}
	if e.LastSyncStatus.Valid {
		cp.LastSyncStatus = e.LastSyncStatus.String
	}
	if e.LastSyncAt.Valid {
		cp.LastSyncAt = e.LastSyncAt.Time
	}
	return cp
}

// =============================================================================
// CRUD
// =============================================================================

func (a *CheckpointAdapter) Get(ctx context.Context, userID string, provider domain.Provider) (*domain.SyncCheckpoint, error) {
	var entity checkpointEntity
	query := `SELECT * FROM sync_checkpoints WHERE user_id = $1 AND provider = $2`
	if err := a.db.GetContext(ctx, &entity, query, userID, string(provider)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return entity.toDomain(), nil
}

// SaveCursor upserts bulk progress. The pending marker is stored but only
// becomes usable for incremental sync once bulk_completed flips in SaveMarker.
func (a *CheckpointAdapter) SaveCursor(ctx context.Context, userID string, provider domain.Provider, cursor, pendingMarker string, syncedCount int) error {
	query := `
		INSERT INTO sync_checkpoints (user_id, provider, cursor, marker, synced_count, bulk_completed, last_sync_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, 'in_progress', NOW())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			marker = EXCLUDED.marker,
			synced_count = EXCLUDED.synced_count,
			bulk_completed = FALSE,
			last_sync_status = 'in_progress',
			updated_at = NOW()`

	if _, err := a.db.ExecContext(ctx, query, userID, string(provider), cursor, pendingMarker, syncedCount); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (a *CheckpointAdapter) SaveMarker(ctx context.Context, userID string, provider domain.Provider, marker string, status string) error {
	query := `
		INSERT INTO sync_checkpoints (user_id, provider, cursor, marker, bulk_completed, last_sync_status, last_sync_at, updated_at)
		VALUES ($1, $2, NULL, $3, TRUE, $4, NOW(), NOW())
		ON CONFLICT (user_id, provider) DO UPDATE SET
			cursor = NULL,
			marker = EXCLUDED.marker,
			bulk_completed = TRUE,
			last_sync_status = EXCLUDED.last_sync_status,
			last_sync_at = NOW(),
			updated_at = NOW()`

	if _, err := a.db.ExecContext(ctx, query, userID, string(provider), marker, status); err != nil {
		return fmt.Errorf("save marker: %w", err)
	}
	return nil
}

func (a *CheckpointAdapter) Delete(ctx context.Context, userID string, provider domain.Provider) error {
	query := `DELETE FROM sync_checkpoints WHERE user_id = $1 AND provider = $2`
	if _, err := a.db.ExecContext(ctx, query, userID, string(provider)); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

var _ out.SyncCheckpointRepository = (*CheckpointAdapter)(nil)
