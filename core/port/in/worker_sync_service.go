// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"

	"mailsort_server/core/domain"
)

// SyncService ingests a user's mailbox from a provider.
type SyncService interface {
	// BulkSync lists and fetches the whole mailbox, resuming from a saved cursor.
	BulkSync(ctx context.Context, userID string, provider domain.Provider) (*domain.SyncReport, error)

	// IncrementalSync applies changes since the stored marker, falling back to BulkSync.
	IncrementalSync(ctx context.Context, userID string, provider domain.Provider) (*domain.SyncReport, error)

	// Disconnect purges the provider's messages, checkpoint and connection.
	Disconnect(ctx context.Context, userID string, provider domain.Provider) (int64, error)
}
