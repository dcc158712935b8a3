package memory

import (
	"context"
	"sync"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
)

type syncKey struct {
	userID   string
	provider domain.Provider
}

// CheckpointStore implements out.SyncCheckpointRepository.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[syncKey]*domain.SyncCheckpoint
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[syncKey]*domain.SyncCheckpoint)}
}

var _ out.SyncCheckpointRepository = (*CheckpointStore)(nil)

func (s *CheckpointStore) Get(ctx context.Context, userID string, provider domain.Provider) (*domain.SyncCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[syncKey{userID, provider}]
	if !ok {
		return nil, nil
	}
	c := *cp
	return &c, nil
}

// getOrCreate expects s.mu held for writing.
func (s *CheckpointStore) getOrCreate(userID string, provider domain.Provider) *domain.SyncCheckpoint {
	key := syncKey{userID, provider}
	cp, ok := s.checkpoints[key]
	if !ok {
		cp = &domain.SyncCheckpoint{UserID: userID, Provider: provider}
		s.checkpoints[key] = cp
	}
	return cp
}

func (s *CheckpointStore) SaveCursor(ctx context.Context, userID string, provider domain.Provider, cursor, pendingMarker string, syncedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.getOrCreate(userID, provider)
	cp.Cursor = cursor
	cp.Marker = pendingMarker
	cp.BulkCompleted = false
	cp.SyncedCount = syncedCount
	cp.LastSyncStatus = "in_progress"
	cp.UpdatedAt = time.Now()
	return nil
}

func (s *CheckpointStore) SaveMarker(ctx context.Context, userID string, provider domain.Provider, marker string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cp := s.getOrCreate(userID, provider)
	cp.Cursor = ""
	cp.Marker = marker
	cp.BulkCompleted = true
	cp.LastSyncAt = now
	cp.LastSyncStatus = status
	cp.UpdatedAt = now
	return nil
}

func (s *CheckpointStore) Delete(ctx context.Context, userID string, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, syncKey{userID, provider})
	return nil
}

// ConnectionStore implements out.ConnectionRepository.
type ConnectionStore struct {
	mu          sync.RWMutex
	connections map[syncKey]*domain.Connection
}

func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{connections: make(map[syncKey]*domain.Connection)}
}

var _ out.ConnectionRepository = (*ConnectionStore)(nil)

// Save stores or replaces a connection.
func (s *ConnectionStore) Save(ctx context.Context, conn *domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *conn
	c.IsConnected = true
	s.connections[syncKey{conn.UserID, conn.Provider}] = &c
	return nil
}

func (s *ConnectionStore) Get(ctx context.Context, userID string, provider domain.Provider) (*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.connections[syncKey{userID, provider}]
	if !ok {
		return nil, out.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *ConnectionStore) ListConnected(ctx context.Context) ([]*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Connection
	for _, c := range s.connections {
		if c.IsConnected {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *ConnectionStore) Delete(ctx context.Context, userID string, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, syncKey{userID, provider})
	return nil
}
