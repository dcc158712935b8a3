package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mailsort_server/adapter/out/messaging"
	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type fakeConnections struct {
	conns []*domain.Connection
	err   error
}

func (f *fakeConnections) Get(ctx context.Context, userID string, p domain.Provider) (*domain.Connection, error) {
	return nil, errors.New("unused")
}

func (f *fakeConnections) ListConnected(ctx context.Context) ([]*domain.Connection, error) {
	return f.conns, f.err
}

func (f *fakeConnections) Save(ctx context.Context, conn *domain.Connection) error {
	return nil
}

func (f *fakeConnections) Delete(ctx context.Context, userID string, p domain.Provider) error {
	return nil
}

type fakeSync struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeSync) BulkSync(ctx context.Context, userID string, p domain.Provider) (*domain.SyncReport, error) {
	return nil, errors.New("unused")
}

func (f *fakeSync) IncrementalSync(ctx context.Context, userID string, p domain.Provider) (*domain.SyncReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userID)
	f.mu.Unlock()
	if f.fail[userID] {
		return nil, errors.New("provider down")
	}
	return &domain.SyncReport{UserID: userID, Provider: p, Mode: domain.SyncModeIncremental}, nil
}

func (f *fakeSync) Disconnect(ctx context.Context, userID string, p domain.Provider) (int64, error) {
	return 0, nil
}

func TestSyncScheduler_RunOnce(t *testing.T) {
	conns := &fakeConnections{conns: []*domain.Connection{
		{UserID: "u1", Provider: domain.ProviderGmail, IsConnected: true},
		{UserID: "u2", Provider: domain.ProviderGmail, IsConnected: false},
		{UserID: "u3", Provider: domain.ProviderGmail, IsConnected: true},
		{UserID: "u4", Provider: domain.ProviderGmail, IsConnected: true},
	}}
	svc := &fakeSync{fail: map[string]bool{"u3": true}}

	s, err := NewSyncScheduler("*/15 * * * *", conns, svc, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSyncScheduler() error = %v", err)
	}

	if got := s.RunOnce(context.Background()); got != 2 {
		t.Errorf("RunOnce() = %d, want 2", got)
	}
	if diff := cmp.Diff([]string{"u1", "u3", "u4"}, svc.calls); diff != "" {
		t.Errorf("synced users mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncScheduler_ListError(t *testing.T) {
	s, _ := NewSyncScheduler("@every 1m", &fakeConnections{err: errors.New("db")}, &fakeSync{}, zerolog.Nop())
	if got := s.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce() = %d, want 0", got)
	}
}

func TestNewSyncScheduler_InvalidSpec(t *testing.T) {
	if _, err := NewSyncScheduler("not a cron", &fakeConnections{}, &fakeSync{}, zerolog.Nop()); err == nil {
		t.Error("NewSyncScheduler() with invalid spec succeeded, want error")
	}
}

func TestSyncScheduler_StartStop(t *testing.T) {
	s, err := NewSyncScheduler("@hourly", &fakeConnections{}, &fakeSync{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

type fakeRefinement struct {
	started []string
}

func (f *fakeRefinement) Start(userID, reason string) (*in.RefinementStatus, bool) {
	f.started = append(f.started, userID+":"+reason)
	return &in.RefinementStatus{UserID: userID, Running: true}, true
}

func (f *fakeRefinement) Stop(userID string) bool { return false }

func (f *fakeRefinement) Status(userID string) *in.RefinementStatus {
	return &in.RefinementStatus{UserID: userID}
}

func TestRefineTriggerHandler(t *testing.T) {
	ref := &fakeRefinement{}
	h := NewRefineTriggerHandler(ref, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name    string
		stream  string
		data    string
		wantErr bool
	}{
		{"valid", messaging.StreamRefineTrigger, `{"user_id":"u1","reason":"sync"}`, false},
		{"default reason", messaging.StreamRefineTrigger, `{"user_id":"u2"}`, false},
		{"malformed acked", messaging.StreamRefineTrigger, `{`, false},
		{"missing user acked", messaging.StreamRefineTrigger, `{"reason":"x"}`, false},
		{"wrong stream", "other", `{"user_id":"u3"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Handle(ctx, tt.stream, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("Handle() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if diff := cmp.Diff([]string{"u1:sync", "u2:trigger"}, ref.started); diff != "" {
		t.Errorf("started mismatch (-want +got):\n%s", diff)
	}
}
