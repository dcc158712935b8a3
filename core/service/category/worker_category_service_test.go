package category

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mailsort_server/adapter/out/memory"
	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/classification"
	"mailsort_server/pkg/apperr"

	"github.com/rs/zerolog"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.RealtimeEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, e *domain.RealtimeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

type fakeJobs struct {
	started []domain.ReclassifyScope
}

func (f *fakeJobs) Start(ctx context.Context, userID string, scope domain.ReclassifyScope) (*domain.ReclassifyJob, error) {
	f.started = append(f.started, scope)
	return domain.NewReclassifyJob("job-1", userID, scope, 100), nil
}
func (f *fakeJobs) Get(ctx context.Context, userID, jobID string) (*domain.ReclassifyJob, error) {
	return nil, out.ErrNotFound
}
func (f *fakeJobs) List(ctx context.Context, userID string, limit int) ([]*domain.ReclassifyJob, error) {
	return nil, nil
}
func (f *fakeJobs) Cancel(ctx context.Context, userID, jobID string) error { return nil }

type fakeScorer struct {
	synced []string
	err    error
}

func (f *fakeScorer) Predict(ctx context.Context, req *out.PredictRequest) (*out.PredictResponse, error) {
	return nil, errors.New("unused")
}
func (f *fakeScorer) SyncCategory(ctx context.Context, userID string, c *domain.Category) error {
	f.synced = append(f.synced, c.Name)
	return f.err
}
func (f *fakeScorer) ModelVersion() string { return "v1" }

type fixture struct {
	svc      *Service
	messages *memory.MessageStore
	cache    *classification.CategoryCache
	jobs     *fakeJobs
	scorer   *fakeScorer
	events   *recordingPublisher
}

func newFixture(autoReclassify bool) *fixture {
	messages := memory.NewMessageStore()
	categories := memory.NewCategoryStore(messages)
	cache := classification.NewCategoryCache(categories, 0, zerolog.Nop())
	f := &fixture{
		messages: messages,
		cache:    cache,
		jobs:     &fakeJobs{},
		scorer:   &fakeScorer{},
		events:   &recordingPublisher{},
	}
	f.svc = NewService(categories, cache, f.scorer, f.jobs, f.events,
		Config{FallbackCategory: "Other", AutoReclassify: autoReclassify}, zerolog.Nop())
	return f
}

func (f *fixture) seed(t *testing.T, label string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		m := &domain.Message{
			UserID:            "u1",
			Provider:          domain.ProviderGmail,
			ProviderMessageID: label + string(rune('a'+i)),
			Label:             label,
			Classification:    &domain.Classification{Label: label, Confidence: 0.9},
		}
		if _, err := f.messages.Upsert(context.Background(), m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCreate_ValidatesAndRejectsDuplicates(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{
		Name:    "  NPTEL ",
		Domains: []string{"@NPTEL.ac.in"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.Name != "NPTEL" || c.Priority != domain.CategoryPriorityNormal || c.Domains[0] != "nptel.ac.in" {
		t.Errorf("normalized category = %+v", c)
	}
	if c.TrainingStatus != domain.TrainingSynced {
		t.Errorf("TrainingStatus = %q, want synced", c.TrainingStatus)
	}

	_, err = f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{Name: "NPTEL"})
	if !apperr.HasCode(err, apperr.CodeAlreadyExists) {
		t.Errorf("duplicate Create() error = %v, want ALREADY_EXISTS", err)
	}

	_, err = f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{Name: " "})
	if !apperr.HasCode(err, apperr.CodeMissingField) {
		t.Errorf("empty name error = %v, want MISSING_FIELD", err)
	}

	_, err = f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{Name: "X", Priority: "urgent"})
	if !apperr.HasCode(err, apperr.CodeInvalidInput) {
		t.Errorf("bad priority error = %v, want INVALID_INPUT", err)
	}
}

func TestUpdate_RenameCascadesAndInvalidates(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	c, _ := f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{Name: "Assistant"})
	f.seed(t, "Assistant", 4)

	// warm the cache with the old name
	snap, _ := f.cache.Get(ctx, "u1")
	if _, ok := snap.Resolve("Assistant"); !ok {
		t.Fatal("cache missing Assistant")
	}

	name := "Professor"
	res, err := f.svc.Update(ctx, "u1", c.ID, &domain.CategoryPatch{Name: &name})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if res.Relabeled != 4 {
		t.Errorf("Relabeled = %d, want 4", res.Relabeled)
	}

	counts, _ := f.messages.CountByLabel(ctx, "u1")
	if counts["Assistant"] != 0 || counts["Professor"] != 4 {
		t.Errorf("counts = %v", counts)
	}

	snap, _ = f.cache.Get(ctx, "u1")
	if _, ok := snap.Resolve("Assistant"); ok {
		t.Error("cache still serves the old name after rename")
	}
	if _, ok := snap.Resolve("Professor"); !ok {
		t.Error("cache missing the new name after rename")
	}
}

func TestUpdate_RenameToExistingName(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{Name: "Work"})
	c, _ := f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{Name: "Personal"})

	name := "Work"
	_, err := f.svc.Update(ctx, "u1", c.ID, &domain.CategoryPatch{Name: &name})
	if !apperr.HasCode(err, apperr.CodeAlreadyExists) {
		t.Errorf("error = %v, want ALREADY_EXISTS", err)
	}
}

func TestUpdate_PatternEditStartsJob(t *testing.T) {
	tests := []struct {
		name     string
		auto     bool
		patch    *domain.CategoryPatch
		wantJobs int
	}{
		{"pattern edit with auto", true, &domain.CategoryPatch{Keywords: []string{"lecture"}}, 1},
		{"pattern edit without auto", false, &domain.CategoryPatch{Keywords: []string{"lecture"}}, 0},
		{"priority only", true, &domain.CategoryPatch{Priority: ptr(domain.CategoryPriorityHigh)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.auto)
			ctx := context.Background()
			c, _ := f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{Name: "NPTEL"})

			res, err := f.svc.Update(ctx, "u1", c.ID, tt.patch)
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if len(f.jobs.started) != tt.wantJobs {
				t.Fatalf("jobs started = %d, want %d", len(f.jobs.started), tt.wantJobs)
			}
			if tt.wantJobs > 0 && (res.Job == nil || f.jobs.started[0].Label != "NPTEL") {
				t.Errorf("job = %+v, scopes = %+v", res.Job, f.jobs.started)
			}
		})
	}
}

func TestDelete_ReassignsToFallback(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	c, _ := f.svc.Create(ctx, "u1", &in.CreateCategoryRequest{Name: "Newsletters"})
	f.seed(t, "Newsletters", 2)
	f.seed(t, "Work", 1)

	n, err := f.svc.Delete(ctx, "u1", c.ID)
	if err != nil || n != 2 {
		t.Fatalf("Delete() = %d, %v", n, err)
	}
	counts, _ := f.messages.CountByLabel(ctx, "u1")
	if counts["Newsletters"] != 0 || counts["Other"] != 2 || counts["Work"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	if _, err := f.svc.Get(ctx, "u1", c.ID); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Errorf("Get() after delete error = %v, want NOT_FOUND", err)
	}
}

func TestMutation_MLSyncFailureIsNotFatal(t *testing.T) {
	f := newFixture(false)
	f.scorer.err = errors.New("ml down")

	c, err := f.svc.Create(context.Background(), "u1", &in.CreateCategoryRequest{Name: "Work"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.TrainingStatus != domain.TrainingFailed {
		t.Errorf("TrainingStatus = %q, want failed", c.TrainingStatus)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != domain.EventCategoryChanged {
		t.Errorf("events = %+v", f.events.events)
	}
}

func ptr[T any](v T) *T { return &v }
