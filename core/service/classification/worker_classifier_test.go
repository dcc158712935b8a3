package classification

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeLoader struct {
	mu         sync.Mutex
	categories []*domain.Category
	err        error
	calls      int32
	started    chan struct{}
	release    chan struct{}
}

func (f *fakeLoader) ListActive(ctx context.Context, userID string) ([]*domain.Category, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories, f.err
}

type fakeScorer struct {
	resp  *out.PredictResponse
	err   error
	calls int32
	last  *out.PredictRequest
}

func (f *fakeScorer) Predict(ctx context.Context, req *out.PredictRequest) (*out.PredictResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	f.last = req
	return f.resp, f.err
}

func (f *fakeScorer) SyncCategory(ctx context.Context, userID string, category *domain.Category) error {
	return nil
}

func (f *fakeScorer) ModelVersion() string { return "fake-v1" }

func category(name string, priority domain.CategoryPriority, domains, senders, keywords []string) *domain.Category {
	return &domain.Category{
		ID:             name,
		UserID:         "u1",
		Name:           name,
		Priority:       priority,
		Domains:        domains,
		SenderPatterns: senders,
		Keywords:       keywords,
		Active:         true,
	}
}

func newTestClassifier(categories []*domain.Category, scorer out.MLScorer) (*Classifier, *fakeLoader) {
	loader := &fakeLoader{categories: categories}
	cache := NewCategoryCache(loader, 0, zerolog.Nop())
	var ml *MLClassifier
	if scorer != nil {
		ml = NewMLClassifier(scorer, 0)
	}
	return NewClassifier(cache, ml, DefaultConfig(), zerolog.Nop()), loader
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// =============================================================================
// Phase 1
// =============================================================================

func TestClassify_DomainMatch(t *testing.T) {
	c, _ := newTestClassifier([]*domain.Category{
		category("NPTEL", domain.CategoryPriorityNormal, []string{"nptel.ac.in"}, nil, nil),
	}, nil)

	got, err := c.Classify(context.Background(), "u1", &Input{
		Sender:  "noreply@nptel.ac.in",
		Subject: "Assignment due",
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Label != "NPTEL" || got.Confidence < 0.9 || got.Method != domain.MethodDomainMatch {
		t.Errorf("got %+v, want NPTEL/domain-match/>=0.9", got)
	}
}

func TestClassify_NoMatchFallsBack(t *testing.T) {
	c, _ := newTestClassifier([]*domain.Category{
		category("NPTEL", domain.CategoryPriorityNormal, []string{"nptel.ac.in"}, nil, []string{"lecture"}),
	}, nil)

	got, err := c.Classify(context.Background(), "u1", &Input{
		Sender:  "friend@example.com",
		Subject: "dinner tonight?",
	})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.Label != "Other" || got.Method != domain.MethodFallback {
		t.Errorf("got %+v, want fallback", got)
	}
	if got.Confidence < 0.3 || got.Confidence > 0.5 {
		t.Errorf("Confidence = %v, want within [0.3, 0.5]", got.Confidence)
	}
}

func TestClassify_CategoryLoadFailure(t *testing.T) {
	c, loader := newTestClassifier(nil, nil)
	loader.err = errors.New("mongo down")

	got, err := c.Classify(context.Background(), "u1", &Input{Subject: "hello"})
	if err == nil {
		t.Fatal("Classify() error = nil, want load error")
	}
	if got == nil || got.Label != "Other" || !near(got.Confidence, 0.3) || got.Error == "" {
		t.Errorf("got %+v, want fallback at 0.3 with error", got)
	}
}

func TestEvaluate_Signals(t *testing.T) {
	tests := []struct {
		name       string
		category   *domain.Category
		in         Input
		wantMethod string
		wantConf   float64
	}{
		{
			name:       "exact domain",
			category:   category("A", domain.CategoryPriorityNormal, []string{"nptel.ac.in"}, nil, nil),
			in:         Input{Sender: "x@nptel.ac.in"},
			wantMethod: domain.MethodDomainMatch,
			wantConf:   0.95,
		},
		{
			name:       "subdomain",
			category:   category("A", domain.CategoryPriorityNormal, []string{"nptel.ac.in"}, nil, nil),
			in:         Input{Sender: "x@mail.nptel.ac.in"},
			wantMethod: domain.MethodDomainMatch,
			wantConf:   0.90,
		},
		{
			name:       "exact sender name",
			category:   category("A", domain.CategoryPriorityNormal, nil, []string{"github"}, nil),
			in:         Input{Sender: "noreply@github.com", SenderName: "GitHub"},
			wantMethod: domain.MethodSenderPattern,
			wantConf:   0.90,
		},
		{
			name:       "sender name substring",
			category:   category("A", domain.CategoryPriorityNormal, nil, []string{"hub"}, nil),
			in:         Input{Sender: "noreply@example.com", SenderName: "GitHub Notifications"},
			wantMethod: domain.MethodSenderPattern,
			wantConf:   0.85,
		},
		{
			name:       "local part when no display name",
			category:   category("A", domain.CategoryPriorityNormal, nil, []string{"billing"}, nil),
			in:         Input{Sender: "billing@shop.example"},
			wantMethod: domain.MethodSenderPattern,
			wantConf:   0.90,
		},
		{
			name:       "keyword density",
			category:   category("A", domain.CategoryPriorityNormal, nil, nil, []string{"invoice", "receipt", "refund", "order"}),
			in:         Input{Subject: "Your invoice", Body: "receipt attached"},
			wantMethod: domain.MethodKeywordMatch,
			wantConf:   0.65,
		},
		{
			name:       "domain beats keyword on same category",
			category:   category("A", domain.CategoryPriorityNormal, []string{"shop.example"}, nil, []string{"invoice"}),
			in:         Input{Sender: "a@shop.example", Subject: "invoice"},
			wantMethod: domain.MethodDomainMatch,
			wantConf:   0.95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			got := Evaluate([]*domain.Category{tt.category}, &in, RuleConfig{})
			if got.Label != "A" || got.Method != tt.wantMethod || !near(got.Confidence, tt.wantConf) {
				t.Errorf("got %s/%s/%v, want A/%s/%v", got.Label, got.Method, got.Confidence, tt.wantMethod, tt.wantConf)
			}
			if got.Phase != domain.PhaseRules {
				t.Errorf("Phase = %d, want 1", got.Phase)
			}
		})
	}
}

func permutations(in []*domain.Category) [][]*domain.Category {
	if len(in) <= 1 {
		return [][]*domain.Category{append([]*domain.Category(nil), in...)}
	}
	var result [][]*domain.Category
	for i := range in {
		rest := make([]*domain.Category, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			result = append(result, append([]*domain.Category{in[i]}, p...))
		}
	}
	return result
}

func TestEvaluate_TieBreakIsOrderIndependent(t *testing.T) {
	tests := []struct {
		name       string
		categories []*domain.Category
		in         Input
		want       string
	}{
		{
			name: "priority then name",
			categories: []*domain.Category{
				category("Beta", domain.CategoryPriorityHigh, nil, nil, []string{"invoice"}),
				category("Alpha", domain.CategoryPriorityHigh, nil, nil, []string{"invoice"}),
				category("Zed", domain.CategoryPriorityLow, nil, nil, []string{"invoice"}),
				category("Mid", domain.CategoryPriorityNormal, nil, nil, []string{"invoice"}),
			},
			in:   Input{Subject: "invoice #42"},
			want: "Alpha",
		},
		{
			name: "earlier signal wins equal confidence",
			categories: []*domain.Category{
				category("BySender", domain.CategoryPriorityNormal, nil, []string{"alerts"}, nil),
				category("ByDomain", domain.CategoryPriorityNormal, []string{"bank"}, nil, nil),
			},
			in:   Input{Sender: "alerts@mybank.example"},
			want: "ByDomain",
		},
		{
			name: "higher confidence beats priority",
			categories: []*domain.Category{
				category("Important", domain.CategoryPriorityHigh, nil, nil, []string{"report", "weekly"}),
				category("Reports", domain.CategoryPriorityLow, []string{"reports.example"}, nil, nil),
			},
			in:   Input{Sender: "bot@reports.example", Subject: "weekly report"},
			want: "Reports",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, perm := range permutations(tt.categories) {
				in := tt.in
				got := Evaluate(perm, &in, RuleConfig{})
				if got.Label != tt.want {
					t.Fatalf("order %v: label = %q, want %q", names(perm), got.Label, tt.want)
				}
			}
		})
	}
}

func names(cs []*domain.Category) []string {
	ns := make([]string, len(cs))
	for i, c := range cs {
		ns[i] = c.Name
	}
	return ns
}

func TestEvaluate_IsPure(t *testing.T) {
	categories := []*domain.Category{
		category("Work", domain.CategoryPriorityHigh, []string{"corp.example"}, []string{"boss"}, []string{"deadline"}),
	}
	in := &Input{Sender: "boss@corp.example", SenderName: "Boss", Subject: "Deadline", Body: "Friday"}
	before := *in
	snapshot := categories[0].Clone()

	first := Evaluate(categories, in, RuleConfig{})
	second := Evaluate(categories, in, RuleConfig{})

	if diff := cmp.Diff(before, *in); diff != "" {
		t.Errorf("input mutated (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(snapshot, categories[0]); diff != "" {
		t.Errorf("category mutated (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("results differ (-first +second):\n%s", diff)
	}
}

func TestEvaluate_IgnoresInactive(t *testing.T) {
	c := category("Old", domain.CategoryPriorityHigh, []string{"old.example"}, nil, nil)
	c.Active = false
	got := Evaluate([]*domain.Category{c}, &Input{Sender: "a@old.example"}, RuleConfig{})
	if got.Label != "Other" {
		t.Errorf("Label = %q, want fallback for inactive category", got.Label)
	}
}

// =============================================================================
// Phase 2 merge
// =============================================================================

func TestClassify_PhaseTwoMerge(t *testing.T) {
	categories := []*domain.Category{
		category("Finance", domain.CategoryPriorityNormal, nil, nil, []string{"invoice", "tax", "bank", "loan"}),
		category("Travel", domain.CategoryPriorityNormal, nil, nil, []string{"flight"}),
	}
	in := &Input{Subject: "invoice for your flight booking"}
	// "invoice" alone only reaches Finance at 0.575.
	lowIn := &Input{Subject: "invoice"}

	tests := []struct {
		name       string
		in         *Input
		resp       *out.PredictResponse
		err        error
		wantLabel  string
		wantPhase  int
		wantError  bool
		wantCalled bool
	}{
		{
			name:       "confident phase 1 skips model",
			in:         in,
			resp:       &out.PredictResponse{Label: "Finance", Confidence: 0.99},
			wantLabel:  "Travel",
			wantPhase:  domain.PhaseRules,
			wantCalled: false,
		},
		{
			name:       "higher model confidence replaces",
			in:         lowIn,
			resp:       &out.PredictResponse{Label: "travel", Confidence: 0.9},
			wantLabel:  "Travel",
			wantPhase:  domain.PhaseModel,
			wantCalled: true,
		},
		{
			name:       "lower model confidence kept out",
			in:         lowIn,
			resp:       &out.PredictResponse{Label: "Travel", Confidence: 0.55},
			wantLabel:  "Finance",
			wantPhase:  domain.PhaseRules,
			wantCalled: true,
		},
		{
			name:       "label outside taxonomy ignored",
			in:         lowIn,
			resp:       &out.PredictResponse{Label: "Crypto", Confidence: 0.99},
			wantLabel:  "Finance",
			wantPhase:  domain.PhaseRules,
			wantCalled: true,
		},
		{
			name:       "model error keeps phase 1 and records it",
			in:         lowIn,
			err:        context.DeadlineExceeded,
			wantLabel:  "Finance",
			wantPhase:  domain.PhaseRules,
			wantError:  true,
			wantCalled: true,
		},
		{
			name:       "malformed confidence treated as error",
			in:         lowIn,
			resp:       &out.PredictResponse{Label: "Travel", Confidence: 1.5},
			wantLabel:  "Finance",
			wantPhase:  domain.PhaseRules,
			wantError:  true,
			wantCalled: true,
		},
		{
			name:       "empty label treated as error",
			in:         lowIn,
			resp:       &out.PredictResponse{Label: " ", Confidence: 0.9},
			wantLabel:  "Finance",
			wantPhase:  domain.PhaseRules,
			wantError:  true,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fakeScorer{resp: tt.resp, err: tt.err}
			c, _ := newTestClassifier(categories, scorer)

			got, err := c.Classify(context.Background(), "u1", tt.in)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got.Label != tt.wantLabel || got.Phase != tt.wantPhase {
				t.Errorf("got %s/phase %d, want %s/phase %d", got.Label, got.Phase, tt.wantLabel, tt.wantPhase)
			}
			if (got.Error != "") != tt.wantError {
				t.Errorf("Error = %q, wantError %v", got.Error, tt.wantError)
			}
			if called := atomic.LoadInt32(&scorer.calls) > 0; called != tt.wantCalled {
				t.Errorf("model called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestClassify_ModelSeesCandidates(t *testing.T) {
	scorer := &fakeScorer{resp: &out.PredictResponse{Label: "Other", Confidence: 0.6}}
	c, _ := newTestClassifier([]*domain.Category{
		category("Work", domain.CategoryPriorityNormal, []string{"corp.example"}, nil, nil),
	}, scorer)

	got, _ := c.Classify(context.Background(), "u1", &Input{Sender: "a@b.example", Subject: "hi"})
	if got.Label != "Other" || got.Phase != domain.PhaseModel || got.ModelVersion != "fake-v1" {
		t.Errorf("got %+v, want model fallback label with scorer version", got)
	}
	if diff := cmp.Diff([]string{"Work", "Other"}, scorer.last.Candidates); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}
}

// =============================================================================
// Category cache
// =============================================================================

func TestCategoryCache_InvalidateReloads(t *testing.T) {
	loader := &fakeLoader{categories: []*domain.Category{
		category("A", domain.CategoryPriorityNormal, nil, nil, nil),
	}}
	cache := NewCategoryCache(loader, 0, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(ctx, "u1"); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt32(&loader.calls); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}

	loader.mu.Lock()
	loader.categories = append(loader.categories, category("B", domain.CategoryPriorityNormal, nil, nil, nil))
	loader.mu.Unlock()
	cache.Invalidate(ctx, "u1")

	snap, err := cache.Get(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"A", "B"}, snap.Names()); diff != "" {
		t.Errorf("names after invalidate (-want +got):\n%s", diff)
	}
}

func TestCategoryCache_LoadRacingInvalidationIsNotStored(t *testing.T) {
	loader := &fakeLoader{
		categories: []*domain.Category{category("A", domain.CategoryPriorityNormal, nil, nil, nil)},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	cache := NewCategoryCache(loader, 0, zerolog.Nop())

	done := make(chan error)
	go func() {
		_, err := cache.Get(context.Background(), "u1")
		done <- err
	}()

	<-loader.started
	cache.InvalidateLocal("u1")
	close(loader.release)

	if err := <-done; err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("stale load was cached: Len() = %d", cache.Len())
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML(`<html><head><title>x</title></head><body><p>Hello&nbsp;<b>world</b></p><script>alert(1)</script><div>Bye &amp; thanks</div></body></html>`)
	want := "Hello world\nBye & thanks"
	if got != want {
		t.Errorf("StripHTML() = %q, want %q", got, want)
	}
}
