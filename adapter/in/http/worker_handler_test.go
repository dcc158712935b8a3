package http

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/infra/middleware"
	"mailsort_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

// =============================================================================
// fakes
// =============================================================================

type fakeSync struct {
	calls []string
}

func (f *fakeSync) BulkSync(ctx context.Context, userID string, p domain.Provider) (*domain.SyncReport, error) {
	f.calls = append(f.calls, "bulk:"+userID+":"+string(p))
	return &domain.SyncReport{UserID: userID, Provider: p, Mode: domain.SyncModeBulk, Total: 3, Fetched: 3}, nil
}

func (f *fakeSync) IncrementalSync(ctx context.Context, userID string, p domain.Provider) (*domain.SyncReport, error) {
	f.calls = append(f.calls, "incremental:"+userID+":"+string(p))
	return nil, apperr.NotFound("connection")
}

func (f *fakeSync) Disconnect(ctx context.Context, userID string, p domain.Provider) (int64, error) {
	return 7, nil
}

type fakeCategories struct {
	created *in.CreateCategoryRequest
}

func (f *fakeCategories) List(ctx context.Context, userID string) ([]*domain.Category, error) {
	return []*domain.Category{{ID: "c1", Name: "NPTEL"}}, nil
}

func (f *fakeCategories) Get(ctx context.Context, userID, id string) (*domain.Category, error) {
	return nil, apperr.NotFound("category")
}

func (f *fakeCategories) Create(ctx context.Context, userID string, req *in.CreateCategoryRequest) (*domain.Category, error) {
	f.created = req
	if req.Name == "Dup" {
		return nil, apperr.AlreadyExists("category")
	}
	return &domain.Category{ID: "c2", UserID: userID, Name: req.Name}, nil
}

func (f *fakeCategories) Update(ctx context.Context, userID, id string, patch *domain.CategoryPatch) (*in.CategoryUpdateResult, error) {
	return &in.CategoryUpdateResult{Category: &domain.Category{ID: id, Name: *patch.Name}, Relabeled: 4}, nil
}

func (f *fakeCategories) Delete(ctx context.Context, userID, id string) (int64, error) {
	return 2, nil
}

type fakeReclassify struct{}

func (fakeReclassify) Start(ctx context.Context, userID string, scope domain.ReclassifyScope) (*domain.ReclassifyJob, error) {
	if scope.Label == "busy" {
		return nil, apperr.Conflict("already running")
	}
	return domain.NewReclassifyJob("j1", userID, scope, 100), nil
}

func (fakeReclassify) Get(ctx context.Context, userID, jobID string) (*domain.ReclassifyJob, error) {
	return nil, apperr.NotFound("job")
}

func (fakeReclassify) List(ctx context.Context, userID string, limit int) ([]*domain.ReclassifyJob, error) {
	return nil, nil
}

func (fakeReclassify) Cancel(ctx context.Context, userID, jobID string) error { return nil }

// =============================================================================
// harness
// =============================================================================

func testApp(t *testing.T, register func(fiber.Router)) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		if uid := c.Get("X-Test-User"); uid != "" {
			c.Locals(middleware.LocalUserID, uid)
		}
		return c.Next()
	})
	register(api)
	return app
}

func do(t *testing.T, app *fiber.App, method, target, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("X-Test-User", "u1")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test(%s %s) error = %v", method, target, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func noLimit(c *fiber.Ctx) error { return c.Next() }

// =============================================================================
// tests
// =============================================================================

func TestSyncHandler(t *testing.T) {
	svc := &fakeSync{}
	h := NewSyncHandler(context.Background(), svc, zerolog.Nop())
	app := testApp(t, func(r fiber.Router) { h.Register(r, noLimit) })

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"bulk wait", "POST", "/api/v1/sync/gmail/bulk?wait=true", 200},
		{"incremental missing connection", "POST", "/api/v1/sync/google/incremental?wait=true", 404},
		{"unknown provider", "POST", "/api/v1/sync/yahoo/bulk", 400},
		{"disconnect", "DELETE", "/api/v1/connections/google", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := do(t, app, tt.method, tt.target, "")
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}

	want := []string{"bulk:u1:google", "incremental:u1:google"}
	if diff := cmp.Diff(want, svc.calls); diff != "" {
		t.Errorf("service calls mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncHandler_Background(t *testing.T) {
	svc := &fakeSync{}
	h := NewSyncHandler(context.Background(), svc, zerolog.Nop())
	app := testApp(t, func(r fiber.Router) { h.Register(r, noLimit) })

	status, body := do(t, app, "POST", "/api/v1/sync/google/bulk", "")
	if status != 202 {
		t.Fatalf("status = %d, want 202", status)
	}
	h.Wait()

	data := body["data"].(map[string]any)
	if data["status"] != "started" || data["mode"] != "bulk" {
		t.Errorf("data = %v", data)
	}
	if len(svc.calls) != 1 {
		t.Errorf("calls = %v, want one background bulk sync", svc.calls)
	}
}

func TestCategoryHandler(t *testing.T) {
	svc := &fakeCategories{}
	app := testApp(t, NewCategoryHandler(svc).Register)

	status, body := do(t, app, "POST", "/api/v1/categories", `{"name":"NPTEL","domains":["nptel.ac.in"]}`)
	if status != 201 {
		t.Fatalf("create status = %d, want 201", status)
	}
	if body["data"].(map[string]any)["name"] != "NPTEL" {
		t.Errorf("create body = %v", body)
	}
	if diff := cmp.Diff([]string{"nptel.ac.in"}, svc.created.Domains); diff != "" {
		t.Errorf("domains mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing name", "POST", "/api/v1/categories", `{}`, 400, apperr.CodeMissingField},
		{"duplicate", "POST", "/api/v1/categories", `{"name":"Dup"}`, 409, apperr.CodeAlreadyExists},
		{"bad json", "POST", "/api/v1/categories", `{`, 400, apperr.CodeBadRequest},
		{"not found", "GET", "/api/v1/categories/x", "", 404, apperr.CodeNotFound},
		{"rename", "PATCH", "/api/v1/categories/c1", `{"name":"Courses"}`, 200, ""},
		{"delete", "DELETE", "/api/v1/categories/c1", "", 200, ""},
		{"list", "GET", "/api/v1/categories", "", 200, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, tt.method, tt.target, tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", status, tt.wantStatus, body)
			}
			if tt.wantCode != "" {
				code := body["error"].(map[string]any)["code"]
				if code != tt.wantCode {
					t.Errorf("code = %v, want %s", code, tt.wantCode)
				}
			}
		})
	}
}

func TestReclassifyHandler(t *testing.T) {
	app := testApp(t, func(r fiber.Router) { NewReclassifyHandler(fakeReclassify{}).Register(r, noLimit) })

	status, body := do(t, app, "POST", "/api/v1/reclassify", `{"label":"NPTEL"}`)
	if status != 202 {
		t.Fatalf("start status = %d, want 202", status)
	}
	data := body["data"].(map[string]any)
	if data["status"] != string(domain.JobPending) || data["scope_key"] != "label:NPTEL" {
		t.Errorf("job = %v", data)
	}

	if status, _ := do(t, app, "POST", "/api/v1/reclassify", `{"label":"busy"}`); status != 409 {
		t.Errorf("conflict status = %d, want 409", status)
	}
	if status, _ := do(t, app, "GET", "/api/v1/reclassify/jobs/nope", ""); status != 404 {
		t.Errorf("get status = %d, want 404", status)
	}
	if status, _ := do(t, app, "DELETE", "/api/v1/reclassify/jobs/j1", ""); status != 202 {
		t.Errorf("cancel status = %d, want 202", status)
	}
}

func TestGetUserID_Unauthenticated(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
	app.Get("/x", func(c *fiber.Ctx) error {
		_, err := GetUserID(c)
		return err
	})
	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 401 {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
