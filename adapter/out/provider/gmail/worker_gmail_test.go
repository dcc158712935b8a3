package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mailsort_server/core/port/out"
	"mailsort_server/pkg/gateway"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw := gateway.New(map[gateway.Target]int{gateway.TargetMailProvider: 2}, zerolog.Nop())
	p := NewProvider(Config{QPS: 1000}, gw, zerolog.Nop())
	p.newService = func(ctx context.Context, _ *oauth2.Token) (*gmail.Service, error) {
		return gmail.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func TestProvider_ListChangesPagesAndDrops(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/history") {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			writeJSON(w, 200, `{"history":[{"messagesAdded":[{"message":{"id":"a"}},{"message":{"id":"b"}}]}],"historyId":"120","nextPageToken":"p2"}`)
		case "p2":
			writeJSON(w, 200, `{"history":[{"messagesAdded":[{"message":{"id":"a"}},{"message":{"id":"c"}}],"messagesDeleted":[{"message":{"id":"b"}},{"message":{"id":"z"}}]}],"historyId":"130"}`)
		}
	})

	got, err := p.ListChanges(context.Background(), &oauth2.Token{}, "100")
	if err != nil {
		t.Fatalf("ListChanges() error = %v", err)
	}

	want := &out.ChangeSet{
		AddedIDs:   []string{"a", "c"},
		DeletedIDs: []string{"b", "z"},
		NextMarker: "130",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListChanges() mismatch (-want +got):\n%s", diff)
	}
}

func TestProvider_ExpiredHistoryRequiresFullSync(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 404, `{"error":{"code":404,"message":"Requested entity was not found."}}`)
	})

	_, err := p.ListChanges(context.Background(), &oauth2.Token{}, "100")
	if !out.IsSyncRequired(err) {
		t.Errorf("ListChanges() error = %v, want sync required", err)
	}

	_, err = p.ListChanges(context.Background(), &oauth2.Token{}, "not-a-number")
	if !out.IsSyncRequired(err) {
		t.Errorf("ListChanges(bad marker) error = %v, want sync required", err)
	}
}

func TestProvider_GetMessageDecodesBody(t *testing.T) {
	html := base64.URLEncoding.EncodeToString([]byte("<p>Week 3 assignment</p>"))
	plain := base64.RawURLEncoding.EncodeToString([]byte("Week 3 assignment??"))

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/messages/m1") {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, 200, fmt.Sprintf(`{
			"id":"m1","threadId":"t1","snippet":"Week 3","internalDate":"1700000000000",
			"payload":{"mimeType":"multipart/alternative",
				"headers":[{"name":"From","value":"NPTEL <noreply@nptel.ac.in>"},{"name":"Subject","value":"Week 3"}],
				"parts":[
					{"mimeType":"text/plain","body":{"data":%q}},
					{"mimeType":"text/html","body":{"data":%q}}
				]}}`, plain, html))
	})

	msg, err := p.GetMessage(context.Background(), &oauth2.Token{}, "m1")
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if msg.Header("from") != "NPTEL <noreply@nptel.ac.in>" {
		t.Errorf("Header(from) = %q", msg.Header("from"))
	}
	if msg.InternalDate.UnixMilli() != 1700000000000 {
		t.Errorf("InternalDate = %v", msg.InternalDate)
	}
	if len(msg.Payload.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(msg.Payload.Parts))
	}
	if got := string(msg.Payload.Parts[0].Data); got != "Week 3 assignment??" {
		t.Errorf("plain part = %q", got)
	}
	if got := string(msg.Payload.Parts[1].Data); got != "<p>Week 3 assignment</p>" {
		t.Errorf("html part = %q", got)
	}
}

func TestProvider_ListMessageIDs(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageToken") != "c1" || r.URL.Query().Get("maxResults") != "2" {
			writeJSON(w, 400, `{"error":{"code":400,"message":"bad request"}}`)
			return
		}
		writeJSON(w, 200, `{"messages":[{"id":"m3"},{"id":"m4"}],"nextPageToken":"c2","resultSizeEstimate":10}`)
	})

	page, err := p.ListMessageIDs(context.Background(), &oauth2.Token{}, "c1", 2)
	if err != nil {
		t.Fatalf("ListMessageIDs() error = %v", err)
	}
	want := &out.MessagePage{IDs: []string{"m3", "m4"}, NextCursor: "c2", Estimate: 10}
	if diff := cmp.Diff(want, page); diff != "" {
		t.Errorf("ListMessageIDs() mismatch (-want +got):\n%s", diff)
	}
}
