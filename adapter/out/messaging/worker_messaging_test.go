package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mailsort_server/core/domain"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeAdder struct {
	mu   sync.Mutex
	args []*redis.XAddArgs
	err  error
}

func (f *fakeAdder) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", f.err)
}

func (f *fakeAdder) calls() []*redis.XAddArgs {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*redis.XAddArgs(nil), f.args...)
}

func TestRefinementProducer_Enqueue(t *testing.T) {
	fa := &fakeAdder{}
	p := &RefinementProducer{client: fa}

	if err := p.EnqueueRefinement(context.Background(), "u1", "sync"); err != nil {
		t.Fatalf("EnqueueRefinement() error = %v", err)
	}

	calls := fa.calls()
	if len(calls) != 1 || calls[0].Stream != StreamRefineTrigger {
		t.Fatalf("XAdd calls = %+v, want one on %s", calls, StreamRefineTrigger)
	}
	values := calls[0].Values.(map[string]any)

	var got RefineTrigger
	if err := json.Unmarshal([]byte(values["data"].(string)), &got); err != nil {
		t.Fatalf("payload decode error = %v", err)
	}
	if got.UserID != "u1" || got.Reason != "sync" || got.RequestedAt.IsZero() {
		t.Errorf("payload = %+v", got)
	}
}

func TestRefinementProducer_Error(t *testing.T) {
	boom := errors.New("down")
	p := &RefinementProducer{client: &fakeAdder{err: boom}}
	if err := p.EnqueueRefinement(context.Background(), "u1", "x"); !errors.Is(err, boom) {
		t.Errorf("EnqueueRefinement() error = %v, want %v", err, boom)
	}
}

func TestEventStreamPublisher_DropsWhenFull(t *testing.T) {
	fa := &fakeAdder{}
	p := newEventStreamPublisher(fa, "api-1", 2, zerolog.Nop())

	for i := 0; i < 5; i++ {
		p.Publish(context.Background(), domain.NewEvent("u1", domain.EventSyncProgress, i))
	}
	if len(p.queue) != 2 {
		t.Fatalf("queued = %d, want 2", len(p.queue))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(fa.calls()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	calls := fa.calls()
	if len(calls) != 2 {
		t.Fatalf("XAdd calls = %d, want 2", len(calls))
	}
	for _, c := range calls {
		values := c.Values.(map[string]any)
		if c.Stream != StreamEvents || values["origin"] != "api-1" || !c.Approx || c.MaxLen != eventsMaxLen {
			t.Errorf("XAdd args = %+v", c)
		}
	}
}

func TestDecodeEventEntry(t *testing.T) {
	ev := domain.NewEvent("u1", domain.EventReclassifyProgress, map[string]any{"processed": 3})
	data, _ := json.Marshal(ev)

	tests := []struct {
		name    string
		values  map[string]any
		wantNil bool
		wantErr bool
	}{
		{"other origin", map[string]any{"data": string(data), "origin": "worker-1"}, false, false},
		{"own origin skipped", map[string]any{"data": string(data), "origin": "api-1"}, true, false},
		{"missing data", map[string]any{"origin": "worker-1"}, true, true},
		{"bad json", map[string]any{"data": "{", "origin": "worker-1"}, true, true},
		{"no user", map[string]any{"data": `{"type":"sync.progress"}`}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEventEntry(redis.XMessage{ID: "1-0", Values: tt.values}, "api-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != tt.wantNil {
				t.Fatalf("event = %+v, wantNil %v", got, tt.wantNil)
			}
			if got != nil {
				want := map[string]any{"processed": float64(3)}
				if diff := cmp.Diff(want, got.Data); diff != "" || got.Type != domain.EventReclassifyProgress || got.UserID != "u1" {
					t.Errorf("event = %+v (-want +got data):\n%s", got, diff)
				}
			}
		})
	}
}

func TestEntryData(t *testing.T) {
	if _, err := entryData(redis.XMessage{Values: map[string]any{"data": 1}}); err == nil {
		t.Error("entryData() with non-string data succeeded, want error")
	}
	got, err := entryData(redis.XMessage{Values: map[string]any{"data": `{"a":1}`}})
	if err != nil || string(got) != `{"a":1}` {
		t.Errorf("entryData() = %q, %v", got, err)
	}
}
