package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGateway_NeverExceedsLimit(t *testing.T) {
	const limit = 3
	g := New(map[Target]int{TargetMailProvider: limit}, zerolog.Nop())

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Call(context.Background(), TargetMailProvider, func(ctx context.Context) error {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Call() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if peak > limit {
		t.Errorf("peak concurrency = %d, want <= %d", peak, limit)
	}
	if g.InFlight(TargetMailProvider) != 0 {
		t.Errorf("tokens leaked: in flight = %d", g.InFlight(TargetMailProvider))
	}
}

func TestGateway_PropagatesErrorUnchanged(t *testing.T) {
	g := New(map[Target]int{TargetMLService: 1}, zerolog.Nop())
	sentinel := errors.New("connection reset")

	calls := 0
	err := g.Call(context.Background(), TargetMLService, func(ctx context.Context) error {
		calls++
		return sentinel
	})

	if err != sentinel {
		t.Errorf("error = %v, want the callee's error instance", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no internal retry)", calls)
	}
	if g.InFlight(TargetMLService) != 0 {
		t.Error("token not released after failure")
	}
}

func TestGateway_BlocksUntilTokenOrCancel(t *testing.T) {
	g := New(map[Target]int{TargetMailProvider: 1}, zerolog.Nop())

	release, err := g.Acquire(context.Background(), TargetMailProvider)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = g.Call(ctx, TargetMailProvider, func(ctx context.Context) error {
		t.Error("fn ran while the only token was held")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}

	release()
	release() // idempotent

	if err := g.Call(context.Background(), TargetMailProvider, func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Call() after release error = %v", err)
	}
}

func TestGateway_UnknownTarget(t *testing.T) {
	g := New(map[Target]int{TargetMailProvider: 1}, zerolog.Nop())
	err := g.Call(context.Background(), Target("dns"), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("error = %v, want ErrUnknownTarget", err)
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	g := New(map[Target]int{TargetMLService: 2}, zerolog.Nop())
	got, err := Do(context.Background(), g, TargetMLService, func(ctx context.Context) (string, error) {
		return "NPTEL", nil
	})
	if err != nil || got != "NPTEL" {
		t.Errorf("Do() = %q, %v", got, err)
	}
	if g.Limit(TargetMLService) != 2 {
		t.Errorf("Limit() = %d, want 2", g.Limit(TargetMLService))
	}
}
