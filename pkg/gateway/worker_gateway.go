// Package gateway bounds concurrent calls to external dependencies.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mailsort_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// Target names an external dependency with its own token pool.
type Target string

const (
	TargetMailProvider Target = "mail_provider"
	TargetMLService    Target = "ml_service"
)

var ErrUnknownTarget = errors.New("gateway: unknown target")

// Gateway holds one fixed-size token pool per target. It never retries and
// returns the callee's error unchanged.
type Gateway struct {
	mu    sync.RWMutex
	pools map[Target]chan struct{}
	log   zerolog.Logger
}

// New creates a gateway with the given per-target limits. Limits below 1 are raised to 1.
func New(limits map[Target]int, log zerolog.Logger) *Gateway {
	g := &Gateway{
		pools: make(map[Target]chan struct{}, len(limits)),
		log:   log.With().Str("component", "gateway").Logger(),
	}
	for target, n := range limits {
		if n < 1 {
			n = 1
		}
		g.pools[target] = make(chan struct{}, n)
	}
	return g
}

func (g *Gateway) pool(target Target) (chan struct{}, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.pools[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	return p, nil
}

// Acquire blocks until a token for target is free. The returned release must be called exactly once.
func (g *Gateway) Acquire(ctx context.Context, target Target) (func(), error) {
	p, err := g.pool(target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	select {
	case p <- struct{}{}:
	case <-ctx.Done():
		metrics.GatewayCalls.WithLabelValues(string(target), "cancelled").Inc()
		return nil, ctx.Err()
	}
	metrics.ObserveWait(string(target), start)
	metrics.GatewayInFlight.WithLabelValues(string(target)).Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			<-p
			metrics.GatewayInFlight.WithLabelValues(string(target)).Dec()
		})
	}, nil
}

// Call runs fn while holding a token for target.
func (g *Gateway) Call(ctx context.Context, target Target, fn func(ctx context.Context) error) error {
	release, err := g.Acquire(ctx, target)
	if err != nil {
		return err
	}
	defer release()

	err = fn(ctx)
	if err != nil {
		metrics.GatewayCalls.WithLabelValues(string(target), "error").Inc()
		g.log.Debug().Str("target", string(target)).Err(err).Msg("call failed")
		return err
	}
	metrics.GatewayCalls.WithLabelValues(string(target), "ok").Inc()
	return nil
}

// Do is Call for functions that return a value.
func Do[T any](ctx context.Context, g *Gateway, target Target, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := g.Call(ctx, target, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// InFlight returns the number of tokens currently held for target.
func (g *Gateway) InFlight(target Target) int {
	p, err := g.pool(target)
	if err != nil {
		return 0
	}
	return len(p)
}

// Limit returns the configured concurrency for target.
func (g *Gateway) Limit(target Target) int {
	p, err := g.pool(target)
	if err != nil {
		return 0
	}
	return cap(p)
}
