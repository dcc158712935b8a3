// Package resilience provides circuit breakers for external service calls.
package resilience

import (
	"errors"
	"time"

	"mailsort_server/pkg/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = gobreaker.ErrOpenState

// NewBreaker creates a breaker that trips after more than 5 consecutive
// failures, or a 60% failure ratio over at least 10 requests.
func NewBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // Half-open 상태에서 허용할 요청 수
		Interval:    60 * time.Second, // Closed 상태에서 카운터 리셋 간격
		Timeout:     30 * time.Second, // Open 상태 유지 시간 (이후 Half-open)
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.As(err, new(*nonTripError))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// nonTripError marks a failure that must not count against the breaker
// (client errors such as 400/401/404).
type nonTripError struct {
	err error
}

func (e *nonTripError) Error() string { return e.err.Error() }
func (e *nonTripError) Unwrap() error { return e.err }

// NonTrip wraps err so the breaker records the call as successful.
func NonTrip(err error) error {
	if err == nil {
		return nil
	}
	return &nonTripError{err: err}
}

// Execute runs fn through cb and strips the NonTrip wrapper from the result.
func Execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	result, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var nte *nonTripError
		if errors.As(err, &nte) {
			return zero, nte.err
		}
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}
