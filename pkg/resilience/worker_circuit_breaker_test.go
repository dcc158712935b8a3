package resilience

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

func TestBreaker_NonTripErrorsKeepClosed(t *testing.T) {
	cb := NewBreaker("test-nontrip", zerolog.Nop())
	notFound := errors.New("404")

	for i := 0; i < 20; i++ {
		_, err := Execute(cb, func() (int, error) { return 0, NonTrip(notFound) })
		if !errors.Is(err, notFound) {
			t.Fatalf("Execute() error = %v, want %v", err, notFound)
		}
		var nte *nonTripError
		if errors.As(err, &nte) {
			t.Fatal("Execute() leaked the nonTrip wrapper")
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	cb := NewBreaker("test-trip", zerolog.Nop())
	boom := errors.New("503")

	for i := 0; i < 6; i++ {
		Execute(cb, func() (int, error) { return 0, boom })
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	_, err := Execute(cb, func() (int, error) { return 1, nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() on open breaker error = %v, want ErrOpen", err)
	}
}

func TestExecute_ReturnsValue(t *testing.T) {
	cb := NewBreaker("test-value", zerolog.Nop())
	got, err := Execute(cb, func() (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Errorf("Execute() = %q, %v", got, err)
	}
}
