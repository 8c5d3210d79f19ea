package circuitbreaker

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestBreaker(threshold int, resetTimeout time.Duration, halfOpenSuccesses int) *Breaker {
	cfg := Config{
		FailureThreshold:  threshold,
		ResetTimeout:      resetTimeout,
		HalfOpenSuccesses: halfOpenSuccesses,
	}
	return New("record_store", cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestBreaker_StartsClosedAndAllows(t *testing.T) {
	b := newTestBreaker(3, 30*time.Second, 2)

	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", b.State())
	}
	if !b.Allow() {
		t.Fatal("expected Allow() to return true for closed breaker")
	}
}

func TestBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(3, 30*time.Second, 2)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed below threshold, got %v", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen at threshold, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("expected Allow() to return false for open breaker")
	}
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := newTestBreaker(3, 30*time.Second, 2)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	// Streak was broken; only 2 consecutive failures since the success.
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after broken streak, got %v", b.State())
	}
}

func TestBreaker_OpenToHalfOpenAfterResetTimeout(t *testing.T) {
	b := newTestBreaker(1, 50*time.Millisecond, 1)

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("expected rejection before reset timeout")
	}

	time.Sleep(60 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected Allow() to admit a trial after reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State())
	}
}

func TestBreaker_HalfOpenToClosed(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond, 2)

	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	b.Allow() // transition to half-open

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("expected still StateHalfOpen after 1 success, got %v", b.State())
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after 2 successes, got %v", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond, 2)

	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	b.Allow()

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(1, 30*time.Second, 2)

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after Reset, got %v", b.State())
	}
	if !b.Allow() {
		t.Fatal("expected Allow() after Reset")
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := newTestBreaker(50, 30*time.Second, 2)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Allow()
			b.RecordSuccess()
			b.RecordFailure()
			_ = b.State()
		}()
	}
	wg.Wait()
	// No panic or race condition = pass.
}

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
