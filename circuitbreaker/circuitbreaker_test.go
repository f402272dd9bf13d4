package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	cb := New(cfg)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb.now = clock.Now
	return cb, clock
}

func TestNew(t *testing.T) {
	cb := New(Config{Name: "lyrics", Threshold: 3, Cooldown: 10 * time.Second})

	if cb.Name() != "lyrics" {
		t.Errorf("Expected name 'lyrics', got %q", cb.Name())
	}
	if cb.threshold != 3 {
		t.Errorf("Expected threshold 3, got %d", cb.threshold)
	}
	if cb.cooldown != 10*time.Second {
		t.Errorf("Expected cooldown 10s, got %v", cb.cooldown)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state CLOSED, got %s", cb.State())
	}
}

func TestNew_Defaults(t *testing.T) {
	cb := New(Config{})

	if cb.threshold != 5 {
		t.Errorf("Expected default threshold 5, got %d", cb.threshold)
	}
	if cb.cooldown != 5*time.Minute {
		t.Errorf("Expected default cooldown 5m, got %v", cb.cooldown)
	}
	if cb.halfOpenTimeout != 30*time.Second {
		t.Errorf("Expected default halfOpenTimeout 30s, got %v", cb.halfOpenTimeout)
	}
	if cb.name != "default" {
		t.Errorf("Expected default name 'default', got %q", cb.name)
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(Config{Threshold: 3, Cooldown: time.Minute})

	for i := 1; i <= 2; i++ {
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Fatalf("Expected CLOSED after %d failures, got %s", i, cb.State())
		}
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("Expected OPEN after 3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Expected Allow() to return false in OPEN state")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(Config{Threshold: 5})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.Failures() != 2 {
		t.Errorf("Expected 2 failures, got %d", cb.Failures())
	}

	cb.RecordSuccess()
	if cb.Failures() != 0 {
		t.Errorf("Expected 0 failures after success, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		probeOK   bool
		wantState State
	}{
		{name: "probe succeeds", probeOK: true, wantState: StateClosed},
		{name: "probe fails", probeOK: false, wantState: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(Config{Threshold: 2, Cooldown: time.Minute})
			cb.RecordFailure()
			cb.RecordFailure()

			clock.Advance(59 * time.Second)
			if cb.Allow() {
				t.Fatal("Expected Allow() to be false before cooldown")
			}

			clock.Advance(time.Second)
			if !cb.Allow() {
				t.Fatal("Expected one probe after cooldown")
			}
			if cb.State() != StateHalfOpen {
				t.Fatalf("Expected HALF-OPEN, got %s", cb.State())
			}
			if cb.Allow() {
				t.Error("Expected a second concurrent probe to be blocked")
			}

			if tt.probeOK {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			if cb.State() != tt.wantState {
				t.Errorf("Expected %s, got %s", tt.wantState, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenTimeout(t *testing.T) {
	cb, clock := newTestBreaker(Config{Threshold: 2, Cooldown: time.Minute, HalfOpenTimeout: 10 * time.Second})
	cb.RecordFailure()
	cb.RecordFailure()

	clock.Advance(time.Minute)
	cb.Allow()

	if got := cb.TimeUntilRetry(); got != 10*time.Second {
		t.Errorf("Expected 10s until retry in HALF-OPEN, got %v", got)
	}

	clock.Advance(10 * time.Second)
	if cb.Allow() {
		t.Error("Expected Allow() to return false after probe timeout")
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected OPEN after probe timeout, got %s", cb.State())
	}
	if got := cb.TimeUntilRetry(); got != time.Minute {
		t.Errorf("Expected a fresh cooldown of 1m, got %v", got)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(Config{Threshold: 2, Cooldown: time.Minute})
	cb.RecordFailure()
	cb.RecordFailure()

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected CLOSED state after reset, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected 0 failures after reset, got %d", cb.Failures())
	}
	if !cb.Allow() {
		t.Error("Expected Allow() to return true after reset")
	}
}

var errNotFound = errors.New("no lyrics")

func TestCircuitBreaker_Execute(t *testing.T) {
	cb, _ := newTestBreaker(Config{
		Threshold: 2,
		Cooldown:  time.Minute,
		IsFailure: func(err error) bool { return !errors.Is(err, errNotFound) },
	})

	// not-found answers do not count against the upstream
	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return errNotFound }); !errors.Is(err, errNotFound) {
			t.Fatalf("Expected errNotFound to pass through, got %v", err)
		}
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected 0 failures for classified errors, got %d", cb.Failures())
	}

	boom := errors.New("upstream 500")
	cb.Execute(func() error { return boom })
	cb.Execute(func() error { return boom })
	if cb.State() != StateOpen {
		t.Fatalf("Expected OPEN after 2 failures, got %s", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected fn not to run while OPEN")
	}
}

func TestCircuitBreaker_Status(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "lyrics", Threshold: 2, Cooldown: time.Minute})

	s := cb.Status()
	if s.State != "CLOSED" || s.LastFailure != "" || s.TimeUntilRetry != "" {
		t.Errorf("Unexpected closed status: %+v", s)
	}

	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(15 * time.Second)

	s = cb.Status()
	if s.Name != "lyrics" {
		t.Errorf("Expected name 'lyrics', got %q", s.Name)
	}
	if s.State != "OPEN" {
		t.Errorf("Expected OPEN, got %s", s.State)
	}
	if s.Failures != 2 || s.Threshold != 2 {
		t.Errorf("Expected 2/2 failures, got %d/%d", s.Failures, s.Threshold)
	}
	if s.TimeUntilRetry != "45s" {
		t.Errorf("Expected 45s until retry, got %q", s.TimeUntilRetry)
	}
	if s.LastFailure == "" {
		t.Error("Expected last failure timestamp")
	}
}

func TestCircuitBreaker_StateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF-OPEN"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("Expected %q, got %q", tt.expected, tt.state.String())
		}
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := New(Config{Threshold: 100, Cooldown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cb.Execute(func() error { return nil })
				cb.RecordFailure()
				cb.Status()
			}
		}()
	}
	wg.Wait()

	state := cb.State()
	if state != StateClosed && state != StateOpen && state != StateHalfOpen {
		t.Errorf("Invalid state after concurrent access: %v", state)
	}
}
