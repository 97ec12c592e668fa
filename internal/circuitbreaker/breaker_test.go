package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

const hook = "https://hooks.example.com/sandesh"

// fakeClock is advanced by hand so cooldowns need no sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)}
	return New(threshold, cooldown).WithClock(clock.Now), clock
}

func TestAllow_UnknownURL_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	if err := cb.Allow(hook); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	url := hook
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	if err := cb.Allow(url); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb := New(3, 5*time.Second)
	url := hook
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	if err := cb.Allow(url); err == nil {
		t.Fatal("expected ErrCircuitOpen, got nil")
	}
}

func TestAllow_OpenAfterCooldown_HalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	url := hook
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	clock.Advance(time.Minute)
	if err := cb.Allow(url); err != nil {
		t.Fatalf("expected nil (trial request allowed), got %v", err)
	}
	if err := cb.Allow(url); err == nil {
		t.Fatal("expected ErrCircuitOpen while half-open trial in flight")
	}
}

func TestRecordSuccess_ResetsToClose(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	url := hook
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	clock.Advance(time.Minute)
	cb.Allow(url)
	cb.RecordSuccess(url)
	if err := cb.Allow(url); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	cb, clock := newTestBreaker(3, time.Minute)
	url := hook
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	cb.RecordFailure(url)
	clock.Advance(time.Minute)
	cb.Allow(url)
	cb.RecordFailure(url)
	if err := cb.Allow(url); err == nil {
		t.Fatal("expected ErrCircuitOpen after failed trial re-opens")
	}
}

func TestRecordSuccess_ClosedState_NoOp(t *testing.T) {
	cb := New(3, 5*time.Second)
	url := hook
	cb.RecordSuccess(url)
	if err := cb.Allow(url); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIndependentURLs(t *testing.T) {
	cb := New(2, 5*time.Second)
	url1 := "http://a.com/hook"
	url2 := "http://b.com/hook"
	cb.RecordFailure(url1)
	cb.RecordFailure(url1)
	if err := cb.Allow(url1); err == nil {
		t.Fatal("expected url1 open")
	}
	if err := cb.Allow(url2); err != nil {
		t.Fatalf("expected url2 allowed, got %v", err)
	}
}

func TestState_Transitions(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)

	if got := cb.State(hook); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
	cb.RecordFailure(hook)
	cb.RecordFailure(hook)
	if got := cb.State(hook); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	clock.Advance(59 * time.Second)
	if err := cb.Allow(hook); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen before cooldown, got %v", err)
	}

	clock.Advance(time.Second)
	if err := cb.Allow(hook); err != nil {
		t.Fatalf("expected trial request allowed, got %v", err)
	}
	if got := cb.State(hook); got != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}

	cb.RecordSuccess(hook)
	if got := cb.State(hook); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
}

func TestNew_ThresholdFloor(t *testing.T) {
	cb, _ := newTestBreaker(0, time.Minute)
	cb.RecordFailure(hook)
	if err := cb.Allow(hook); err != ErrCircuitOpen {
		t.Fatalf("expected a single failure to open with threshold 0, got %v", err)
	}
}
