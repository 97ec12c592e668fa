// Package testutil holds fixtures shared by the pipeline, review, publisher,
// reconciler and API tests: a settable clock, runs and suggestions seeded
// into a store.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// Trigger is 09:00 IST on a trigger day.
var Trigger = time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)

// FakeClock is a settable clock whose Now method fits the WithClock options.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(at time.Time) *FakeClock {
	return &FakeClock{now: at}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *FakeClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

// TestContext returns a context that expires after 5s or when the test ends.
func TestContext(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// RunStore is the part of a store the fixtures write to.
type RunStore interface {
	CreateRun(ctx context.Context, run domain.Run) error
	SaveRunOutput(ctx context.Context, runID uuid.UUID, signals []domain.Signal, candidates []domain.Candidate, suggestions []domain.Suggestion) error
	FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, failures []domain.SourceID, reason string, at time.Time) error
}

// StartRun takes the run-lock with a manual run started at at. The run stays
// Running until FinishRun.
func StartRun(t testing.TB, store RunStore, at time.Time) domain.Run {
	t.Helper()
	run := domain.Run{
		ID:           uuid.New(),
		ScheduledFor: at,
		Trigger:      domain.TriggerManual,
		Status:       domain.RunRunning,
		StartedAt:    at,
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("testutil: create run: %v", err)
	}
	return run
}

// FinishRun completes run at at, releasing the run-lock.
func FinishRun(t testing.TB, store RunStore, run domain.Run, at time.Time) {
	t.Helper()
	if err := store.FinishRun(context.Background(), run.ID, domain.RunCompleted, nil, "", at); err != nil {
		t.Fatalf("testutil: finish run: %v", err)
	}
}

// SuggestionOption adjusts a fixture suggestion.
type SuggestionOption func(*domain.Suggestion)

func WithChannels(chs ...domain.Channel) SuggestionOption {
	return func(sg *domain.Suggestion) { sg.Channels = chs }
}

func WithVertical(v string) SuggestionOption {
	return func(sg *domain.Suggestion) {
		sg.Vertical = v
		sg.Link = "/category/" + v
	}
}

func WithVersion(v int) SuggestionOption {
	return func(sg *domain.Suggestion) { sg.Version = v }
}

// UpdatedAgo backdates the last update, which the reconciler ages by.
func UpdatedAgo(d time.Duration) SuggestionOption {
	return func(sg *domain.Suggestion) {
		sg.UpdatedAt = sg.UpdatedAt.Add(-d)
		if sg.ApprovedAt != nil {
			at := *sg.ApprovedAt
			at = at.Add(-d)
			sg.ApprovedAt = &at
		}
	}
}

// NewSuggestion returns an Electronics suggestion in state, last updated at
// at, sent to app_push unless WithChannels says otherwise. Approved
// suggestions carry ApprovedAt.
func NewSuggestion(state domain.SuggestionState, at time.Time, opts ...SuggestionOption) domain.Suggestion {
	sg := domain.Suggestion{
		ID:        uuid.New(),
		Vertical:  "Electronics",
		Title:     "Electronics: Diwali Sale starts soon",
		Body:      "Top picks are live. Push the catalogue today.",
		CTA:       "Shop Now",
		Link:      "/category/electronics",
		Urgency:   domain.UrgencyHigh,
		Channels:  []domain.Channel{domain.ChannelAppPush},
		Score:     88,
		State:     state,
		Version:   1,
		CreatedAt: at.Add(-time.Hour),
		UpdatedAt: at,
	}
	if state == domain.SuggestionApproved {
		approvedAt := at
		sg.ApprovedAt = &approvedAt
	}
	for _, opt := range opts {
		opt(&sg)
	}
	return sg
}

// SaveSuggestions stores sgs as output of run and returns them with RunID set.
func SaveSuggestions(t testing.TB, store RunStore, run domain.Run, sgs ...domain.Suggestion) []domain.Suggestion {
	t.Helper()
	out := make([]domain.Suggestion, len(sgs))
	for i, sg := range sgs {
		sg.RunID = run.ID
		out[i] = sg
	}
	if err := store.SaveRunOutput(context.Background(), run.ID, nil, nil, out); err != nil {
		t.Fatalf("testutil: save suggestions: %v", err)
	}
	return out
}

// SeedSuggestion stores sg under a completed run started an hour before its
// CreatedAt and returns it with RunID set.
func SeedSuggestion(t testing.TB, store RunStore, sg domain.Suggestion) domain.Suggestion {
	t.Helper()
	run := StartRun(t, store, sg.CreatedAt.Add(-time.Hour))
	saved := SaveSuggestions(t, store, run, sg)
	FinishRun(t, store, run, sg.CreatedAt)
	return saved[0]
}
