// Package memory is an in-process store with the same guarantees as the
// Postgres store. It backs tests and single-process development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

type Store struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]domain.Run
	signals     map[uuid.UUID][]domain.Signal
	candidates  map[uuid.UUID][]domain.Candidate
	suggestions map[uuid.UUID]domain.Suggestion
	attempts    []domain.DeliveryAttempt
}

func New() *Store {
	return &Store{
		runs:        make(map[uuid.UUID]domain.Run),
		signals:     make(map[uuid.UUID][]domain.Signal),
		candidates:  make(map[uuid.UUID][]domain.Candidate),
		suggestions: make(map[uuid.UUID]domain.Suggestion),
	}
}

// CreateRun inserts a run in Running state. It returns
// domain.ErrDuplicateRun if a non-manual run exists for the same slot and
// domain.ErrRunLocked if another run is still Running.
func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if run.Trigger != domain.TriggerManual && r.Trigger != domain.TriggerManual &&
			r.ScheduledFor.Equal(run.ScheduledFor) {
			return domain.ErrDuplicateRun
		}
	}
	for _, r := range s.runs {
		if r.Status == domain.RunRunning {
			return domain.ErrRunLocked
		}
	}
	run.Status = domain.RunRunning
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// FinishRun moves a Running run to a terminal status, releasing the run-lock.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, failures []domain.SourceID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return &domain.NotFoundError{Kind: "run", ID: id.String()}
	}
	if r.Status != domain.RunRunning {
		return domain.ErrRunNotRunning
	}
	r.Status = status
	r.SourceFailures = domain.SortSourceIDs(failures)
	r.Reason = reason
	r.CompletedAt = &at
	s.runs[id] = r
	return nil
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return domain.Run{}, &domain.NotFoundError{Kind: "run", ID: id.String()}
	}
	return cloneRun(r), nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, limit, offset), nil
}

// ListStaleRuns returns Running runs started before the given time, oldest first.
func (s *Store) ListStaleRuns(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Run
	for _, r := range s.runs {
		if r.Status == domain.RunRunning && r.StartedAt.Before(startedBefore) {
			out = append(out, cloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return page(out, limit, 0), nil
}

// LastScheduledRun returns the most recent non-manual run, or false if none exists.
func (s *Store) LastScheduledRun(ctx context.Context) (domain.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		last  domain.Run
		found bool
	)
	for _, r := range s.runs {
		if r.Trigger == domain.TriggerManual {
			continue
		}
		if !found || r.ScheduledFor.After(last.ScheduledFor) {
			last, found = r, true
		}
	}
	return cloneRun(last), found, nil
}

// SaveRunOutput stores the signals, candidates and suggestions of a run as
// one unit.
func (s *Store) SaveRunOutput(ctx context.Context, runID uuid.UUID, signals []domain.Signal, candidates []domain.Candidate, suggestions []domain.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return &domain.NotFoundError{Kind: "run", ID: runID.String()}
	}
	s.signals[runID] = append(s.signals[runID], signals...)
	for _, c := range candidates {
		c.SignalRefs = append([]uuid.UUID(nil), c.SignalRefs...)
		s.candidates[runID] = append(s.candidates[runID], c)
	}
	for _, sg := range suggestions {
		s.suggestions[sg.ID] = cloneSuggestion(sg)
	}
	return nil
}

func (s *Store) ListSignals(ctx context.Context, runID uuid.UUID) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Signal(nil), s.signals[runID]...), nil
}

// ListCandidates returns a run's candidates in rank order.
func (s *Store) ListCandidates(ctx context.Context, runID uuid.UUID) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Candidate, 0, len(s.candidates[runID]))
	for _, c := range s.candidates[runID] {
		c.SignalRefs = append([]uuid.UUID(nil), c.SignalRefs...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s *Store) GetSuggestion(ctx context.Context, id uuid.UUID) (domain.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sg, ok := s.suggestions[id]
	if !ok {
		return domain.Suggestion{}, &domain.NotFoundError{Kind: "suggestion", ID: id.String()}
	}
	return cloneSuggestion(sg), nil
}

// ListSuggestions returns matching suggestions, newest first.
func (s *Store) ListSuggestions(ctx context.Context, f domain.SuggestionFilter) ([]domain.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Suggestion
	for _, sg := range s.suggestions {
		if matches(sg, f) {
			out = append(out, cloneSuggestion(sg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Score > out[j].Score
	})
	return page(out, f.Limit, f.Offset), nil
}

// UpdateSuggestion replaces a suggestion if its stored version equals
// expectedVersion, otherwise it returns domain.ErrStaleVersion.
func (s *Store) UpdateSuggestion(ctx context.Context, sg domain.Suggestion, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.suggestions[sg.ID]
	if !ok {
		return &domain.NotFoundError{Kind: "suggestion", ID: sg.ID.String()}
	}
	if cur.Version != expectedVersion {
		return domain.ErrStaleVersion
	}
	s.suggestions[sg.ID] = cloneSuggestion(sg)
	return nil
}

func (s *Store) PublishedVerticalsSince(ctx context.Context, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, sg := range s.suggestions {
		if sg.State != domain.SuggestionPublished || sg.PublishedAt == nil || sg.PublishedAt.Before(since) {
			continue
		}
		if !seen[sg.Vertical] {
			seen[sg.Vertical] = true
			out = append(out, sg.Vertical)
		}
	}
	sort.Strings(out)
	return out, nil
}

// InsertDeliveryAttempt logs an attempt. A second Success for the same
// (suggestion, channel) returns domain.ErrDuplicateDelivery.
func (s *Store) InsertDeliveryAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Outcome == domain.OutcomeSuccess {
		for _, prev := range s.attempts {
			if prev.SuggestionID == a.SuggestionID && prev.Channel == a.Channel && prev.Outcome == domain.OutcomeSuccess {
				return domain.ErrDuplicateDelivery
			}
		}
	}
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *Store) HasSuccessfulDelivery(ctx context.Context, suggestionID uuid.UUID, ch domain.Channel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attempts {
		if a.SuggestionID == suggestionID && a.Channel == ch && a.Outcome == domain.OutcomeSuccess {
			return true, nil
		}
	}
	return false, nil
}

// ListDeliveryAttempts returns a suggestion's attempts in insertion order.
func (s *Store) ListDeliveryAttempts(ctx context.Context, suggestionID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.DeliveryAttempt
	for _, a := range s.attempts {
		if a.SuggestionID == suggestionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func matches(sg domain.Suggestion, f domain.SuggestionFilter) bool {
	if f.RunID != uuid.Nil && sg.RunID != f.RunID {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !sg.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, st := range f.States {
		if sg.State == st {
			return true
		}
	}
	return false
}

func page[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

func cloneRun(r domain.Run) domain.Run {
	r.SourceFailures = append([]domain.SourceID(nil), r.SourceFailures...)
	r.ScoringSnapshot = append([]byte(nil), r.ScoringSnapshot...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

func cloneSuggestion(s domain.Suggestion) domain.Suggestion {
	s.Channels = append([]domain.Channel(nil), s.Channels...)
	for _, p := range []**time.Time{&s.ApprovedAt, &s.PublishedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return s
}
