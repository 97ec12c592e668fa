package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []SuggestionState{
	SuggestionGenerated, SuggestionEdited, SuggestionApproved,
	SuggestionRejected, SuggestionPublished, SuggestionFailed,
}

var allActions = []Action{
	ActionEdit, ActionApprove, ActionReject, ActionPublishSuccess, ActionPublishFailure,
}

func TestNextState_Table(t *testing.T) {
	allowed := map[SuggestionState]map[Action]SuggestionState{
		SuggestionGenerated: {ActionEdit: SuggestionEdited, ActionApprove: SuggestionApproved, ActionReject: SuggestionRejected},
		SuggestionEdited:    {ActionApprove: SuggestionApproved, ActionReject: SuggestionRejected},
		SuggestionApproved:  {ActionPublishSuccess: SuggestionPublished, ActionPublishFailure: SuggestionFailed},
	}

	for _, from := range allStates {
		for _, action := range allActions {
			t.Run(string(from)+"/"+string(action), func(t *testing.T) {
				got, err := NextState(from, action)
				want, ok := allowed[from][action]
				if ok {
					require.NoError(t, err)
					assert.Equal(t, want, got)
					return
				}
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.Equal(t, from, got)
			})
		}
	}
}

func TestNextState_TerminalStatesAbsorb(t *testing.T) {
	for _, s := range allStates {
		if !s.Terminal() {
			continue
		}
		for _, a := range allActions {
			_, err := NextState(s, a)
			assert.Error(t, err, "state=%s action=%s", s, a)
		}
	}
}

// Random walks over the action alphabet never leave the known state set
// and never reach Published without passing through Approved.
func TestSuggestionApply_RandomWalks(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed := uint64(42)
	next := func() int {
		seed = seed*6364136223846793005 + 1442695040888963407
		return int(seed >> 33)
	}

	for walk := 0; walk < 500; walk++ {
		s := Suggestion{ID: uuid.New(), State: SuggestionGenerated}
		sawApproved := false
		for step := 0; step < 8; step++ {
			a := allActions[next()%len(allActions)]
			before := s
			after, err := s.Apply(a, now)
			require.True(t, after.State.Valid())
			if err != nil {
				assert.Equal(t, before, after)
				var ite *InvalidTransitionError
				require.True(t, errors.As(err, &ite))
				assert.Equal(t, s.ID, ite.SuggestionID)
				continue
			}
			if after.State == SuggestionApproved {
				sawApproved = true
			}
			if after.State == SuggestionPublished || after.State == SuggestionFailed {
				assert.True(t, sawApproved)
			}
			s = after
		}
	}
}

func TestSuggestionApply_Timestamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := Suggestion{State: SuggestionGenerated}

	s, err := s.Apply(ActionApprove, now)
	require.NoError(t, err)
	require.NotNil(t, s.ApprovedAt)
	assert.Equal(t, now, *s.ApprovedAt)

	s, err = s.Apply(ActionPublishSuccess, now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, s.PublishedAt)
	assert.Equal(t, now.Add(time.Minute), s.UpdatedAt)
}

func TestFinalRunStatus(t *testing.T) {
	tests := []struct {
		name     string
		enabled  int
		failures []SourceID
		want     RunStatus
	}{
		{"all ok", 3, nil, RunCompleted},
		{"one failed", 3, []SourceID{SourceTrends}, RunPartiallyFailed},
		{"all failed", 3, []SourceID{SourceRevenue, SourceEvents, SourceTrends}, RunFailed},
		{"no sources", 0, nil, RunFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FinalRunStatus(tt.enabled, tt.failures))
		})
	}
}

func TestSortSourceIDs(t *testing.T) {
	got := SortSourceIDs([]SourceID{SourceTrends, SourceEvents, SourceTrends})
	assert.Equal(t, []SourceID{SourceEvents, SourceTrends}, got)
}

func TestErrors_Unwrap(t *testing.T) {
	assert.ErrorIs(t, &NotFoundError{Kind: "suggestion", ID: "x"}, ErrNotFound)
	assert.ErrorIs(t, &ValidationError{Field: "date"}, ErrValidation)
	assert.ErrorIs(t, &RunAbortedError{Reason: ReasonCancelled}, ErrRunAborted)
	assert.ErrorIs(t, &DeliveryError{Outcome: OutcomeRetryable}, ErrDeliveryRetryable)
	assert.ErrorIs(t, &DeliveryError{Outcome: OutcomeFatal}, ErrDeliveryFatal)

	cause := errors.New("timeout")
	err := &SourceUnavailableError{SourceID: SourceTrends, Err: cause}
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestWindowContains(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(24 * time.Hour)}
	assert.True(t, w.Contains(start))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(start.Add(-time.Second)))
	assert.False(t, w.Contains(w.End.Add(time.Nanosecond)))
}

func TestDayStart(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 09:00 IST is 03:30 UTC; 02:00 IST is still the previous UTC day.
	slot := time.Date(2026, 10, 17, 3, 30, 0, 0, time.UTC)
	assert.True(t, time.Date(2026, 10, 17, 0, 0, 0, 0, ist).Equal(DayStart(slot, ist)))

	early := time.Date(2026, 10, 16, 20, 30, 0, 0, time.UTC)
	assert.True(t, time.Date(2026, 10, 17, 0, 0, 0, 0, ist).Equal(DayStart(early, ist)))
	assert.True(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC).Equal(DayStart(early, nil)))
}
