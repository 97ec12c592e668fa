package domain

import (
	"time"

	"github.com/google/uuid"
)

type SuggestionState string

const (
	SuggestionGenerated SuggestionState = "generated"
	SuggestionEdited    SuggestionState = "edited"
	SuggestionApproved  SuggestionState = "approved"
	SuggestionRejected  SuggestionState = "rejected"
	SuggestionPublished SuggestionState = "published"
	SuggestionFailed    SuggestionState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SuggestionState) Terminal() bool {
	return s == SuggestionPublished || s == SuggestionRejected || s == SuggestionFailed
}

// Valid reports whether s is a known state.
func (s SuggestionState) Valid() bool {
	switch s {
	case SuggestionGenerated, SuggestionEdited, SuggestionApproved,
		SuggestionRejected, SuggestionPublished, SuggestionFailed:
		return true
	}
	return false
}

// Action is an input to the suggestion state machine.
type Action string

const (
	ActionEdit           Action = "edit"
	ActionApprove        Action = "approve"
	ActionReject         Action = "reject"
	ActionPublishSuccess Action = "publish_success"
	ActionPublishFailure Action = "publish_failure"
)

var transitions = map[SuggestionState]map[Action]SuggestionState{
	SuggestionGenerated: {
		ActionEdit:    SuggestionEdited,
		ActionApprove: SuggestionApproved,
		ActionReject:  SuggestionRejected,
	},
	SuggestionEdited: {
		ActionApprove: SuggestionApproved,
		ActionReject:  SuggestionRejected,
	},
	SuggestionApproved: {
		ActionPublishSuccess: SuggestionPublished,
		ActionPublishFailure: SuggestionFailed,
	},
}

// NextState returns the state reached by applying action in state from.
// Any pair missing from the transition table yields *InvalidTransitionError.
func NextState(from SuggestionState, action Action) (SuggestionState, error) {
	to, ok := transitions[from][action]
	if !ok {
		return from, &InvalidTransitionError{From: from, Action: action, Reason: "transition not allowed"}
	}
	return to, nil
}

type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Suggestion is a human-reviewable marketing message for one vertical.
// Version increases by one on every persisted change.
type Suggestion struct {
	ID       uuid.UUID
	RunID    uuid.UUID
	Vertical string

	Title    string
	Body     string
	CTA      string
	Link     string
	Urgency  Urgency
	Channels []Channel
	Score    float64

	State        SuggestionState
	Version      int
	EditedBy     string
	RejectReason string
	FailReason   string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ApprovedAt  *time.Time
	PublishedAt *time.Time
}

// Apply moves the suggestion through action at time now. On error the
// suggestion is returned unchanged.
func (s Suggestion) Apply(action Action, now time.Time) (Suggestion, error) {
	to, err := NextState(s.State, action)
	if err != nil {
		if ite, ok := err.(*InvalidTransitionError); ok {
			ite.SuggestionID = s.ID
		}
		return s, err
	}
	next := s
	next.State = to
	next.UpdatedAt = now
	switch to {
	case SuggestionApproved:
		t := now
		next.ApprovedAt = &t
	case SuggestionPublished:
		t := now
		next.PublishedAt = &t
	}
	return next, nil
}

// SuggestionFilter selects suggestions for listing. Zero fields match all.
type SuggestionFilter struct {
	RunID         uuid.UUID
	States        []SuggestionState
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}
