// Package review applies human review actions to suggestions.
//
// Every change is conditioned on the version the caller read, so two
// concurrent actions on the same suggestion cannot both succeed; the loser
// receives *domain.InvalidTransitionError with reason "stale version".
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// ReasonExpired is the reject reason recorded by Expire.
const ReasonExpired = "expired"

type Store interface {
	GetSuggestion(ctx context.Context, id uuid.UUID) (domain.Suggestion, error)
	UpdateSuggestion(ctx context.Context, s domain.Suggestion, expectedVersion int) error
}

// Emitter hands approved suggestions to the publisher.
type Emitter interface {
	Emit(ctx context.Context, req domain.PublishRequest) error
}

// Edit holds the fields a reviewer may change. Empty fields keep their value.
type Edit struct {
	Title  string
	Body   string
	CTA    string
	Editor string
}

type Service struct {
	store   Store
	emitter Emitter
	clock   func() time.Time
}

func New(store Store, emitter Emitter) *Service {
	return &Service{store: store, emitter: emitter, clock: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Suggestion, error) {
	return s.store.GetSuggestion(ctx, id)
}

// Edit changes copy on a Generated suggestion, moving it to Edited.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, e Edit) (domain.Suggestion, error) {
	return s.apply(ctx, id, domain.ActionEdit, func(sg *domain.Suggestion) {
		if t := strings.TrimSpace(e.Title); t != "" {
			sg.Title = t
		}
		if b := strings.TrimSpace(e.Body); b != "" {
			sg.Body = b
		}
		if c := strings.TrimSpace(e.CTA); c != "" {
			sg.CTA = c
		}
		sg.EditedBy = e.Editor
	})
}

// Approve moves a suggestion to Approved and requests publishing. A failed
// emit is logged, not returned: the reconciler re-emits orphaned approvals.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (domain.Suggestion, error) {
	sg, err := s.apply(ctx, id, domain.ActionApprove, nil)
	if err != nil {
		return sg, err
	}
	if s.emitter != nil {
		req := domain.PublishRequest{SuggestionID: sg.ID, RequestedAt: s.clock().UTC()}
		if err := s.emitter.Emit(ctx, req); err != nil {
			log.Warn().Err(err).Str("suggestion_id", sg.ID.String()).Msg("review: publish request not queued, reconciler will retry")
		}
	}
	return sg, nil
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, reason string) (domain.Suggestion, error) {
	return s.apply(ctx, id, domain.ActionReject, func(sg *domain.Suggestion) {
		sg.RejectReason = strings.TrimSpace(reason)
	})
}

// Expire rejects a suggestion that waited too long for review.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (domain.Suggestion, error) {
	return s.Reject(ctx, id, ReasonExpired)
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, action domain.Action, mutate func(*domain.Suggestion)) (domain.Suggestion, error) {
	cur, err := s.store.GetSuggestion(ctx, id)
	if err != nil {
		return domain.Suggestion{}, err
	}

	next, err := cur.Apply(action, s.clock().UTC())
	if err != nil {
		return cur, err
	}
	if mutate != nil {
		mutate(&next)
	}
	next.Version = cur.Version + 1

	if err := s.store.UpdateSuggestion(ctx, next, cur.Version); err != nil {
		if errors.Is(err, domain.ErrStaleVersion) {
			return cur, &domain.InvalidTransitionError{
				SuggestionID: id,
				From:         cur.State,
				Action:       action,
				Reason:       "stale version",
			}
		}
		return cur, fmt.Errorf("update suggestion %s: %w", id, err)
	}

	log.Info().
		Str("suggestion_id", id.String()).
		Str("vertical", next.Vertical).
		Str("from", string(cur.State)).
		Str("to", string(next.State)).
		Msg("review: transition applied")
	return next, nil
}
