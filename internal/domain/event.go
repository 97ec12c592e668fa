package domain

import (
	"time"

	"github.com/google/uuid"
)

// PublishRequest asks the publisher to deliver an approved suggestion.
// Emitted on approval and re-emitted by the reconciler for orphans.
type PublishRequest struct {
	SuggestionID uuid.UUID
	RequestedAt  time.Time
}
