package domain

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a downstream delivery channel named in the webhook payload.
type Channel string

const (
	ChannelAppPush  Channel = "app_push"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelAppPush, ChannelWhatsApp, ChannelEmail:
		return true
	}
	return false
}

type DeliveryOutcome string

const (
	OutcomeSuccess   DeliveryOutcome = "success"
	OutcomeRetryable DeliveryOutcome = "retryable"
	OutcomeFatal     DeliveryOutcome = "fatal"
)

// DeliveryAttempt is one logged webhook POST for a (suggestion, channel) pair.
// The log is append-only.
type DeliveryAttempt struct {
	ID           uuid.UUID
	SuggestionID uuid.UUID
	Channel      Channel
	AttemptNo    int

	HTTPStatus int
	Error      string
	Outcome    DeliveryOutcome

	SentAt     time.Time
	FinishedAt time.Time
}
