package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, runsStarted int, err error)
	TickDrift(drift time.Duration)
	RunSkipped(reason string)

	// Pipeline metrics
	RunFinished(status string, duration time.Duration)
	SourceFetched(source string, records int, duration time.Duration, err error)
	RecordsDropped(source string, count int)
	CandidateScored(finalScore float64)
	SuggestionsGenerated(count, cooldownSkips int)

	// Publisher metrics
	DeliveryAttemptCompleted(channel, statusClass string, duration time.Duration)
	DeliveryOutcome(channel, outcome string)
	RetryAttempt(retryable bool)
	PublishFinished(state string)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// Reconciler metrics
	OrphanedApprovalsUpdate(count int)
	StaleRunsFailed(count int)
	SuggestionsExpired(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Reasons for RunSkipped.
const (
	SkipLocked    = "locked"
	SkipDuplicate = "duplicate"
	SkipMissed    = "missed"
)

// StatusClass constants for DeliveryAttemptCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return StatusClassTimeout
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return StatusClassConnectionError
		}
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
