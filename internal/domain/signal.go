package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceID names a configured signal source.
type SourceID string

const (
	SourceRevenue SourceID = "revenue"
	SourceEvents  SourceID = "events"
	SourceTrends  SourceID = "trends"
)

// Metric keys produced by the normalizer.
const (
	MetricRevenue        = "revenue"
	MetricOrders         = "orders"
	MetricEventDaysUntil = "event_days_until"
	MetricTrendInterest  = "trend_interest"
)

// Window is a closed time interval [Start, End] in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// DayStart returns midnight of t's calendar day in loc. A nil loc means UTC.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Signal is one normalized observation. Immutable once ingested.
type Signal struct {
	ID       uuid.UUID
	RunID    uuid.UUID
	SourceID SourceID

	Vertical  string
	MetricKey string
	Value     float64
	Unit      string
	Label     string // event name or trend keyword, empty for revenue

	WindowStart time.Time
	WindowEnd   time.Time
	ObservedAt  time.Time
	CollectedAt time.Time
}

// Candidate is the scored ranking unit for one vertical within a run.
type Candidate struct {
	RunID      uuid.UUID
	Vertical   string
	SignalRefs []uuid.UUID

	RawScore               float64
	WeightApplied          float64
	EventBoostApplied      float64
	TrendAdjustmentApplied float64
	FinalScore             float64

	// EventLabel is the nearest matching event, used for suggestion copy.
	EventLabel string
	Rank       int
}
