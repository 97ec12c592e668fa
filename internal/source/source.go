// Package source provides the signal-source adapters. Each adapter pulls raw
// records for a time window from one external feed.
package source

import (
	"context"
	"strings"
	"time"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// SignalSource is the uniform pull interface over an external feed.
// Fetch failures are reported as *domain.SourceUnavailableError.
type SignalSource interface {
	ID() domain.SourceID
	Fetch(ctx context.Context, window domain.Window) ([]Record, error)
}

// Record is a raw record from one of the feeds. The set of implementations
// is closed: RevenueRecord, EventRecord and TrendRecord.
type Record interface {
	Timestamp() time.Time
	record()
}

type RevenueRecord struct {
	Vertical string    `validate:"required"`
	Revenue  float64   `validate:"gte=0"`
	Currency string    `validate:"omitempty,alpha,len=3"`
	Orders   int       `validate:"gte=0"`
	Date     time.Time `validate:"required"`
}

type EventRecord struct {
	Name     string    `validate:"required"`
	Vertical string    `validate:"required"`
	Date     time.Time `validate:"required"`
	Keywords []string
}

type TrendRecord struct {
	Keyword  string    `validate:"required"`
	Vertical string    `validate:"required"`
	Interest float64   `validate:"gte=0,lte=100"`
	Date     time.Time `validate:"required"`
}

func (r RevenueRecord) Timestamp() time.Time { return r.Date }
func (r EventRecord) Timestamp() time.Time   { return r.Date }
func (r TrendRecord) Timestamp() time.Time   { return r.Date }

func (RevenueRecord) record() {}
func (EventRecord) record()   {}
func (TrendRecord) record()   {}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// parseDate accepts RFC 3339 timestamps and plain dates. Plain dates and
// times without an offset are read in loc. Unparseable input yields the zero
// time, which the normalizer rejects.
func parseDate(s string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func unavailable(id domain.SourceID, err error) error {
	return &domain.SourceUnavailableError{SourceID: id, Err: err}
}
