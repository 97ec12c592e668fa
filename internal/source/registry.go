package source

import (
	"fmt"
	"net/http"
	"time"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// Settings selects and configures the enabled adapters.
type Settings struct {
	Enabled      []domain.SourceID
	RevenueURL   string
	EventsURL    string
	EventsFormat EventsFormat
	TrendsURL    string
	Timeout      time.Duration
	// Location is the zone for plain dates; nil means UTC.
	Location *time.Location
}

// FromSettings builds the enabled adapters in the order given.
func FromSettings(s Settings) ([]SignalSource, error) {
	client := &http.Client{Timeout: s.Timeout}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	var out []SignalSource
	for _, id := range s.Enabled {
		switch id {
		case domain.SourceRevenue:
			if s.RevenueURL == "" {
				return nil, fmt.Errorf("source %s: url not configured", id)
			}
			out = append(out, NewRevenue(s.RevenueURL, client).WithLocation(loc))
		case domain.SourceEvents:
			if s.EventsURL == "" {
				return nil, fmt.Errorf("source %s: url not configured", id)
			}
			out = append(out, NewEvents(s.EventsURL, s.EventsFormat, client).WithLocation(loc))
		case domain.SourceTrends:
			if s.TrendsURL == "" {
				return nil, fmt.Errorf("source %s: url not configured", id)
			}
			out = append(out, NewTrends(s.TrendsURL, client).WithLocation(loc))
		default:
			return nil, fmt.Errorf("unknown source %q", id)
		}
	}
	return out, nil
}
