package source

import (
	"context"
	"net/http"
	"time"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// Trends pulls search-interest samples (0..100) per keyword.
type Trends struct {
	url    string
	client *http.Client
	loc    *time.Location
}

func NewTrends(url string, client *http.Client) *Trends {
	return &Trends{url: url, client: client, loc: time.UTC}
}

// WithLocation sets the zone plain dates are read in.
func (s *Trends) WithLocation(loc *time.Location) *Trends {
	s.loc = loc
	return s
}

func (s *Trends) ID() domain.SourceID { return domain.SourceTrends }

type trendWire struct {
	Keyword  string  `json:"keyword"`
	Vertical string  `json:"vertical"`
	Interest float64 `json:"interest"`
	Date     string  `json:"date"`
}

func (s *Trends) Fetch(ctx context.Context, window domain.Window) ([]Record, error) {
	rows, err := getJSON[trendWire](ctx, s.client, s.ID(), s.url, window)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, TrendRecord{
			Keyword:  r.Keyword,
			Vertical: r.Vertical,
			Interest: r.Interest,
			Date:     parseDate(r.Date, s.loc),
		})
	}
	return out, nil
}
