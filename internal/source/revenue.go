package source

import (
	"context"
	"net/http"
	"time"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// Revenue pulls per-vertical revenue and order totals.
type Revenue struct {
	url    string
	client *http.Client
	loc    *time.Location
}

func NewRevenue(url string, client *http.Client) *Revenue {
	return &Revenue{url: url, client: client, loc: time.UTC}
}

// WithLocation sets the zone plain dates are read in.
func (s *Revenue) WithLocation(loc *time.Location) *Revenue {
	s.loc = loc
	return s
}

func (s *Revenue) ID() domain.SourceID { return domain.SourceRevenue }

type revenueWire struct {
	Vertical string  `json:"vertical"`
	Revenue  float64 `json:"revenue"`
	Currency string  `json:"currency"`
	Orders   int     `json:"orders"`
	Date     string  `json:"date"`
}

func (s *Revenue) Fetch(ctx context.Context, window domain.Window) ([]Record, error) {
	rows, err := getJSON[revenueWire](ctx, s.client, s.ID(), s.url, window)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, RevenueRecord{
			Vertical: r.Vertical,
			Revenue:  r.Revenue,
			Currency: r.Currency,
			Orders:   r.Orders,
			Date:     parseDate(r.Date, s.loc),
		})
	}
	return out, nil
}
