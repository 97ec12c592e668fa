package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

type EventsFormat string

const (
	EventsJSON EventsFormat = "json"
	// EventsHTML reads a published calendar page: rows of table.events with
	// cells name, vertical, date, keywords.
	EventsHTML EventsFormat = "html"
)

// Events pulls the upcoming event calendar.
type Events struct {
	url    string
	format EventsFormat
	client *http.Client
	loc    *time.Location
}

func NewEvents(url string, format EventsFormat, client *http.Client) *Events {
	if format == "" {
		format = EventsJSON
	}
	return &Events{url: url, format: format, client: client, loc: time.UTC}
}

// WithLocation sets the zone plain event dates are read in.
func (s *Events) WithLocation(loc *time.Location) *Events {
	s.loc = loc
	return s
}

func (s *Events) ID() domain.SourceID { return domain.SourceEvents }

type eventWire struct {
	Name     string   `json:"name"`
	Vertical string   `json:"vertical"`
	Date     string   `json:"date"`
	Keywords []string `json:"keywords"`
}

func (s *Events) Fetch(ctx context.Context, window domain.Window) ([]Record, error) {
	var rows []eventWire
	switch s.format {
	case EventsHTML:
		body, err := get(ctx, s.client, s.ID(), s.url, window)
		if err != nil {
			return nil, err
		}
		rows, err = parseEventsHTML(body)
		if err != nil {
			return nil, unavailable(s.ID(), err)
		}
	default:
		var err error
		rows, err = getJSON[eventWire](ctx, s.client, s.ID(), s.url, window)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, EventRecord{
			Name:     r.Name,
			Vertical: r.Vertical,
			Date:     parseDate(r.Date, s.loc),
			Keywords: r.Keywords,
		})
	}
	return out, nil
}

func parseEventsHTML(body []byte) ([]eventWire, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var rows []eventWire
	doc.Find("table.events tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 3 {
			return // header or malformed row
		}
		text := func(i int) string { return strings.TrimSpace(cells.Eq(i).Text()) }
		row := eventWire{Name: text(0), Vertical: text(1), Date: text(2)}
		if cells.Length() > 3 {
			for _, kw := range strings.Split(text(3), ",") {
				if kw = strings.TrimSpace(kw); kw != "" {
					row.Keywords = append(row.Keywords, kw)
				}
			}
		}
		rows = append(rows, row)
	})
	return rows, nil
}
