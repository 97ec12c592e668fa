package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

var testWindow = domain.Window{
	Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
}

func serve(t *testing.T, status int, contentType, body string) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var reqs []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs = append(reqs, r)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestRevenue_Fetch(t *testing.T) {
	srv, reqs := serve(t, http.StatusOK, "application/json", `[
		{"vertical":"Electronics","revenue":250000.5,"currency":"INR","orders":120,"date":"2026-03-01"},
		{"vertical":"Fashion","revenue":1000,"currency":"USD","orders":4,"date":"2026-03-01T10:00:00Z"},
		{"vertical":"Books","revenue":10,"orders":1,"date":"yesterday"}
	]`)

	recs, err := NewRevenue(srv.URL+"/revenue", srv.Client()).Fetch(context.Background(), testWindow)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	r0 := recs[0].(RevenueRecord)
	assert.Equal(t, "Electronics", r0.Vertical)
	assert.Equal(t, 250000.5, r0.Revenue)
	assert.Equal(t, 120, r0.Orders)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), r0.Date)

	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), recs[1].Timestamp())
	assert.True(t, recs[2].Timestamp().IsZero(), "unparseable date left for the normalizer")

	require.Len(t, *reqs, 1)
	q := (*reqs)[0].URL.Query()
	assert.Equal(t, "2026-03-01T00:00:00Z", q.Get("from"))
	assert.Equal(t, "2026-03-02T00:00:00Z", q.Get("to"))
}

func TestEvents_PlainDatesInLocation(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	srv, _ := serve(t, http.StatusOK, "application/json", `[
		{"name":"Flash Sale","vertical":"Fashion","date":"2026-10-17"},
		{"name":"Launch","vertical":"Electronics","date":"2026-10-17T18:00:00Z"}
	]`)

	recs, err := NewEvents(srv.URL, EventsJSON, srv.Client()).WithLocation(ist).Fetch(context.Background(), testWindow)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Midnight IST, not midnight UTC.
	assert.Equal(t, time.Date(2026, 10, 16, 18, 30, 0, 0, time.UTC), recs[0].Timestamp())
	assert.Equal(t, time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC), recs[1].Timestamp(), "explicit offset wins")
}

func TestTrends_Fetch(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, "application/json",
		`[{"keyword":"smartphone sale","vertical":"Electronics","interest":64,"date":"2026-03-01"}]`)

	recs, err := NewTrends(srv.URL, srv.Client()).Fetch(context.Background(), testWindow)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	tr := recs[0].(TrendRecord)
	assert.Equal(t, "smartphone sale", tr.Keyword)
	assert.Equal(t, 64.0, tr.Interest)
}

func TestEvents_FetchJSON(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, "application/json",
		`[{"name":"Holi Sale","vertical":"Fashion","date":"2026-03-04","keywords":["holi","colors"]}]`)

	recs, err := NewEvents(srv.URL, EventsJSON, srv.Client()).Fetch(context.Background(), testWindow)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	ev := recs[0].(EventRecord)
	assert.Equal(t, "Holi Sale", ev.Name)
	assert.Equal(t, []string{"holi", "colors"}, ev.Keywords)
}

func TestEvents_FetchHTML(t *testing.T) {
	page := `<html><body>
	<table class="events">
	  <tr><th>Name</th><th>Vertical</th><th>Date</th><th>Keywords</th></tr>
	  <tr><td> Big Billion Days </td><td>Electronics</td><td>2026-03-10</td><td>sale, phones</td></tr>
	  <tr><td>Exam Week</td><td>Education</td><td>2026-03-20</td></tr>
	  <tr><td>broken</td></tr>
	</table>
	<table class="other"><tr><td>a</td><td>b</td><td>c</td></tr></table>
	</body></html>`
	srv, _ := serve(t, http.StatusOK, "text/html", page)

	recs, err := NewEvents(srv.URL, EventsHTML, srv.Client()).Fetch(context.Background(), testWindow)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0].(EventRecord)
	assert.Equal(t, "Big Billion Days", first.Name)
	assert.Equal(t, "Electronics", first.Vertical)
	assert.Equal(t, []string{"sale", "phones"}, first.Keywords)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), first.Date)

	second := recs[1].(EventRecord)
	assert.Nil(t, second.Keywords)
}

func TestFetch_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"not found", http.StatusNotFound, ""},
		{"bad json", http.StatusOK, "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.status, "application/json", tt.body)
			_, err := NewRevenue(srv.URL, srv.Client()).Fetch(context.Background(), testWindow)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrSourceUnavailable)

			var sue *domain.SourceUnavailableError
			require.True(t, errors.As(err, &sue))
			assert.Equal(t, domain.SourceRevenue, sue.SourceID)
		})
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := NewTrends(srv.URL, client).Fetch(context.Background(), testWindow)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestFromSettings(t *testing.T) {
	srcs, err := FromSettings(Settings{
		Enabled:    []domain.SourceID{domain.SourceTrends, domain.SourceRevenue},
		RevenueURL: "http://revenue.local",
		TrendsURL:  "http://trends.local",
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, domain.SourceTrends, srcs[0].ID())
	assert.Equal(t, domain.SourceRevenue, srcs[1].ID())

	_, err = FromSettings(Settings{Enabled: []domain.SourceID{domain.SourceEvents}})
	assert.Error(t, err, "missing url")

	_, err = FromSettings(Settings{Enabled: []domain.SourceID{"weather"}})
	assert.Error(t, err)
}
