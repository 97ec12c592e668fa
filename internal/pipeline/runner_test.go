package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/generator"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/normalize"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/scoring"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/source"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/store/memory"
)

var slot = time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)

type fakeSource struct {
	id      domain.SourceID
	records []source.Record
	err     error
	fetch   func(ctx context.Context) error

	mu     sync.Mutex
	calls  int
	window domain.Window
}

func (f *fakeSource) ID() domain.SourceID { return f.id }

func (f *fakeSource) Fetch(ctx context.Context, w domain.Window) ([]source.Record, error) {
	f.mu.Lock()
	f.calls++
	f.window = w
	f.mu.Unlock()
	if f.fetch != nil {
		if err := f.fetch(ctx); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func revenueSource() *fakeSource {
	return &fakeSource{id: domain.SourceRevenue, records: []source.Record{
		source.RevenueRecord{Vertical: "Electronics", Revenue: 900000, Currency: "INR", Orders: 800, Date: slot.Add(-2 * time.Hour)},
		source.RevenueRecord{Vertical: "Fashion", Revenue: 300000, Currency: "INR", Orders: 200, Date: slot.Add(-3 * time.Hour)},
		source.RevenueRecord{Vertical: "Grocery", Revenue: -5, Currency: "INR", Orders: 1, Date: slot.Add(-time.Hour)},
	}}
}

func eventsSource() *fakeSource {
	return &fakeSource{id: domain.SourceEvents, records: []source.Record{
		source.EventRecord{Name: "Diwali Sale", Vertical: "Fashion", Date: slot.Add(3 * 24 * time.Hour)},
	}}
}

func trendsSource() *fakeSource {
	return &fakeSource{id: domain.SourceTrends, records: []source.Record{
		source.TrendRecord{Keyword: "laptop", Vertical: "Electronics", Interest: 70, Date: slot.Add(-24 * time.Hour)},
	}}
}

type fakeMetrics struct {
	mu          sync.Mutex
	finished    []string
	fetched     map[string]error
	dropped     map[string]int
	scored      int
	suggestions int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{fetched: map[string]error{}, dropped: map[string]int{}}
}

func (m *fakeMetrics) RunFinished(status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, status)
}

func (m *fakeMetrics) SourceFetched(src string, records int, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched[src] = err
}

func (m *fakeMetrics) RecordsDropped(src string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[src] += count
}

func (m *fakeMetrics) CandidateScored(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scored++
}

func (m *fakeMetrics) SuggestionsGenerated(count, skips int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggestions += count
}

func testConfig() Config {
	return Config{
		SignalWindow:  24 * time.Hour,
		EventHorizon:  30 * 24 * time.Hour,
		TrendWindow:   7 * 24 * time.Hour,
		SourceTimeout: 200 * time.Millisecond,
	}
}

func newRunner(t *testing.T, store *memory.Store, sources ...source.SignalSource) (*Runner, *fakeMetrics) {
	t.Helper()
	clock := func() time.Time { return slot.Add(time.Minute) }
	gen := generator.New(generator.Config{
		TopK:         3,
		CooldownDays: 7,
		Channels:     []domain.Channel{domain.ChannelAppPush},
	}, store).WithClock(clock)
	m := newFakeMetrics()
	r := New(testConfig(), store, sources, normalize.New(normalize.Config{}).WithClock(clock), scoring.New(scoring.DefaultConfig()), gen).
		WithMetrics(m).
		WithClock(clock)
	return r, m
}

func TestExecute_AllSourcesSucceed(t *testing.T) {
	store := memory.New()
	r, m := newRunner(t, store, revenueSource(), eventsSource(), trendsSource())

	run, err := r.Execute(context.Background(), slot, domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Empty(t, run.SourceFailures)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	candidates, err := store.ListCandidates(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Electronics", candidates[0].Vertical)
	assert.Equal(t, 1, candidates[0].Rank)

	suggestions, err := store.ListSuggestions(context.Background(), domain.SuggestionFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)
	for _, sg := range suggestions {
		assert.Equal(t, domain.SuggestionGenerated, sg.State)
	}

	assert.Equal(t, []string{string(domain.RunCompleted)}, m.finished)
	assert.Equal(t, 1, m.dropped[string(domain.SourceRevenue)])
	assert.Equal(t, 2, m.scored)
	assert.Equal(t, 2, m.suggestions)
	assert.Empty(t, r.Active())
}

func TestExecute_SourceTimeoutPartiallyFails(t *testing.T) {
	store := memory.New()
	slow := trendsSource()
	slow.fetch = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	r, m := newRunner(t, store, revenueSource(), eventsSource(), slow)

	run, err := r.Execute(context.Background(), slot, domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPartiallyFailed, run.Status)
	assert.Equal(t, []domain.SourceID{domain.SourceTrends}, run.SourceFailures)

	var sue *domain.SourceUnavailableError
	require.ErrorAs(t, m.fetched[string(domain.SourceTrends)], &sue)
	assert.ErrorIs(t, sue, context.DeadlineExceeded)

	candidates, err := store.ListCandidates(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, c := range candidates {
		assert.Zero(t, c.TrendAdjustmentApplied, c.Vertical)
	}
}

func TestExecute_AllSourcesFail(t *testing.T) {
	store := memory.New()
	down := errors.New("connection refused")
	r, _ := newRunner(t, store,
		&fakeSource{id: domain.SourceRevenue, err: down},
		&fakeSource{id: domain.SourceEvents, err: down},
	)

	run, err := r.Execute(context.Background(), slot, domain.TriggerScheduled)
	var aborted *domain.RunAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, domain.ReasonNoSources, aborted.Reason)
	assert.Equal(t, domain.RunFailed, run.Status)

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, stored.Status)
	assert.Equal(t, domain.ReasonNoSources, stored.Reason)
	assert.Equal(t, []domain.SourceID{domain.SourceEvents, domain.SourceRevenue}, stored.SourceFailures)

	// The lock is released for the next slot.
	_, err = r.Execute(context.Background(), slot.Add(24*time.Hour), domain.TriggerScheduled)
	var again *domain.RunAbortedError
	assert.ErrorAs(t, err, &again)
}

func TestExecute_FetchWindows(t *testing.T) {
	rev, ev, tr := revenueSource(), eventsSource(), trendsSource()
	r, _ := newRunner(t, memory.New(), rev, ev, tr)

	_, err := r.Execute(context.Background(), slot, domain.TriggerScheduled)
	require.NoError(t, err)

	// Windows open at midnight of the reference calendar (UTC here).
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, domain.Window{Start: day.AddDate(0, 0, -1), End: slot}, rev.window)
	assert.Equal(t, domain.Window{Start: day, End: slot.Add(30 * 24 * time.Hour)}, ev.window)
	assert.Equal(t, domain.Window{Start: day.AddDate(0, 0, -7), End: slot}, tr.window)
}

func TestExecute_ReferenceZoneCalendar(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	// 09:00 IST trigger.
	istSlot := time.Date(2026, 10, 17, 3, 30, 0, 0, time.UTC)
	today := time.Date(2026, 10, 17, 0, 0, 0, 0, ist)

	rev := &fakeSource{id: domain.SourceRevenue, records: []source.Record{
		source.RevenueRecord{Vertical: "Electronics", Revenue: 500000, Currency: "INR", Orders: 300, Date: today.AddDate(0, 0, -1)},
		source.RevenueRecord{Vertical: "Fashion", Revenue: 400000, Currency: "INR", Orders: 250, Date: today.AddDate(0, 0, -1)},
	}}
	ev := &fakeSource{id: domain.SourceEvents, records: []source.Record{
		source.EventRecord{Name: "Flash Sale", Vertical: "Fashion", Date: today},
	}}

	store := memory.New()
	clock := func() time.Time { return istSlot.Add(time.Minute) }
	cfg := testConfig()
	cfg.Location = ist
	gen := generator.New(generator.Config{TopK: 3, Channels: []domain.Channel{domain.ChannelAppPush}}, store).WithClock(clock)
	m := newFakeMetrics()
	r := New(cfg, store, []source.SignalSource{rev, ev}, normalize.New(normalize.Config{Location: ist}).WithClock(clock), scoring.New(scoring.DefaultConfig()), gen).
		WithMetrics(m).
		WithClock(clock)

	run, err := r.Execute(context.Background(), istSlot, domain.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Zero(t, m.dropped[string(domain.SourceRevenue)], "yesterday's revenue is inside the window")
	assert.Zero(t, m.dropped[string(domain.SourceEvents)], "today's event is inside the window")

	assert.True(t, today.Equal(ev.window.Start))
	assert.True(t, today.AddDate(0, 0, -1).Equal(rev.window.Start))

	candidates, err := store.ListCandidates(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "Fashion", candidates[0].Vertical)
	assert.Equal(t, 10.0, candidates[0].EventBoostApplied, "same-day event gets the full boost")
	assert.Equal(t, "Flash Sale", candidates[0].EventLabel)
}

func TestStart_LockConflict(t *testing.T) {
	store := memory.New()
	release := make(chan struct{})
	blocked := revenueSource()
	blocked.fetch = func(ctx context.Context) error {
		<-release
		return nil
	}
	r, _ := newRunner(t, store, blocked)
	r.cfg.SourceTimeout = 0

	first, err := r.Start(context.Background(), slot, domain.TriggerScheduled)
	require.NoError(t, err)

	_, err = r.Start(context.Background(), slot.Add(time.Hour), domain.TriggerScheduled)
	assert.ErrorIs(t, err, domain.ErrRunLocked)
	_, err = r.RunNow(context.Background())
	assert.ErrorIs(t, err, domain.ErrRunLocked)

	close(release)
	require.NoError(t, r.Shutdown(context.Background()))

	stored, err := store.GetRun(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, stored.Status)
}

func TestStart_DuplicateSlot(t *testing.T) {
	r, _ := newRunner(t, memory.New(), revenueSource())

	_, err := r.Execute(context.Background(), slot, domain.TriggerScheduled)
	require.NoError(t, err)

	_, err = r.Start(context.Background(), slot, domain.TriggerCatchUp)
	assert.ErrorIs(t, err, domain.ErrDuplicateRun)
}

func TestCancel_MarksRunFailed(t *testing.T) {
	store := memory.New()
	started := make(chan struct{})
	release := make(chan struct{})
	slow := revenueSource()
	slow.fetch = func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}
	r, m := newRunner(t, store, slow)
	r.cfg.SourceTimeout = 0

	run, err := r.Start(context.Background(), slot, domain.TriggerManual)
	require.NoError(t, err)
	<-started

	require.NoError(t, r.Cancel(context.Background(), run.ID))
	close(release)
	require.NoError(t, r.Shutdown(context.Background()))

	stored, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, stored.Status)
	assert.Equal(t, domain.ReasonCancelled, stored.Reason)
	assert.Equal(t, []string{string(domain.RunFailed)}, m.finished)

	suggestions, err := store.ListSuggestions(context.Background(), domain.SuggestionFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Empty(t, suggestions)
}

func TestExecute_ContextCancelBeforeFetchSkipsSources(t *testing.T) {
	store := memory.New()
	rev := revenueSource()
	r, _ := newRunner(t, store, rev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := r.Execute(ctx, slot, domain.TriggerManual)
	var aborted *domain.RunAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, domain.ReasonCancelled, aborted.Reason)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Zero(t, rev.Calls())
}

func TestCancel_NotRunning(t *testing.T) {
	store := memory.New()
	r, _ := newRunner(t, store, revenueSource())

	run, err := r.Execute(context.Background(), slot, domain.TriggerScheduled)
	require.NoError(t, err)

	err = r.Cancel(context.Background(), run.ID)
	assert.ErrorIs(t, err, domain.ErrRunNotRunning)

	err = r.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReplay_Matches(t *testing.T) {
	store := memory.New()
	r, _ := newRunner(t, store, revenueSource(), eventsSource(), trendsSource())

	run, err := r.Execute(context.Background(), slot, domain.TriggerScheduled)
	require.NoError(t, err)

	res, err := r.Replay(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, res.Match, "diffs: %v", res.Diffs)
	assert.Len(t, res.Recomputed, len(res.Stored))
	assert.NotEmpty(t, res.Signals)
	assert.Equal(t, run.ID, res.Run.ID)
}

func TestReplay_UsesRunSnapshot(t *testing.T) {
	store := memory.New()
	r, _ := newRunner(t, store, revenueSource())

	run, err := r.Execute(context.Background(), slot, domain.TriggerScheduled)
	require.NoError(t, err)

	// A config change after the run must not affect its replay.
	changed := scoring.DefaultConfig()
	changed.VerticalWeights = map[string]float64{"Electronics": 3}
	r.engine = scoring.New(changed)

	res, err := r.Replay(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, res.Match, "diffs: %v", res.Diffs)
}

func TestReplay_NotFound(t *testing.T) {
	r, _ := newRunner(t, memory.New(), revenueSource())
	_, err := r.Replay(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDiffCandidates(t *testing.T) {
	a := []domain.Candidate{{Vertical: "Electronics", FinalScore: 80, Rank: 1}, {Vertical: "Fashion", FinalScore: 40, Rank: 2}}
	b := []domain.Candidate{{Vertical: "Electronics", FinalScore: 81, Rank: 1}}

	diffs := diffCandidates(a, b)
	assert.Len(t, diffs, 2)
	assert.Contains(t, diffs[0], "candidate count")
	assert.Contains(t, diffs[1], "final_score")

	assert.Empty(t, diffCandidates(a, a))
}
