// Package pipeline executes one run: fetch every enabled source
// concurrently, normalize, score, persist and generate suggestions.
//
// Fetches are the only parallel step. Scoring and generation run on the
// calling goroutine so a run's output depends only on its signals and
// config snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/generator"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/normalize"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/scoring"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/source"
)

// errCancelled is the cancel cause recorded by Cancel.
var errCancelled = errors.New("run cancelled by operator")

type Store interface {
	// CreateRun takes the run-lock. It returns domain.ErrRunLocked while
	// another run is Running and domain.ErrDuplicateRun for a repeated slot.
	CreateRun(ctx context.Context, run domain.Run) error
	FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, failures []domain.SourceID, reason string, at time.Time) error
	GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error)
	SaveRunOutput(ctx context.Context, runID uuid.UUID, signals []domain.Signal, candidates []domain.Candidate, suggestions []domain.Suggestion) error
	ListSignals(ctx context.Context, runID uuid.UUID) ([]domain.Signal, error)
	ListCandidates(ctx context.Context, runID uuid.UUID) ([]domain.Candidate, error)
}

// Generator selects and writes suggestions from ranked candidates.
type Generator interface {
	Generate(ctx context.Context, run domain.Run, candidates []domain.Candidate) ([]domain.Suggestion, []generator.Skip, error)
}

// MetricsSink defines the interface for recording pipeline metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RunFinished(status string, duration time.Duration)
	SourceFetched(source string, records int, duration time.Duration, err error)
	RecordsDropped(source string, count int)
	CandidateScored(finalScore float64)
	SuggestionsGenerated(count, cooldownSkips int)
}

// Config sets the fetch windows. Every window opens at midnight on the
// Location calendar. Revenue reaches back SignalWindow from the slot and
// trends reach back the longer of SignalWindow and TrendWindow; both end at
// the slot. Events run from the start of the slot's day to EventHorizon
// past the slot.
type Config struct {
	SignalWindow  time.Duration
	EventHorizon  time.Duration
	TrendWindow   time.Duration
	SourceTimeout time.Duration
	// Location is the reference calendar; nil means UTC.
	Location *time.Location
}

type Runner struct {
	cfg        Config
	store      Store
	sources    []source.SignalSource
	normalizer *normalize.Normalizer
	engine     *scoring.Engine
	generator  Generator
	metrics    MetricsSink // optional, nil = disabled
	clock      func() time.Time

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelCauseFunc
	wg     sync.WaitGroup
}

func New(cfg Config, store Store, sources []source.SignalSource, normalizer *normalize.Normalizer, engine *scoring.Engine, gen Generator) *Runner {
	return &Runner{
		cfg:        cfg,
		store:      store,
		sources:    sources,
		normalizer: normalizer,
		engine:     engine,
		generator:  gen,
		clock:      time.Now,
		active:     make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// WithClock overrides the time source.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Start takes the run-lock for slot and executes the run in the background.
// The run outlives ctx; stop it with Cancel or Shutdown.
func (r *Runner) Start(ctx context.Context, slot time.Time, trigger domain.RunTrigger) (domain.Run, error) {
	run, runCtx, err := r.begin(ctx, slot, trigger)
	if err != nil {
		return domain.Run{}, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.execute(runCtx, run); err != nil {
			log.Error().Err(err).Str("run_id", run.ID.String()).Msg("pipeline: run failed")
		}
	}()
	return run, nil
}

// RunNow starts a manual run for the current minute in the background.
func (r *Runner) RunNow(ctx context.Context) (domain.Run, error) {
	return r.Start(ctx, r.clock().UTC().Truncate(time.Minute), domain.TriggerManual)
}

// Execute takes the run-lock and runs to completion on the calling
// goroutine. Cancelling ctx cancels the run.
func (r *Runner) Execute(ctx context.Context, slot time.Time, trigger domain.RunTrigger) (domain.Run, error) {
	run, runCtx, err := r.begin(ctx, slot, trigger)
	if err != nil {
		return domain.Run{}, err
	}

	if ctx.Err() != nil {
		r.cancel(run.ID, errCancelled)
	}
	stop := context.AfterFunc(ctx, func() { r.cancel(run.ID, errCancelled) })
	defer stop()

	return r.execute(runCtx, run)
}

// Cancel aborts an in-flight run. Fetches already started finish or time
// out; the run is then marked Failed with reason "cancelled".
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) error {
	if r.cancel(id, errCancelled) {
		log.Info().Str("run_id", id.String()).Msg("pipeline: cancel requested")
		return nil
	}
	run, err := r.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status != domain.RunRunning {
		return fmt.Errorf("cancel run %s (%s): %w", id, run.Status, domain.ErrRunNotRunning)
	}
	return fmt.Errorf("cancel run %s: not executing in this process: %w", id, domain.ErrRunNotRunning)
}

// Active returns the IDs of runs executing in this process.
func (r *Runner) Active() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	return out
}

// Shutdown waits for background runs. When ctx ends first the remaining
// runs are cancelled and awaited.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	r.mu.Lock()
	for _, cancel := range r.active {
		cancel(errCancelled)
	}
	r.mu.Unlock()
	<-done
	return ctx.Err()
}

func (r *Runner) cancel(id uuid.UUID, cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.active[id]
	if ok {
		cancel(cause)
	}
	return ok
}

func (r *Runner) begin(ctx context.Context, slot time.Time, trigger domain.RunTrigger) (domain.Run, context.Context, error) {
	snapshot, err := r.engine.Config().Snapshot()
	if err != nil {
		return domain.Run{}, nil, fmt.Errorf("snapshot scoring config: %w", err)
	}

	run := domain.Run{
		ID:              uuid.New(),
		ScheduledFor:    slot.UTC(),
		Trigger:         trigger,
		Status:          domain.RunRunning,
		ScoringSnapshot: snapshot,
		StartedAt:       r.clock().UTC(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return domain.Run{}, nil, err
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	r.mu.Lock()
	r.active[run.ID] = cancel
	r.mu.Unlock()

	log.Info().
		Str("run_id", run.ID.String()).
		Str("trigger", string(trigger)).
		Time("scheduled_for", run.ScheduledFor).
		Msg("pipeline: run started")
	return run, runCtx, nil
}

type fetchResult struct {
	source  domain.SourceID
	window  domain.Window
	records []source.Record
	err     error
	skipped bool
}

func (r *Runner) execute(ctx context.Context, run domain.Run) (domain.Run, error) {
	defer func() {
		r.mu.Lock()
		if cancel, ok := r.active[run.ID]; ok {
			cancel(nil)
			delete(r.active, run.ID)
		}
		r.mu.Unlock()
	}()

	logger := log.With().Str("run_id", run.ID.String()).Logger()
	results := r.fetchAll(ctx, run)

	var failures []domain.SourceID
	for _, res := range results {
		if res.err != nil || res.skipped {
			failures = append(failures, res.source)
		}
	}

	if cancelled(ctx) {
		return r.abort(run, failures, domain.ReasonCancelled)
	}

	var signals []domain.Signal
	for _, res := range results {
		if res.err != nil || res.skipped {
			continue
		}
		sigs, dropped := r.normalizer.Normalize(run.ID, res.source, res.records, res.window)
		for _, d := range dropped {
			logger.Debug().Err(d).Str("source_id", string(res.source)).Msg("pipeline: record dropped")
		}
		if len(dropped) > 0 {
			logger.Warn().Str("source_id", string(res.source)).Int("dropped", len(dropped)).Msg("pipeline: records failed validation")
			if r.metrics != nil {
				r.metrics.RecordsDropped(string(res.source), len(dropped))
			}
		}
		signals = append(signals, sigs...)
	}

	status := domain.FinalRunStatus(len(r.sources), failures)
	if status == domain.RunFailed {
		return r.abort(run, failures, domain.ReasonNoSources)
	}

	candidates := r.engine.Score(scoring.GroupByVertical(signals))
	for i := range candidates {
		candidates[i].RunID = run.ID
		if r.metrics != nil {
			r.metrics.CandidateScored(candidates[i].FinalScore)
		}
	}

	if cancelled(ctx) {
		return r.abort(run, failures, domain.ReasonCancelled)
	}

	persistCtx := context.WithoutCancel(ctx)
	suggestions, skips, err := r.generator.Generate(persistCtx, run, candidates)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline: generate failed")
		r.finish(run, domain.RunFailed, failures, domain.ReasonStoreFailed)
		return run, fmt.Errorf("generate: %w", err)
	}
	for _, s := range skips {
		logger.Info().Str("vertical", s.Vertical).Str("reason", s.Reason).Msg("pipeline: candidate skipped")
	}
	if r.metrics != nil {
		r.metrics.SuggestionsGenerated(len(suggestions), len(skips))
	}

	if err := r.store.SaveRunOutput(persistCtx, run.ID, signals, candidates, suggestions); err != nil {
		logger.Error().Err(err).Msg("pipeline: save output failed")
		r.finish(run, domain.RunFailed, failures, domain.ReasonStoreFailed)
		return run, fmt.Errorf("save run output: %w", err)
	}

	final := r.finish(run, status, failures, "")
	logger.Info().
		Str("status", string(final.Status)).
		Int("signals", len(signals)).
		Int("candidates", len(candidates)).
		Int("suggestions", len(suggestions)).
		Interface("source_failures", final.SourceFailures).
		Msg("pipeline: run finished")
	return final, nil
}

// fetchAll queries every source concurrently. A source whose turn comes
// after cancellation is not started. In-flight fetches are not interrupted
// by cancellation; they finish or hit SourceTimeout.
func (r *Runner) fetchAll(ctx context.Context, run domain.Run) []fetchResult {
	results := make([]fetchResult, len(r.sources))
	fetchParent := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i, src := range r.sources {
		results[i] = fetchResult{source: src.ID(), window: r.window(src.ID(), run.ScheduledFor)}
		if cancelled(ctx) {
			results[i].skipped = true
			continue
		}
		g.Go(func() error {
			res := &results[i]
			fetchCtx := fetchParent
			if r.cfg.SourceTimeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(fetchParent, r.cfg.SourceTimeout)
				defer cancel()
			}

			start := r.clock()
			res.records, res.err = src.Fetch(fetchCtx, res.window)
			if res.err != nil {
				var sue *domain.SourceUnavailableError
				if !errors.As(res.err, &sue) {
					res.err = &domain.SourceUnavailableError{SourceID: res.source, Err: res.err}
				}
				log.Warn().Err(res.err).Str("run_id", run.ID.String()).Str("source_id", string(res.source)).Msg("pipeline: source unavailable")
			}
			if r.metrics != nil {
				r.metrics.SourceFetched(string(res.source), len(res.records), r.clock().Sub(start), res.err)
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Runner) window(id domain.SourceID, slot time.Time) domain.Window {
	end := slot.UTC()
	loc := r.cfg.Location
	switch id {
	case domain.SourceEvents:
		return domain.Window{Start: domain.DayStart(end, loc).UTC(), End: end.Add(r.cfg.EventHorizon)}
	case domain.SourceTrends:
		span := r.cfg.SignalWindow
		if r.cfg.TrendWindow > span {
			span = r.cfg.TrendWindow
		}
		return domain.Window{Start: domain.DayStart(end.Add(-span), loc).UTC(), End: end}
	default:
		return domain.Window{Start: domain.DayStart(end.Add(-r.cfg.SignalWindow), loc).UTC(), End: end}
	}
}

func (r *Runner) abort(run domain.Run, failures []domain.SourceID, reason string) (domain.Run, error) {
	final := r.finish(run, domain.RunFailed, failures, reason)
	log.Warn().
		Str("run_id", run.ID.String()).
		Str("reason", reason).
		Interface("source_failures", final.SourceFailures).
		Msg("pipeline: run aborted")
	return final, &domain.RunAbortedError{RunID: run.ID, Reason: reason}
}

// finish records the outcome. It uses a fresh context so a cancelled run
// is still closed out and the run-lock released.
func (r *Runner) finish(run domain.Run, status domain.RunStatus, failures []domain.SourceID, reason string) domain.Run {
	now := r.clock().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.store.FinishRun(ctx, run.ID, status, failures, reason, now); err != nil {
		log.Error().Err(err).Str("run_id", run.ID.String()).Msg("pipeline: failed to record run outcome")
	}
	if r.metrics != nil {
		r.metrics.RunFinished(string(status), now.Sub(run.StartedAt))
	}

	run.Status = status
	run.SourceFailures = domain.SortSourceIDs(failures)
	run.Reason = reason
	run.CompletedAt = &now
	return run
}

func cancelled(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errCancelled)
}

// ReplayResult compares stored candidates with candidates recomputed from
// the run's stored signals and scoring snapshot.
type ReplayResult struct {
	Run        domain.Run
	Signals    []domain.Signal
	Stored     []domain.Candidate
	Recomputed []domain.Candidate
	Match      bool
	Diffs      []string
}

// Replay reconstructs the score derivation of a finished run.
func (r *Runner) Replay(ctx context.Context, id uuid.UUID) (ReplayResult, error) {
	run, err := r.store.GetRun(ctx, id)
	if err != nil {
		return ReplayResult{}, err
	}
	cfg, err := scoring.ParseSnapshot(run.ScoringSnapshot)
	if err != nil {
		return ReplayResult{}, err
	}
	signals, err := r.store.ListSignals(ctx, id)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("list signals: %w", err)
	}
	stored, err := r.store.ListCandidates(ctx, id)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("list candidates: %w", err)
	}

	recomputed := scoring.Score(scoring.GroupByVertical(signals), cfg)
	for i := range recomputed {
		recomputed[i].RunID = id
	}

	diffs := diffCandidates(stored, recomputed)
	return ReplayResult{
		Run:        run,
		Signals:    signals,
		Stored:     stored,
		Recomputed: recomputed,
		Match:      len(diffs) == 0,
		Diffs:      diffs,
	}, nil
}

// scoreTolerance absorbs float round-trips through storage.
const scoreTolerance = 1e-9

func diffCandidates(stored, recomputed []domain.Candidate) []string {
	var diffs []string
	if len(stored) != len(recomputed) {
		diffs = append(diffs, fmt.Sprintf("candidate count: stored %d, recomputed %d", len(stored), len(recomputed)))
	}
	n := min(len(stored), len(recomputed))
	for i := 0; i < n; i++ {
		a, b := stored[i], recomputed[i]
		if a.Vertical != b.Vertical {
			diffs = append(diffs, fmt.Sprintf("rank %d: stored %s, recomputed %s", i+1, a.Vertical, b.Vertical))
			continue
		}
		fields := []struct {
			name string
			a, b float64
		}{
			{"raw_score", a.RawScore, b.RawScore},
			{"weight", a.WeightApplied, b.WeightApplied},
			{"event_boost", a.EventBoostApplied, b.EventBoostApplied},
			{"trend_adjustment", a.TrendAdjustmentApplied, b.TrendAdjustmentApplied},
			{"final_score", a.FinalScore, b.FinalScore},
		}
		for _, f := range fields {
			if math.Abs(f.a-f.b) > scoreTolerance {
				diffs = append(diffs, fmt.Sprintf("%s %s: stored %v, recomputed %v", a.Vertical, f.name, f.a, f.b))
			}
		}
		if a.Rank != b.Rank {
			diffs = append(diffs, fmt.Sprintf("%s rank: stored %d, recomputed %d", a.Vertical, a.Rank, b.Rank))
		}
	}
	return diffs
}
