// Package reconciler repairs state the happy path can leave behind.
//
// Each cycle it:
//   - re-emits Approved suggestions that never reached the publisher (bus
//     overflow, crash between approval and delivery)
//   - expires suggestions that sat in review past the review timeout
//   - fails Running runs whose process died, releasing the run-lock
//
// Re-emits are safe: the publisher skips terminal suggestions and channels
// that already delivered.
package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

type Store interface {
	ListSuggestions(ctx context.Context, f domain.SuggestionFilter) ([]domain.Suggestion, error)
	ListStaleRuns(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Run, error)
	FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, failures []domain.SourceID, reason string, at time.Time) error
}

// EventEmitter defines the interface for emitting publish requests.
type EventEmitter interface {
	Emit(ctx context.Context, req domain.PublishRequest) error
}

// Expirer moves a suggestion that waited too long for review to Rejected.
type Expirer interface {
	Expire(ctx context.Context, id uuid.UUID) (domain.Suggestion, error)
}

// MetricsSink defines the interface for recording reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	OrphanedApprovalsUpdate(count int)
	StaleRunsFailed(count int)
	SuggestionsExpired(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// OrphanThreshold is how long a suggestion may stay Approved before it
	// is re-emitted.
	// Default: 10 minutes.
	OrphanThreshold time.Duration

	// ReviewTimeout expires Generated and Edited suggestions. Zero disables.
	ReviewTimeout time.Duration

	// RunStaleAfter fails Running runs started earlier than this. Zero disables.
	RunStaleAfter time.Duration

	// BatchSize is the maximum number of items per category per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Minute,
		OrphanThreshold: 10 * time.Minute,
		ReviewTimeout:   72 * time.Hour,
		RunStaleAfter:   2 * time.Hour,
		BatchSize:       100,
	}
}

type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter
	expirer Expirer     // optional, nil = review timeouts disabled
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, emitter EventEmitter) *Reconciler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.OrphanThreshold <= 0 {
		config.OrphanThreshold = def.OrphanThreshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithExpirer enables review timeouts.
func (r *Reconciler) WithExpirer(e Expirer) *Reconciler {
	r.expirer = e
	return r
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// WithClock overrides the time source.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", r.config.Interval).
		Dur("orphan_threshold", r.config.OrphanThreshold).
		Dur("review_timeout", r.config.ReviewTimeout).
		Dur("run_stale_after", r.config.RunStaleAfter).
		Int("batch", r.config.BatchSize).
		Msg("reconciler: started")

	// Run immediately on startup, then on ticker
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reconciliation pass. Stale runs go first so a dead
// run stops holding the lock as early as possible.
func (r *Reconciler) RunCycle(ctx context.Context) {
	now := r.clock().UTC()
	r.failStaleRuns(ctx, now)
	r.expireReviews(ctx, now)
	r.reemitOrphans(ctx, now)
}

func (r *Reconciler) failStaleRuns(ctx context.Context, now time.Time) {
	if r.config.RunStaleAfter <= 0 {
		return
	}
	runs, err := r.store.ListStaleRuns(ctx, now.Add(-r.config.RunStaleAfter), r.config.BatchSize)
	if err != nil {
		// DB error: log and skip. Will retry next interval.
		log.Error().Err(err).Msg("reconciler: failed to fetch stale runs")
		return
	}

	failed := 0
	for _, run := range runs {
		if ctx.Err() != nil {
			return
		}
		if err := r.store.FinishRun(ctx, run.ID, domain.RunFailed, run.SourceFailures, domain.ReasonAbandoned, now); err != nil {
			log.Error().Err(err).Str("run_id", run.ID.String()).Msg("reconciler: failed to mark run abandoned")
			continue
		}
		log.Warn().
			Str("run_id", run.ID.String()).
			Time("scheduled_for", run.ScheduledFor).
			Dur("age", now.Sub(run.StartedAt).Round(time.Second)).
			Msg("reconciler: stale run marked failed")
		failed++
	}
	if failed > 0 && r.metrics != nil {
		r.metrics.StaleRunsFailed(failed)
	}
}

func (r *Reconciler) expireReviews(ctx context.Context, now time.Time) {
	if r.expirer == nil || r.config.ReviewTimeout <= 0 {
		return
	}
	pending, err := r.store.ListSuggestions(ctx, domain.SuggestionFilter{
		States:        []domain.SuggestionState{domain.SuggestionGenerated, domain.SuggestionEdited},
		UpdatedBefore: now.Add(-r.config.ReviewTimeout),
		Limit:         r.config.BatchSize,
	})
	if err != nil {
		log.Error().Err(err).Msg("reconciler: failed to fetch pending reviews")
		return
	}

	expired := 0
	for _, sg := range pending {
		if ctx.Err() != nil {
			return
		}
		// A reviewer acting concurrently wins; the expiry then fails as an
		// invalid transition and is dropped.
		if _, err := r.expirer.Expire(ctx, sg.ID); err != nil {
			log.Debug().Err(err).Str("suggestion_id", sg.ID.String()).Msg("reconciler: expiry skipped")
			continue
		}
		expired++
	}
	if expired > 0 {
		log.Info().Int("expired", expired).Msg("reconciler: review timeouts applied")
		if r.metrics != nil {
			r.metrics.SuggestionsExpired(expired)
		}
	}
}

func (r *Reconciler) reemitOrphans(ctx context.Context, now time.Time) {
	orphans, err := r.store.ListSuggestions(ctx, domain.SuggestionFilter{
		States:        []domain.SuggestionState{domain.SuggestionApproved},
		UpdatedBefore: now.Add(-r.config.OrphanThreshold),
		Limit:         r.config.BatchSize,
	})
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Error().Err(err).Msg("reconciler: failed to fetch orphans")
		return
	}
	if r.metrics != nil {
		r.metrics.OrphanedApprovalsUpdate(len(orphans))
	}
	if len(orphans) == 0 {
		return
	}

	log.Info().Int("count", len(orphans)).Msg("reconciler: found orphaned approvals")

	emitted, failed := 0, 0
	for _, sg := range orphans {
		// Check context before each emit to allow graceful shutdown
		if ctx.Err() != nil {
			log.Info().Int("processed", emitted+failed).Int("total", len(orphans)).Msg("reconciler: cycle interrupted")
			return
		}

		err := r.emitter.Emit(ctx, domain.PublishRequest{SuggestionID: sg.ID, RequestedAt: now})
		if err != nil {
			// Emit failed (buffer full, context cancelled).
			// Log and continue - will retry next cycle.
			log.Warn().Err(err).Str("suggestion_id", sg.ID.String()).Msg("reconciler: failed to re-emit")
			failed++
			continue
		}

		log.Info().
			Str("suggestion_id", sg.ID.String()).
			Str("vertical", sg.Vertical).
			Dur("age", now.Sub(sg.UpdatedAt).Round(time.Second)).
			Msg("reconciler: re-emitted approved suggestion")
		emitted++
	}

	log.Info().Int("re_emitted", emitted).Int("failed", failed).Msg("reconciler: cycle complete")
}
