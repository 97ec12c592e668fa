package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/analytics"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/api"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/circuitbreaker"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/config"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/cron"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/generator"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/leaderelection"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/metrics"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/normalize"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/pipeline"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/publisher"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/reconciler"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/review"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/scheduler"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/scoring"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/source"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/store/memory"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/store/postgres"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/transport/channel"
)

// analyticsRetention is how long daily delivery counters are kept in Redis.
const analyticsRetention = 90 * 24 * time.Hour

// appStore is everything the components need from persistence.
type appStore interface {
	pipeline.Store
	generator.Store
	review.Store
	publisher.Store
	reconciler.Store
	scheduler.Store
	api.Store
}

var (
	_ appStore = (*memory.Store)(nil)
	_ appStore = (*postgres.Store)(nil)
)

// sink is the union of the component metrics interfaces.
type sink interface {
	scheduler.MetricsSink
	pipeline.MetricsSink
	publisher.MetricsSink
	reconciler.MetricsSink
	channel.MetricsSink
	leaderelection.MetricsSink
}

var (
	_ sink = (*metrics.PrometheusSink)(nil)
	_ sink = (*metrics.NoopSink)(nil)
)

// app holds the wired components shared by the serve, run and audit commands.
type app struct {
	cfg     config.Config
	db      *sql.DB // nil with the memory store
	store   appStore
	metrics sink

	bus       *channel.EventBus
	runner    *pipeline.Runner
	reviewer  *review.Service
	publisher *publisher.Publisher

	redis *redis.Client        // nil = analytics disabled
	stats *analytics.RedisSink // nil = analytics disabled
}

func newApp(ctx context.Context, cfg config.Config, m sink) (*app, error) {
	a := &app{cfg: cfg, metrics: m}

	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
		if err != nil {
			return nil, err
		}
		pg := postgres.New(db)
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.db, a.store = db, pg
		log.Info().Int("max_open", cfg.DBMaxOpenConns).Int("max_idle", cfg.DBMaxIdleConns).Msg("sandesh: postgres store ready")
	} else {
		a.store = memory.New()
		log.Info().Msg("sandesh: DATABASE_URL not set; using in-memory store")
	}

	runner, err := buildRunner(cfg, a.store)
	if err != nil {
		a.close()
		return nil, err
	}
	a.runner = runner.WithMetrics(m)

	a.bus = channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(m))
	a.reviewer = review.New(a.store, a.bus)
	a.publisher = buildPublisher(cfg, a.store).WithMetrics(m)

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.stats = analytics.NewRedisSink(a.redis, domain.AnalyticsConfig{Enabled: true, Retention: analyticsRetention})
		a.publisher = a.publisher.WithAnalytics(a.stats)
		log.Info().Str("redis", cfg.RedisAddr).Msg("sandesh: analytics enabled")
	} else {
		log.Info().Msg("sandesh: REDIS_ADDR not set; analytics disabled")
	}
	return a, nil
}

func buildRunner(cfg config.Config, store appStore) (*pipeline.Runner, error) {
	var weights config.Weights
	if cfg.WeightsFile != "" {
		w, err := config.LoadWeights(cfg.WeightsFile)
		if err != nil {
			return nil, err
		}
		weights = w
	}

	sources, err := source.FromSettings(pipeline.SourceSettings(cfg))
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}

	return pipeline.New(
		pipeline.RunnerConfig(cfg),
		store,
		sources,
		normalize.New(pipeline.NormalizeConfig(cfg, weights)),
		scoring.New(pipeline.ScoringConfig(cfg, weights)),
		generator.New(pipeline.GeneratorConfig(cfg), store),
	), nil
}

func buildPublisher(cfg config.Config, store appStore) *publisher.Publisher {
	p := publisher.New(store, publisher.NewHTTPSender(&http.Client{}), publisher.Config{
		URL:         cfg.WebhookURL,
		Secret:      cfg.WebhookSecret,
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Rate:        cfg.PublishRate,
	})
	if cfg.CircuitBreakerThreshold > 0 {
		p = p.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	return p
}

func (a *app) scheduler() (*scheduler.Scheduler, error) {
	schedule, err := cron.NewParser().Daily(a.cfg.DailyTriggerTime, a.cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return scheduler.New(
		scheduler.Config{TickInterval: a.cfg.TickInterval, MissedRunPolicy: a.cfg.MissedRunPolicy},
		schedule,
		a.runner,
		a.store,
	).WithMetrics(a.metrics), nil
}

func (a *app) reconciler() *reconciler.Reconciler {
	return reconciler.New(reconcilerConfig(a.cfg), a.store, a.bus).
		WithExpirer(a.reviewer).
		WithMetrics(a.metrics)
}

// reconcilerConfig re-emits approvals that have waited two reconcile
// intervals, so a request still sitting in the bus is not duplicated.
func reconcilerConfig(cfg config.Config) reconciler.Config {
	return reconciler.Config{
		Interval:        cfg.ReconcileInterval,
		OrphanThreshold: 2 * cfg.ReconcileInterval,
		ReviewTimeout:   cfg.ReviewTimeout,
		RunStaleAfter:   cfg.RunStaleAfter,
		BatchSize:       cfg.ReconcileBatchSize,
	}
}

func (a *app) handler() *api.Handler {
	h := api.NewHandler(a.store, a.reviewer, a.runner)
	if a.db != nil {
		h = h.WithHealthChecker(a.db)
	}
	if a.stats != nil {
		h = h.WithAnalytics(a.stats)
	}
	return h
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("sandesh: redis close")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("sandesh: database close")
		}
	}
}
