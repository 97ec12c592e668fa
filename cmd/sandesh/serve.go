package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/config"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/leaderelection"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/metrics"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler, publisher, reconciler and review API",
		Long: `Start the long-running service.

With DATABASE_URL set, state lives in Postgres and replicas elect a single
leader (advisory lock SANDESH_LEADER_LOCK_KEY) to run the scheduler and the
reconciler. Without it, an in-memory store is used and this process is the
only instance.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logConfigWarnings(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// leaderDuties runs the scheduler and reconciler and stops them as a unit.
type leaderDuties struct {
	app *app

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (d *leaderDuties) start(ctx context.Context) {
	sched, err := d.app.scheduler()
	if err != nil {
		log.Error().Err(err).Msg("sandesh: scheduler not started")
		return
	}
	recon := d.app.reconciler()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sandesh: scheduler exited")
		}
	}()
	go func() {
		defer d.wg.Done()
		recon.Run(ctx)
	}()
	log.Info().Msg("sandesh: leader duties started")
}

// stop is idempotent and blocks until both loops have returned.
func (d *leaderDuties) stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	log.Info().Msg("sandesh: leader duties stopped")
}

func serve(ctx context.Context, cfg config.Config) error {
	var (
		m             sink = metrics.NewNoopSink()
		metricsServer *http.Server
	)
	if cfg.MetricsAddr != "" {
		m = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)

		// Start metrics HTTP server on separate port
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("sandesh: metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("sandesh: metrics server error")
			}
		}()
	}

	a, err := newApp(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer a.close()

	// Publisher gets its own context so it can drain after everything else stops.
	publisherCtx, cancelPublisher := context.WithCancel(context.Background())
	var publisherWg sync.WaitGroup
	publisherWg.Add(1)
	go func() {
		defer publisherWg.Done()
		a.publisher.Run(publisherCtx, a.bus.Channel())
	}()

	duties := &leaderDuties{app: a}
	handler := a.handler()

	var electorWg sync.WaitGroup
	electorCtx, cancelElector := context.WithCancel(context.Background())
	if a.db != nil {
		elector := leaderelection.New(
			a.db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			duties.start,
			duties.stop,
		).WithMetrics(m)
		handler = handler.WithLeaderStatus(elector.IsLeader)

		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
	} else {
		duties.start(electorCtx)
	}

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("sandesh: http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("sandesh: http server error")
		}
	}()

	log.Info().
		Str("trigger", cfg.DailyTriggerTime).
		Str("timezone", cfg.Timezone).
		Str("http", cfg.HTTPAddr).
		Msg("sandesh: started")

	<-ctx.Done()
	log.Info().Msg("sandesh: shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	// Phase 1: stop scheduling, reconciling and leadership
	cancelElector()
	electorWg.Wait()
	duties.stop()

	// Phase 2: stop accepting review actions
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("sandesh: http server shutdown error")
	}
	log.Info().Msg("sandesh: http server stopped")

	// Phase 3: let in-flight runs finish, cancelling them at the deadline
	if err := a.runner.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("sandesh: runs cancelled at shutdown")
	}

	// Phase 4: stop publisher (will drain buffered requests before returning)
	log.Info().Msg("sandesh: stopping publisher (draining requests)...")
	cancelPublisher()
	publisherWg.Wait()
	log.Info().Msg("sandesh: publisher stopped")

	// Phase 5: stop metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("sandesh: metrics server shutdown error")
		}
	}

	log.Info().Msg("sandesh: stopped")
	return nil
}
