package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal       prometheus.Counter
	tickErrorsTotal  prometheus.Counter
	runsStartedTotal prometheus.Counter
	runsSkippedTotal *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	tickDrift        prometheus.Histogram

	// Pipeline metrics
	runsFinishedTotal   *prometheus.CounterVec
	runDuration         prometheus.Histogram
	sourceFetchesTotal  *prometheus.CounterVec
	sourceRecordsTotal  *prometheus.CounterVec
	sourceFetchDuration *prometheus.HistogramVec
	recordsDroppedTotal *prometheus.CounterVec
	finalScore          prometheus.Histogram
	suggestionsTotal    prometheus.Counter
	cooldownSkipsTotal  prometheus.Counter

	// Publisher metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec
	publishesTotal        *prometheus.CounterVec
	eventsInFlight        prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Reconciler metrics
	orphanedApprovals prometheus.Gauge
	staleRunsTotal    prometheus.Counter
	expiredTotal      prometheus.Counter

	// Leader election metrics
	isLeader            prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initPipelineMetrics(reg)
	s.initPublisherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.runsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_scheduler_runs_started_total",
		Help: "Total number of runs started by the scheduler.",
	})
	s.runsSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_scheduler_runs_skipped_total",
		Help: "Total number of due slots that did not start a run.",
	}, []string{"reason"})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandesh_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandesh_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "sandesh_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "sandesh_scheduler_tick_errors_total")
	s.register(reg, s.runsStartedTotal, "sandesh_scheduler_runs_started_total")
	s.register(reg, s.runsSkippedTotal, "sandesh_scheduler_runs_skipped_total")
	s.register(reg, s.tickDuration, "sandesh_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "sandesh_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.runsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_pipeline_runs_finished_total",
		Help: "Total number of runs by final status.",
	}, []string{"status"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandesh_pipeline_run_duration_seconds",
		Help:    "Wall time of a run from lock to final status.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
	s.sourceFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_pipeline_source_fetches_total",
		Help: "Total number of signal source fetches by result.",
	}, []string{"source", "result"})
	s.sourceRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_pipeline_source_records_total",
		Help: "Total number of raw records returned per source.",
	}, []string{"source"})
	s.sourceFetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sandesh_pipeline_source_fetch_duration_seconds",
		Help:    "Signal source fetch latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"source"})
	s.recordsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_pipeline_records_dropped_total",
		Help: "Total number of raw records dropped by validation.",
	}, []string{"source"})
	s.finalScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandesh_scoring_final_score",
		Help:    "Distribution of candidate final scores.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})
	s.suggestionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_generator_suggestions_total",
		Help: "Total number of suggestions generated.",
	})
	s.cooldownSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_generator_cooldown_skips_total",
		Help: "Total number of candidates skipped by the cooldown rule.",
	})

	s.register(reg, s.runsFinishedTotal, "sandesh_pipeline_runs_finished_total")
	s.register(reg, s.runDuration, "sandesh_pipeline_run_duration_seconds")
	s.register(reg, s.sourceFetchesTotal, "sandesh_pipeline_source_fetches_total")
	s.register(reg, s.sourceRecordsTotal, "sandesh_pipeline_source_records_total")
	s.register(reg, s.sourceFetchDuration, "sandesh_pipeline_source_fetch_duration_seconds")
	s.register(reg, s.recordsDroppedTotal, "sandesh_pipeline_records_dropped_total")
	s.register(reg, s.finalScore, "sandesh_scoring_final_score")
	s.register(reg, s.suggestionsTotal, "sandesh_generator_suggestions_total")
	s.register(reg, s.cooldownSkipsTotal, "sandesh_generator_cooldown_skips_total")
}

func (s *PrometheusSink) initPublisherMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_publisher_delivery_attempts_total",
		Help: "Total number of webhook delivery attempts.",
	}, []string{"channel", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_publisher_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes per channel.",
	}, []string{"channel", "outcome"})

	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandesh_publisher_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_publisher_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.publishesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_publisher_suggestions_total",
		Help: "Total number of suggestions reaching Published or Failed.",
	}, []string{"state"})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandesh_publisher_events_in_flight",
		Help: "Number of publish requests currently being processed.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "sandesh_publisher_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "sandesh_publisher_delivery_outcomes_total")
	s.register(reg, s.webhookDuration, "sandesh_publisher_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "sandesh_publisher_retry_attempts_total")
	s.register(reg, s.publishesTotal, "sandesh_publisher_suggestions_total")
	s.register(reg, s.eventsInFlight, "sandesh_publisher_events_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandesh_eventbus_buffer_size",
		Help: "Current number of requests in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandesh_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandesh_eventbus_buffer_saturation",
		Help: "Fraction of the event bus buffer in use.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full or cancelled).",
	})

	s.register(reg, s.bufferSize, "sandesh_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "sandesh_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "sandesh_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "sandesh_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.orphanedApprovals = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandesh_reconciler_orphaned_approvals",
		Help: "Approved suggestions found without a publish in the last cycle.",
	})
	s.staleRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_reconciler_stale_runs_failed_total",
		Help: "Total number of abandoned runs failed by the reconciler.",
	})
	s.expiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_reconciler_suggestions_expired_total",
		Help: "Total number of suggestions rejected for review timeout.",
	})

	s.register(reg, s.orphanedApprovals, "sandesh_reconciler_orphaned_approvals")
	s.register(reg, s.staleRunsTotal, "sandesh_reconciler_stale_runs_failed_total")
	s.register(reg, s.expiredTotal, "sandesh_reconciler_suggestions_expired_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandesh_leader_is_leader",
		Help: "1 when this instance holds the leader lock.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandesh_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sandesh_leader_lost_total",
		Help: "Total number of times leadership was lost.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "sandesh_leader_is_leader")
	s.register(reg, s.leaderAcquiredTotal, "sandesh_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "sandesh_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("metrics: failed to register")
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, runsStarted int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.runsStartedTotal.Add(float64(runsStarted))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) RunSkipped(reason string) {
	s.runsSkippedTotal.WithLabelValues(reason).Inc()
}

// Pipeline metrics implementation

func (s *PrometheusSink) RunFinished(status string, duration time.Duration) {
	s.runsFinishedTotal.WithLabelValues(status).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) SourceFetched(source string, records int, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "unavailable"
	}
	s.sourceFetchesTotal.WithLabelValues(source, result).Inc()
	s.sourceRecordsTotal.WithLabelValues(source).Add(float64(records))
	s.sourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

func (s *PrometheusSink) RecordsDropped(source string, count int) {
	s.recordsDroppedTotal.WithLabelValues(source).Add(float64(count))
}

func (s *PrometheusSink) CandidateScored(finalScore float64) {
	s.finalScore.Observe(finalScore)
}

func (s *PrometheusSink) SuggestionsGenerated(count, cooldownSkips int) {
	s.suggestionsTotal.Add(float64(count))
	s.cooldownSkipsTotal.Add(float64(cooldownSkips))
}

// Publisher metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(channel, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(channel, statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(channel, outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(channel, outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	label := "false"
	if retryable {
		label = "true"
	}
	s.retryAttemptsTotal.WithLabelValues(label).Inc()
}

func (s *PrometheusSink) PublishFinished(state string) {
	s.publishesTotal.WithLabelValues(state).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) OrphanedApprovalsUpdate(count int) {
	s.orphanedApprovals.Set(float64(count))
}

func (s *PrometheusSink) StaleRunsFailed(count int) {
	s.staleRunsTotal.Add(float64(count))
}

func (s *PrometheusSink) SuggestionsExpired(count int) {
	s.expiredTotal.Add(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
