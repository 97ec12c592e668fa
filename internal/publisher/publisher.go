// Package publisher delivers approved suggestions to the configured webhook,
// one POST per (suggestion, channel), with bounded retries.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/metrics"
)

const (
	DefaultMaxAttempts = 5
	DefaultWorkers     = 4
)

// DrainTimeout is the maximum time to wait for buffered requests during shutdown.
const DrainTimeout = 30 * time.Second

// ErrNoWebhookURL is returned when publishing without a configured URL.
var ErrNoWebhookURL = errors.New("no webhook URL configured")

type Store interface {
	GetSuggestion(ctx context.Context, id uuid.UUID) (domain.Suggestion, error)
	UpdateSuggestion(ctx context.Context, s domain.Suggestion, expectedVersion int) error
	// InsertDeliveryAttempt MUST reject a second Success for the same
	// (suggestion, channel) with domain.ErrDuplicateDelivery.
	InsertDeliveryAttempt(ctx context.Context, a domain.DeliveryAttempt) error
	HasSuccessfulDelivery(ctx context.Context, suggestionID uuid.UUID, ch domain.Channel) (bool, error)
	ListDeliveryAttempts(ctx context.Context, suggestionID uuid.UUID) ([]domain.DeliveryAttempt, error)
}

type Sender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

// Breaker guards the webhook destination. *circuitbreaker.CircuitBreaker
// satisfies it.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// AnalyticsSink counts final per-channel outcomes. Implementations handle
// their own errors.
type AnalyticsSink interface {
	Record(ctx context.Context, stat domain.DeliveryStat)
}

// MetricsSink defines the interface for recording publisher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(channel, statusClass string, duration time.Duration)
	DeliveryOutcome(channel, outcome string)
	RetryAttempt(retryable bool)
	PublishFinished(state string)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Rate is deliveries per second across all workers; 0 disables throttling.
	Rate    float64
	Workers int
}

// Report summarizes one Publish call.
type Report struct {
	SuggestionID uuid.UUID
	State        domain.SuggestionState
	Attempts     []domain.DeliveryAttempt
	// Skipped lists channels already delivered before this call.
	Skipped []domain.Channel
}

type Publisher struct {
	store     Store
	sender    Sender
	cfg       Config
	backoff   *Backoff
	limiter   *rate.Limiter
	breaker   Breaker       // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	locks keyedMutex
}

func New(store Store, sender Sender, cfg Config) *Publisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := int(cfg.Rate)
	if burst < 1 {
		burst = 1
	}
	return &Publisher{
		store:   store,
		sender:  sender,
		cfg:     cfg,
		backoff: NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
		limiter: rate.NewLimiter(limit, burst),
		clock:   time.Now,
		sleep:   sleepContext,
	}
}

func (p *Publisher) WithBreaker(b Breaker) *Publisher {
	p.breaker = b
	return p
}

func (p *Publisher) WithAnalytics(sink AnalyticsSink) *Publisher {
	p.analytics = sink
	return p
}

// WithMetrics attaches a metrics sink to the publisher.
func (p *Publisher) WithMetrics(sink MetricsSink) *Publisher {
	p.metrics = sink
	return p
}

// WithClock overrides the time source used for attempt timestamps.
func (p *Publisher) WithClock(clock func() time.Time) *Publisher {
	p.clock = clock
	return p
}

// WithSleep overrides the backoff wait, mainly for tests.
func (p *Publisher) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Publisher {
	p.sleep = sleep
	return p
}

// Run processes requests with cfg.Workers goroutines until ctx is cancelled,
// then drains the remaining buffered requests.
func (p *Publisher) Run(ctx context.Context, ch <-chan domain.PublishRequest) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		leftover []domain.PublishRequest
	)
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case req := <-ch:
					// Received in the same instant as shutdown: hand it to drain.
					if ctx.Err() != nil {
						mu.Lock()
						leftover = append(leftover, req)
						mu.Unlock()
						return
					}
					p.handle(ctx, req)
				}
			}
		}()
	}
	wg.Wait()
	p.drain(leftover, ch)
}

// drain processes remaining requests in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (p *Publisher) drain(pending []domain.PublishRequest, ch <-chan domain.PublishRequest) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for _, req := range pending {
		p.handle(drainCtx, req)
		count++
	}
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Warn().Int("processed", count).Msg("publisher: drain timeout")
			}
			return
		case req, ok := <-ch:
			if !ok {
				log.Info().Int("processed", count).Msg("publisher: drain complete")
				return
			}
			p.handle(drainCtx, req)
			count++
		default:
			if count > 0 {
				log.Info().Int("processed", count).Msg("publisher: drain complete")
			}
			return
		}
	}
}

func (p *Publisher) handle(ctx context.Context, req domain.PublishRequest) {
	if _, err := p.Publish(ctx, req.SuggestionID); err != nil {
		log.Error().Err(err).Str("suggestion_id", req.SuggestionID.String()).Msg("publisher: publish failed")
	}
}

// Publish delivers an Approved suggestion to every channel it lists that has
// no Success yet, then moves it to Published (all channels succeeded) or
// Failed. Already terminal suggestions are a no-op. If ctx ends mid-delivery
// the suggestion stays Approved so the reconciler can re-emit it.
func (p *Publisher) Publish(ctx context.Context, id uuid.UUID) (Report, error) {
	if p.metrics != nil {
		p.metrics.EventsInFlightIncr()
		defer p.metrics.EventsInFlightDecr()
	}

	unlock := p.locks.lock(id)
	defer unlock()

	report := Report{SuggestionID: id}

	sg, err := p.store.GetSuggestion(ctx, id)
	if err != nil {
		return report, fmt.Errorf("get suggestion: %w", err)
	}
	report.State = sg.State

	switch sg.State {
	case domain.SuggestionPublished, domain.SuggestionFailed:
		log.Debug().Str("suggestion_id", id.String()).Str("state", string(sg.State)).Msg("publisher: already terminal, skipping")
		return report, nil
	case domain.SuggestionApproved:
	default:
		return report, &domain.InvalidTransitionError{
			SuggestionID: id,
			From:         sg.State,
			Action:       domain.ActionPublishSuccess,
			Reason:       "suggestion is not approved",
		}
	}

	if p.cfg.URL == "" {
		return report, ErrNoWebhookURL
	}

	if len(sg.Channels) == 0 {
		derr := &domain.DeliveryError{SuggestionID: id, Outcome: domain.OutcomeFatal, Err: errors.New("no enabled channels")}
		return p.finish(ctx, sg, report, derr)
	}

	prior, err := p.store.ListDeliveryAttempts(ctx, id)
	if err != nil {
		return report, fmt.Errorf("list delivery attempts: %w", err)
	}

	var failure *domain.DeliveryError
	for _, ch := range sg.Channels {
		done, err := p.store.HasSuccessfulDelivery(ctx, id, ch)
		if err != nil {
			return report, fmt.Errorf("check delivery %s: %w", ch, err)
		}
		if done {
			report.Skipped = append(report.Skipped, ch)
			continue
		}

		attempts, derr, err := p.deliver(ctx, sg, ch, lastAttempt(prior, ch))
		report.Attempts = append(report.Attempts, attempts...)
		if err != nil {
			log.Warn().Err(err).Str("suggestion_id", id.String()).Str("channel", string(ch)).Msg("publisher: interrupted, leaving suggestion approved")
			return report, err
		}
		if derr != nil && failure == nil {
			failure = derr
		}
	}

	return p.finish(ctx, sg, report, failure)
}

// deliver runs the retry loop for one channel. MaxAttempts bounds the
// channel's attempts across every call: last is the newest attempt logged by
// an earlier call, and the loop resumes after it. A channel whose budget is
// spent, or whose last attempt was Fatal, fails without sending. A non-nil
// error means the loop was interrupted before reaching an outcome.
func (p *Publisher) deliver(ctx context.Context, sg domain.Suggestion, ch domain.Channel, last *domain.DeliveryAttempt) ([]domain.DeliveryAttempt, *domain.DeliveryError, error) {
	logger := log.With().Str("suggestion_id", sg.ID.String()).Str("channel", string(ch)).Logger()

	first := 1
	if last != nil {
		first = last.AttemptNo + 1
		if last.Outcome == domain.OutcomeFatal || last.AttemptNo >= p.cfg.MaxAttempts {
			logger.Warn().Int("attempts", last.AttemptNo).Str("outcome", string(last.Outcome)).Msg("publisher: no attempts left")
			p.recordOutcome(ctx, sg, ch, last.Outcome)
			return nil, &domain.DeliveryError{
				SuggestionID: sg.ID,
				Channel:      ch,
				Outcome:      last.Outcome,
				StatusCode:   last.HTTPStatus,
				Err:          fmt.Errorf("%d attempts already made", last.AttemptNo),
			}, nil
		}
		logger.Info().Int("attempt", first).Msg("publisher: resuming delivery")
	}

	req := WebhookRequest{
		URL:     p.cfg.URL,
		Secret:  p.cfg.Secret,
		Timeout: p.cfg.Timeout,
		Payload: NewPayload(sg, ch),
	}

	var (
		attempts   []domain.DeliveryAttempt
		lastResult WebhookResult
	)
	for attempt := first; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > first {
			if p.metrics != nil {
				p.metrics.RetryAttempt(lastResult.IsRetryable())
			}
			delay := p.backoff.Delay(attempt - 1)
			logger.Debug().Int("attempt", attempt).Dur("backoff", delay).Msg("publisher: retrying")
			if err := p.sleep(ctx, delay); err != nil {
				return attempts, nil, err
			}
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return attempts, nil, fmt.Errorf("rate limit wait: %w", err)
		}

		attemptID := uuid.New()
		req.AttemptID = attemptID.String()

		sentAt := p.clock().UTC()
		result := p.send(ctx, req)
		finishedAt := p.clock().UTC()
		lastResult = result

		if p.metrics != nil {
			p.metrics.DeliveryAttemptCompleted(string(ch), metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		record := domain.DeliveryAttempt{
			ID:           attemptID,
			SuggestionID: sg.ID,
			Channel:      ch,
			AttemptNo:    attempt,
			HTTPStatus:   result.StatusCode,
			Outcome:      result.Outcome(),
			SentAt:       sentAt,
			FinishedAt:   finishedAt,
		}
		if result.Error != nil {
			record.Error = result.Error.Error()
		}

		if err := p.store.InsertDeliveryAttempt(ctx, record); err != nil {
			if errors.Is(err, domain.ErrDuplicateDelivery) {
				logger.Info().Msg("publisher: channel already delivered")
				return attempts, nil, nil
			}
			logger.Error().Err(err).Msg("publisher: failed to record attempt")
		}
		attempts = append(attempts, record)

		if result.IsSuccess() {
			logger.Info().Int("attempt", record.AttemptNo).Msg("publisher: delivered")
			p.recordOutcome(ctx, sg, ch, domain.OutcomeSuccess)
			return attempts, nil, nil
		}

		if !result.IsRetryable() {
			logger.Warn().Int("status", result.StatusCode).Msg("publisher: non-retryable status")
			break
		}

		logger.Warn().Err(result.Error).Int("attempt", record.AttemptNo).Int("status", result.StatusCode).Msg("publisher: attempt failed")
	}

	outcome := lastResult.Outcome()
	if outcome == domain.OutcomeSuccess {
		outcome = domain.OutcomeFatal
	}
	p.recordOutcome(ctx, sg, ch, outcome)
	return attempts, &domain.DeliveryError{
		SuggestionID: sg.ID,
		Channel:      ch,
		Outcome:      outcome,
		StatusCode:   lastResult.StatusCode,
		Err:          lastResult.Error,
	}, nil
}

// send consults the breaker before calling the sender. An open breaker
// counts as a retryable attempt. Fatal responses do not trip the breaker.
func (p *Publisher) send(ctx context.Context, req WebhookRequest) WebhookResult {
	if p.breaker == nil {
		return p.sender.Send(ctx, req)
	}
	if err := p.breaker.Allow(req.URL); err != nil {
		return WebhookResult{Error: err}
	}
	result := p.sender.Send(ctx, req)
	switch {
	case result.IsSuccess():
		p.breaker.RecordSuccess(req.URL)
	case result.IsRetryable():
		p.breaker.RecordFailure(req.URL)
	}
	return result
}

// finish applies publish_success or publish_failure. failure nil means every
// channel succeeded.
func (p *Publisher) finish(ctx context.Context, sg domain.Suggestion, report Report, failure *domain.DeliveryError) (Report, error) {
	action := domain.ActionPublishSuccess
	if failure != nil {
		action = domain.ActionPublishFailure
	}

	next, err := sg.Apply(action, p.clock().UTC())
	if err != nil {
		return report, err
	}
	if failure != nil {
		next.FailReason = failure.Error()
	}
	next.Version = sg.Version + 1

	if err := p.store.UpdateSuggestion(ctx, next, sg.Version); err != nil {
		if errors.Is(err, domain.ErrStaleVersion) {
			log.Warn().Str("suggestion_id", sg.ID.String()).Msg("publisher: suggestion changed concurrently, skipping state update")
			return report, nil
		}
		return report, fmt.Errorf("update suggestion %s: %w", sg.ID, err)
	}
	report.State = next.State

	if p.metrics != nil {
		p.metrics.PublishFinished(string(next.State))
	}

	if failure != nil {
		log.Error().
			Err(failure).
			Str("suggestion_id", sg.ID.String()).
			Str("vertical", sg.Vertical).
			Msg("publisher: suggestion failed, operator attention required")
		return report, failure
	}

	log.Info().Str("suggestion_id", sg.ID.String()).Str("vertical", sg.Vertical).Msg("publisher: suggestion published")
	return report, nil
}

func (p *Publisher) recordOutcome(ctx context.Context, sg domain.Suggestion, ch domain.Channel, outcome domain.DeliveryOutcome) {
	if p.metrics != nil {
		p.metrics.DeliveryOutcome(string(ch), string(outcome))
	}
	if p.analytics != nil {
		p.analytics.Record(ctx, domain.DeliveryStat{
			Vertical: sg.Vertical,
			Channel:  ch,
			Outcome:  outcome,
			At:       p.clock().UTC(),
		})
	}
}

// lastAttempt returns the highest-numbered attempt logged for ch, or nil.
func lastAttempt(attempts []domain.DeliveryAttempt, ch domain.Channel) *domain.DeliveryAttempt {
	var last *domain.DeliveryAttempt
	for i := range attempts {
		if attempts[i].Channel == ch && (last == nil || attempts[i].AttemptNo > last.AttemptNo) {
			last = &attempts[i]
		}
	}
	return last
}

// keyedMutex serializes work per suggestion ID.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id uuid.UUID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uuid.UUID]*refLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
