package config

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/cron"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	keys := make([]string, 0, len(cfg.raw))
	for k := range cfg.raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, "invalid value %q", cfg.raw[k])
	}

	if _, err := cron.DailyExpression(cfg.DailyTriggerTime); err != nil {
		add("SANDESH_DAILY_TRIGGER_TIME", "%v", err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		add("SANDESH_TIMEZONE", "unknown timezone %q", cfg.Timezone)
	}
	if cfg.MissedRunPolicy != "skip" && cfg.MissedRunPolicy != "catch_up" {
		add("SANDESH_MISSED_RUN_POLICY", "must be 'skip' or 'catch_up', got %q", cfg.MissedRunPolicy)
	}
	if cfg.TickInterval <= 0 {
		add("SANDESH_TICK_INTERVAL", "must be positive")
	}

	if cfg.TopK <= 0 {
		add("SANDESH_TOP_K", "must be positive")
	}
	if cfg.CooldownDays < 0 {
		add("SANDESH_COOLDOWN_DAYS", "must not be negative")
	}
	if cfg.EventBoost < 0 {
		add("SANDESH_EVENT_BOOST", "must not be negative")
	}
	if cfg.EventBoostMax < 0 {
		add("SANDESH_EVENT_BOOST_MAX", "must not be negative")
	}
	if cfg.TrendAdjustmentMax < 0 {
		add("SANDESH_TREND_ADJUSTMENT_MAX", "must not be negative")
	}
	if cfg.ScoreMax <= 0 {
		add("SANDESH_SCORE_MAX", "must be positive")
	}
	if cfg.TrendSmoothingWindow <= 0 {
		add("SANDESH_TREND_SMOOTHING_WINDOW", "must be positive")
	}
	if cfg.SignalWindow <= 0 {
		add("SANDESH_SIGNAL_WINDOW", "must be positive")
	}
	if cfg.SourceTimeout <= 0 {
		add("SANDESH_SOURCE_TIMEOUT", "must be positive")
	}

	for _, s := range cfg.Sources {
		switch domain.SourceID(s) {
		case domain.SourceRevenue, domain.SourceEvents, domain.SourceTrends:
		default:
			add("SANDESH_SOURCES", "unknown source %q", s)
		}
	}
	if cfg.EventsFormat != "json" && cfg.EventsFormat != "html" {
		add("SANDESH_EVENTS_FORMAT", "must be 'json' or 'html', got %q", cfg.EventsFormat)
	}
	for field, raw := range map[string]string{
		"SANDESH_REVENUE_URL": cfg.RevenueURL,
		"SANDESH_EVENTS_URL":  cfg.EventsURL,
		"SANDESH_TRENDS_URL":  cfg.TrendsURL,
		"SANDESH_WEBHOOK_URL": cfg.WebhookURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add(field, "must be an absolute http(s) URL")
		}
	}
	if len(cfg.EnabledChannels) == 0 {
		add("SANDESH_ENABLED_CHANNELS", "at least one channel required")
	}
	for _, ch := range cfg.EnabledChannels {
		if !domain.Channel(ch).Valid() {
			add("SANDESH_ENABLED_CHANNELS", "unknown channel %q", ch)
		}
	}

	if cfg.RetryMaxAttempts <= 0 {
		add("SANDESH_RETRY_MAX_ATTEMPTS", "must be positive")
	}
	if cfg.RetryBaseDelay <= 0 || cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		add("SANDESH_RETRY_BASE_DELAY", "must be positive and not exceed SANDESH_RETRY_MAX_DELAY")
	}
	if cfg.WebhookTimeout <= 0 {
		add("SANDESH_WEBHOOK_TIMEOUT", "must be positive")
	}
	if cfg.PublishRate <= 0 {
		add("SANDESH_PUBLISH_RATE", "must be positive")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("SANDESH_CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if cfg.EventBusBufferSize <= 0 {
		add("SANDESH_EVENTBUS_BUFFER_SIZE", "must be positive")
	}
	if cfg.ReviewTimeout <= 0 {
		add("SANDESH_REVIEW_TIMEOUT", "must be positive")
	}
	if cfg.RunStaleAfter <= 0 {
		add("SANDESH_RUN_STALE_AFTER", "must be positive")
	}
	if cfg.ReconcileInterval <= 0 {
		add("SANDESH_RECONCILE_INTERVAL", "must be positive")
	}

	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		add("SANDESH_LOG_FORMAT", "must be 'console' or 'json', got %q", cfg.LogFormat)
	}

	if cfg.WeightsFile != "" {
		if _, err := LoadWeights(cfg.WeightsFile); err != nil {
			add("SANDESH_WEIGHTS_FILE", "%v", err)
		}
	}

	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return errs
	}
	return nil
}
