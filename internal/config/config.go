package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for sandesh.
// Values are loaded from environment variables (and an optional .env file);
// see the serve command help for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`
	MetricsAddr string `json:"metrics_addr,omitempty"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// DailyTriggerTime is HH:MM in Timezone.
	DailyTriggerTime string `json:"daily_trigger_time"`
	Timezone         string `json:"timezone"`
	// MissedRunPolicy: "skip" (default) or "catch_up".
	MissedRunPolicy string        `json:"missed_run_policy"`
	TickInterval    time.Duration `json:"-"`

	TopK         int `json:"top_k"`
	CooldownDays int `json:"cooldown_days"`

	EventBoost           float64       `json:"event_boost"`
	EventBoostMax        float64       `json:"event_boost_max"`
	EventHorizon         time.Duration `json:"-"`
	TrendSmoothingWindow time.Duration `json:"-"`
	TrendAdjustmentMax   float64       `json:"trend_adjustment_max"`
	ScoreMax             float64       `json:"score_max"`
	// WeightsFile is an optional YAML file with vertical weights and metric rules.
	WeightsFile string `json:"weights_file,omitempty"`

	SignalWindow  time.Duration `json:"-"`
	SourceTimeout time.Duration `json:"-"`
	Sources       []string      `json:"sources"`
	RevenueURL    string        `json:"revenue_url,omitempty"`
	EventsURL     string        `json:"events_url,omitempty"`
	EventsFormat  string        `json:"events_format"`
	TrendsURL     string        `json:"trends_url,omitempty"`
	Currency      string        `json:"currency"`

	WebhookURL       string        `json:"webhook_url"`
	WebhookSecret    string        `json:"-"`
	WebhookTimeout   time.Duration `json:"-"`
	RetryMaxAttempts int           `json:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `json:"-"`
	RetryMaxDelay    time.Duration `json:"-"`
	PublishRate      float64       `json:"publish_rate"`
	EnabledChannels  []string      `json:"enabled_channels"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `json:"-"`
	EventBusBufferSize      int           `json:"eventbus_buffer_size"`

	ReviewTimeout      time.Duration `json:"-"`
	RunStaleAfter      time.Duration `json:"-"`
	ReconcileInterval  time.Duration `json:"-"`
	ReconcileBatchSize int           `json:"reconcile_batch_size"`

	DBMaxOpenConns int `json:"db_max_open_conns"`
	DBMaxIdleConns int `json:"db_max_idle_conns"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey           int64         `json:"leader_lock_key"`
	LeaderRetryInterval     time.Duration `json:"-"`
	LeaderHeartbeatInterval time.Duration `json:"-"`

	ShutdownTimeout time.Duration `json:"-"`

	// raw holds unparseable values so Validate can report them.
	raw map[string]string
}

// Load reads an optional .env file and then environment variables, applying defaults.
// Parse failures fall back to defaults and are reported by Validate.
func Load() Config {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit .env path. A missing file is not an error.
func LoadFile(envFile string) Config {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", envFile).Msg("config: failed to load env file")
		}
	}

	l := &loader{raw: make(map[string]string)}
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		HTTPAddr:    l.str("SANDESH_HTTP_ADDR", ""),
		MetricsAddr: os.Getenv("SANDESH_METRICS_ADDR"),
		LogLevel:    l.str("SANDESH_LOG_LEVEL", "info"),
		LogFormat:   l.str("SANDESH_LOG_FORMAT", "console"),

		DailyTriggerTime: l.str("SANDESH_DAILY_TRIGGER_TIME", "09:00"),
		Timezone:         l.str("SANDESH_TIMEZONE", "Asia/Kolkata"),
		MissedRunPolicy:  l.str("SANDESH_MISSED_RUN_POLICY", "skip"),
		TickInterval:     l.duration("SANDESH_TICK_INTERVAL", 30*time.Second),

		TopK:         l.integer("SANDESH_TOP_K", 3),
		CooldownDays: l.integer("SANDESH_COOLDOWN_DAYS", 3),

		EventBoost:           l.float("SANDESH_EVENT_BOOST", 10),
		EventBoostMax:        l.float("SANDESH_EVENT_BOOST_MAX", 25),
		EventHorizon:         l.duration("SANDESH_EVENT_HORIZON", 45*24*time.Hour),
		TrendSmoothingWindow: l.duration("SANDESH_TREND_SMOOTHING_WINDOW", 7*24*time.Hour),
		TrendAdjustmentMax:   l.float("SANDESH_TREND_ADJUSTMENT_MAX", 10),
		ScoreMax:             l.float("SANDESH_SCORE_MAX", 100),
		WeightsFile:          os.Getenv("SANDESH_WEIGHTS_FILE"),

		SignalWindow:  l.duration("SANDESH_SIGNAL_WINDOW", 24*time.Hour),
		SourceTimeout: l.duration("SANDESH_SOURCE_TIMEOUT", 20*time.Second),
		Sources:       l.list("SANDESH_SOURCES", "revenue,events,trends"),
		RevenueURL:    os.Getenv("SANDESH_REVENUE_URL"),
		EventsURL:     os.Getenv("SANDESH_EVENTS_URL"),
		EventsFormat:  l.str("SANDESH_EVENTS_FORMAT", "json"),
		TrendsURL:     os.Getenv("SANDESH_TRENDS_URL"),
		Currency:      strings.ToUpper(l.str("SANDESH_CURRENCY", "INR")),

		WebhookURL:       os.Getenv("SANDESH_WEBHOOK_URL"),
		WebhookSecret:    os.Getenv("SANDESH_WEBHOOK_SECRET"),
		WebhookTimeout:   l.duration("SANDESH_WEBHOOK_TIMEOUT", 10*time.Second),
		RetryMaxAttempts: l.integer("SANDESH_RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   l.duration("SANDESH_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    l.duration("SANDESH_RETRY_MAX_DELAY", time.Minute),
		PublishRate:      l.float("SANDESH_PUBLISH_RATE", 5),
		EnabledChannels:  l.list("SANDESH_ENABLED_CHANNELS", "app_push,whatsapp,email"),

		CircuitBreakerThreshold: l.integer("SANDESH_CIRCUIT_BREAKER_THRESHOLD", 5),
		CircuitBreakerCooldown:  l.duration("SANDESH_CIRCUIT_BREAKER_COOLDOWN", 2*time.Minute),
		EventBusBufferSize:      l.integer("SANDESH_EVENTBUS_BUFFER_SIZE", 100),

		ReviewTimeout:      l.duration("SANDESH_REVIEW_TIMEOUT", 72*time.Hour),
		RunStaleAfter:      l.duration("SANDESH_RUN_STALE_AFTER", 2*time.Hour),
		ReconcileInterval:  l.duration("SANDESH_RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileBatchSize: l.integer("SANDESH_RECONCILE_BATCH_SIZE", 100),

		DBMaxOpenConns: l.integer("SANDESH_DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: l.integer("SANDESH_DB_MAX_IDLE_CONNS", 5),

		LeaderLockKey:           int64(l.integer("SANDESH_LEADER_LOCK_KEY", 727001)),
		LeaderRetryInterval:     l.duration("SANDESH_LEADER_RETRY_INTERVAL", 5*time.Second),
		LeaderHeartbeatInterval: l.duration("SANDESH_LEADER_HEARTBEAT_INTERVAL", 2*time.Second),

		ShutdownTimeout: l.duration("SANDESH_SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	// Support the platform PORT variable as fallback for the HTTP address.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	cfg.raw = l.raw
	return cfg
}

type loader struct {
	raw map[string]string
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.raw[key] = v
		return def
	}
	return n
}

func (l *loader) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.raw[key] = v
		return def
	}
	return f
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.raw[key] = v
		return def
	}
	return d
}

func (l *loader) list(key, def string) []string {
	v := l.str(key, def)
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// Location returns the reference time zone. An unknown Timezone, which
// Validate reports, falls back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	type alias Config
	masked := struct {
		alias
		DatabaseURL          string `json:"database_url"`
		WebhookSecret        string `json:"webhook_secret,omitempty"`
		TickInterval         string `json:"tick_interval"`
		EventHorizon         string `json:"event_horizon"`
		TrendSmoothingWindow string `json:"trend_smoothing_window"`
		SignalWindow         string `json:"signal_window"`
		SourceTimeout        string `json:"source_timeout"`
		WebhookTimeout       string `json:"webhook_timeout"`
		RetryBaseDelay       string `json:"retry_base_delay"`
		RetryMaxDelay        string `json:"retry_max_delay"`
		ReviewTimeout        string `json:"review_timeout"`
		RunStaleAfter        string `json:"run_stale_after"`
		ReconcileInterval    string `json:"reconcile_interval"`
		ShutdownTimeout      string `json:"shutdown_timeout"`
	}{
		alias:                alias(c),
		DatabaseURL:          maskSecret(c.DatabaseURL),
		WebhookSecret:        maskSecret(c.WebhookSecret),
		TickInterval:         c.TickInterval.String(),
		EventHorizon:         c.EventHorizon.String(),
		TrendSmoothingWindow: c.TrendSmoothingWindow.String(),
		SignalWindow:         c.SignalWindow.String(),
		SourceTimeout:        c.SourceTimeout.String(),
		WebhookTimeout:       c.WebhookTimeout.String(),
		RetryBaseDelay:       c.RetryBaseDelay.String(),
		RetryMaxDelay:        c.RetryMaxDelay.String(),
		ReviewTimeout:        c.ReviewTimeout.String(),
		RunStaleAfter:        c.RunStaleAfter.String(),
		ReconcileInterval:    c.ReconcileInterval.String(),
		ShutdownTimeout:      c.ShutdownTimeout.String(),
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
