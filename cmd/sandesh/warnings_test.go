package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/config"
)

// captureLogOutput calls logConfigWarnings with the given config and returns
// the captured log output as a string.
func captureLogOutput(cfg config.Config) string {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = original }()

	logConfigWarnings(cfg)
	return buf.String()
}

func productionConfig() config.Config {
	return config.Config{
		DatabaseURL:             "postgres://localhost/sandesh",
		WebhookURL:              "https://hooks.example.com/sandesh",
		WebhookSecret:           "s3cret",
		MetricsAddr:             ":9090",
		CircuitBreakerThreshold: 5,
		MissedRunPolicy:         "skip",
	}
}

func TestLogConfigWarnings_ProductionConfigIsQuiet(t *testing.T) {
	output := captureLogOutput(productionConfig())

	if strings.Contains(output, "WARNING") || strings.Contains(output, "INFO:") {
		t.Error("did not expect any warnings, got:", output)
	}
}

func TestLogConfigWarnings_MemoryStore(t *testing.T) {
	cfg := productionConfig()
	cfg.DatabaseURL = ""
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: DATABASE_URL not set") {
		t.Error("expected memory store P0 warning, got:", output)
	}
}

func TestLogConfigWarnings_NoWebhook(t *testing.T) {
	cfg := productionConfig()
	cfg.WebhookURL = ""
	cfg.WebhookSecret = ""
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P0]: SANDESH_WEBHOOK_URL not set") {
		t.Error("expected webhook P0 warning, got:", output)
	}
	// Missing secret is moot without a URL.
	if strings.Contains(output, "SANDESH_WEBHOOK_SECRET") {
		t.Error("did not expect secret warning without a URL, got:", output)
	}
}

func TestLogConfigWarnings_Unsigned(t *testing.T) {
	cfg := productionConfig()
	cfg.WebhookSecret = ""
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: SANDESH_WEBHOOK_SECRET not set") {
		t.Error("expected unsigned P1 warning, got:", output)
	}
	if strings.Contains(output, "WARNING [P0]") {
		t.Error("did not expect P0 warnings, got:", output)
	}
}

func TestLogConfigWarnings_MetricsAndBreaker(t *testing.T) {
	cfg := productionConfig()
	cfg.MetricsAddr = ""
	cfg.CircuitBreakerThreshold = 0
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "WARNING [P1]: SANDESH_METRICS_ADDR not set") {
		t.Error("expected metrics P1 warning, got:", output)
	}
	if !strings.Contains(output, "WARNING [P1]: SANDESH_CIRCUIT_BREAKER_THRESHOLD=0") {
		t.Error("expected breaker P1 warning, got:", output)
	}
}

func TestLogConfigWarnings_CatchUpInfo(t *testing.T) {
	cfg := productionConfig()
	cfg.MissedRunPolicy = "catch_up"
	output := captureLogOutput(cfg)

	if !strings.Contains(output, "INFO: SANDESH_MISSED_RUN_POLICY=catch_up") {
		t.Error("expected catch-up INFO, got:", output)
	}
}
