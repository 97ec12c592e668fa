package main

import (
	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/config"
)

// logConfigWarnings flags configurations that start fine but lose data or
// deliveries. P0 means suggestions or state will be lost; P1 means reduced
// visibility or safety.
func logConfigWarnings(cfg config.Config) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("WARNING [P0]: DATABASE_URL not set; runs and suggestions are kept in memory and lost on restart, and only one instance may run")
	}
	if cfg.WebhookURL == "" {
		log.Warn().Msg("WARNING [P0]: SANDESH_WEBHOOK_URL not set; approved suggestions will fail to publish")
	} else if cfg.WebhookSecret == "" {
		log.Warn().Msg("WARNING [P1]: SANDESH_WEBHOOK_SECRET not set; deliveries are sent unsigned")
	}
	if cfg.MetricsAddr == "" {
		log.Warn().Msg("WARNING [P1]: SANDESH_METRICS_ADDR not set; run and delivery metrics are not exported")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Warn().Msg("WARNING [P1]: SANDESH_CIRCUIT_BREAKER_THRESHOLD=0; a failing webhook is retried at full rate")
	}
	if cfg.MissedRunPolicy == "catch_up" {
		log.Info().Msg("INFO: SANDESH_MISSED_RUN_POLICY=catch_up; the most recent missed slot runs at startup")
	}
}
