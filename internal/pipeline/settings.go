package pipeline

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/config"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/generator"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/normalize"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/scoring"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/source"
)

// ScoringConfig merges env settings and the optional weights file over the
// default scoring rules.
func ScoringConfig(cfg config.Config, w config.Weights) scoring.Config {
	sc := scoring.DefaultConfig()
	sc.EventBoost = cfg.EventBoost
	sc.EventBoostMax = cfg.EventBoostMax
	sc.TrendSmoothingWindow = cfg.TrendSmoothingWindow
	sc.TrendAdjustmentMax = cfg.TrendAdjustmentMax
	sc.ScoreMax = cfg.ScoreMax

	if len(w.VerticalWeights) > 0 {
		sc.VerticalWeights = make(map[string]float64, len(w.VerticalWeights))
		for v, weight := range w.VerticalWeights {
			sc.VerticalWeights[v] = weight
		}
	}
	if len(w.MetricRules) > 0 {
		sc.MetricRules = make([]scoring.MetricRule, 0, len(w.MetricRules))
		for _, r := range w.MetricRules {
			sc.MetricRules = append(sc.MetricRules, scoring.MetricRule{
				Key:         r.Key,
				Aggregation: scoring.Aggregation(r.Aggregation),
				Weight:      r.Weight,
				Scale:       r.Scale,
			})
		}
	}
	if len(w.EventBands) > 0 {
		sc.EventBands = make([]scoring.EventBand, 0, len(w.EventBands))
		for _, b := range w.EventBands {
			sc.EventBands = append(sc.EventBands, scoring.EventBand{WithinDays: b.WithinDays, Factor: b.Factor})
		}
	}
	if w.TrendGain != nil {
		sc.TrendGain = *w.TrendGain
	}
	return sc
}

// NormalizeConfig returns the base currency and rate table, with rates from
// the weights file overriding the defaults.
func NormalizeConfig(cfg config.Config, w config.Weights) normalize.Config {
	rates := normalize.DefaultRates()
	for cur, rate := range w.CurrencyRates {
		rates[strings.ToUpper(cur)] = decimal.NewFromFloat(rate)
	}
	return normalize.Config{BaseCurrency: cfg.Currency, Rates: rates, Location: cfg.Location()}
}

func SourceSettings(cfg config.Config) source.Settings {
	ids := make([]domain.SourceID, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		ids = append(ids, domain.SourceID(s))
	}
	return source.Settings{
		Enabled:      ids,
		RevenueURL:   cfg.RevenueURL,
		EventsURL:    cfg.EventsURL,
		EventsFormat: source.EventsFormat(cfg.EventsFormat),
		TrendsURL:    cfg.TrendsURL,
		Timeout:      cfg.SourceTimeout,
		Location:     cfg.Location(),
	}
}

func GeneratorConfig(cfg config.Config) generator.Config {
	channels := make([]domain.Channel, 0, len(cfg.EnabledChannels))
	for _, c := range cfg.EnabledChannels {
		channels = append(channels, domain.Channel(c))
	}
	return generator.Config{TopK: cfg.TopK, CooldownDays: cfg.CooldownDays, Channels: channels}
}

func RunnerConfig(cfg config.Config) Config {
	return Config{
		SignalWindow:  cfg.SignalWindow,
		EventHorizon:  cfg.EventHorizon,
		TrendWindow:   cfg.TrendSmoothingWindow,
		SourceTimeout: cfg.SourceTimeout,
		Location:      cfg.Location(),
	}
}
