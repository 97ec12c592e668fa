package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights is the optional YAML scoring file.
//
//	vertical_weights:
//	  Electronics: 1.5
//	metric_rules:
//	  - key: revenue
//	    aggregation: sum
//	    weight: 60
//	    scale: 1000000
//	trend_gain: 1.0
//	currency_rates:
//	  USD: 83
type Weights struct {
	VerticalWeights map[string]float64 `yaml:"vertical_weights"`
	MetricRules     []MetricRule       `yaml:"metric_rules"`
	EventBands      []EventBand        `yaml:"event_bands"`
	TrendGain       *float64           `yaml:"trend_gain"`
	CurrencyRates   map[string]float64 `yaml:"currency_rates"`
}

type MetricRule struct {
	Key         string  `yaml:"key"`
	Aggregation string  `yaml:"aggregation"`
	Weight      float64 `yaml:"weight"`
	Scale       float64 `yaml:"scale"`
}

type EventBand struct {
	WithinDays int     `yaml:"within_days"`
	Factor     float64 `yaml:"factor"`
}

// LoadWeights reads and checks a weights file. Unknown keys are rejected.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("read weights: %w", err)
	}
	return ParseWeights(data)
}

func ParseWeights(data []byte) (Weights, error) {
	var w Weights
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&w); err != nil && !errors.Is(err, io.EOF) {
		return Weights{}, fmt.Errorf("parse weights: %w", err)
	}

	for v, weight := range w.VerticalWeights {
		if weight < 0 {
			return Weights{}, fmt.Errorf("vertical_weights[%s]: must not be negative", v)
		}
	}
	seen := make(map[string]bool)
	for i, r := range w.MetricRules {
		if r.Key == "" {
			return Weights{}, fmt.Errorf("metric_rules[%d]: key required", i)
		}
		if seen[r.Key] {
			return Weights{}, fmt.Errorf("metric_rules[%d]: duplicate key %q", i, r.Key)
		}
		seen[r.Key] = true
		switch r.Aggregation {
		case "sum", "mean", "max":
		default:
			return Weights{}, fmt.Errorf("metric_rules[%d]: aggregation must be sum, mean or max", i)
		}
		if r.Scale < 0 {
			return Weights{}, fmt.Errorf("metric_rules[%d]: scale must not be negative", i)
		}
	}
	for i, b := range w.EventBands {
		if b.WithinDays < 0 || b.Factor < 0 {
			return Weights{}, fmt.Errorf("event_bands[%d]: within_days and factor must not be negative", i)
		}
	}
	if w.TrendGain != nil && *w.TrendGain < 0 {
		return Weights{}, fmt.Errorf("trend_gain: must not be negative")
	}
	for cur, rate := range w.CurrencyRates {
		if rate <= 0 {
			return Weights{}, fmt.Errorf("currency_rates[%s]: must be positive", cur)
		}
	}
	return w, nil
}
