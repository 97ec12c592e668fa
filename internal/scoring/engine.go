// Package scoring ranks verticals from normalized signals.
//
// Score is a pure function of its inputs: the same signal set and Config
// always produce the same candidates in the same order. Signals are sorted
// before any floating-point accumulation so input order does not matter.
//
//	final = clamp(raw*weight + eventBoost + trendAdjustment, 0, ScoreMax)
//
// eventBoost is non-negative and capped at EventBoostMax. trendAdjustment is
// bounded by ±TrendAdjustmentMax; a negative value is the decay term.
package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

type Aggregation string

const (
	AggSum  Aggregation = "sum"
	AggMean Aggregation = "mean"
	AggMax  Aggregation = "max"
)

// MetricRule turns one aggregated metric into a raw-score contribution:
// Weight * min(1, value/Scale), or Weight * value when Scale is zero.
type MetricRule struct {
	Key         string      `json:"key"`
	Aggregation Aggregation `json:"aggregation"`
	Weight      float64     `json:"weight"`
	Scale       float64     `json:"scale"`
}

// EventBand scales the per-event boost for events at most WithinDays away.
// Bands are matched in ascending WithinDays order; events past the last
// band get no boost.
type EventBand struct {
	WithinDays int     `json:"within_days"`
	Factor     float64 `json:"factor"`
}

type Config struct {
	VerticalWeights map[string]float64 `json:"vertical_weights"`
	DefaultWeight   float64            `json:"default_weight"`
	MetricRules     []MetricRule       `json:"metric_rules"`

	EventBoost    float64     `json:"event_boost"`
	EventBoostMax float64     `json:"event_boost_max"`
	EventBands    []EventBand `json:"event_bands"`

	TrendSmoothingWindow time.Duration `json:"trend_smoothing_window"`
	TrendGain            float64       `json:"trend_gain"`
	TrendAdjustmentMax   float64       `json:"trend_adjustment_max"`

	ScoreMax float64 `json:"score_max"`
}

// DefaultConfig reproduces the revenue weighting
// min(1, revenue/1e6)*60 + min(1, orders/1000)*40.
func DefaultConfig() Config {
	return Config{
		DefaultWeight: 1.0,
		MetricRules: []MetricRule{
			{Key: domain.MetricRevenue, Aggregation: AggSum, Weight: 60, Scale: 1e6},
			{Key: domain.MetricOrders, Aggregation: AggSum, Weight: 40, Scale: 1000},
		},
		EventBoost:    10,
		EventBoostMax: 25,
		EventBands: []EventBand{
			{WithinDays: 7, Factor: 1.0},
			{WithinDays: 21, Factor: 0.6},
			{WithinDays: 45, Factor: 0.3},
		},
		TrendSmoothingWindow: 7 * 24 * time.Hour,
		TrendGain:            1.0,
		TrendAdjustmentMax:   10,
		ScoreMax:             100,
	}
}

// Snapshot encodes cfg for storage alongside a run.
func (c Config) Snapshot() ([]byte, error) {
	return json.Marshal(c)
}

func ParseSnapshot(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse scoring snapshot: %w", err)
	}
	return c, nil
}

func (c Config) weightFor(vertical string) float64 {
	if w, ok := c.VerticalWeights[vertical]; ok {
		return w
	}
	if c.DefaultWeight > 0 {
		return c.DefaultWeight
	}
	return 1.0
}

// Engine applies a fixed Config.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Score(groups map[string][]domain.Signal) []domain.Candidate {
	return Score(groups, e.cfg)
}

// GroupByVertical partitions signals by vertical. Signals without a
// vertical are ignored.
func GroupByVertical(signals []domain.Signal) map[string][]domain.Signal {
	out := make(map[string][]domain.Signal)
	for _, s := range signals {
		if s.Vertical == "" {
			continue
		}
		out[s.Vertical] = append(out[s.Vertical], s)
	}
	return out
}

// Score produces one candidate per vertical, sorted by final score
// descending, then raw score descending, then vertical name ascending.
func Score(groups map[string][]domain.Signal, cfg Config) []domain.Candidate {
	verticals := make([]string, 0, len(groups))
	for v := range groups {
		verticals = append(verticals, v)
	}
	sort.Strings(verticals)

	out := make([]domain.Candidate, 0, len(verticals))
	for _, v := range verticals {
		out = append(out, scoreVertical(v, sortedSignals(groups[v]), cfg))
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func less(a, b domain.Candidate) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	if a.RawScore != b.RawScore {
		return a.RawScore > b.RawScore
	}
	return a.Vertical < b.Vertical
}

func scoreVertical(vertical string, signals []domain.Signal, cfg Config) domain.Candidate {
	c := domain.Candidate{
		Vertical:      vertical,
		WeightApplied: cfg.weightFor(vertical),
		SignalRefs:    make([]uuid.UUID, 0, len(signals)),
	}
	if len(signals) > 0 {
		c.RunID = signals[0].RunID
	}

	byMetric := make(map[string][]float64)
	var events, trends []domain.Signal
	for _, s := range signals {
		c.SignalRefs = append(c.SignalRefs, s.ID)
		switch s.MetricKey {
		case domain.MetricEventDaysUntil:
			events = append(events, s)
		case domain.MetricTrendInterest:
			trends = append(trends, s)
		default:
			byMetric[s.MetricKey] = append(byMetric[s.MetricKey], s.Value)
		}
	}

	c.RawScore = RawScore(byMetric, cfg.MetricRules)
	c.EventBoostApplied, c.EventLabel = EventBoost(events, cfg)
	c.TrendAdjustmentApplied = TrendAdjustment(trends, cfg)
	c.FinalScore = clamp(c.RawScore*c.WeightApplied+c.EventBoostApplied+c.TrendAdjustmentApplied, 0, cfg.ScoreMax)
	return c
}

// RawScore combines aggregated metrics per rule. Rules are applied in key
// order; metrics without a rule do not contribute.
func RawScore(byMetric map[string][]float64, rules []MetricRule) float64 {
	sorted := make([]MetricRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	raw := 0.0
	for _, r := range sorted {
		values := byMetric[r.Key]
		if len(values) == 0 {
			continue
		}
		agg := aggregate(values, r.Aggregation)
		if r.Scale > 0 {
			agg = math.Min(1, agg/r.Scale)
		}
		raw += r.Weight * agg
	}
	return raw
}

func aggregate(values []float64, agg Aggregation) float64 {
	switch agg {
	case AggMean:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case AggMax:
		m := values[0]
		for _, v := range values[1:] {
			m = math.Max(m, v)
		}
		return m
	default:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum
	}
}

// EventBoost sums the banded boost of every upcoming event and caps the
// total at EventBoostMax. It also returns the nearest event's label.
func EventBoost(events []domain.Signal, cfg Config) (float64, string) {
	bands := make([]EventBand, len(cfg.EventBands))
	copy(bands, cfg.EventBands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].WithinDays < bands[j].WithinDays })

	total := 0.0
	nearest, label := math.Inf(1), ""
	for _, e := range events {
		days := e.Value
		if days < 0 {
			continue
		}
		for _, b := range bands {
			if days <= float64(b.WithinDays) {
				total += cfg.EventBoost * b.Factor
				break
			}
		}
		if days < nearest || (days == nearest && e.Label < label) {
			nearest, label = days, e.Label
		}
	}
	return clamp(total, 0, cfg.EventBoostMax), label
}

// TrendAdjustment smooths the percentage change between consecutive trend
// samples with an EWMA and clamps the result. Only samples within
// TrendSmoothingWindow of the latest sample count; samples sharing a
// timestamp are averaged first.
func TrendAdjustment(trends []domain.Signal, cfg Config) float64 {
	if len(trends) < 2 {
		return 0
	}

	latest := trends[0].ObservedAt
	for _, s := range trends[1:] {
		if s.ObservedAt.After(latest) {
			latest = s.ObservedAt
		}
	}
	cutoff := latest.Add(-cfg.TrendSmoothingWindow)

	type point struct {
		at    time.Time
		sum   float64
		count int
	}
	var points []point
	index := make(map[int64]int)
	for _, s := range trends {
		if s.ObservedAt.Before(cutoff) {
			continue
		}
		key := s.ObservedAt.UnixNano()
		i, ok := index[key]
		if !ok {
			i = len(points)
			index[key] = i
			points = append(points, point{at: s.ObservedAt})
		}
		points[i].sum += s.Value
		points[i].count++
	}
	sort.Slice(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })
	if len(points) < 2 {
		return 0
	}

	deltas := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].sum / float64(points[i-1].count)
		cur := points[i].sum / float64(points[i].count)
		if prev <= 0 {
			deltas = append(deltas, 0)
			continue
		}
		deltas = append(deltas, (cur-prev)/prev*100)
	}

	alpha := 2 / float64(len(deltas)+1)
	ewma := deltas[0]
	for _, d := range deltas[1:] {
		ewma = alpha*d + (1-alpha)*ewma
	}
	return clamp(ewma*cfg.TrendGain, -cfg.TrendAdjustmentMax, cfg.TrendAdjustmentMax)
}

func sortedSignals(in []domain.Signal) []domain.Signal {
	out := make([]domain.Signal, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MetricKey != b.MetricKey {
			return a.MetricKey < b.MetricKey
		}
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.ID.String() < b.ID.String()
	})
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
