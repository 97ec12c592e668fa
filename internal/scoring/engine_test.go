package scoring

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 3, 30, 0, 0, time.UTC)

func sig(vertical, metric string, value float64, at time.Time, label string) domain.Signal {
	return domain.Signal{
		ID:         uuid.New(),
		Vertical:   vertical,
		MetricKey:  metric,
		Value:      value,
		ObservedAt: at,
		Label:      label,
	}
}

func revenue(vertical string, amount, orders float64) []domain.Signal {
	return []domain.Signal{
		sig(vertical, domain.MetricRevenue, amount, t0, ""),
		sig(vertical, domain.MetricOrders, orders, t0, ""),
	}
}

func scenarioA() []domain.Signal {
	var s []domain.Signal
	s = append(s, revenue("Electronics", 500_000, 500)...)
	s = append(s, revenue("Fashion", 800_000, 900)...)
	s = append(s, revenue("Books", 100_000, 100)...)
	s = append(s, sig("Electronics", domain.MetricEventDaysUntil, 3, t0.AddDate(0, 0, 3), "Big Billion Days"))
	s = append(s,
		sig("Electronics", domain.MetricTrendInterest, 100, t0.Add(-24*time.Hour), "phones"),
		sig("Electronics", domain.MetricTrendInterest, 105, t0, "phones"),
	)
	return s
}

func TestScore_ScenarioA(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerticalWeights = map[string]float64{"Electronics": 1.5}

	got := Score(GroupByVertical(scenarioA()), cfg)
	require.Len(t, got, 3)

	e := got[0]
	assert.Equal(t, "Electronics", e.Vertical)
	assert.Equal(t, 1, e.Rank)
	assert.InDelta(t, 50.0, e.RawScore, 1e-9)
	assert.Equal(t, 1.5, e.WeightApplied)
	assert.InDelta(t, 10.0, e.EventBoostApplied, 1e-9)
	assert.InDelta(t, 5.0, e.TrendAdjustmentApplied, 1e-9)
	assert.InDelta(t, clamp(e.RawScore*1.5+10+e.TrendAdjustmentApplied, 0, 100), e.FinalScore, 1e-9)
	assert.Equal(t, "Big Billion Days", e.EventLabel)
	assert.Len(t, e.SignalRefs, 5)

	assert.Equal(t, "Fashion", got[1].Vertical)
	assert.InDelta(t, 84.0, got[1].FinalScore, 1e-9)
	assert.Equal(t, "Books", got[2].Vertical)
	assert.InDelta(t, 10.0, got[2].FinalScore, 1e-9)
}

func TestScore_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	signals := scenarioA()

	first := Score(GroupByVertical(signals), cfg)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := make([]domain.Signal, len(signals))
		copy(shuffled, signals)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		assert.Equal(t, first, Score(GroupByVertical(shuffled), cfg))
	}
}

func TestScore_TieBreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScoreMax = 20

	var signals []domain.Signal
	// All three clamp to 20; Alpha and Beta share raw 60, Gamma has raw 100.
	signals = append(signals, revenue("Beta", 1_000_000, 0)...)
	signals = append(signals, revenue("Alpha", 1_000_000, 0)...)
	signals = append(signals, revenue("Gamma", 1_000_000, 1000)...)

	got := Score(GroupByVertical(signals), cfg)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Gamma", "Alpha", "Beta"}, []string{got[0].Vertical, got[1].Vertical, got[2].Vertical})
	for _, c := range got {
		assert.Equal(t, 20.0, c.FinalScore)
	}
}

func TestScore_EmptyInput(t *testing.T) {
	assert.Empty(t, Score(nil, DefaultConfig()))
}

func TestRawScore_Aggregations(t *testing.T) {
	values := map[string][]float64{"a": {1, 2, 3}, "unused": {1000}}
	assert.Equal(t, 6.0, RawScore(values, []MetricRule{{Key: "a", Aggregation: AggSum, Weight: 1}}))
	assert.Equal(t, 2.0, RawScore(values, []MetricRule{{Key: "a", Aggregation: AggMean, Weight: 1}}))
	assert.Equal(t, 3.0, RawScore(values, []MetricRule{{Key: "a", Aggregation: AggMax, Weight: 1}}))
	assert.Equal(t, 10.0, RawScore(values, []MetricRule{{Key: "a", Aggregation: AggSum, Weight: 10, Scale: 3}}))
}

func TestEventBoost_StackingAndCap(t *testing.T) {
	cfg := DefaultConfig() // boost 10, cap 25
	ev := func(days float64, label string) domain.Signal {
		return sig("A", domain.MetricEventDaysUntil, days, t0, label)
	}

	boost, label := EventBoost([]domain.Signal{ev(2, "b"), ev(10, "a")}, cfg)
	assert.InDelta(t, 16.0, boost, 1e-9, "10*1.0 + 10*0.6")
	assert.Equal(t, "b", label)

	boost, _ = EventBoost([]domain.Signal{ev(1, "x"), ev(2, "y"), ev(3, "z")}, cfg)
	assert.Equal(t, 25.0, boost, "capped")

	boost, _ = EventBoost([]domain.Signal{ev(30, "far")}, cfg)
	assert.InDelta(t, 3.0, boost, 1e-9)

	boost, label = EventBoost([]domain.Signal{ev(90, "beyond"), ev(-1, "past")}, cfg)
	assert.Equal(t, 0.0, boost)
	assert.Equal(t, "beyond", label)
}

func TestTrendAdjustment(t *testing.T) {
	cfg := DefaultConfig()
	tr := func(v float64, at time.Time) domain.Signal {
		return sig("A", domain.MetricTrendInterest, v, at, "k")
	}

	t.Run("single sample", func(t *testing.T) {
		assert.Equal(t, 0.0, TrendAdjustment([]domain.Signal{tr(50, t0)}, cfg))
	})

	t.Run("negative decay", func(t *testing.T) {
		adj := TrendAdjustment([]domain.Signal{tr(100, t0.Add(-time.Hour)), tr(96, t0)}, cfg)
		assert.InDelta(t, -4.0, adj, 1e-9)
	})

	t.Run("spike is clamped", func(t *testing.T) {
		adj := TrendAdjustment([]domain.Signal{tr(10, t0.Add(-time.Hour)), tr(100, t0)}, cfg)
		assert.Equal(t, cfg.TrendAdjustmentMax, adj)
	})

	t.Run("smoothing damps a late spike", func(t *testing.T) {
		// Deltas 0, 0, 0, +20: alpha = 0.4 so ewma = 8.
		samples := []domain.Signal{
			tr(50, t0.Add(-4*time.Hour)),
			tr(50, t0.Add(-3*time.Hour)),
			tr(50, t0.Add(-2*time.Hour)),
			tr(50, t0.Add(-time.Hour)),
			tr(60, t0),
		}
		assert.InDelta(t, 8.0, TrendAdjustment(samples, cfg), 1e-9)
	})

	t.Run("samples outside window ignored", func(t *testing.T) {
		samples := []domain.Signal{
			tr(10, t0.Add(-30*24*time.Hour)),
			tr(100, t0.Add(-time.Hour)),
			tr(102, t0),
		}
		assert.InDelta(t, 2.0, TrendAdjustment(samples, cfg), 1e-9)
	})

	t.Run("same timestamp averaged", func(t *testing.T) {
		samples := []domain.Signal{
			tr(90, t0.Add(-time.Hour)), tr(110, t0.Add(-time.Hour)),
			tr(105, t0),
		}
		assert.InDelta(t, 5.0, TrendAdjustment(samples, cfg), 1e-9)
	})
}

// Randomized inputs always respect the documented bounds.
func TestScore_BoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	verticals := []string{"A", "B", "C", "D"}

	for iter := 0; iter < 300; iter++ {
		cfg := DefaultConfig()
		cfg.EventBoostMax = float64(rng.Intn(30))
		cfg.TrendAdjustmentMax = float64(rng.Intn(15))
		cfg.VerticalWeights = map[string]float64{"A": rng.Float64() * 3}

		var signals []domain.Signal
		for i := 0; i < 20; i++ {
			v := verticals[rng.Intn(len(verticals))]
			at := t0.Add(-time.Duration(rng.Intn(200)) * time.Hour)
			switch rng.Intn(4) {
			case 0:
				signals = append(signals, sig(v, domain.MetricRevenue, rng.Float64()*2e6, at, ""))
			case 1:
				signals = append(signals, sig(v, domain.MetricOrders, float64(rng.Intn(3000)), at, ""))
			case 2:
				signals = append(signals, sig(v, domain.MetricEventDaysUntil, float64(rng.Intn(60)), at, "e"))
			default:
				signals = append(signals, sig(v, domain.MetricTrendInterest, float64(rng.Intn(101)), at, "k"))
			}
		}

		got := Score(GroupByVertical(signals), cfg)
		for i, c := range got {
			assert.GreaterOrEqual(t, c.FinalScore, 0.0)
			assert.LessOrEqual(t, c.FinalScore, cfg.ScoreMax)
			assert.GreaterOrEqual(t, c.EventBoostApplied, 0.0)
			assert.LessOrEqual(t, c.EventBoostApplied, cfg.EventBoostMax)
			assert.LessOrEqual(t, math.Abs(c.TrendAdjustmentApplied), cfg.TrendAdjustmentMax)
			assert.False(t, math.IsNaN(c.FinalScore))
			if i > 0 {
				assert.False(t, less(c, got[i-1]), "ordering must be descending")
			}
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerticalWeights = map[string]float64{"Electronics": 1.5}

	data, err := cfg.Snapshot()
	require.NoError(t, err)
	back, err := ParseSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	_, err = ParseSnapshot([]byte("{"))
	assert.Error(t, err)
}
