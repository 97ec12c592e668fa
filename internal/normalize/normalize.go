// Package normalize turns raw source records into comparable Signals.
//
// Monetary values are converted to one base currency with decimal arithmetic
// and rounded to two places. All timestamps are moved to UTC; day counts use
// the calendar of the configured Location. Records that fail
// validation, or whose timestamp lies outside the requested window, are
// dropped and reported; they never fail the run.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/source"
)

const (
	unitCount = "count"
	unitDays  = "days"
	unitIndex = "index"
)

type Config struct {
	BaseCurrency string
	// Rates maps a currency code to the amount of base currency per unit.
	Rates map[string]decimal.Decimal
	// Location is the reference calendar for day counts; nil means UTC.
	Location *time.Location
}

// DefaultRates is used when no currency_rates are configured.
func DefaultRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"INR": decimal.NewFromInt(1),
		"USD": decimal.NewFromInt(83),
	}
}

type Normalizer struct {
	cfg      Config
	validate *validator.Validate
	clock    func() time.Time
}

func New(cfg Config) *Normalizer {
	cfg.BaseCurrency = strings.ToUpper(cfg.BaseCurrency)
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "INR"
	}
	if cfg.Rates == nil {
		cfg.Rates = DefaultRates()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Normalizer{
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    time.Now,
	}
}

// WithClock overrides the collection timestamp source.
func (n *Normalizer) WithClock(clock func() time.Time) *Normalizer {
	n.clock = clock
	return n
}

// Normalize converts records from sourceID into signals for runID. Dropped
// records are returned as validation errors in input order.
func (n *Normalizer) Normalize(runID uuid.UUID, sourceID domain.SourceID, records []source.Record, window domain.Window) ([]domain.Signal, []*domain.ValidationError) {
	window = domain.Window{Start: window.Start.UTC(), End: window.End.UTC()}
	collectedAt := n.clock().UTC()

	var (
		signals []domain.Signal
		dropped []*domain.ValidationError
	)
	for i, rec := range records {
		if err := n.check(rec); err != nil {
			err.SourceID, err.Index = sourceID, i
			dropped = append(dropped, err)
			continue
		}
		ts := rec.Timestamp().UTC()
		if !window.Contains(ts) {
			dropped = append(dropped, &domain.ValidationError{
				SourceID: sourceID, Index: i, Field: "Date",
				Reason: fmt.Sprintf("%s outside window", ts.Format(time.RFC3339)),
			})
			continue
		}

		base := domain.Signal{
			RunID:       runID,
			SourceID:    sourceID,
			WindowStart: window.Start,
			WindowEnd:   window.End,
			ObservedAt:  ts,
			CollectedAt: collectedAt,
		}

		produced, verr := n.convert(base, rec, window)
		if verr != nil {
			verr.SourceID, verr.Index = sourceID, i
			dropped = append(dropped, verr)
			continue
		}
		for _, s := range produced {
			s.ID = uuid.New()
			signals = append(signals, s)
		}
	}
	return signals, dropped
}

func (n *Normalizer) check(rec source.Record) *domain.ValidationError {
	err := n.validate.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &domain.ValidationError{Field: fe.Field(), Reason: "failed " + fe.Tag()}
	}
	return &domain.ValidationError{Field: "record", Reason: err.Error()}
}

func (n *Normalizer) convert(base domain.Signal, rec source.Record, window domain.Window) ([]domain.Signal, *domain.ValidationError) {
	switch r := rec.(type) {
	case source.RevenueRecord:
		amount, err := n.toBase(r.Revenue, r.Currency)
		if err != nil {
			return nil, err
		}
		base.Vertical = strings.TrimSpace(r.Vertical)
		rev, orders := base, base
		rev.MetricKey, rev.Value, rev.Unit = domain.MetricRevenue, amount, n.cfg.BaseCurrency
		orders.MetricKey, orders.Value, orders.Unit = domain.MetricOrders, float64(r.Orders), unitCount
		return []domain.Signal{rev, orders}, nil

	case source.EventRecord:
		base.Vertical = strings.TrimSpace(r.Vertical)
		base.MetricKey = domain.MetricEventDaysUntil
		base.Value = daysBetween(window.Start, base.ObservedAt, n.cfg.Location)
		base.Unit = unitDays
		base.Label = strings.TrimSpace(r.Name)
		return []domain.Signal{base}, nil

	case source.TrendRecord:
		base.Vertical = strings.TrimSpace(r.Vertical)
		base.MetricKey = domain.MetricTrendInterest
		base.Value = r.Interest
		base.Unit = unitIndex
		base.Label = strings.TrimSpace(r.Keyword)
		return []domain.Signal{base}, nil
	}
	return nil, &domain.ValidationError{Field: "record", Reason: fmt.Sprintf("unsupported record %T", rec)}
}

func (n *Normalizer) toBase(amount float64, currency string) (float64, *domain.ValidationError) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" {
		cur = n.cfg.BaseCurrency
	}
	v := decimal.NewFromFloat(amount)
	if cur != n.cfg.BaseCurrency {
		rate, ok := n.cfg.Rates[cur]
		if !ok {
			return 0, &domain.ValidationError{Field: "Currency", Reason: "no rate for " + cur}
		}
		baseRate, ok := n.cfg.Rates[n.cfg.BaseCurrency]
		if !ok || baseRate.IsZero() {
			baseRate = decimal.NewFromInt(1)
		}
		v = v.Mul(rate).Div(baseRate)
	}
	return v.Round(2).InexactFloat64(), nil
}

// daysBetween counts whole calendar days from from to to on loc's calendar.
func daysBetween(from, to time.Time, loc *time.Location) float64 {
	civil := func(t time.Time) time.Time {
		y, m, d := t.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return math.Round(civil(to).Sub(civil(from)).Hours() / 24)
}
