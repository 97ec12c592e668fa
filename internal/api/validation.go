package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest runs struct-tag validation and reports the first failure
// by its JSON field name.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "required_without_all":
		return fmt.Errorf("one of title, body or cta is required")
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}

func jsonName(field string) string {
	if field == "CTA" {
		return "cta"
	}
	return strings.ToLower(field)
}

// parseSuggestionFilter reads state, run_id and pagination from the query.
// state may repeat or hold a comma-separated list.
func parseSuggestionFilter(r *http.Request) (domain.SuggestionFilter, error) {
	var f domain.SuggestionFilter
	q := r.URL.Query()

	for _, raw := range q["state"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(strings.ToLower(part))
			if part == "" {
				continue
			}
			st := domain.SuggestionState(part)
			if !st.Valid() {
				return f, fmt.Errorf("unknown state %q", part)
			}
			f.States = append(f.States, st)
		}
	}

	if v := q.Get("run_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, fmt.Errorf("invalid run_id")
		}
		f.RunID = id
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		return f, err
	}
	f.Limit, f.Offset = limit, offset
	return f, nil
}

// parseDay reads ?day=YYYY-MM-DD, defaulting to today in UTC.
func parseDay(r *http.Request, now time.Time) (time.Time, error) {
	v := r.URL.Query().Get("day")
	if v == "" {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("day must be YYYY-MM-DD")
	}
	return day, nil
}
