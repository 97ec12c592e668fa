package cron

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
)

var timeHHMM = regexp.MustCompile(`^(?:[01]\d|2[0-3]):[0-5]\d$`)

// ErrInvalidTime is returned for a daily trigger time not in HH:MM form.
var ErrInvalidTime = errors.New("invalid time of day, want HH:MM")

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// Daily returns the schedule firing once a day at hhmm in timezone.
func (p *Parser) Daily(hhmm, timezone string) (Schedule, error) {
	expr, err := DailyExpression(hhmm)
	if err != nil {
		return nil, err
	}
	return p.Parse(expr, timezone)
}

// DailyExpression converts HH:MM into a five-field cron expression.
func DailyExpression(hhmm string) (string, error) {
	if !timeHHMM.MatchString(hhmm) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
