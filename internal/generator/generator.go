// Package generator turns ranked candidates into reviewable suggestions.
package generator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// Store reports recent publishing history for the cooldown rule.
type Store interface {
	// PublishedVerticalsSince returns the verticals with a suggestion that
	// reached Published at or after since.
	PublishedVerticalsSince(ctx context.Context, since time.Time) ([]string, error)
}

type Config struct {
	TopK         int
	CooldownDays int
	Channels     []domain.Channel
}

// Skip records a candidate passed over by the cooldown rule.
type Skip struct {
	Vertical string
	Reason   string
}

type Generator struct {
	config Config
	store  Store
	clock  func() time.Time
}

func New(config Config, store Store) *Generator {
	return &Generator{config: config, store: store, clock: time.Now}
}

// WithClock overrides the time source used for cooldown and timestamps.
func (g *Generator) WithClock(clock func() time.Time) *Generator {
	g.clock = clock
	return g
}

// Generate walks candidates in rank order and emits at most TopK
// suggestions. A vertical published within the last CooldownDays is skipped
// and its slot passes to the next candidate.
func (g *Generator) Generate(ctx context.Context, run domain.Run, candidates []domain.Candidate) ([]domain.Suggestion, []Skip, error) {
	now := g.clock().UTC()

	cooling := make(map[string]bool)
	if g.config.CooldownDays > 0 {
		since := now.AddDate(0, 0, -g.config.CooldownDays)
		recent, err := g.store.PublishedVerticalsSince(ctx, since)
		if err != nil {
			return nil, nil, fmt.Errorf("cooldown lookup: %w", err)
		}
		for _, v := range recent {
			cooling[v] = true
		}
	}

	var (
		out   []domain.Suggestion
		skips []Skip
	)
	for _, c := range candidates {
		if len(out) >= g.config.TopK {
			break
		}
		if cooling[c.Vertical] {
			skips = append(skips, Skip{Vertical: c.Vertical, Reason: fmt.Sprintf("published within %d days", g.config.CooldownDays)})
			continue
		}
		out = append(out, g.build(run, c, now))
	}
	return out, skips, nil
}

func (g *Generator) build(run domain.Run, c domain.Candidate, now time.Time) domain.Suggestion {
	channels := make([]domain.Channel, len(g.config.Channels))
	copy(channels, g.config.Channels)

	title, body, cta := Compose(c)
	return domain.Suggestion{
		ID:        uuid.New(),
		RunID:     run.ID,
		Vertical:  c.Vertical,
		Title:     title,
		Body:      body,
		CTA:       cta,
		Link:      "/category/" + Slug(c.Vertical),
		Urgency:   UrgencyFor(c.FinalScore),
		Channels:  channels,
		Score:     math.Round(c.FinalScore*100) / 100,
		State:     domain.SuggestionGenerated,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UrgencyFor maps a final score to an urgency band.
func UrgencyFor(score float64) domain.Urgency {
	switch {
	case score >= 85:
		return domain.UrgencyHigh
	case score >= 70:
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}

// Compose writes the hook, push copy and call to action for a candidate,
// leading with whichever driver contributed most.
func Compose(c domain.Candidate) (title, body, cta string) {
	switch {
	case c.EventLabel != "" && c.EventBoostApplied > 0:
		title = fmt.Sprintf("%s: %s is coming up", c.Vertical, c.EventLabel)
		body = fmt.Sprintf("Get ready for %s. Explore top picks in %s before it starts.", c.EventLabel, c.Vertical)
		cta = "Shop Now"
	case c.TrendAdjustmentApplied >= 5:
		title = fmt.Sprintf("%s is trending", c.Vertical)
		body = fmt.Sprintf("Searches for %s are climbing. Catch the wave while interest is high.", c.Vertical)
		cta = "Explore"
	default:
		title = fmt.Sprintf("%s: Fresh opportunity today", c.Vertical)
		body = fmt.Sprintf("Recent performance in %s indicates momentum. Check out what's new.", c.Vertical)
		cta = "View Now"
	}
	return title, body, cta
}

// Slug lowercases s and joins words with hyphens.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
