// Package analytics keeps daily delivery counters in Redis, one hash per
// UTC day with a field per vertical, channel and outcome.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

const (
	keyPrefix    = "sandesh:deliveries:"
	writeTimeout = 2 * time.Second
)

// DailyCount is one counter from a daily bucket.
type DailyCount struct {
	Vertical string                 `json:"vertical"`
	Channel  domain.Channel         `json:"channel"`
	Outcome  domain.DeliveryOutcome `json:"outcome"`
	Count    int64                  `json:"count"`
}

type RedisSink struct {
	client *redis.Client
	config domain.AnalyticsConfig
}

func NewRedisSink(client *redis.Client, config domain.AnalyticsConfig) *RedisSink {
	return &RedisSink{client: client, config: config}
}

// Record increments the counter for stat. Failures are logged and dropped;
// analytics never holds up delivery.
func (s *RedisSink) Record(ctx context.Context, stat domain.DeliveryStat) {
	if err := s.Write(ctx, stat); err != nil {
		log.Warn().Err(err).
			Str("vertical", stat.Vertical).
			Str("channel", string(stat.Channel)).
			Msg("analytics: write failed")
	}
}

func (s *RedisSink) Write(ctx context.Context, stat domain.DeliveryStat) error {
	if !s.config.Enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	key := buildKey(stat.At)
	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, buildField(stat.Vertical, stat.Channel, stat.Outcome), 1)
	if s.config.Retention > 0 {
		pipe.Expire(ctx, key, s.config.Retention)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// Daily returns the counters recorded for the UTC day containing day,
// sorted by vertical, channel and outcome.
func (s *RedisSink) Daily(ctx context.Context, day time.Time) ([]DailyCount, error) {
	fields, err := s.client.HGetAll(ctx, buildKey(day)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return parseCounts(fields), nil
}

func buildKey(t time.Time) string {
	return keyPrefix + t.UTC().Format("20060102")
}

// buildField joins with "|" since verticals may contain ':'.
func buildField(vertical string, ch domain.Channel, outcome domain.DeliveryOutcome) string {
	return vertical + "|" + string(ch) + "|" + string(outcome)
}

func parseCounts(fields map[string]string) []DailyCount {
	out := make([]DailyCount, 0, len(fields))
	for field, val := range fields {
		parts := strings.Split(field, "|")
		if len(parts) != 3 {
			continue
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, DailyCount{
			Vertical: parts[0],
			Channel:  domain.Channel(parts[1]),
			Outcome:  domain.DeliveryOutcome(parts[2]),
			Count:    n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Vertical != b.Vertical {
			return a.Vertical < b.Vertical
		}
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.Outcome < b.Outcome
	})
	return out
}
