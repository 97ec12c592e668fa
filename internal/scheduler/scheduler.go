// Package scheduler fires the daily pipeline run.
//
// Each tick looks for trigger slots in (lastTick, now] and asks the
// RunStarter to start a run for the newest one. The run-lock lives in the
// store, so a slot whose predecessor is still running is skipped and
// logged rather than run concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/metrics"
)

// Missed-run policies.
const (
	PolicySkip    = "skip"
	PolicyCatchUp = "catch_up"
)

// catchUpLookback bounds how far back the catch-up search for the latest
// missed slot goes. Daily schedules always have a slot inside it.
const catchUpLookback = 25 * time.Hour

type Schedule interface {
	Next(after time.Time) time.Time
}

// RunStarter acquires the run-lock for slot and starts the run in the
// background. It returns domain.ErrRunLocked while another run is Running
// and domain.ErrDuplicateRun when the slot already has a run.
type RunStarter interface {
	Start(ctx context.Context, slot time.Time, trigger domain.RunTrigger) (domain.Run, error)
}

type Store interface {
	LastScheduledRun(ctx context.Context) (domain.Run, bool, error)
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, runsStarted int, err error)
	TickDrift(drift time.Duration)
	RunSkipped(reason string)
}

type Config struct {
	TickInterval    time.Duration
	MissedRunPolicy string
}

type Scheduler struct {
	config   Config
	schedule Schedule
	starter  RunStarter
	store    Store
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
	lastTick time.Time
}

func New(config Config, schedule Schedule, starter RunStarter, store Store) *Scheduler {
	if config.MissedRunPolicy == "" {
		config.MissedRunPolicy = PolicySkip
	}
	return &Scheduler{
		config:   config,
		schedule: schedule,
		starter:  starter,
		store:    store,
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run ticks until ctx is cancelled. Slots that passed while the process
// was down are skipped unless the policy is catch_up, which starts the most
// recent one once.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Info().
		Dur("tick", s.config.TickInterval).
		Str("missed_run_policy", s.config.MissedRunPolicy).
		Time("next_slot", s.schedule.Next(s.clock()).UTC()).
		Msg("scheduler: started")
	s.lastTick = s.clock().UTC()

	if s.config.MissedRunPolicy == PolicyCatchUp {
		if err := s.catchUp(ctx, s.lastTick); err != nil {
			log.Error().Err(err).Msg("scheduler: catch-up failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Error().Err(err).Msg("scheduler: tick error")
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) (err error) {
	now := s.clock().UTC()
	started := 0

	if s.metrics != nil {
		s.metrics.TickStarted()
		if !s.lastTick.IsZero() {
			s.metrics.TickDrift(now.Sub(s.lastTick) - s.config.TickInterval)
		}
		defer func() {
			s.metrics.TickCompleted(s.clock().UTC().Sub(now), started, err)
		}()
	}

	slots := s.dueSlots(s.lastTick, now)
	s.lastTick = now
	if len(slots) == 0 {
		return nil
	}

	// Only the newest slot runs; older ones in the same window were missed.
	for _, missed := range slots[:len(slots)-1] {
		s.skipped(domain.TriggerScheduled, missed, nil)
	}

	ok, err := s.fire(ctx, slots[len(slots)-1], domain.TriggerScheduled)
	if ok {
		started++
	}
	return err
}

// dueSlots returns the trigger slots in (from, to], oldest first.
func (s *Scheduler) dueSlots(from, to time.Time) []time.Time {
	const maxSlots = 1000

	var slots []time.Time
	for t := s.schedule.Next(from); !t.After(to) && len(slots) < maxSlots; t = s.schedule.Next(t) {
		slots = append(slots, t.UTC().Truncate(time.Minute))
	}
	return slots
}

// latestSlot returns the newest slot at or before now.
func (s *Scheduler) latestSlot(now time.Time) (time.Time, bool) {
	slots := s.dueSlots(now.Add(-catchUpLookback), now)
	if len(slots) == 0 {
		return time.Time{}, false
	}
	return slots[len(slots)-1], true
}

func (s *Scheduler) catchUp(ctx context.Context, now time.Time) error {
	slot, ok := s.latestSlot(now)
	if !ok {
		return nil
	}

	last, found, err := s.store.LastScheduledRun(ctx)
	if err != nil {
		return fmt.Errorf("last scheduled run: %w", err)
	}
	if found && !last.ScheduledFor.Before(slot) {
		log.Debug().Time("slot", slot).Msg("scheduler: latest slot already ran, nothing to catch up")
		return nil
	}

	log.Info().Time("slot", slot).Msg("scheduler: catching up missed slot")
	_, err = s.fire(ctx, slot, domain.TriggerCatchUp)
	return err
}

// fire starts a run for slot. Lock and duplicate conflicts are logged and
// counted, not returned.
func (s *Scheduler) fire(ctx context.Context, slot time.Time, trigger domain.RunTrigger) (bool, error) {
	run, err := s.starter.Start(ctx, slot, trigger)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRunLocked), errors.Is(err, domain.ErrDuplicateRun):
			s.skipped(trigger, slot, err)
			return false, nil
		default:
			return false, fmt.Errorf("start run for %s: %w", slot.Format(time.RFC3339), err)
		}
	}

	log.Info().
		Str("run_id", run.ID.String()).
		Str("trigger", string(trigger)).
		Time("slot", slot).
		Msg("scheduler: run started")
	return true, nil
}

func (s *Scheduler) skipped(trigger domain.RunTrigger, slot time.Time, err error) {
	reason := skipReason(err)
	level := log.Warn
	if reason == metrics.SkipDuplicate {
		level = log.Debug
	}
	level().Err(err).Str("trigger", string(trigger)).Time("slot", slot).Str("reason", reason).Msg("scheduler: run skipped")
	if s.metrics != nil {
		s.metrics.RunSkipped(reason)
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrRunLocked):
		return metrics.SkipLocked
	case errors.Is(err, domain.ErrDuplicateRun):
		return metrics.SkipDuplicate
	default:
		return metrics.SkipMissed
	}
}
