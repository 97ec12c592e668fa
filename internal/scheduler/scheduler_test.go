package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/cron"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/store/memory"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/testutil"
)

// mockStarter creates runs in a memory store and leaves them Running, the
// way a long pipeline run would hold the lock.
type mockStarter struct {
	mu    sync.Mutex
	store *memory.Store
	err   error
	calls []startCall
}

type startCall struct {
	slot    time.Time
	trigger domain.RunTrigger
}

func newMockStarter() *mockStarter {
	return &mockStarter{store: memory.New()}
}

func (s *mockStarter) Start(ctx context.Context, slot time.Time, trigger domain.RunTrigger) (domain.Run, error) {
	s.mu.Lock()
	s.calls = append(s.calls, startCall{slot: slot, trigger: trigger})
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return domain.Run{}, err
	}

	run := domain.Run{ID: uuid.New(), ScheduledFor: slot, Trigger: trigger, StartedAt: slot}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunRunning
	return run, nil
}

func (s *mockStarter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *mockStarter) finishAll(t *testing.T) {
	t.Helper()
	runs, err := s.store.ListRuns(context.Background(), 0, 0)
	require.NoError(t, err)
	for _, r := range runs {
		if r.Status == domain.RunRunning {
			testutil.FinishRun(t, s.store, r, r.StartedAt.Add(time.Minute))
		}
	}
}

func (s *mockStarter) runningCount(t *testing.T) int {
	t.Helper()
	runs, err := s.store.ListRuns(context.Background(), 0, 0)
	require.NoError(t, err)
	n := 0
	for _, r := range runs {
		if r.Status == domain.RunRunning {
			n++
		}
	}
	return n
}

// mockSchedule fires at fixed times.
type mockSchedule struct {
	fireTimes []time.Time
}

func (s *mockSchedule) Next(after time.Time) time.Time {
	for _, t := range s.fireTimes {
		if t.After(after) {
			return t
		}
	}
	return after.Add(100 * 365 * 24 * time.Hour)
}

type mockMetricsSink struct {
	mu             sync.Mutex
	tickStarted    int
	tickCompleted  []int
	tickErrors     []error
	drifts         []time.Duration
	skippedReasons []string
}

func (m *mockMetricsSink) TickStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickStarted++
}

func (m *mockMetricsSink) TickCompleted(d time.Duration, runsStarted int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickCompleted = append(m.tickCompleted, runsStarted)
	m.tickErrors = append(m.tickErrors, err)
}

func (m *mockMetricsSink) TickDrift(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drifts = append(m.drifts, d)
}

func (m *mockMetricsSink) RunSkipped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skippedReasons = append(m.skippedReasons, reason)
}

var day1 = testutil.Trigger

func newTestScheduler(starter *mockStarter, fireTimes ...time.Time) *Scheduler {
	return New(Config{TickInterval: time.Minute}, &mockSchedule{fireTimes: fireTimes}, starter, starter.store)
}

func at(s *Scheduler, now time.Time) {
	s.clock = testutil.NewFakeClock(now).Now
}

func TestScheduler_FiresDueSlot(t *testing.T) {
	starter := newMockStarter()
	sched := newTestScheduler(starter, day1)

	sched.lastTick = day1.Add(-time.Minute)
	at(sched, day1.Add(30*time.Second))

	require.NoError(t, sched.processTick(context.Background()))
	require.Equal(t, 1, starter.callCount())
	assert.Equal(t, startCall{slot: day1, trigger: domain.TriggerScheduled}, starter.calls[0])
	assert.Equal(t, day1.Add(30*time.Second), sched.lastTick)
}

func TestScheduler_NoSlotDue(t *testing.T) {
	starter := newMockStarter()
	sched := newTestScheduler(starter, day1)

	sched.lastTick = day1.Add(-2 * time.Hour)
	at(sched, day1.Add(-time.Hour))

	require.NoError(t, sched.processTick(context.Background()))
	assert.Zero(t, starter.callCount())
}

// Re-processing the same window after a restart does not create a second
// run for the slot.
func TestScheduler_Idempotency_SameSlot(t *testing.T) {
	starter := newMockStarter()
	sched := newTestScheduler(starter, day1)
	metrics := &mockMetricsSink{}
	sched.WithMetrics(metrics)
	ctx := context.Background()

	sched.lastTick = day1.Add(-time.Minute)
	at(sched, day1.Add(30*time.Second))
	require.NoError(t, sched.processTick(ctx))
	starter.finishAll(t)

	sched.lastTick = day1.Add(-time.Minute)
	require.NoError(t, sched.processTick(ctx))

	runs, err := starter.store.ListRuns(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, []string{"duplicate"}, metrics.skippedReasons)
}

// A slot that fires while yesterday's run is still Running is skipped, not
// run concurrently.
func TestScheduler_SkipsWhileRunInProgress(t *testing.T) {
	day2 := day1.Add(24 * time.Hour)
	starter := newMockStarter()
	sched := newTestScheduler(starter, day1, day2)
	metrics := &mockMetricsSink{}
	sched.WithMetrics(metrics)
	ctx := context.Background()

	sched.lastTick = day1.Add(-time.Minute)
	at(sched, day1)
	require.NoError(t, sched.processTick(ctx))

	sched.lastTick = day2.Add(-time.Minute)
	at(sched, day2)
	require.NoError(t, sched.processTick(ctx), "locked slot should not be a tick error")

	assert.Equal(t, 1, starter.runningCount(t))
	assert.Equal(t, []string{"locked"}, metrics.skippedReasons)
	assert.Equal(t, []int{1, 0}, metrics.tickCompleted, "runs started per tick")
}

func TestScheduler_OnlyNewestSlotInWindowRuns(t *testing.T) {
	slots := []time.Time{day1, day1.Add(24 * time.Hour), day1.Add(48 * time.Hour)}
	starter := newMockStarter()
	sched := newTestScheduler(starter, slots...)
	metrics := &mockMetricsSink{}
	sched.WithMetrics(metrics)

	sched.lastTick = day1.Add(-time.Minute)
	at(sched, slots[2].Add(time.Minute))
	require.NoError(t, sched.processTick(context.Background()))

	require.Equal(t, 1, starter.callCount())
	assert.Equal(t, slots[2], starter.calls[0].slot)
	assert.Equal(t, []string{"missed", "missed"}, metrics.skippedReasons)
}

// A failing start is reported for the tick but the scheduler stays armed.
func TestScheduler_StartErrorDoesNotStopScheduler(t *testing.T) {
	day2 := day1.Add(24 * time.Hour)
	starter := newMockStarter()
	starter.err = errors.New("database unavailable")
	sched := newTestScheduler(starter, day1, day2)
	metrics := &mockMetricsSink{}
	sched.WithMetrics(metrics)
	ctx := context.Background()

	sched.lastTick = day1.Add(-time.Minute)
	at(sched, day1)
	require.Error(t, sched.processTick(ctx))
	require.Len(t, metrics.tickErrors, 1)
	assert.Error(t, metrics.tickErrors[0], "TickCompleted should receive the error")

	starter.mu.Lock()
	starter.err = nil
	starter.mu.Unlock()

	at(sched, day2)
	require.NoError(t, sched.processTick(ctx))
	assert.Equal(t, 1, starter.runningCount(t))
}

func TestScheduler_DriftMetric(t *testing.T) {
	starter := newMockStarter()
	sched := newTestScheduler(starter)
	metrics := &mockMetricsSink{}
	sched.WithMetrics(metrics)

	sched.lastTick = day1
	at(sched, day1.Add(75*time.Second))
	require.NoError(t, sched.processTick(context.Background()))

	assert.Equal(t, []time.Duration{15 * time.Second}, metrics.drifts)
	assert.Equal(t, 1, metrics.tickStarted)
}

// Concurrent trigger injection never yields more than one Running run.
func TestScheduler_ConcurrentTriggersSingleRun(t *testing.T) {
	starter := newMockStarter()
	sched := newTestScheduler(starter)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			slot := day1.Add(time.Duration(i) * 24 * time.Hour)
			_, err := sched.fire(context.Background(), slot, domain.TriggerScheduled)
			assert.NoError(t, err)
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, starter.runningCount(t))
}

func TestScheduler_CatchUpRunsLatestMissedSlotOnce(t *testing.T) {
	day0 := day1.Add(-24 * time.Hour)
	starter := newMockStarter()
	sched := newTestScheduler(starter, day0, day1)
	ctx := context.Background()

	now := day1.Add(3 * time.Hour)
	require.NoError(t, sched.catchUp(ctx, now))
	require.Equal(t, 1, starter.callCount())
	assert.Equal(t, startCall{slot: day1, trigger: domain.TriggerCatchUp}, starter.calls[0])
	starter.finishAll(t)

	// A second start (restart) finds the slot already ran.
	require.NoError(t, sched.catchUp(ctx, now.Add(time.Hour)))
	assert.Equal(t, 1, starter.callCount(), "no second start expected")
}

func TestScheduler_RunPolicy(t *testing.T) {
	tests := []struct {
		policy     string
		wantStarts int
	}{
		{PolicySkip, 0},
		{PolicyCatchUp, 1},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			starter := newMockStarter()
			sched := New(Config{TickInterval: time.Hour, MissedRunPolicy: tt.policy}, &mockSchedule{fireTimes: []time.Time{day1}}, starter, starter.store)
			at(sched, day1.Add(2*time.Hour))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			require.ErrorIs(t, sched.Run(ctx), context.Canceled)
			assert.Equal(t, tt.wantStarts, starter.callCount())
		})
	}
}

func TestScheduler_DefaultPolicyIsSkip(t *testing.T) {
	sched := New(Config{TickInterval: time.Minute}, &mockSchedule{}, newMockStarter(), nil)
	assert.Equal(t, PolicySkip, sched.config.MissedRunPolicy)
}

// The daily trigger is evaluated in the reference timezone: 09:00 in
// Asia/Kolkata is 03:30 UTC.
func TestScheduler_DailyScheduleInTimezone(t *testing.T) {
	schedule, err := cron.NewParser().Daily("09:00", "Asia/Kolkata")
	require.NoError(t, err)
	starter := newMockStarter()
	sched := New(Config{TickInterval: time.Minute}, schedule, starter, starter.store)

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	slots := sched.dueSlots(from, from.Add(48*time.Hour))
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Equal(day1), "first slot = %s, want %s", slots[0], day1)
	assert.Equal(t, 24*time.Hour, slots[1].Sub(slots[0]))
}
