// Package leaderelection picks the replica that runs the scheduler and
// reconciler, using a Postgres advisory lock.
//
// A single Postgres session-scoped advisory lock determines the leader.
// The lock is held for the lifetime of the dedicated database connection;
// there is no renewal or TTL. If the connection dies, Postgres automatically
// releases the lock server-side (timing depends on TCP keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so the
// leader can stop its duties promptly. It does NOT renew the lock.
package leaderelection

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost", "error"
}

// Elector manages leader election using a Postgres advisory lock.
type Elector struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to ping dedicated connection
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
	leader            atomic.Bool
	term              atomic.Uint64 // leadership terms won by this instance
}

// New creates a new Elector.
//
// onElected is called in a new goroutine when this instance acquires the lock.
// The provided context is cancelled when leadership is lost.
// onElected should start the scheduler and reconciler and return quickly.
//
// onDemoted is called synchronously when leadership is lost.
// It should stop leader duties and block until they are fully stopped.
// It must be idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// IsLeader reports whether this instance holds the lock and its duties are
// running. It turns false as soon as stepping down begins.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Term returns how many times this instance has become leader.
func (e *Elector) Term() uint64 {
	return e.term.Load()
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Info().
		Int64("lock_key", e.lockKey).
		Dur("retry", e.retryInterval).
		Dur("heartbeat", e.heartbeatInterval).
		Msg("leader: starting election loop")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("leader: election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			log.Info().Msg("leader: election loop stopped")
			return
		}

		if reason != "" {
			log.Warn().Str("reason", reason).Dur("retry_in", e.retryInterval).Msg("leader: lost leadership")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it.
// Returns the reason leadership was lost ("" if lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Error().Err(err).Msg("leader: failed to acquire dedicated connection")
		return ""
	}
	defer conn.Close()

	// Non-blocking lock attempt.
	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", e.lockKey).Scan(&acquired)
	if err != nil {
		log.Error().Err(err).Msg("leader: advisory lock query failed")
		return ""
	}
	if !acquired {
		log.Debug().Int64("lock_key", e.lockKey).Msg("leader: lock held by another instance")
		return ""
	}

	stepDown := e.promote(ctx)

	// Ping detects local connection death; it does NOT renew the lock (no TTL).
	reason := e.holdLock(ctx, conn)

	stepDown(reason)
	log.Info().Int64("lock_key", e.lockKey).Msg("leader: released advisory lock")
	return reason
}

// promote marks this instance leader and starts its duties under a context
// derived from ctx. The returned function steps down.
func (e *Elector) promote(ctx context.Context) func(reason string) {
	term := e.term.Add(1)
	log.Info().Int64("lock_key", e.lockKey).Uint64("term", term).Msg("leader: acquired advisory lock, starting scheduler and reconciler")
	e.leader.Store(true)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancel := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	return func(reason string) {
		e.demote(term, cancel, reason)
	}
}

// demote clears the leader flag before onDemoted runs: IsLeader is already
// false while the scheduler and reconciler stop.
func (e *Elector) demote(term uint64, cancel context.CancelFunc, reason string) {
	e.leader.Store(false)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
	}
	log.Info().Uint64("term", term).Str("reason", reason).Msg("leader: stepping down, stopping scheduler and reconciler")

	cancel()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderLost(reason)
	}
}

// holdLock blocks while pinging the dedicated connection.
// Returns the reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Error().Err(err).Msg("leader: dedicated connection ping failed")
				return "conn_lost"
			}
		}
	}
}
