package postgres

// schema is applied by Migrate. Every statement is idempotent.
//
// runs_single_running is the run-lock: at most one row may be Running.
// runs_slot_key keeps one scheduled or catch-up run per slot.
// delivery_attempts_success_key keeps one Success per (suggestion, channel).
const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id               UUID PRIMARY KEY,
    scheduled_for    TIMESTAMPTZ NOT NULL,
    trigger          TEXT NOT NULL,
    status           TEXT NOT NULL,
    source_failures  TEXT[] NOT NULL DEFAULT '{}',
    reason           TEXT NOT NULL DEFAULT '',
    scoring_snapshot JSONB,
    started_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS runs_single_running
    ON runs ((status)) WHERE status = 'running';

CREATE UNIQUE INDEX IF NOT EXISTS runs_slot_key
    ON runs (scheduled_for) WHERE trigger <> 'manual';

CREATE TABLE IF NOT EXISTS signals (
    id           UUID PRIMARY KEY,
    run_id       UUID NOT NULL REFERENCES runs (id),
    source_id    TEXT NOT NULL,
    vertical     TEXT NOT NULL,
    metric_key   TEXT NOT NULL,
    value        DOUBLE PRECISION NOT NULL,
    unit         TEXT NOT NULL DEFAULT '',
    label        TEXT NOT NULL DEFAULT '',
    window_start TIMESTAMPTZ NOT NULL,
    window_end   TIMESTAMPTZ NOT NULL,
    observed_at  TIMESTAMPTZ NOT NULL,
    collected_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS signals_run_id ON signals (run_id);

CREATE TABLE IF NOT EXISTS candidates (
    run_id                   UUID NOT NULL REFERENCES runs (id),
    vertical                 TEXT NOT NULL,
    signal_refs              TEXT[] NOT NULL DEFAULT '{}',
    raw_score                DOUBLE PRECISION NOT NULL,
    weight_applied           DOUBLE PRECISION NOT NULL,
    event_boost_applied      DOUBLE PRECISION NOT NULL,
    trend_adjustment_applied DOUBLE PRECISION NOT NULL,
    final_score              DOUBLE PRECISION NOT NULL,
    event_label              TEXT NOT NULL DEFAULT '',
    rank                     INTEGER NOT NULL,
    PRIMARY KEY (run_id, vertical)
);

CREATE TABLE IF NOT EXISTS suggestions (
    id            UUID PRIMARY KEY,
    run_id        UUID NOT NULL REFERENCES runs (id),
    vertical      TEXT NOT NULL,
    title         TEXT NOT NULL,
    body          TEXT NOT NULL,
    cta           TEXT NOT NULL DEFAULT '',
    link          TEXT NOT NULL DEFAULT '',
    urgency       TEXT NOT NULL DEFAULT '',
    channels      TEXT[] NOT NULL DEFAULT '{}',
    score         DOUBLE PRECISION NOT NULL,
    state         TEXT NOT NULL,
    version       INTEGER NOT NULL,
    edited_by     TEXT NOT NULL DEFAULT '',
    reject_reason TEXT NOT NULL DEFAULT '',
    fail_reason   TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    approved_at   TIMESTAMPTZ,
    published_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS suggestions_state_updated ON suggestions (state, updated_at);
CREATE INDEX IF NOT EXISTS suggestions_published ON suggestions (published_at) WHERE state = 'published';

CREATE TABLE IF NOT EXISTS delivery_attempts (
    id            UUID PRIMARY KEY,
    suggestion_id UUID NOT NULL REFERENCES suggestions (id),
    channel       TEXT NOT NULL,
    attempt_no    INTEGER NOT NULL,
    http_status   INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    outcome       TEXT NOT NULL,
    sent_at       TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS delivery_attempts_success_key
    ON delivery_attempts (suggestion_id, channel) WHERE outcome = 'success';
`
