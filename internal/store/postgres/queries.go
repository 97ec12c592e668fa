package postgres

const runColumns = `id, scheduled_for, trigger, status, source_failures, reason, scoring_snapshot, started_at, completed_at`

const queryInsertRun = `
INSERT INTO runs (id, scheduled_for, trigger, status, source_failures, reason, scoring_snapshot, started_at)
VALUES ($1, $2, $3, 'running', $4, $5, $6, $7)
`

const queryFinishRun = `
UPDATE runs
SET status = $2, source_failures = $3, reason = $4, completed_at = $5
WHERE id = $1
  AND status = 'running'
`

const queryRunExists = `SELECT status FROM runs WHERE id = $1`

const queryGetRun = `SELECT ` + runColumns + ` FROM runs WHERE id = $1`

const queryListRuns = `
SELECT ` + runColumns + `
FROM runs
ORDER BY started_at DESC, id
LIMIT $1 OFFSET $2
`

const queryListStaleRuns = `
SELECT ` + runColumns + `
FROM runs
WHERE status = 'running'
  AND started_at < $1
ORDER BY started_at ASC
LIMIT $2
`

const queryLastScheduledRun = `
SELECT ` + runColumns + `
FROM runs
WHERE trigger <> 'manual'
ORDER BY scheduled_for DESC
LIMIT 1
`

var signalColumns = []string{
	"id", "run_id", "source_id", "vertical", "metric_key", "value", "unit", "label",
	"window_start", "window_end", "observed_at", "collected_at",
}

const queryListSignals = `
SELECT id, run_id, source_id, vertical, metric_key, value, unit, label,
       window_start, window_end, observed_at, collected_at
FROM signals
WHERE run_id = $1
ORDER BY observed_at, id
`

const queryInsertCandidate = `
INSERT INTO candidates (run_id, vertical, signal_refs, raw_score, weight_applied,
    event_boost_applied, trend_adjustment_applied, final_score, event_label, rank)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryListCandidates = `
SELECT run_id, vertical, signal_refs, raw_score, weight_applied,
       event_boost_applied, trend_adjustment_applied, final_score, event_label, rank
FROM candidates
WHERE run_id = $1
ORDER BY rank
`

const suggestionColumns = `id, run_id, vertical, title, body, cta, link, urgency, channels, score,
       state, version, edited_by, reject_reason, fail_reason,
       created_at, updated_at, approved_at, published_at`

const queryInsertSuggestion = `
INSERT INTO suggestions (` + suggestionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
`

const queryGetSuggestion = `SELECT ` + suggestionColumns + ` FROM suggestions WHERE id = $1`

const queryListSuggestionsBase = `SELECT ` + suggestionColumns + ` FROM suggestions`

// queryUpdateSuggestion is conditioned on the expected prior version ($2).
const queryUpdateSuggestion = `
UPDATE suggestions
SET title = $3, body = $4, cta = $5, link = $6, urgency = $7, channels = $8,
    state = $9, version = $10, edited_by = $11, reject_reason = $12, fail_reason = $13,
    updated_at = $14, approved_at = $15, published_at = $16
WHERE id = $1
  AND version = $2
`

const querySuggestionExists = `SELECT version FROM suggestions WHERE id = $1`

const queryPublishedVerticalsSince = `
SELECT DISTINCT vertical
FROM suggestions
WHERE state = 'published'
  AND published_at >= $1
ORDER BY vertical
`

const queryInsertDeliveryAttempt = `
INSERT INTO delivery_attempts (id, suggestion_id, channel, attempt_no, http_status, error, outcome, sent_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryHasSuccessfulDelivery = `
SELECT EXISTS (
    SELECT 1 FROM delivery_attempts
    WHERE suggestion_id = $1 AND channel = $2 AND outcome = 'success'
)
`

const queryListDeliveryAttempts = `
SELECT id, suggestion_id, channel, attempt_no, http_status, error, outcome, sent_at, finished_at
FROM delivery_attempts
WHERE suggestion_id = $1
ORDER BY sent_at, attempt_no
`
