package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

// Unique indexes whose violations carry domain meaning.
const (
	constraintRunLock         = "runs_single_running"
	constraintRunSlot         = "runs_slot_key"
	constraintDeliverySuccess = "delivery_attempts_success_key"
)

// Store implements the pipeline, review, publisher, reconciler and API
// stores using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// CreateRun inserts a run in Running state, taking the run-lock.
// Returns domain.ErrRunLocked if another run is Running and
// domain.ErrDuplicateRun if the slot was already run.
func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		run.ScheduledFor.UTC(),
		string(run.Trigger),
		pq.Array(sourceStrings(run.SourceFailures)),
		run.Reason,
		nullJSON(run.ScoringSnapshot),
		run.StartedAt.UTC(),
	)
	return mapError(err)
}

// FinishRun moves a Running run to a terminal status, releasing the run-lock.
// The WHERE guard makes this atomic with respect to concurrent finishers.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, failures []domain.SourceID, reason string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, queryFinishRun,
		id,
		string(status),
		pq.Array(sourceStrings(domain.SortSourceIDs(failures))),
		reason,
		at.UTC(),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, queryRunExists, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Kind: "run", ID: id.String()}
	}
	if err != nil {
		return err
	}
	return domain.ErrRunNotRunning
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, queryGetRun, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, &domain.NotFoundError{Kind: "run", ID: id.String()}
	}
	return run, err
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	return s.queryRuns(ctx, queryListRuns, limit, offset)
}

// ListStaleRuns returns Running runs started before the given time, oldest first.
func (s *Store) ListStaleRuns(ctx context.Context, startedBefore time.Time, limit int) ([]domain.Run, error) {
	return s.queryRuns(ctx, queryListStaleRuns, startedBefore.UTC(), limit)
}

// LastScheduledRun returns the most recent non-manual run, or false if none exists.
func (s *Store) LastScheduledRun(ctx context.Context) (domain.Run, bool, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, queryLastScheduledRun))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, false, nil
	}
	if err != nil {
		return domain.Run{}, false, err
	}
	return run, true, nil
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// SaveRunOutput stores the signals, candidates and suggestions of a run in
// one transaction. Signals are bulk-loaded with COPY.
func (s *Store) SaveRunOutput(ctx context.Context, runID uuid.UUID, signals []domain.Signal, candidates []domain.Candidate, suggestions []domain.Suggestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists string
	if err := tx.QueryRowContext(ctx, queryRunExists, runID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Kind: "run", ID: runID.String()}
		}
		return err
	}

	if len(signals) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("signals", signalColumns...))
		if err != nil {
			return fmt.Errorf("prepare copy: %w", err)
		}
		for _, sg := range signals {
			_, err := stmt.ExecContext(ctx,
				sg.ID, sg.RunID, string(sg.SourceID), sg.Vertical, sg.MetricKey, sg.Value, sg.Unit, sg.Label,
				sg.WindowStart.UTC(), sg.WindowEnd.UTC(), sg.ObservedAt.UTC(), sg.CollectedAt.UTC(),
			)
			if err != nil {
				stmt.Close()
				return fmt.Errorf("copy signal: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return fmt.Errorf("flush signals: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return err
		}
	}

	for _, c := range candidates {
		_, err := tx.ExecContext(ctx, queryInsertCandidate,
			c.RunID, c.Vertical, pq.Array(uuidStrings(c.SignalRefs)),
			c.RawScore, c.WeightApplied, c.EventBoostApplied, c.TrendAdjustmentApplied, c.FinalScore,
			c.EventLabel, c.Rank,
		)
		if err != nil {
			return fmt.Errorf("insert candidate %s: %w", c.Vertical, err)
		}
	}

	for _, sg := range suggestions {
		_, err := tx.ExecContext(ctx, queryInsertSuggestion,
			sg.ID, sg.RunID, sg.Vertical, sg.Title, sg.Body, sg.CTA, sg.Link, string(sg.Urgency),
			pq.Array(channelStrings(sg.Channels)), sg.Score,
			string(sg.State), sg.Version, sg.EditedBy, sg.RejectReason, sg.FailReason,
			sg.CreatedAt.UTC(), sg.UpdatedAt.UTC(), nullTime(sg.ApprovedAt), nullTime(sg.PublishedAt),
		)
		if err != nil {
			return fmt.Errorf("insert suggestion %s: %w", sg.Vertical, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListSignals(ctx context.Context, runID uuid.UUID) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, queryListSignals, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Signal
	for rows.Next() {
		var sg domain.Signal
		var source string
		err := rows.Scan(
			&sg.ID, &sg.RunID, &source, &sg.Vertical, &sg.MetricKey, &sg.Value, &sg.Unit, &sg.Label,
			&sg.WindowStart, &sg.WindowEnd, &sg.ObservedAt, &sg.CollectedAt,
		)
		if err != nil {
			return nil, err
		}
		sg.SourceID = domain.SourceID(source)
		result = append(result, sg)
	}
	return result, rows.Err()
}

// ListCandidates returns a run's candidates in rank order.
func (s *Store) ListCandidates(ctx context.Context, runID uuid.UUID) ([]domain.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, queryListCandidates, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var refs pq.StringArray
		err := rows.Scan(
			&c.RunID, &c.Vertical, &refs, &c.RawScore, &c.WeightApplied,
			&c.EventBoostApplied, &c.TrendAdjustmentApplied, &c.FinalScore, &c.EventLabel, &c.Rank,
		)
		if err != nil {
			return nil, err
		}
		if c.SignalRefs, err = parseUUIDs(refs); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) GetSuggestion(ctx context.Context, id uuid.UUID) (domain.Suggestion, error) {
	sg, err := scanSuggestion(s.db.QueryRowContext(ctx, queryGetSuggestion, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Suggestion{}, &domain.NotFoundError{Kind: "suggestion", ID: id.String()}
	}
	return sg, err
}

// ListSuggestions returns matching suggestions, newest first.
func (s *Store) ListSuggestions(ctx context.Context, f domain.SuggestionFilter) ([]domain.Suggestion, error) {
	query, args := buildSuggestionQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sg)
	}
	return result, rows.Err()
}

// UpdateSuggestion writes sg if the stored version equals expectedVersion.
// Returns domain.ErrStaleVersion when another writer got there first.
func (s *Store) UpdateSuggestion(ctx context.Context, sg domain.Suggestion, expectedVersion int) error {
	result, err := s.db.ExecContext(ctx, queryUpdateSuggestion,
		sg.ID, expectedVersion,
		sg.Title, sg.Body, sg.CTA, sg.Link, string(sg.Urgency), pq.Array(channelStrings(sg.Channels)),
		string(sg.State), sg.Version, sg.EditedBy, sg.RejectReason, sg.FailReason,
		sg.UpdatedAt.UTC(), nullTime(sg.ApprovedAt), nullTime(sg.PublishedAt),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var version int
	err = s.db.QueryRowContext(ctx, querySuggestionExists, sg.ID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Kind: "suggestion", ID: sg.ID.String()}
	}
	if err != nil {
		return err
	}
	return domain.ErrStaleVersion
}

func (s *Store) PublishedVerticalsSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryPublishedVerticalsSince, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// InsertDeliveryAttempt logs an attempt. A second Success for the same
// (suggestion, channel) returns domain.ErrDuplicateDelivery.
func (s *Store) InsertDeliveryAttempt(ctx context.Context, a domain.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx, queryInsertDeliveryAttempt,
		a.ID, a.SuggestionID, string(a.Channel), a.AttemptNo, a.HTTPStatus, a.Error,
		string(a.Outcome), a.SentAt.UTC(), a.FinishedAt.UTC(),
	)
	return mapError(err)
}

func (s *Store) HasSuccessfulDelivery(ctx context.Context, suggestionID uuid.UUID, ch domain.Channel) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, queryHasSuccessfulDelivery, suggestionID, string(ch)).Scan(&ok)
	return ok, err
}

func (s *Store) ListDeliveryAttempts(ctx context.Context, suggestionID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, queryListDeliveryAttempts, suggestionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		var ch, outcome string
		err := rows.Scan(&a.ID, &a.SuggestionID, &ch, &a.AttemptNo, &a.HTTPStatus, &a.Error, &outcome, &a.SentAt, &a.FinishedAt)
		if err != nil {
			return nil, err
		}
		a.Channel = domain.Channel(ch)
		a.Outcome = domain.DeliveryOutcome(outcome)
		result = append(result, a)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var (
		run       domain.Run
		trigger   string
		status    string
		failures  pq.StringArray
		snapshot  []byte
		completed sql.NullTime
	)
	err := row.Scan(&run.ID, &run.ScheduledFor, &trigger, &status, &failures, &run.Reason, &snapshot, &run.StartedAt, &completed)
	if err != nil {
		return domain.Run{}, err
	}
	run.Trigger = domain.RunTrigger(trigger)
	run.Status = domain.RunStatus(status)
	for _, f := range failures {
		run.SourceFailures = append(run.SourceFailures, domain.SourceID(f))
	}
	run.ScoringSnapshot = snapshot
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return run, nil
}

func scanSuggestion(row scanner) (domain.Suggestion, error) {
	var (
		sg        domain.Suggestion
		urgency   string
		channels  pq.StringArray
		state     string
		approved  sql.NullTime
		published sql.NullTime
	)
	err := row.Scan(
		&sg.ID, &sg.RunID, &sg.Vertical, &sg.Title, &sg.Body, &sg.CTA, &sg.Link, &urgency, &channels, &sg.Score,
		&state, &sg.Version, &sg.EditedBy, &sg.RejectReason, &sg.FailReason,
		&sg.CreatedAt, &sg.UpdatedAt, &approved, &published,
	)
	if err != nil {
		return domain.Suggestion{}, err
	}
	sg.Urgency = domain.Urgency(urgency)
	sg.State = domain.SuggestionState(state)
	for _, c := range channels {
		sg.Channels = append(sg.Channels, domain.Channel(c))
	}
	if approved.Valid {
		t := approved.Time
		sg.ApprovedAt = &t
	}
	if published.Valid {
		t := published.Time
		sg.PublishedAt = &t
	}
	return sg, nil
}

// buildSuggestionQuery renders the WHERE clause for a filter. Only
// placeholders are interpolated; values travel as arguments.
func buildSuggestionQuery(f domain.SuggestionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.RunID != uuid.Nil {
		args = append(args, f.RunID)
		conds = append(conds, fmt.Sprintf("run_id = $%d", len(args)))
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		args = append(args, pq.Array(states))
		conds = append(conds, fmt.Sprintf("state = ANY($%d)", len(args)))
	}
	if !f.UpdatedBefore.IsZero() {
		args = append(args, f.UpdatedBefore.UTC())
		conds = append(conds, fmt.Sprintf("updated_at < $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(queryListSuggestionsBase)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, score DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

// mapError translates unique violations on the named indexes to domain
// sentinels. Other errors pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch pqErr.Constraint {
	case constraintRunLock:
		return domain.ErrRunLocked
	case constraintRunSlot:
		return domain.ErrDuplicateRun
	case constraintDeliverySuccess:
		return domain.ErrDuplicateDelivery
	}
	return err
}

func nullJSON(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func sourceStrings(ids []domain.SourceID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func channelStrings(chs []domain.Channel) []string {
	out := make([]string, len(chs))
	for i, c := range chs {
		out[i] = string(c)
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(in []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(in))
	for _, s := range in {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse signal ref %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
