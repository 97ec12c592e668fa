package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
)

func TestMapError(t *testing.T) {
	unique := func(constraint string) error {
		return &pq.Error{Code: "23505", Constraint: constraint}
	}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"run lock", unique(constraintRunLock), domain.ErrRunLocked},
		{"run slot", unique(constraintRunSlot), domain.ErrDuplicateRun},
		{"delivery success", unique(constraintDeliverySuccess), domain.ErrDuplicateDelivery},
		{"wrapped run lock", fmt.Errorf("exec: %w", unique(constraintRunLock)), domain.ErrRunLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestMapError_PassThrough(t *testing.T) {
	other := &pq.Error{Code: "23505", Constraint: "runs_pkey"}
	assert.Same(t, other, mapError(other))

	fk := &pq.Error{Code: "23503", Constraint: constraintRunLock}
	assert.Same(t, fk, mapError(fk))

	plain := errors.New("connection refused")
	assert.Equal(t, plain, mapError(plain))
}

func TestBuildSuggestionQuery(t *testing.T) {
	t.Run("no filter", func(t *testing.T) {
		q, args := buildSuggestionQuery(domain.SuggestionFilter{})
		assert.NotContains(t, q, "WHERE")
		assert.NotContains(t, q, "LIMIT")
		assert.Empty(t, args)
	})

	t.Run("all fields", func(t *testing.T) {
		runID := uuid.New()
		before := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		q, args := buildSuggestionQuery(domain.SuggestionFilter{
			RunID:         runID,
			States:        []domain.SuggestionState{domain.SuggestionGenerated, domain.SuggestionEdited},
			UpdatedBefore: before,
			Limit:         10,
			Offset:        20,
		})
		assert.Contains(t, q, "WHERE run_id = $1 AND state = ANY($2) AND updated_at < $3")
		assert.True(t, strings.HasSuffix(q, "LIMIT $4 OFFSET $5"), q)
		require.Len(t, args, 5)
		assert.Equal(t, runID, args[0])
		assert.Equal(t, before, args[2])
		assert.Equal(t, 10, args[3])
		assert.Equal(t, 20, args[4])
	})

	t.Run("placeholders follow present fields", func(t *testing.T) {
		q, args := buildSuggestionQuery(domain.SuggestionFilter{
			States: []domain.SuggestionState{domain.SuggestionApproved},
			Limit:  5,
		})
		assert.Contains(t, q, "WHERE state = ANY($1)")
		assert.Contains(t, q, "LIMIT $2")
		assert.Len(t, args, 2)
	})
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullJSON(nil).Valid)
	assert.Equal(t, `{"a":1}`, nullJSON([]byte(`{"a":1}`)).String)

	assert.False(t, nullTime(nil).Valid)
	ist := time.FixedZone("IST", 19800)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, ist)
	nt := nullTime(&at)
	assert.True(t, nt.Valid)
	assert.Equal(t, time.UTC, nt.Time.Location())
	assert.True(t, at.Equal(nt.Time))
}

func TestParseUUIDs(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	got, err := parseUUIDs(uuidStrings(ids))
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	_, err = parseUUIDs([]string{"not-a-uuid"})
	assert.Error(t, err)
}

func TestSchemaDeclaresNamedIndexes(t *testing.T) {
	for _, name := range []string{constraintRunLock, constraintRunSlot, constraintDeliverySuccess} {
		assert.Contains(t, schema, name)
	}
}
