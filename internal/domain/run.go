package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	// RunPending is a run that has not yet taken the run-lock.
	RunPending         RunStatus = "pending"
	RunRunning         RunStatus = "running"
	RunCompleted       RunStatus = "completed"
	RunPartiallyFailed RunStatus = "partially_failed"
	RunFailed          RunStatus = "failed"
)

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunPartiallyFailed || s == RunFailed
}

// RunTrigger records what started a run.
type RunTrigger string

const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerCatchUp   RunTrigger = "catch_up"
	TriggerManual    RunTrigger = "manual"
)

// Run is one execution of the signal -> score -> suggestion pipeline.
type Run struct {
	ID           uuid.UUID
	ScheduledFor time.Time
	Trigger      RunTrigger

	Status         RunStatus
	SourceFailures []SourceID
	Reason         string

	// ScoringSnapshot is the JSON encoding of the scoring config used,
	// kept so the run can be replayed.
	ScoringSnapshot []byte

	StartedAt   time.Time
	CompletedAt *time.Time
}

// Failed run reasons.
const (
	ReasonCancelled   = "cancelled"
	ReasonNoSources   = "no surviving sources"
	ReasonAbandoned   = "abandoned"
	ReasonStoreFailed = "store failure"
)

// FinalRunStatus derives the run outcome from the number of enabled
// sources and the set of sources that failed.
func FinalRunStatus(enabled int, failures []SourceID) RunStatus {
	switch {
	case enabled == 0 || len(failures) >= enabled:
		return RunFailed
	case len(failures) > 0:
		return RunPartiallyFailed
	default:
		return RunCompleted
	}
}

// SortSourceIDs returns ids deduplicated and in ascending order.
func SortSourceIDs(ids []SourceID) []SourceID {
	seen := make(map[SourceID]struct{}, len(ids))
	out := make([]SourceID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
