package api

import (
	"time"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/analytics"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/pipeline"
)

// EditRequest changes suggestion copy. Empty fields keep their value, but at
// least one of title, body or cta must be set.
type EditRequest struct {
	Title  string `json:"title" validate:"required_without_all=Body CTA,max=120"`
	Body   string `json:"body" validate:"required_without_all=Title CTA,max=1000"`
	CTA    string `json:"cta" validate:"required_without_all=Title Body,max=60"`
	Editor string `json:"editor" validate:"required,max=100"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type SuggestionResponse struct {
	ID           string   `json:"id"`
	RunID        string   `json:"run_id"`
	Vertical     string   `json:"vertical"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	CTA          string   `json:"cta"`
	Link         string   `json:"link,omitempty"`
	Urgency      string   `json:"urgency"`
	Channels     []string `json:"channels"`
	Score        float64  `json:"score"`
	State        string   `json:"state"`
	Version      int      `json:"version"`
	EditedBy     string   `json:"edited_by,omitempty"`
	RejectReason string   `json:"reject_reason,omitempty"`
	FailReason   string   `json:"fail_reason,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	ApprovedAt   string   `json:"approved_at,omitempty"`
	PublishedAt  string   `json:"published_at,omitempty"`

	Deliveries []DeliveryResponse `json:"deliveries,omitempty"`
}

type DeliveryResponse struct {
	Channel    string `json:"channel"`
	AttemptNo  int    `json:"attempt_no"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Error      string `json:"error,omitempty"`
	Outcome    string `json:"outcome"`
	SentAt     string `json:"sent_at"`
	FinishedAt string `json:"finished_at"`
}

type RunResponse struct {
	ID             string   `json:"id"`
	ScheduledFor   string   `json:"scheduled_for"`
	Trigger        string   `json:"trigger"`
	Status         string   `json:"status"`
	SourceFailures []string `json:"source_failures"`
	Reason         string   `json:"reason,omitempty"`
	StartedAt      string   `json:"started_at"`
	CompletedAt    string   `json:"completed_at,omitempty"`
}

type CandidateResponse struct {
	Vertical        string  `json:"vertical"`
	Rank            int     `json:"rank"`
	RawScore        float64 `json:"raw_score"`
	Weight          float64 `json:"weight"`
	EventBoost      float64 `json:"event_boost"`
	TrendAdjustment float64 `json:"trend_adjustment"`
	FinalScore      float64 `json:"final_score"`
	EventLabel      string  `json:"event_label,omitempty"`
	SignalCount     int     `json:"signal_count"`
}

// AuditResponse shows how a run's scores were derived and whether they
// reproduce from the stored signals.
type AuditResponse struct {
	Run         RunResponse         `json:"run"`
	SignalCount int                 `json:"signal_count"`
	Stored      []CandidateResponse `json:"stored"`
	Recomputed  []CandidateResponse `json:"recomputed"`
	Match       bool                `json:"match"`
	Diffs       []string            `json:"diffs,omitempty"`
}

type ListSuggestionsResponse struct {
	Suggestions []SuggestionResponse `json:"suggestions"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type DailyAnalyticsResponse struct {
	Day    string                 `json:"day"`
	Counts []analytics.DailyCount `json:"counts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toSuggestionResponse(sg domain.Suggestion) SuggestionResponse {
	channels := make([]string, len(sg.Channels))
	for i, ch := range sg.Channels {
		channels[i] = string(ch)
	}
	return SuggestionResponse{
		ID:           sg.ID.String(),
		RunID:        sg.RunID.String(),
		Vertical:     sg.Vertical,
		Title:        sg.Title,
		Body:         sg.Body,
		CTA:          sg.CTA,
		Link:         sg.Link,
		Urgency:      string(sg.Urgency),
		Channels:     channels,
		Score:        sg.Score,
		State:        string(sg.State),
		Version:      sg.Version,
		EditedBy:     sg.EditedBy,
		RejectReason: sg.RejectReason,
		FailReason:   sg.FailReason,
		CreatedAt:    formatTime(sg.CreatedAt),
		UpdatedAt:    formatTime(sg.UpdatedAt),
		ApprovedAt:   formatTimePtr(sg.ApprovedAt),
		PublishedAt:  formatTimePtr(sg.PublishedAt),
	}
}

func toDeliveryResponse(a domain.DeliveryAttempt) DeliveryResponse {
	return DeliveryResponse{
		Channel:    string(a.Channel),
		AttemptNo:  a.AttemptNo,
		HTTPStatus: a.HTTPStatus,
		Error:      a.Error,
		Outcome:    string(a.Outcome),
		SentAt:     formatTime(a.SentAt),
		FinishedAt: formatTime(a.FinishedAt),
	}
}

func toRunResponse(run domain.Run) RunResponse {
	failures := make([]string, len(run.SourceFailures))
	for i, id := range run.SourceFailures {
		failures[i] = string(id)
	}
	return RunResponse{
		ID:             run.ID.String(),
		ScheduledFor:   formatTime(run.ScheduledFor),
		Trigger:        string(run.Trigger),
		Status:         string(run.Status),
		SourceFailures: failures,
		Reason:         run.Reason,
		StartedAt:      formatTime(run.StartedAt),
		CompletedAt:    formatTimePtr(run.CompletedAt),
	}
}

func toCandidateResponses(cs []domain.Candidate) []CandidateResponse {
	out := make([]CandidateResponse, len(cs))
	for i, c := range cs {
		out[i] = CandidateResponse{
			Vertical:        c.Vertical,
			Rank:            c.Rank,
			RawScore:        c.RawScore,
			Weight:          c.WeightApplied,
			EventBoost:      c.EventBoostApplied,
			TrendAdjustment: c.TrendAdjustmentApplied,
			FinalScore:      c.FinalScore,
			EventLabel:      c.EventLabel,
			SignalCount:     len(c.SignalRefs),
		}
	}
	return out
}

func toAuditResponse(res pipeline.ReplayResult) AuditResponse {
	return AuditResponse{
		Run:         toRunResponse(res.Run),
		SignalCount: len(res.Signals),
		Stored:      toCandidateResponses(res.Stored),
		Recomputed:  toCandidateResponses(res.Recomputed),
		Match:       res.Match,
		Diffs:       res.Diffs,
	}
}
