// Package api serves the review and run endpoints consumed by the review UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/analytics"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/domain"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/pipeline"
	"github.com/SatyarthAdda247/Sandesh.AI-sub001/internal/review"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	ListSuggestions(ctx context.Context, f domain.SuggestionFilter) ([]domain.Suggestion, error)
	ListDeliveryAttempts(ctx context.Context, suggestionID uuid.UUID) ([]domain.DeliveryAttempt, error)
	GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error)
}

// Reviewer applies review actions; *review.Service implements it.
type Reviewer interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Suggestion, error)
	Edit(ctx context.Context, id uuid.UUID, e review.Edit) (domain.Suggestion, error)
	Approve(ctx context.Context, id uuid.UUID) (domain.Suggestion, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (domain.Suggestion, error)
}

// Runs controls pipeline runs; *pipeline.Runner implements it.
type Runs interface {
	RunNow(ctx context.Context) (domain.Run, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Replay(ctx context.Context, id uuid.UUID) (pipeline.ReplayResult, error)
}

// HealthChecker provides database health status for the /healthz endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// DailyStats reads per-day delivery counters.
type DailyStats interface {
	Daily(ctx context.Context, day time.Time) ([]analytics.DailyCount, error)
}

type Handler struct {
	store    Store
	reviewer Reviewer
	runs     Runs

	db     HealthChecker // optional
	leader func() bool   // optional, nil = single instance
	stats  DailyStats    // optional, nil = /analytics disabled
	clock  func() time.Time
	router *mux.Router
}

func NewHandler(store Store, reviewer Reviewer, runs Runs) *Handler {
	h := &Handler{store: store, reviewer: reviewer, runs: runs, clock: time.Now}
	h.router = h.routes()
	return h
}

// WithHealthChecker sets the database health checker for /healthz.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithLeaderStatus reports this instance's leader role on /healthz.
func (h *Handler) WithLeaderStatus(isLeader func() bool) *Handler {
	h.leader = isLeader
	return h
}

// WithAnalytics enables GET /analytics/daily.
func (h *Handler) WithAnalytics(stats DailyStats) *Handler {
	h.stats = stats
	return h
}

// WithClock overrides the time source.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/suggestions", h.listSuggestions).Methods(http.MethodGet)
	r.HandleFunc("/suggestions/{id}", h.getSuggestion).Methods(http.MethodGet)
	r.HandleFunc("/suggestions/{id}", h.editSuggestion).Methods(http.MethodPatch)
	r.HandleFunc("/suggestions/{id}/approve", h.approveSuggestion).Methods(http.MethodPost)
	r.HandleFunc("/suggestions/{id}/reject", h.rejectSuggestion).Methods(http.MethodPost)

	r.HandleFunc("/runs", h.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/runs", h.triggerRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}", h.getRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/audit", h.auditRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/cancel", h.cancelRun).Methods(http.MethodPost)

	r.HandleFunc("/analytics/daily", h.dailyAnalytics).Methods(http.MethodGet)

	r.Use(recoveryMiddleware, loggingMiddleware)
	return r
}

// HealthResponse represents the /healthz endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Role       string            `json:"role,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.leader != nil {
		resp.Role = "follower"
		if h.leader() {
			resp.Role = "leader"
		}
	}
	if h.db == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Components = make(map[string]string)

	// Check database connectivity with timeout
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	f, err := parseSuggestionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sgs, err := h.store.ListSuggestions(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("api: list suggestions")
		writeError(w, http.StatusInternalServerError, "failed to list suggestions")
		return
	}

	resp := ListSuggestionsResponse{Suggestions: make([]SuggestionResponse, len(sgs))}
	for i, sg := range sgs {
		resp.Suggestions[i] = toSuggestionResponse(sg)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sg, err := h.reviewer.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get suggestion")
		return
	}
	attempts, err := h.store.ListDeliveryAttempts(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("suggestion_id", id.String()).Msg("api: list delivery attempts")
		writeError(w, http.StatusInternalServerError, "failed to get suggestion")
		return
	}

	resp := toSuggestionResponse(sg)
	for _, a := range attempts {
		resp.Deliveries = append(resp.Deliveries, toDeliveryResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) editSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req EditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sg, err := h.reviewer.Edit(r.Context(), id, review.Edit{
		Title:  req.Title,
		Body:   req.Body,
		CTA:    req.CTA,
		Editor: req.Editor,
	})
	if err != nil {
		writeDomainError(w, err, "failed to edit suggestion")
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionResponse(sg))
}

func (h *Handler) approveSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sg, err := h.reviewer.Approve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to approve suggestion")
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionResponse(sg))
}

func (h *Handler) rejectSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RejectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sg, err := h.reviewer.Reject(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, err, "failed to reject suggestion")
		return
	}
	writeJSON(w, http.StatusOK, toSuggestionResponse(sg))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("api: list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = toRunResponse(run)
	}
	writeJSON(w, http.StatusOK, resp)
}

// triggerRun starts a manual run and returns immediately with the Running
// run; poll GET /runs/{id} for the outcome.
func (h *Handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.RunNow(r.Context())
	if err != nil {
		writeDomainError(w, err, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, toRunResponse(run))
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) auditRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.runs.Replay(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to audit run")
		return
	}
	writeJSON(w, http.StatusOK, toAuditResponse(res))
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.runs.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to cancel run")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) dailyAnalytics(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotFound, "analytics disabled")
		return
	}
	day, err := parseDay(r, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := h.stats.Daily(r.Context(), day)
	if err != nil {
		log.Error().Err(err).Msg("api: daily analytics")
		writeError(w, http.StatusInternalServerError, "failed to read analytics")
		return
	}
	writeJSON(w, http.StatusOK, DailyAnalyticsResponse{Day: day.Format(time.DateOnly), Counts: counts})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// writeDomainError maps domain errors to status codes. Anything unmapped is
// logged and reported as msg with 500.
func writeDomainError(w http.ResponseWriter, err error, msg string) {
	var ite *domain.InvalidTransitionError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &ite):
		writeError(w, http.StatusConflict, ite.Error())
	case errors.Is(err, domain.ErrRunLocked),
		errors.Is(err, domain.ErrDuplicateRun),
		errors.Is(err, domain.ErrRunNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("api: " + msg)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("api: json encode")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
