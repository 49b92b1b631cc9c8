// Package api exposes the analysis engine over HTTP: REST endpoints for
// starting, inspecting and cancelling analyses and SSE for lifecycle events.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/zjrosen/textflow/internal/log"
	"github.com/zjrosen/textflow/internal/orchestration/analysis"
	"github.com/zjrosen/textflow/internal/orchestration/client"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane"
	"github.com/zjrosen/textflow/internal/orchestration/workflow"
	"github.com/zjrosen/textflow/internal/pubsub"
)

// NamespaceHeader selects the namespace a request is scoped to.
const NamespaceHeader = "X-Textflow-Namespace"

// DefaultHeartbeat is the SSE keep-alive interval.
const DefaultHeartbeat = 30 * time.Second

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidJSON   = "invalid_json"
	CodeValidation    = "validation_error"
	CodeNotFound      = "not_found"
	CodeAlreadyExists = "already_exists"
	CodeUnauthorized  = "unauthorized"
	CodeInternal      = "internal"
)

// Handler provides HTTP endpoints for engine operations.
type Handler struct {
	engine    controlplane.Engine
	client    *client.Client
	validate  *validator.Validate
	token     string
	heartbeat time.Duration
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Engine runs the analyses (required).
	Engine controlplane.Engine
	// Client starts analyses; defaults to a client over Engine.
	Client *client.Client
	// AuthToken, when set, is required as a bearer token on every route but /health.
	AuthToken string
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// NewHandler creates a handler over engine with no authentication.
func NewHandler(engine controlplane.Engine) *Handler {
	return NewHandlerWithConfig(HandlerConfig{Engine: engine})
}

// NewHandlerWithConfig creates a new API handler with full configuration.
func NewHandlerWithConfig(cfg HandlerConfig) *Handler {
	c := cfg.Client
	if c == nil {
		c = client.New(client.NewEngineBackend(cfg.Engine), client.Config{})
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{
		engine:    cfg.Engine,
		client:    c,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		token:     cfg.AuthToken,
		heartbeat: heartbeat,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Analyses
	mux.HandleFunc("POST /analyze", h.Analyze)
	mux.HandleFunc("GET /status/{id}", h.Status)
	mux.HandleFunc("POST /cancel/{id}", h.Cancel)
	mux.HandleFunc("POST /signal/{id}/{name}", h.Signal)

	// Inspection
	mux.HandleFunc("GET /instances", h.List)
	mux.HandleFunc("GET /instances/{id}/history", h.History)

	// Event streaming
	mux.HandleFunc("GET /events", h.StreamEvents)

	// Health check
	mux.HandleFunc("GET /health", h.Health)

	return h.authenticate(mux)
}

// === Request/Response Types ===

// AnalyzeRequest is the request body for starting an analysis.
type AnalyzeRequest struct {
	// Text is the document to analyze (required).
	Text string `json:"text" validate:"required"`
	// ID is an optional caller-chosen instance ID.
	ID string `json:"id,omitempty" validate:"omitempty,max=128"`
	// DeferStart creates the instance without sending the start signal.
	DeferStart bool `json:"defer_start,omitempty"`
}

// AnalyzeResponse is the response body for a started analysis.
type AnalyzeResponse struct {
	InstanceID string          `json:"instance_id"`
	Status     workflow.Status `json:"status"`
}

// TaskResponse is one task's outcome within a StatusResponse.
type TaskResponse struct {
	Scheduled bool            `json:"scheduled"`
	Done      bool            `json:"done"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail describes a task or instance failure.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Task    string `json:"task,omitempty"`
	Message string `json:"message"`
}

// StatusResponse is the response body for a single instance.
type StatusResponse struct {
	InstanceID     string                   `json:"instance_id"`
	Namespace      string                   `json:"namespace"`
	Status         workflow.Status          `json:"status"`
	State          workflow.State           `json:"state,omitempty"`
	StartReceived  bool                     `json:"start_received,omitempty"`
	CancelReceived bool                     `json:"cancel_received,omitempty"`
	Tasks          map[string]TaskResponse  `json:"tasks,omitempty"`
	Result         *analysis.AnalysisResult `json:"result,omitempty"`
	Failure        *workflow.Failure        `json:"failure,omitempty"`
	Error          *ErrorDetail             `json:"error,omitempty"`
	TimerFireAt    *time.Time               `json:"timer_fire_at,omitempty"`
	CreatedAt      *time.Time               `json:"created_at,omitempty"`
	StartedAt      *time.Time               `json:"started_at,omitempty"`
	CompletedAt    *time.Time               `json:"completed_at,omitempty"`
	UpdatedAt      *time.Time               `json:"updated_at,omitempty"`
	LastSeq        int64                    `json:"last_seq,omitempty"`
}

// ListResponse is the response body for listing instances.
type ListResponse struct {
	Instances []StatusResponse `json:"instances"`
	Total     int              `json:"total"`
}

// HistoryResponse is the response body for an instance's event history.
type HistoryResponse struct {
	InstanceID string           `json:"instance_id"`
	Events     []workflow.Event `json:"events"`
}

// AckResponse acknowledges an accepted signal.
type AckResponse struct {
	Ack bool `json:"ack"`
}

// HealthResponse is the response body for the health endpoint.
type HealthResponse struct {
	Status string              `json:"status"`
	Stats  *controlplane.Stats `json:"stats,omitempty"`
}

// ErrorResponse is the response body for errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// EventResponse is the SSE data payload of one instance event.
type EventResponse struct {
	Type       pubsub.EventType     `json:"type"`
	InstanceID string               `json:"instance_id"`
	Namespace  string               `json:"namespace"`
	State      workflow.State       `json:"state"`
	Status     workflow.Status      `json:"status"`
	Events     []workflow.EventType `json:"events,omitempty"`
	Task       string               `json:"task,omitempty"`
	Error      string               `json:"error,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// === Handlers ===

// Analyze creates an analysis and, unless deferred, starts it.
// POST /analyze
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidation, "Invalid analyze request", err.Error())
		return
	}

	c := h.client.WithNamespace(namespace(r))
	id := controlplane.InstanceID(req.ID)
	var err error
	if req.DeferStart {
		id, err = c.Create(r.Context(), id, req.Text)
	} else {
		id, err = c.StartWithID(r.Context(), id, req.Text)
	}
	if err != nil {
		h.writeEngineError(w, err, "Failed to start analysis")
		return
	}

	h.writeJSON(w, http.StatusCreated, AnalyzeResponse{InstanceID: string(id), Status: workflow.StatusRunning})
}

// Status returns a single instance. Unknown IDs return 404 with status NOT_FOUND.
// GET /status/{id}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := controlplane.InstanceID(r.PathValue("id"))

	snap, err := h.engine.Describe(h.scope(r), id)
	if err != nil {
		if errors.Is(err, controlplane.ErrInstanceNotFound) {
			h.writeJSON(w, http.StatusNotFound, StatusResponse{
				InstanceID: string(id),
				Namespace:  namespace(r),
				Status:     workflow.StatusNotFound,
			})
			return
		}
		h.writeEngineError(w, err, "Failed to get instance")
		return
	}

	h.writeJSON(w, http.StatusOK, NewStatusResponse(snap))
}

// Cancel sends the cancel signal.
// POST /cancel/{id}
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, workflow.SignalCancel)
}

// Signal sends a named signal.
// POST /signal/{id}/{name}
func (h *Handler) Signal(w http.ResponseWriter, r *http.Request) {
	sig, err := workflow.ParseSignal(r.PathValue("name"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidation, "Unknown signal", err.Error())
		return
	}
	h.signal(w, r, sig)
}

func (h *Handler) signal(w http.ResponseWriter, r *http.Request, sig workflow.Signal) {
	id := controlplane.InstanceID(r.PathValue("id"))
	if err := h.engine.Signal(h.scope(r), id, sig); err != nil {
		h.writeEngineError(w, err, "Failed to deliver signal")
		return
	}
	h.writeJSON(w, http.StatusAccepted, AckResponse{Ack: true})
}

// List returns instances matching optional filters.
// GET /instances?state=RUNNING&limit=10&all=true
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := controlplane.ListQuery{Namespace: namespace(r)}

	for _, raw := range q["state"] {
		state, err := workflow.ParseState(strings.ToUpper(raw))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, CodeValidation, "Invalid state filter", err.Error())
			return
		}
		query.States = append(query.States, state)
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, CodeValidation, "Invalid limit", raw)
			return
		}
		query.Limit = limit
	}
	if all, _ := strconv.ParseBool(q.Get("all")); all {
		query.Namespace = ""
		query.AllNamespaces = true
	}

	snaps, err := h.engine.List(r.Context(), query)
	if err != nil {
		h.writeEngineError(w, err, "Failed to list instances")
		return
	}

	resp := ListResponse{
		Instances: make([]StatusResponse, 0, len(snaps)),
		Total:     len(snaps),
	}
	for _, snap := range snaps {
		resp.Instances = append(resp.Instances, NewStatusResponse(snap))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// History returns the instance's persisted event history.
// GET /instances/{id}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := controlplane.InstanceID(r.PathValue("id"))

	events, err := h.engine.History(h.scope(r), id)
	if err != nil {
		h.writeEngineError(w, err, "Failed to load history")
		return
	}
	h.writeJSON(w, http.StatusOK, HistoryResponse{InstanceID: string(id), Events: events})
}

// StreamEvents streams instance events via SSE.
// GET /events?instance_id=a&type=terminated&all=true
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := controlplane.EventFilter{Namespace: namespace(r)}
	for _, id := range q["instance_id"] {
		filter.InstanceIDs = append(filter.InstanceIDs, controlplane.InstanceID(id))
	}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, pubsub.EventType(t))
	}
	if all, _ := strconv.ParseBool(q.Get("all")); all {
		filter.Namespace = ""
	}

	h.streamEvents(w, r, h.engine.Subscribe(r.Context(), filter))
}

// Health reports daemon status and engine counters.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	stats := h.engine.Stats()
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Stats: &stats})
}

// === Helpers ===

func (h *Handler) authenticate(next http.Handler) http.Handler {
	if h.token == "" {
		return next
	}
	want := []byte("Bearer " + h.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			h.writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Missing or invalid credentials", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func namespace(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(NamespaceHeader))
}

func (h *Handler) scope(r *http.Request) context.Context {
	return controlplane.WithNamespace(r.Context(), namespace(r))
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan pubsub.Event[controlplane.InstanceEvent]) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming not supported", "")
		return
	}

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}

			data, err := json.Marshal(eventToResponse(event))
			if err != nil {
				log.Error(log.CatAPI, "Failed to marshal event", "error", err)
				continue
			}

			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// NewStatusResponse renders a snapshot the way GET /status reports it.
func NewStatusResponse(snap *controlplane.Snapshot) StatusResponse {
	resp := StatusResponse{
		InstanceID:     string(snap.ID),
		Namespace:      snap.Namespace,
		Status:         snap.Status(),
		State:          snap.State,
		StartReceived:  snap.StartReceived,
		CancelReceived: snap.CancelReceived,
		Result:         snap.Result,
		Failure:        snap.Failure,
		TimerFireAt:    snap.TimerFireAt,
		StartedAt:      snap.StartedAt,
		CompletedAt:    snap.CompletedAt,
		LastSeq:        snap.LastSeq,
	}
	if !snap.CreatedAt.IsZero() {
		resp.CreatedAt = &snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		resp.UpdatedAt = &snap.UpdatedAt
	}
	if len(snap.Tasks) > 0 {
		resp.Tasks = make(map[string]TaskResponse, len(snap.Tasks))
		for kind, outcome := range snap.Tasks {
			tr := TaskResponse{Scheduled: outcome.Scheduled, Done: outcome.Done(), Result: outcome.Result}
			if outcome.Error != nil {
				tr.Error = &ErrorDetail{Kind: string(outcome.Error.Kind), Task: outcome.Error.Task, Message: outcome.Error.Message}
			}
			resp.Tasks[string(kind)] = tr
		}
	}
	if err := snap.Err(); err != nil {
		kind := string(controlplane.ErrorKindOf(err))
		if kind == "" && snap.Failure != nil {
			kind = string(snap.Failure.Kind)
		}
		resp.Error = &ErrorDetail{Kind: kind, Message: err.Error()}
		if snap.Failure != nil && snap.Failure.TaskError != nil {
			resp.Error.Task = snap.Failure.TaskError.Task
		}
	}
	return resp
}

func eventToResponse(event pubsub.Event[controlplane.InstanceEvent]) EventResponse {
	p := event.Payload
	return EventResponse{
		Type:       event.Type,
		InstanceID: string(p.InstanceID),
		Namespace:  p.Namespace,
		State:      p.State,
		Status:     p.Status(),
		Events:     p.Types,
		Task:       string(p.Task),
		Error:      p.Error,
		Timestamp:  p.Timestamp,
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, client.ErrValidation), errors.Is(err, controlplane.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, CodeValidation, message, err.Error())
	case errors.Is(err, controlplane.ErrInstanceNotFound):
		h.writeError(w, http.StatusNotFound, CodeNotFound, "Instance not found", err.Error())
	case errors.Is(err, controlplane.ErrAlreadyExists):
		h.writeError(w, http.StatusConflict, CodeAlreadyExists, message, err.Error())
	case errors.Is(err, controlplane.ErrEngineClosed):
		h.writeError(w, http.StatusServiceUnavailable, CodeInternal, message, err.Error())
	default:
		log.ErrorErr(log.CatAPI, message, err)
		h.writeError(w, http.StatusInternalServerError, CodeInternal, message, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatAPI, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}
