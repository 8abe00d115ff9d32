// Package api provides HTTP handlers for the hublink daemon REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coregx/hublink"
	"github.com/coregx/hublink/model"
)

// ServiceRouter delivers a service call live or queues it.
type ServiceRouter interface {
	CallServiceOrQueue(ctx context.Context, call model.ServiceCall) (*hublink.CommandResult, error)
}

// Queue is the part of the offline queue the API exposes.
type Queue interface {
	Pending(ctx context.Context) ([]model.QueuedCommand, error)
	Len(ctx context.Context) (int, error)
	Flush(ctx context.Context) (hublink.FlushResult, error)
}

// Connection reports the hub connection state and accepts new settings.
type Connection interface {
	State() hublink.ConnectionState
	// ValidateAndSave connects once with cfg and stores it as the ambient
	// configuration only if the hub accepts it.
	ValidateAndSave(ctx context.Context, cfg hublink.ConnectionConfig) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	services    ServiceRouter
	queue       Queue
	deadLetters hublink.DeadLetterRepository
	connection  Connection
	logger      hublink.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	services ServiceRouter,
	queue Queue,
	deadLetters hublink.DeadLetterRepository,
	connection Connection,
	logger hublink.Logger,
) *Handler {
	return &Handler{
		services:    services,
		queue:       queue,
		deadLetters: deadLetters,
		connection:  connection,
		logger:      logger,
	}
}

// Register adds every route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/services", h.HandleCallService)
	mux.HandleFunc("GET /api/v1/queue", h.HandleListQueue)
	mux.HandleFunc("POST /api/v1/queue/flush", h.HandleFlush)
	mux.HandleFunc("GET /api/v1/dead-letters", h.HandleListDeadLetters)
	mux.HandleFunc("POST /api/v1/dead-letters/{id}/resolve", h.HandleResolveDeadLetter)
	mux.HandleFunc("POST /api/v1/connection/validate", h.HandleValidateConnection)
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
}

// ServiceCallRequest represents a service call request.
type ServiceCallRequest struct {
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data"`
	Target      map[string]any `json:"target"`
}

// ConnectionRequest represents new hub connection settings. EndpointURL
// wins over HubURL.
type ConnectionRequest struct {
	HubURL      string `json:"hubUrl"`
	EndpointURL string `json:"endpointUrl"`
	Token       string `json:"token"`
}

// ResolveRequest represents a dead letter resolution.
type ResolveRequest struct {
	ResolvedBy string `json:"resolvedBy"`
	Note       string `json:"note"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandleCallService handles POST /api/v1/services
func (h *Handler) HandleCallService(w http.ResponseWriter, r *http.Request) {
	var req ServiceCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	result, err := h.services.CallServiceOrQueue(r.Context(), model.ServiceCall{
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
		Target:      req.Target,
	})
	if err != nil {
		var cmdErr *hublink.CommandError
		switch {
		case hublink.HasCode(err, hublink.ErrCodeValidation):
			h.respondError(w, http.StatusBadRequest, err.Error(), hublink.ErrCodeValidation)
		case errors.As(err, &cmdErr):
			h.respondError(w, http.StatusBadGateway, cmdErr.Message, cmdErr.Code)
		default:
			h.logger.Errorf("Failed to call service: %v", err)
			h.respondError(w, http.StatusInternalServerError, "Failed to call service", "CALL_ERROR")
		}
		return
	}

	if result.Queued {
		h.respondSuccess(w, http.StatusAccepted, result, "Hub unreachable, command queued")
		return
	}
	h.respondSuccess(w, http.StatusOK, result, "")
}

// HandleListQueue handles GET /api/v1/queue
func (h *Handler) HandleListQueue(w http.ResponseWriter, r *http.Request) {
	cmds, err := h.queue.Pending(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to list queue: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to list queue", "LIST_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusOK, map[string]interface{}{
		"count":    len(cmds),
		"commands": cmds,
	}, "")
}

// HandleFlush handles POST /api/v1/queue/flush
func (h *Handler) HandleFlush(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.Flush(r.Context())
	if err != nil {
		h.logger.Errorf("Manual flush failed: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to flush queue", "FLUSH_ERROR")
		return
	}

	message := ""
	if result.Skipped {
		message = "Hub unreachable, nothing flushed"
	}
	h.respondSuccess(w, http.StatusOK, result, message)
}

// HandleListDeadLetters handles GET /api/v1/dead-letters
//
// Query parameters:
//   - limit: maximum number of items (default 100)
//   - older_than: a duration such as "24h"; lists every entry, resolved or
//     not, dead-lettered longer ago than that instead of the unresolved ones
func (h *Handler) HandleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer", "VALIDATION_ERROR")
			return
		}
		limit = n
	}

	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			h.respondError(w, http.StatusBadRequest, "older_than must be a positive duration", "VALIDATION_ERROR")
			return
		}
		olderThan = d
	}

	var items []model.DeadCommand
	var err error
	if olderThan > 0 {
		items, err = h.deadLetters.FindOlderThan(r.Context(), olderThan, limit)
	} else {
		items, err = h.deadLetters.FindUnresolved(r.Context(), limit)
	}
	if err != nil {
		if !hublink.IsNoData(err) {
			h.logger.Errorf("Failed to list dead letters: %v", err)
			h.respondError(w, http.StatusInternalServerError, "Failed to list dead letters", "LIST_ERROR")
			return
		}
		items = []model.DeadCommand{}
	}

	stats, err := h.deadLetters.GetStats(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to load dead letter stats: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Failed to load dead letter stats", "STATS_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"stats": stats,
	}, "")
}

// HandleResolveDeadLetter handles POST /api/v1/dead-letters/{id}/resolve
func (h *Handler) HandleResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid dead letter ID", "INVALID_ID")
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}
	if req.ResolvedBy == "" {
		h.respondError(w, http.StatusBadRequest, "resolvedBy is required", "VALIDATION_ERROR")
		return
	}

	dead, err := h.deadLetters.Load(r.Context(), id)
	if err != nil {
		if hublink.IsNoData(err) {
			h.respondError(w, http.StatusNotFound, "Dead letter not found", "NOT_FOUND")
			return
		}
		h.logger.Errorf("Failed to load dead letter %d: %v", id, err)
		h.respondError(w, http.StatusInternalServerError, "Failed to load dead letter", "LOAD_ERROR")
		return
	}

	dead.Resolve(req.ResolvedBy, req.Note)
	saved, err := h.deadLetters.Save(r.Context(), dead)
	if err != nil {
		h.logger.Errorf("Failed to resolve dead letter %d: %v", id, err)
		h.respondError(w, http.StatusInternalServerError, "Failed to resolve dead letter", "SAVE_ERROR")
		return
	}

	h.respondSuccess(w, http.StatusOK, saved, "Dead letter resolved")
}

// HandleValidateConnection handles POST /api/v1/connection/validate
func (h *Handler) HandleValidateConnection(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	endpoint, err := hublink.ResolveEndpoint(req.HubURL, req.EndpointURL)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), hublink.ErrCodeConfiguration)
		return
	}
	cfg := hublink.ConnectionConfig{EndpointURL: endpoint, Token: req.Token}
	if err := cfg.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), hublink.ErrCodeValidation)
		return
	}

	if err := h.connection.ValidateAndSave(r.Context(), cfg); err != nil {
		switch {
		case hublink.IsAuthentication(err):
			h.respondError(w, http.StatusUnauthorized, err.Error(), hublink.ErrCodeAuthentication)
		case hublink.HasCode(err, hublink.ErrCodeValidation):
			h.respondError(w, http.StatusBadRequest, err.Error(), hublink.ErrCodeValidation)
		case hublink.IsTransport(err):
			h.respondError(w, http.StatusBadGateway, err.Error(), hublink.ErrCodeTransport)
		default:
			h.logger.Errorf("Failed to validate connection: %v", err)
			h.respondError(w, http.StatusInternalServerError, "Failed to validate connection", "VALIDATE_ERROR")
		}
		return
	}

	h.respondSuccess(w, http.StatusOK, cfg.Redacted(), "Connection validated and saved")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := h.connection.State()
	status := "healthy"
	if state != hublink.StateConnected {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":     status,
		"connection": state.String(),
		"timestamp":  time.Now().UTC(),
	}
	if n, err := h.queue.Len(r.Context()); err == nil {
		health["queued"] = n
	} else {
		h.logger.Warnf("Failed to count queue: %v", err)
	}

	h.respondSuccess(w, http.StatusOK, health, "")
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}
