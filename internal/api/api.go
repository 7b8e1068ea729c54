// Package api exposes the HTTP admin surface for alert lifecycle operations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"monalert/internal/config"
	"monalert/internal/domain"
	"monalert/internal/faults"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// alertService is the engine surface the HTTP handlers need.
// Params: lifecycle operations and read queries.
// Returns: engine results mapped onto HTTP responses.
type alertService interface {
	ProcessThresholdEvent(ctx context.Context, event domain.ThresholdEvent) (domain.Alert, bool, error)
	Acknowledge(ctx context.Context, id int64, actor string) (domain.Alert, error)
	Resolve(ctx context.Context, id int64, actor, comment string) (domain.Alert, error)
	Close(ctx context.Context, id int64, actor string, force bool) (domain.Alert, error)
	Get(ctx context.Context, id int64) (domain.Alert, error)
	GetByUUID(ctx context.Context, uuid string) (domain.Alert, error)
	ListByStatus(ctx context.Context, status domain.AlertStatus, limit, offset int) ([]domain.Alert, error)
	Notifications(ctx context.Context, alertID int64) ([]domain.Notification, error)
	Stats(ctx context.Context) (map[domain.Severity]int, error)
}

// dispatching delivers notifications for one alert.
// Params: context, alert, channel list, and recipient override.
// Returns: persistence error.
type dispatching interface {
	Dispatch(ctx context.Context, alert domain.Alert, channels, recipients []string) error
}

// Server handles the HTTP admin endpoints.
// Params: engine service, dispatcher for direct event injection, and readiness flag.
// Returns: http.Handler for the API listener.
type Server struct {
	service    alertService
	dispatcher dispatching
	ready      *atomic.Bool
	logger     *slog.Logger
}

// NewServer builds the admin API handler set.
// Params: engine service, dispatcher, readiness flag, and logger.
// Returns: initialized server.
func NewServer(service alertService, dispatcher dispatching, ready *atomic.Bool, logger *slog.Logger) *Server {
	return &Server{
		service:    service,
		dispatcher: dispatcher,
		ready:      ready,
		logger:     logger,
	}
}

// Routes builds the request mux for the API listener.
// Params: API config with health/readiness paths.
// Returns: configured mux.
func (s *Server) Routes(cfg config.APIConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+cfg.HealthPath, s.handleHealth)
	mux.HandleFunc("GET "+cfg.ReadyPath, s.handleReady)
	mux.HandleFunc("POST /events", s.handleEvent)
	mux.HandleFunc("GET /alerts", s.handleList)
	mux.HandleFunc("GET /alerts/stats", s.handleStats)
	mux.HandleFunc("GET /alerts/{id}", s.handleGet)
	mux.HandleFunc("GET /alerts/{id}/notifications", s.handleNotifications)
	mux.HandleFunc("POST /alerts/{id}/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("POST /alerts/{id}/resolve", s.handleResolve)
	mux.HandleFunc("POST /alerts/{id}/close", s.handleClose)
	return mux
}

// HTTPServer builds the API listener server.
// Params: API config.
// Returns: configured HTTP server.
func (s *Server) HTTPServer(cfg config.APIConfig) *http.Server {
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether startup wiring has finished.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleEvent accepts one threshold event over HTTP.
// Used in single mode and for manual testing alongside bus ingest.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.ThresholdEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, faults.Validation(err))
		return
	}
	if err := event.Validate(); err != nil {
		writeError(w, faults.Validation(err))
		return
	}

	alert, created, err := s.service.ProcessThresholdEvent(r.Context(), event)
	if err != nil {
		writeError(w, err)
		return
	}
	if created {
		if err := s.dispatcher.Dispatch(r.Context(), alert, nil, nil); err != nil {
			s.logger.Error("event notification dispatch failed", "alert_id", alert.ID, "error", err.Error())
		}
		writeJSON(w, http.StatusCreated, alert)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleGet returns one alert by path ID.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	alert, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleList returns alerts by UUID or one status page.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if uuid := strings.TrimSpace(query.Get("uuid")); uuid != "" {
		alert, err := s.service.GetByUUID(r.Context(), uuid)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []domain.Alert{alert})
		return
	}

	status := domain.AlertStatus(strings.ToUpper(strings.TrimSpace(query.Get("status"))))
	if status == "" {
		status = domain.StatusActive
	}
	limit := queryInt(query.Get("limit"), defaultListLimit)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(query.Get("offset"), 0)

	alerts, err := s.service.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleStats returns open-alert counts grouped by severity.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleNotifications returns the delivery audit trail for one alert.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	notifications, err := s.service.Notifications(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

// handleAcknowledge moves one alert into ACKNOWLEDGED.
func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		AcknowledgedBy string `json:"acknowledgedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, faults.Validation(err))
		return
	}
	alert, err := s.service.Acknowledge(r.Context(), id, body.AcknowledgedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleResolve moves one alert into RESOLVED.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		ResolvedBy string `json:"resolvedBy"`
		Comment    string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, faults.Validation(err))
		return
	}
	alert, err := s.service.Resolve(r.Context(), id, body.ResolvedBy, body.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleClose moves one alert into CLOSED, optionally forced.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		ClosedBy string `json:"closedBy"`
		Force    bool   `json:"force"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, faults.Validation(err))
			return
		}
	}
	alert, err := s.service.Close(r.Context(), id, body.ClosedBy, body.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// pathID parses the {id} path segment.
// Params: request with id wildcard.
// Returns: positive alert ID or validation fault.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, faults.Validationf("invalid alert id %q", raw)
	}
	return id, nil
}

// queryInt parses one non-negative integer query value.
// Params: raw query value and fallback.
// Returns: parsed value, or fallback for empty/invalid/negative input.
func queryInt(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// writeJSON serializes one response payload.
// Params: response writer, HTTP status, and payload.
// Returns: none.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps fault types onto HTTP status codes.
// Params: response writer and handler error.
// Returns: none.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case faults.IsValidation(err):
		status = http.StatusBadRequest
	case faults.IsNotFound(err):
		status = http.StatusNotFound
	case faults.IsInvalidState(err), faults.IsConflict(err):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
