package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"spesa/internal/core"
	applog "spesa/internal/log"
	"spesa/internal/services"
	"spesa/internal/sheets"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	code := http.StatusOK
	checks := map[string]any{}

	switch {
	case s.svc == nil:
		checks["backend"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	case s.ready == nil:
		checks["backend"] = "ok"
	default:
		if err := s.ready(ctx); err != nil {
			checks["backend"] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
		} else {
			checks["backend"] = "ok"
		}
	}
	if s.svc != nil {
		checks["scanner"] = "not_configured"
		if s.svc.ScanEnabled() {
			checks["scanner"] = "ok"
		}
		checks["coordinator"] = s.svc.Status().Coordinator.State.String()
	}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
	}
	checks["suspicious_requests"] = s.detector.SuspiciousCount()

	NewResponse().Status(code).JSON(map[string]any{
		"status":    status,
		"backend":   s.backendName,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(toStatusJSON(s.svc.Status())).Write(w)
}

func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	s.svc.DismissAlert()
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	people := s.svc.People()
	options := make([]string, 0, len(people)+1)
	for _, p := range people.AssignmentOptions() {
		options = append(options, string(p))
	}
	NewResponse().JSON(map[string]any{
		"people":            people.Strings(),
		"default":           string(people.Default()),
		"assignmentOptions": options,
		"filterOptions":     people.FilterOptions(),
		"currency":          s.currency,
		"scanEnabled":       s.svc.ScanEnabled(),
		"maxUploadBytes":    s.maxUpload,
	}).Write(w)
}

// writeServiceError maps a service failure onto the response. Store failures
// keep the upstream status; scanner failures also keep the upstream body.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		ve *core.ValidationError
		up *sheets.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		ValidationErrorResponse(ve).Write(w)
	case errors.As(err, &up):
		s.logRequestError(r.Context(), "Upstream request failed", err, applog.ErrorTypeUpstream, op)
		if op == applog.OpScan {
			ScannerUpstreamError(up).Write(w)
			return
		}
		StoreUpstreamError(up).Write(w)
	case errors.Is(err, sheets.ErrExpenseNotFound):
		NotFoundError(err.Error()).Write(w)
	case errors.Is(err, services.ErrScannerUnavailable):
		s.logRequestError(r.Context(), "Scanner not configured", err, applog.ErrorTypeConfiguration, op)
		InternalServerError(MsgScannerMissing).Write(w)
	case errors.Is(err, context.DeadlineExceeded):
		s.logRequestError(r.Context(), "Upstream request timed out", err, applog.ErrorTypeTimeout, op)
		ErrorResponse(http.StatusGatewayTimeout, err.Error()).Write(w)
	default:
		s.logRequestError(r.Context(), "Request failed", err, applog.ErrorTypeInternal, op)
		InternalServerError(err.Error()).Write(w)
	}
}
