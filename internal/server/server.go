// Package server exposes the validation orchestrator over HTTP: the
// validation endpoint, the realtime feedback WebSocket, and the operator
// API for metrics, reports, and runtime configuration.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hookguard/hookguard/internal/auth"
	"github.com/hookguard/hookguard/internal/feedback"
	"github.com/hookguard/hookguard/internal/hook"
)

// Server wires the orchestrator and feedback broadcaster into an HTTP mux.
type Server struct {
	orch        *hook.Orchestrator
	broadcaster *feedback.Broadcaster
	auth        auth.Authenticator
	logger      *zap.Logger
}

// New creates the HTTP server facade.
func New(orch *hook.Orchestrator, b *feedback.Broadcaster, a auth.Authenticator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{orch: orch, broadcaster: b, auth: a, logger: logger}
}

// Handler builds the route table. Everything except the health check sits
// behind authentication.
func (s *Server) Handler() http.Handler {
	protect := auth.Middleware(s.auth, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/api/validate", protect(http.HandlerFunc(s.handleValidate)))
	mux.Handle("/api/metrics", protect(http.HandlerFunc(s.handleMetrics)))
	mux.Handle("/api/report", protect(http.HandlerFunc(s.handleReport)))
	mux.Handle("/api/config", protect(http.HandlerFunc(s.handleConfig)))
	mux.Handle("/ws/feedback", protect(feedback.NewWSHandler(s.broadcaster, s.orch, s.logger)))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validateRequest is the body of POST /api/validate.
type validateRequest struct {
	ToolType   string         `json:"tool_type"`
	Parameters map[string]any `json:"parameters"`
	Metadata   map[string]any `json:"metadata"`
}

type validateResponse struct {
	Proceed bool                   `json:"proceed"`
	Report  *hook.ValidationReport `json:"report"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	proceed, report := s.orch.InterceptToolCall(r.Context(), req.ToolType, req.Parameters, req.Metadata)
	writeJSON(w, http.StatusOK, validateResponse{Proceed: proceed, Report: report})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Metrics())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	timeframe := 24 * time.Hour
	if raw := r.URL.Query().Get("timeframe"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "invalid timeframe: "+err.Error(), http.StatusBadRequest)
			return
		}
		timeframe = d
	}
	writeJSON(w, http.StatusOK, s.orch.GenerateReport(timeframe))
}

// handleConfig serves the active configuration and accepts partial updates
// as a flat map of dotted JSON paths.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.orch.Config())
	case http.MethodPatch:
		var updates map[string]any
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.orch.UpdateConfig(updates); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if s.broadcaster != nil {
			s.broadcaster.SendSystemUpdate(map[string]any{"event": "config_updated"})
		}
		writeJSON(w, http.StatusOK, s.orch.Config())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
