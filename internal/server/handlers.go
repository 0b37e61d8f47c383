package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/eventshot/internal/orchestrator"
	"github.com/MeKo-Tech/eventshot/internal/pipeline"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// statsHandler returns the pipeline counters.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.status == nil {
		s.writeErrorResponse(w, "Pipeline not running", http.StatusServiceUnavailable)
		return
	}
	items := s.status.Items()
	s.writeJSON(w, http.StatusOK, StatsResponse{
		Stats:  s.status.Stats(),
		Active: s.status.Active(),
		Live:   len(items),
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// itemsHandler lists live work items, optionally filtered by ?stage=.
func (s *Server) itemsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.status == nil {
		s.writeErrorResponse(w, "Pipeline not running", http.StatusServiceUnavailable)
		return
	}

	items := s.status.Items()
	if name := strings.TrimSpace(r.URL.Query().Get("stage")); name != "" {
		var stage pipeline.Stage
		if err := stage.UnmarshalText([]byte(name)); err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		filtered := make([]orchestrator.WorkItem, 0, len(items))
		for _, it := range items {
			if it.Stage == stage {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	s.writeJSON(w, http.StatusOK, ItemsResponse{Items: items, Count: len(items)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
