package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context(), s.config.Stage)
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Stage:         s.config.Stage,
		QueueDepth:    depth,
		Workers:       len(s.lanes.Stats()),
		Dispatch:      s.dispatcher.Stats(),
	})
}

// handleLanes handles GET /lanes
func (s *Server) handleLanes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, LanesResponse{Lanes: s.lanes.Stats()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
