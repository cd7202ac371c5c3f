package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/normanking/netbot/internal/data"
	"github.com/normanking/netbot/internal/persona"
)

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   s.cfg.Version,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		StartedAt: s.startedAt,
	}

	status := http.StatusOK
	if s.health != nil {
		if err := s.health.Health(); err != nil {
			s.log.Warn("health check failed: %v", err)
			resp.Status = "degraded"
			resp.Database = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	writeJSON(w, status, resp)
}

// GET /api/v1/personas
func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	all := s.personas.All()
	resp := PersonasListResponse{
		Personas: make([]PersonaResponse, 0, len(all)),
		Total:    len(all),
	}
	for _, p := range all {
		resp.Personas = append(resp.Personas, personaResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/v1/personas/{key}
func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	key := persona.NormalizeKey(r.PathValue("key"))
	p, ok := s.personas.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown persona: "+key)
		return
	}
	writeJSON(w, http.StatusOK, personaResponse(p))
}

// GET /api/v1/datasets
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	if s.datasets == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "dataset store not configured")
		return
	}
	datasets, err := s.datasets.ListDatasets(r.Context())
	if err != nil {
		s.log.Error("list datasets: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list datasets")
		return
	}
	writeJSON(w, http.StatusOK, DatasetsListResponse{Datasets: datasets, Total: len(datasets)})
}

// GET /api/v1/turns?session=<id>&limit=<n>
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.turnLog == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "turn log not configured")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	session := r.URL.Query().Get("session")
	var (
		turns []*data.Turn
		err   error
	)
	if session != "" {
		turns, err = s.turnLog.SessionTurns(r.Context(), session, limit)
	} else {
		turns, err = s.turnLog.RecentTurns(r.Context(), limit)
	}
	if err != nil {
		s.log.Error("list turns: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to list turns")
		return
	}
	if turns == nil {
		turns = []*data.Turn{}
	}
	writeJSON(w, http.StatusOK, TurnsListResponse{SessionID: session, Turns: turns, Total: len(turns)})
}

// GET /api/v1/turns/personas
func (s *Server) handlePersonaCounts(w http.ResponseWriter, r *http.Request) {
	if s.turnLog == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "turn log not configured")
		return
	}
	counts, err := s.turnLog.PersonaCounts(r.Context())
	if err != nil {
		s.log.Error("count turns: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to count turns")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, PersonaCountsResponse{Counts: counts, Total: total})
}
