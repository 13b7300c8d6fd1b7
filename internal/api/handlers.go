package api

import (
	"net/http"

	"github.com/ttskit/ttskit/pkg/types"
)

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	engineID := r.URL.Query().Get("engine")

	voices, err := s.orch.ListVoices(r.Context(), lang, engineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if voices == nil {
		voices = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"language": lang,
		"engine":   engineID,
		"voices":   voices,
	})
}

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engines": s.orch.ListEngines(r.Context()),
	})
}

// handleHealth reports a coarse liveness summary. Deep per-dependency probes
// live on /healthz and /readyz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	engines := s.orch.ListEngines(r.Context())
	available := 0
	for _, e := range engines {
		if e.Available {
			available++
		}
	}

	status := "ok"
	if available == 0 {
		status = "degraded"
	}
	snap := s.metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"health_score":      snap.HealthScore,
		"uptime_seconds":    snap.UptimeSeconds,
		"engines_available": available,
		"engines_total":     len(engines),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	engines := s.orch.ListEngines(r.Context())
	ids := make([]string, 0, len(engines))
	for _, e := range engines {
		ids = append(ids, e.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":          "ttskit",
		"version":          s.version,
		"engines":          ids,
		"languages":        s.orch.SupportedLanguages(),
		"default_language": s.orch.DefaultLanguage(),
		"max_text_length":  s.orch.MaxTextLength(),
		"formats":          []string{string(types.FormatOGG), string(types.FormatMP3), string(types.FormatWAV)},
		"auth_required":    s.authEnabled,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"metrics": s.metrics.Snapshot(),
	}
	if s.cache != nil {
		resp["cache_store"] = s.cache.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
