package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", o.handleHealth)
	mux.HandleFunc("GET /owners", o.handleOwners)
	mux.HandleFunc("GET /owners/{id}", o.handleOwner)
	mux.HandleFunc("POST /owners/{id}/convert", o.handleConvert)
	mux.HandleFunc("DELETE /owners/{id}", o.handleClear)
	mux.HandleFunc("GET /owners/{id}/jobs", o.handleOwnerJobs)
	mux.HandleFunc("GET /jobs/{id}", o.handleJob)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	if o.deps.Health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}
	report, healthy := o.deps.Health(r.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (o *Orchestrator) handleOwners(w http.ResponseWriter, r *http.Request) {
	owners := o.Owners()
	out := make([]OwnerSummary, 0, len(owners))
	for _, ow := range owners {
		if s, ok := o.Summary(ow.ID()); ok {
			out = append(out, s)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (o *Orchestrator) handleOwner(w http.ResponseWriter, r *http.Request) {
	s, ok := o.Summary(r.PathValue("id"))
	if !ok {
		http.Error(w, "unknown owner", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (o *Orchestrator) handleConvert(w http.ResponseWriter, r *http.Request) {
	ow, ok := o.owner(r.PathValue("id"))
	if !ok {
		http.Error(w, "unknown owner", http.StatusNotFound)
		return
	}
	n := o.CheckAndConvert(ow)
	writeJSON(w, http.StatusAccepted, map[string]any{"owner": ow.ID(), "queued": n})
}

func (o *Orchestrator) handleClear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := o.owner(id); !ok {
		http.Error(w, "unknown owner", http.StatusNotFound)
		return
	}
	o.ClearTracking(id)
	w.WriteHeader(http.StatusNoContent)
}

func (o *Orchestrator) handleOwnerJobs(w http.ResponseWriter, r *http.Request) {
	jobs, ok, err := o.OwnerJobs(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Error().Err(err).Msg("job status lookup failed")
		http.Error(w, "status store unavailable", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "unknown owner", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (o *Orchestrator) handleJob(w http.ResponseWriter, r *http.Request) {
	v, ok, err := o.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Error().Err(err).Msg("job status lookup failed")
		http.Error(w, "status store unavailable", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
