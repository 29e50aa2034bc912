// Copyright 2025 James Ross
package obs

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetctl/workload-controller/internal/canary"
	"github.com/fleetctl/workload-controller/internal/rollback"
	"github.com/gorilla/mux"
)

// StatusServer exposes operator-facing debug and liveness endpoints
// alongside the prometheus metrics server, grounded on the teacher's use
// of gorilla/mux for its admin HTTP surface.
type StatusServer struct {
	Canaries  *canary.Manager
	Rollbacks *rollback.Controller
	StartedAt time.Time
}

func (s *StatusServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/debug/canaries", s.handleCanaries).Methods(http.MethodGet)
	r.HandleFunc("/debug/canaries/{id}", s.handleCanary).Methods(http.MethodGet)
	r.HandleFunc("/debug/rollbacks", s.handleRollbacks).Methods(http.MethodGet)
	return r
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"uptime_sec": int(time.Since(s.StartedAt).Seconds()),
	})
}

func (s *StatusServer) handleCanaries(w http.ResponseWriter, _ *http.Request) {
	if s.Canaries == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.Canaries.ListActive())
}

func (s *StatusServer) handleCanary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.Canaries == nil {
		http.NotFound(w, r)
		return
	}
	st, err := s.Canaries.GetCanaryStatus(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *StatusServer) handleRollbacks(w http.ResponseWriter, _ *http.Request) {
	if s.Rollbacks == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.Rollbacks.ListRecords())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
