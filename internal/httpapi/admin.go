package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/matheus3301/grouptrack/internal/store"
)

// handleJobRun triggers a capture or report run outside the cron cadence.
// A run already in flight yields 409 rather than queuing a second one.
func (s *Server) handleJobRun(w http.ResponseWriter, r *http.Request) {
	job := mux.Vars(r)["job"]

	var started bool
	switch job {
	case "capture":
		started = s.triggers.RunCaptureNow(r.Context())
	case "report":
		started = s.triggers.RunReportNow(r.Context())
	default:
		s.writeError(w, http.StatusNotFound, "unknown job: "+job)
		return
	}

	if !started {
		s.writeError(w, http.StatusConflict, "job already running")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job": job, "status": "completed"})
}

// handleReset zeroes the daily or weekly message counters. Exposed for the
// dashboard's midnight maintenance cron.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var scope store.ResetScope
	switch mux.Vars(r)["scope"] {
	case "daily":
		scope = store.ResetDaily
	case "weekly":
		scope = store.ResetWeekly
	default:
		s.writeError(w, http.StatusBadRequest, "scope must be daily or weekly")
		return
	}

	affected, err := s.db.ResetCounters(scope)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"scope":    mux.Vars(r)["scope"],
		"affected": affected,
	})
}
