// internal/api/anomalies.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
	"github.com/charannyk06/shadower-analytics/internal/lifecycle"
)

func (s *Server) handleListAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := lifecycle.Filter{
		WorkspaceID: q.Get("workspace_id"),
		MetricType:  q.Get("metric_type"),
		Severity:    anomaly.Severity(q.Get("severity")),
		Status:      q.Get("status"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid from timestamp"))
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid to timestamp"))
			return
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		f.Limit = n
	}

	results, err := s.anomalies.Query(r.Context(), f)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"anomalies": results,
		"count":     len(results),
	})
}

func (s *Server) handleGetAnomaly(w http.ResponseWriter, r *http.Request) {
	det, err := s.anomalies.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, det)
}

type statusRequest struct {
	Notes         string `json:"notes"`
	FalsePositive bool   `json:"false_positive"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	det, err := s.anomalies.Acknowledge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, det)
}

func (s *Server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	det, err := s.anomalies.Investigate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, det)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	det, err := s.anomalies.Resolve(r.Context(), mux.Vars(r)["id"], req.Notes, req.FalsePositive)
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, det)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	det, err := s.anomalies.Ignore(r.Context(), mux.Vars(r)["id"], req.Notes, req.FalsePositive)
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, det)
}

// respondLifecycleError maps domain errors to HTTP statuses.
func (s *Server) respondLifecycleError(w http.ResponseWriter, err error) {
	var invalid lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, lifecycle.ErrNotesRequired):
		s.respondError(w, http.StatusBadRequest, err)
	case errors.As(err, &invalid):
		s.respondError(w, http.StatusConflict, err)
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}
