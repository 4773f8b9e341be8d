// internal/api/rules_handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/charannyk06/shadower-analytics/internal/baseline"
	"github.com/charannyk06/shadower-analytics/internal/rules"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list := s.rules.List()
	if ws := r.URL.Query().Get("workspace_id"); ws != "" {
		filtered := list[:0]
		for _, rule := range list {
			if rule.WorkspaceID == ws || rule.Global() {
				filtered = append(filtered, rule)
			}
		}
		list = filtered
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": list,
		"count": len(list),
	})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	created, err := s.rules.Create(r.Context(), &rule)
	if err != nil {
		s.respondRuleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(mux.Vars(r)["id"])
	if err != nil {
		s.respondRuleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	rule.ID = mux.Vars(r)["id"]
	updated, err := s.rules.Update(r.Context(), &rule)
	if err != nil {
		s.respondRuleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.respondRuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, rules.ErrDuplicate):
		s.respondError(w, http.StatusConflict, err)
	case strings.HasPrefix(err.Error(), "rules: "):
		s.respondError(w, http.StatusBadRequest, err)
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	snap, err := s.baselines.Get(vars["workspace"], vars["metric"])
	if err != nil {
		if errors.Is(err, baseline.ErrColdStart) {
			s.respondError(w, http.StatusNotFound, err)
			return
		}
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	window := s.config.Baseline.RetrainWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("invalid window"))
			return
		}
		window = d
	}
	if err := s.baselines.Retrain(r.Context(), vars["workspace"], vars["metric"], window); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	snap, err := s.baselines.Get(vars["workspace"], vars["metric"])
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}
