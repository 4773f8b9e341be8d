// internal/api/events.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/anomaly"
)

type ingestRequest struct {
	WorkspaceID string            `json:"workspace_id"`
	MetricType  string            `json:"metric_type"`
	Value       float64           `json:"value"`
	Timestamp   time.Time         `json:"timestamp"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// handleIngestEvent accepts one metric event: persisted to history for
// retraining, then submitted to the stream processor. Persistence failures
// do not block detection.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	ev := anomaly.MetricEvent{
		WorkspaceID: req.WorkspaceID,
		MetricType:  req.MetricType,
		Value:       req.Value,
		Timestamp:   req.Timestamp,
		Tags:        req.Tags,
	}
	if err := ev.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	if s.history != nil {
		if err := s.history.Record(r.Context(), ev); err != nil {
			s.logger.Warn("event history write failed", zap.Error(err))
		}
	}
	if err := s.processor.Submit(ev); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type detectRequest struct {
	WorkspaceID string  `json:"workspace_id"`
	MetricType  string  `json:"metric_type"`
	Value       float64 `json:"value"`
}

// handleDetectNow evaluates a value against every applicable rule
// synchronously.
func (s *Server) handleDetectNow(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.WorkspaceID == "" || req.MetricType == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("workspace_id and metric_type are required"))
		return
	}

	results := s.processor.DetectNow(r.Context(), req.WorkspaceID, req.MetricType, req.Value)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}
