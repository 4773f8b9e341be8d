// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/charannyk06/shadower-analytics/internal/baseline"
	"github.com/charannyk06/shadower-analytics/internal/config"
	"github.com/charannyk06/shadower-analytics/internal/database"
	"github.com/charannyk06/shadower-analytics/internal/lifecycle"
	"github.com/charannyk06/shadower-analytics/internal/processor"
	"github.com/charannyk06/shadower-analytics/internal/rules"
)

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server

	processor *processor.Processor
	rules     *rules.Engine
	anomalies *lifecycle.Manager
	baselines *baseline.Store
	history   *database.History
	limiter   *RateLimiter

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

func NewServer(cfg *config.Config, logger *zap.Logger, proc *processor.Processor,
	ruleEngine *rules.Engine, anomalies *lifecycle.Manager,
	baselines *baseline.Store, history *database.History) *Server {

	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    mux.NewRouter(),
		processor: proc,
		rules:     ruleEngine,
		anomalies: anomalies,
		baselines: baselines,
		history:   history,
		limiter:   NewRateLimiter(),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/events", s.handleIngestEvent).Methods("POST")
	v1.HandleFunc("/detect", s.handleDetectNow).Methods("POST")

	v1.HandleFunc("/anomalies", s.handleListAnomalies).Methods("GET")
	v1.HandleFunc("/anomalies/{id}", s.handleGetAnomaly).Methods("GET")
	v1.HandleFunc("/anomalies/{id}/acknowledge", s.handleAcknowledge).Methods("POST")
	v1.HandleFunc("/anomalies/{id}/investigate", s.handleInvestigate).Methods("POST")
	v1.HandleFunc("/anomalies/{id}/resolve", s.handleResolve).Methods("POST")
	v1.HandleFunc("/anomalies/{id}/ignore", s.handleIgnore).Methods("POST")

	v1.HandleFunc("/rules", s.handleListRules).Methods("GET")
	v1.HandleFunc("/rules", s.handleCreateRule).Methods("POST")
	v1.HandleFunc("/rules/{id}", s.handleGetRule).Methods("GET")
	v1.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods("PUT")
	v1.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods("DELETE")

	v1.HandleFunc("/baselines/{workspace}/{metric}", s.handleGetBaseline).Methods("GET")
	v1.HandleFunc("/baselines/{workspace}/{metric}/retrain", s.handleRetrain).Methods("POST")

	s.router.Use(s.loggingMiddleware)
	v1.Use(RateLimitMiddleware(s.limiter))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ready":     true,
		"memory_mb": getMemoryUsageMB(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"version": "0.1.0",
		"go":      runtime.Version(),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) Start() error {
	s.logger.Info("starting server", zap.Int("port", s.config.Server.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func getMemoryUsageMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc / 1024 / 1024
}
