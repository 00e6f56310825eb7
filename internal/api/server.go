// Package api serves the HTTP surface: manual automation triggers, the
// kill switch, incident lifecycle mutations, and operational reads.
// Authentication happens upstream; this layer trusts the identity headers
// the signer injected.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/opx/automation/internal/analytics"
	"github.com/opx/automation/internal/automation"
	"github.com/opx/automation/internal/lifecycle"
	"github.com/opx/automation/internal/outcomes"
	"github.com/opx/automation/internal/stores"
)

type Server struct {
	triggers    *automation.TriggerService
	killSwitch  *automation.KillSwitch
	engine      *lifecycle.Engine
	recorder    *outcomes.Recorder
	incidents   *stores.IncidentStore
	audits      *stores.AuditStore
	idempotency *stores.IdempotencyStore
	analytics   *analytics.Recorder
	metrics     http.Handler
	logger      *zap.Logger

	httpServer *http.Server
}

type Config struct {
	Triggers   *automation.TriggerService
	KillSwitch *automation.KillSwitch
	Engine     *lifecycle.Engine
	Recorder   *outcomes.Recorder
	Incidents  *stores.IncidentStore
	Audits     *stores.AuditStore
	// Idempotency guards the incident mutation endpoints; requests that
	// carry X-Opx-Idempotency-Key replay through it.
	Idempotency *stores.IdempotencyStore
	Analytics   *analytics.Recorder
	// Metrics serves GET /metrics when set (promhttp in production).
	Metrics http.Handler
	Logger  *zap.Logger
}

func NewServer(cfg Config) *Server {
	return &Server{
		triggers:    cfg.Triggers,
		killSwitch:  cfg.KillSwitch,
		engine:      cfg.Engine,
		recorder:    cfg.Recorder,
		incidents:   cfg.Incidents,
		audits:      cfg.Audits,
		idempotency: cfg.Idempotency,
		analytics:   cfg.Analytics,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.Named("api"),
	}
}

// Router builds the full handler chain. Health and metrics sit outside the
// principal gate; everything else requires an identity.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(withRequestID, s.withLogging, s.withRecovery)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	authed := r.NewRoute().Subrouter()
	authed.Use(s.withPrincipal)

	authed.HandleFunc("/automation/extract-patterns", s.handleExtractPatterns).Methods(http.MethodPost)
	authed.HandleFunc("/automation/calibrate", s.handleCalibrate).Methods(http.MethodPost)
	authed.HandleFunc("/automation/create-snapshot", s.handleCreateSnapshot).Methods(http.MethodPost)
	authed.HandleFunc("/automation/kill-switch/disable", s.handleKillSwitchDisable).Methods(http.MethodPost)
	authed.HandleFunc("/automation/kill-switch/enable", s.handleKillSwitchEnable).Methods(http.MethodPost)
	authed.HandleFunc("/automation/kill-switch/status", s.handleKillSwitchStatus).Methods(http.MethodGet)
	authed.HandleFunc("/automation/audits", s.handleListAudits).Methods(http.MethodGet)

	authed.HandleFunc("/incidents", s.handleListIncidents).Methods(http.MethodGet)
	authed.HandleFunc("/incidents/{id}", s.handleGetIncident).Methods(http.MethodGet)
	authed.HandleFunc("/incidents/{id}/open", s.idempotent(s.transitionHandler("OPEN"))).Methods(http.MethodPost)
	authed.HandleFunc("/incidents/{id}/mitigate", s.idempotent(s.transitionHandler("MITIGATING"))).Methods(http.MethodPost)
	authed.HandleFunc("/incidents/{id}/resolve", s.idempotent(s.transitionHandler("RESOLVED"))).Methods(http.MethodPost)
	authed.HandleFunc("/incidents/{id}/close", s.idempotent(s.transitionHandler("CLOSED"))).Methods(http.MethodPost)
	authed.HandleFunc("/incidents/{id}/outcome", s.idempotent(s.handleRecordOutcome)).Methods(http.MethodPost)

	return r
}

// Start serves until the context ends, then drains with a grace period.
func (s *Server) Start(ctx context.Context, port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.Int("port", port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
