// Package httpapi exposes the dashboard-facing REST API: session lifecycle,
// message ingestion, analytics reads, and manual job triggers.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/grouptrack/internal/capture"
	"github.com/matheus3301/grouptrack/internal/ingest"
	"github.com/matheus3301/grouptrack/internal/registry"
	"github.com/matheus3301/grouptrack/internal/status"
	"github.com/matheus3301/grouptrack/internal/store"
)

// Sessions is the registry surface the API exposes. Init and Retry take no
// context: pairing outlives the request, so the registry runs it on its own
// lifecycle context.
type Sessions interface {
	Init(tenantID string) status.State
	QR(tenantID string) registry.QRStatus
	Status(tenantID string) registry.SessionStatus
	State(tenantID string) status.State
	Disconnect(tenantID string)
	Retry(tenantID string) status.State
	SyncNow(ctx context.Context, tenantID string) error
}

// Triggers fires jobs outside their cron cadence.
type Triggers interface {
	RunCaptureNow(ctx context.Context) bool
	RunReportNow(ctx context.Context) bool
}

// TenantCapture runs a capture for a single tenant, backing the manual
// sync endpoint.
type TenantCapture interface {
	CaptureTenant(ctx context.Context, tenantID string) (*capture.Result, error)
}

// Server is the HTTP API server.
type Server struct {
	addr      string
	sessions  Sessions
	pipeline  *ingest.Pipeline
	triggers  Triggers
	tenantCap TenantCapture
	db        *store.DB
	logger    *zap.Logger

	httpServer *http.Server
}

// New creates the API server. It does not listen until Start.
func New(addr string, sessions Sessions, pipeline *ingest.Pipeline, triggers Triggers, tenantCap TenantCapture, db *store.DB, logger *zap.Logger) *Server {
	return &Server{
		addr:      addr,
		sessions:  sessions,
		pipeline:  pipeline,
		triggers:  triggers,
		tenantCap: tenantCap,
		db:        db,
		logger:    logger.Named("http"),
	}
}

// Router builds the route table. Exposed so tests can drive handlers
// through httptest without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/sessions/{tenantId}/init", s.handleSessionInit).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{tenantId}/qr", s.handleSessionQR).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{tenantId}/status", s.handleSessionStatus).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{tenantId}/disconnect", s.handleSessionDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{tenantId}/retry", s.handleSessionRetry).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{tenantId}/sync", s.handleSessionSync).Methods(http.MethodPost)

	api.HandleFunc("/messages", s.handleMessages).Methods(http.MethodPost)

	api.HandleFunc("/tenants/{tenantId}/groups", s.handleGroups).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{tenantId}/groups/{groupJid}/stats", s.handleGroupStats).Methods(http.MethodGet)
	api.HandleFunc("/tenants/{tenantId}/groups/{groupJid}/members", s.handleGroupMembers).Methods(http.MethodGet)

	api.HandleFunc("/jobs/{job}/run", s.handleJobRun).Methods(http.MethodPost)
	api.HandleFunc("/admin/reset/{scope}", s.handleReset).Methods(http.MethodPost)

	return r
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http api listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
