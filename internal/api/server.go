// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/asset-registry/internal/ledger"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/service"
	"github.com/asset-registry/internal/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service interfaces for dependency injection and testing

// SessionService is the reconciliation session behind the API
type SessionService interface {
	Status() *service.Status
	SwitchAccount(ctx context.Context, account types.Account) (*types.Snapshot, error)
	Disconnect()
	Refresh(ctx context.Context) (*types.Snapshot, error)
	AssetDetail(ctx context.Context, assetID uint64) (*types.Asset, error)
	AssetHistory(ctx context.Context, assetID uint64) ([]types.HistoryRecord, error)
	RegisterProfile(ctx context.Context, in service.ProfileInput) (*service.WriteResult, error)
	UpdateProfile(ctx context.Context, in service.ProfileInput) (*service.WriteResult, error)
	RegisterAsset(ctx context.Context, in service.AssetInput) (*service.WriteResult, error)
	TransferAsset(ctx context.Context, in service.TransferInput) (*service.WriteResult, error)
	Totals(ctx context.Context) (*types.Totals, error)
}

// WalletService selects the signing account
type WalletService interface {
	Accounts() []types.Account
	Connect(account types.Account) error
	Disconnect()
}

// SnapshotReader reads published snapshots
type SnapshotReader interface {
	Get(ctx context.Context, account types.Account) (*types.Snapshot, bool, error)
	ExpiresIn(ctx context.Context, account types.Account) (time.Duration, error)
	Recent(ctx context.Context, limit int64) ([]types.Account, error)
}

// HealthReporter exposes ledger endpoint health
type HealthReporter interface {
	Health() *ledger.ProviderHealth
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	session    SessionService
	wallet     WalletService  // optional
	snapshots  SnapshotReader // optional
	health     HealthReporter // optional
	limiter    *RateLimiter
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
	Burst           int
	Gatherer        prometheus.Gatherer // serves /metrics when set
}

// Dependencies groups the collaborators of the server
type Dependencies struct {
	Session   SessionService
	Wallet    WalletService
	Snapshots SnapshotReader
	Health    HealthReporter
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		session:   deps.Session,
		wallet:    deps.Wallet,
		snapshots: deps.Snapshots,
		health:    deps.Health,
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.limiter = NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	// order matters: recovery needs the request logger
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RateLimitMiddleware(s.limiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	// preflight requests match no route, so CORS wraps the router
	s.handler = CORSMiddleware(s.router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.config.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()

	// Session endpoints
	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session", s.handleDisconnect).Methods("DELETE")
	api.HandleFunc("/session/account", s.handleSwitchAccount).Methods("PUT")
	api.HandleFunc("/session/refresh", s.handleRefresh).Methods("POST")

	// Guarded reads
	api.HandleFunc("/assets/{id}", s.handleGetAsset).Methods("GET")
	api.HandleFunc("/assets/{id}/history", s.handleGetAssetHistory).Methods("GET")

	// Writes
	api.HandleFunc("/profile", s.handleRegisterProfile).Methods("POST")
	api.HandleFunc("/profile", s.handleUpdateProfile).Methods("PUT")
	api.HandleFunc("/assets", s.handleRegisterAsset).Methods("POST")
	api.HandleFunc("/assets/{id}/transfer", s.handleTransferAsset).Methods("POST")

	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	api.HandleFunc("/accounts/{address}/snapshot", s.handleGetPublishedSnapshot).Methods("GET")
	api.HandleFunc("/snapshots/recent", s.handleRecentSnapshots).Methods("GET")
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "asset-registry",
		"session": s.session.Status().State,
	}
	if s.health != nil {
		body["ledger"] = s.health.Health()
	}
	respondJSON(w, http.StatusOK, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
