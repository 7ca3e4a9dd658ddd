// Package server exposes the federated-learning API over HTTP. It is pure
// request/response plumbing: every route maps onto one ledger operation or
// one coordinator round, and gateway error kinds map onto status codes.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vpsa-network/fl-service-layer/internal/coordinator"
	"github.com/vpsa-network/fl-service-layer/internal/fabric"
	"github.com/vpsa-network/fl-service-layer/internal/metrics"
)

// Gateway is the ledger capability the handlers consume.
type Gateway interface {
	Invoke(ctx context.Context, fn string, args []string) (string, error)
	Query(ctx context.Context, fn string, args []string) (fabric.Payload, error)
}

// Config holds the HTTP server settings.
type Config struct {
	ListenAddr         string
	Chaincode          string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Server is the HTTP front end.
type Server struct {
	cfg     Config
	gateway Gateway
	coord   *coordinator.Coordinator
	metrics *metrics.Metrics
	limiter *rate.Limiter
	router  *mux.Router
	handler http.Handler
	http    *http.Server
	log     zerolog.Logger
}

// New builds the server and its routes. metrics may be nil.
func New(cfg Config, gateway Gateway, coord *coordinator.Coordinator, m *metrics.Metrics, log zerolog.Logger) *Server {
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = int(cfg.RateLimitPerSecond) * 2
	}

	s := &Server{
		cfg:     cfg,
		gateway: gateway,
		coord:   coord,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
		router:  mux.NewRouter(),
		log:     log.With().Str("component", "http").Logger(),
	}
	s.routes()
	s.handler = cors(s.router)

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.logRequests, s.rateLimit)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/client/register", s.handleRegisterClient).Methods(http.MethodPost)
	api.HandleFunc("/client/{clientID}", s.handleGetClient).Methods(http.MethodGet)
	api.HandleFunc("/clients", s.handleGetAllClients).Methods(http.MethodGet)
	api.HandleFunc("/model/submit", s.handleSubmitModel).Methods(http.MethodPost)
	api.HandleFunc("/model/{modelID}", s.handleGetModel).Methods(http.MethodGet)
	api.HandleFunc("/models/round/{round:[0-9]+}", s.handleModelsByRound).Methods(http.MethodGet)
	api.HandleFunc("/aggregate", s.handleAggregate).Methods(http.MethodPost)
	api.HandleFunc("/global-model", s.handleGlobalModel).Methods(http.MethodGet)
	api.HandleFunc("/global-model/history", s.handleModelHistory).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/config/update", s.handleUpdateConfig).Methods(http.MethodPut)
	api.HandleFunc("/metrics/{round:[0-9]+}", s.handleRoundMetrics).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleAllMetrics).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
