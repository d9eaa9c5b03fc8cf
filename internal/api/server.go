package api

import (
	"context"
	"crypto"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"wipecert/internal/certificate"
	"wipecert/internal/config"
	"wipecert/internal/logging"
)

// Config holds server configuration.
type Config struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PublicKey overrides the chain signer key for verification.
	PublicKey crypto.PublicKey
}

// ConfigFrom maps the server section of the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}
}

// Server exposes the certificate chain read-only over HTTP.
type Server struct {
	chain   *certificate.Chain
	cfg     Config
	log     *logging.EnterpriseLogger
	httpSrv *http.Server
}

func NewServer(chain *certificate.Chain, cfg Config, logger *logging.EnterpriseLogger) *Server {
	return &Server{chain: chain, cfg: cfg, log: logging.OrNop(logger)}
}

func (s *Server) publicKey() crypto.PublicKey {
	if s.cfg.PublicKey != nil {
		return s.cfg.PublicKey
	}
	return s.chain.PublicKey()
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(loggingMiddleware(s.log))

	r.Handle("/metrics", MetricsHandler())

	r.Get("/v1/health", s.HealthHandler)
	r.Get("/v1/certificates", s.ListHandler)
	r.Get("/v1/certificates/{id}", s.GetHandler)
	r.Get("/v1/certificates/{id}/verify", s.VerifyCertificateHandler)
	r.Get("/v1/chain/verify", s.VerifyChainHandler)

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Log("INFO", "starting HTTP server", "addr", s.cfg.ListenAddr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
