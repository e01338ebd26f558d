// Package server wires storage, rate limiting, auditing and the HTTP API into one daemon.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/developingchet/rtledger/internal/api"
	"github.com/developingchet/rtledger/internal/audit"
	"github.com/developingchet/rtledger/internal/auth"
	"github.com/developingchet/rtledger/internal/clientip"
	"github.com/developingchet/rtledger/internal/config"
	"github.com/developingchet/rtledger/internal/ratelimit"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// BinaryVersion is set at startup from the -X main.Version ldflags value.
var BinaryVersion = "dev"

const shutdownTimeout = 10 * time.Second

// Server owns every long-running component.
type Server struct {
	cfg       *config.Config
	store     storage.Store
	limiter   *ratelimit.Limiter
	auditPool *audit.Pool
	api       *api.Handler
	janitor   *Janitor
	redis     *redis.Client
	log       zerolog.Logger
}

// New constructs a fully wired Server.
func New(cfg *config.Config, store storage.Store, log zerolog.Logger) (*Server, error) {
	allowlist, err := clientip.ParseAllowlist(cfg.RateLimitAllowlist)
	if err != nil {
		return nil, fmt.Errorf("parse allowlist: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	s := &Server{cfg: cfg, store: store, log: log}

	var rlStore ratelimit.Store
	switch cfg.RateLimitBackend {
	case "redis":
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rlStore = ratelimit.NewRedisStore(s.redis, "rtledger:ratelimit:")
	default:
		rlStore = ratelimit.NewMemoryStore()
	}
	s.limiter = ratelimit.New(rlStore, nil, log)

	s.auditPool, err = audit.New(audit.Config{
		Workers:    cfg.AuditWorkers,
		QueueDepth: cfg.AuditQueueDepth,
		MaxRetries: cfg.AuditMaxRetries,
		RetryBase:  cfg.AuditRetryBase,
	}, audit.StoreSink(store), log)
	if err != nil {
		return nil, fmt.Errorf("create audit pool: %w", err)
	}

	s.api = api.New(store, access.NewService(log), s.limiter, issuer, s.auditPool, api.Options{
		AuthPolicy:        ratelimit.Policy{Name: "auth", Window: cfg.RateLimitAuthWindow, MaxRequests: cfg.RateLimitAuthMax},
		APIPolicy:         ratelimit.Policy{Name: "api", Window: cfg.RateLimitAPIWindow, MaxRequests: cfg.RateLimitAPIMax},
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		UseRemoteAddr:     cfg.RateLimitUseRemoteAddr,
		Allowlist:         allowlist,
	}, log)

	s.janitor = NewJanitor(store, s.auditPool, s.limiter, cfg.JanitorInterval, log)
	return s, nil
}

// Run starts all goroutines and blocks until ctx is cancelled or a fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	if s.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis %s: %w", s.cfg.RedisAddr, err)
		}
		defer s.redis.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	s.auditPool.Start(gctx)
	s.limiter.Start(s.cfg.RateLimitSweepInterval)

	g.Go(func() error {
		return s.serveAPI(gctx)
	})

	if s.cfg.MetricsEnabled {
		g.Go(func() error {
			return s.serveMetrics(gctx)
		})
	}

	g.Go(func() error {
		return s.serveHealth(gctx)
	})

	g.Go(func() error {
		return s.janitor.Run(gctx)
	})

	err := g.Wait()

	s.limiter.Stop()
	s.auditPool.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveAPI runs the API server and drains in-flight requests on shutdown.
func (s *Server) serveAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.APIAddr,
		Handler:           s.api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.cfg.APIAddr).Msg("API server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// serveMetrics runs the Prometheus HTTP server.
func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              s.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info().Str("addr", s.cfg.MetricsAddr).Msg("Prometheus metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// healthHandler serves /healthz (process up) and /readyz (storage answers).
func healthHandler(store storage.Store) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// serveHealth runs the health endpoint.
func (s *Server) serveHealth(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HealthAddr,
		Handler:           healthHandler(s.store),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info().Str("addr", s.cfg.HealthAddr).Msg("health server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
