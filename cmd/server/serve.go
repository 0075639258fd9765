package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"visitorid/internal/audit"
	"visitorid/internal/identity/admin"
	identityHandler "visitorid/internal/identity/handler"
	identityMetrics "visitorid/internal/identity/metrics"
	"visitorid/internal/identity/resolver"
	"visitorid/internal/identity/store"
	"visitorid/internal/platform/config"
	"visitorid/internal/platform/httpserver"
	"visitorid/internal/platform/kafka"
	"visitorid/internal/platform/logger"
	"visitorid/internal/platform/metrics"
	"visitorid/internal/platform/middleware"
	"visitorid/internal/platform/postgres"
	"visitorid/internal/platform/redis"
	"visitorid/internal/scorer"
	"visitorid/pkg/platform/circuit"
	"visitorid/pkg/platform/httputil"
	adminmw "visitorid/pkg/platform/middleware/admin"
	"visitorid/pkg/platform/middleware/metadata"
	"visitorid/pkg/platform/middleware/request"
	"visitorid/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger.New(cfg.Log))
	},
}

// identityStore is satisfied by every store backend.
type identityStore interface {
	resolver.Store
	admin.IdentityStore
}

// infra holds the connections opened for the configured backends.
type infra struct {
	store    identityStore
	health   []func(context.Context) error
	closers  []func()
	producer *kafka.Producer
}

func (i *infra) close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
}

// serve wires dependencies, exposes the HTTP router and blocks until ctx is
// cancelled. Business logic lives in the internal service packages.
func serve(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	deps, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	identityMetricsCollector := identityMetrics.New()

	client := scorer.NewClient(cfg.Scorer.BaseURL, cfg.Scorer.Credentials(),
		scorer.WithQuality(cfg.Scorer.Quality),
		scorer.WithTimeout(cfg.Scorer.Timeout),
	)
	verifier := scorer.NewVerifier(client, cfg.Scorer.APIKey,
		scorer.WithLogger(log),
		scorer.WithMetrics(identityMetricsCollector),
		scorer.WithBreaker(circuit.New("scorer",
			circuit.WithFailureThreshold(cfg.Scorer.FailureThreshold),
			circuit.WithSuccessThreshold(cfg.Scorer.SuccessThreshold),
		)),
	)

	var publisher resolver.AuditPublisher = audit.NewLogPublisher(log)
	if deps.producer != nil {
		async := audit.NewAsyncPublisher(audit.NewKafkaPublisher(deps.producer), audit.WithAsyncLogger(log))
		defer async.Close()
		publisher = async
	}

	resolverService, err := resolver.New(deps.store, verifier,
		resolver.WithLogger(log),
		resolver.WithMetrics(identityMetricsCollector),
		resolver.WithAuditPublisher(publisher),
		resolver.WithDefaultScorerKey(cfg.Scorer.APIKey),
	)
	if err != nil {
		return fmt.Errorf("init resolver: %w", err)
	}
	adminService, err := admin.New(deps.store, admin.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init admin service: %w", err)
	}

	handler := identityHandler.New(resolverService, adminService, log)
	router := newRouter(cfg, log, metrics.New(), handler, deps.health)

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting visitorid",
			"addr", cfg.Addr,
			"protocol", cfg.Protocol,
			"store_backend", cfg.StoreBackend,
			"kafka_audit", deps.producer != nil,
		)
		errCh <- httpserver.Serve(srv, cfg)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	deps := &infra{}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() { _ = db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			deps.close()
			return nil, err
		}
		deps.store = store.NewPostgres(db)
		deps.health = append(deps.health, db.PingContext)
	case config.BackendRedis:
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() { _ = rc.Close() })
		deps.store = store.NewRedis(rc.Client)
		deps.health = append(deps.health, rc.Health)
	default:
		log.Warn("using in-memory identity store, identities are lost on restart")
		deps.store = store.NewInMemory()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			deps.close()
			return nil, err
		}
		deps.closers = append(deps.closers, producer.Close)
		deps.producer = producer
		deps.health = append(deps.health, producer.Ping)
	}
	return deps, nil
}

func newRouter(cfg config.Server, log *slog.Logger, m *metrics.Metrics, h *identityHandler.Handler, health []func(context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log))
	r.Use(middleware.Latency(m))
	r.Use(corsHandler(cfg.AllowedOrigin).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range health {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "health check failed", "error", err)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	h.Register(r)
	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(cfg.AdminToken, log))
		h.RegisterAdmin(r)
	})
	return r
}

func corsHandler(allowedOrigin string) *cors.Cors {
	origins := []string{
		"http://localhost",
		"http://localhost:3000",
		"https://localhost",
		"https://localhost:3000",
	}
	if allowedOrigin != "" {
		origins = append(origins, allowedOrigin)
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
	})
}
