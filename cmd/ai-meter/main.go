package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/thronix/ai-meter/config"
	"github.com/thronix/ai-meter/internal/auth"
	"github.com/thronix/ai-meter/internal/ledger"
	"github.com/thronix/ai-meter/internal/meter"
	"github.com/thronix/ai-meter/internal/metrics"
	"github.com/thronix/ai-meter/internal/pricing"
	"github.com/thronix/ai-meter/internal/provider/openai"
	"github.com/thronix/ai-meter/internal/seeder"
	"github.com/thronix/ai-meter/internal/telemetry"
	"github.com/thronix/ai-meter/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("ai-meter", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	if err := seeder.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init usage ledger
	ledgerStore := ledger.NewPostgresStore(pool)

	// 7. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)

	// 8. Init pricing and provider
	table := pricing.Default()
	models := make([]string, 0, len(table))
	for m := range table {
		models = append(models, m)
	}
	caller := meter.NewCaller(openai.New(cfg.OpenAIAPIKey, models))

	// 9. Init handler
	tracer := otel.GetTracerProvider().Tracer("ai-meter")
	handler := meter.NewHandler(caller, ledgerStore, table, limiter, cfg.MonthlyLimitUSD, cfg.OpenAIModel, tracer)

	// 10. Seed test API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore)
	}

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware())

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ai-meter"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/completions", handler.HandleComplete)
		r.Get("/v1/usage", handler.HandleUsage)
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("AI usage meter starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
