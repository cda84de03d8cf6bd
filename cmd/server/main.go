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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cryptoedu/paper-engine/internal/engine"
	"github.com/cryptoedu/paper-engine/internal/metrics"
	"github.com/cryptoedu/paper-engine/internal/milestone"
	"github.com/cryptoedu/paper-engine/internal/quote"
	"github.com/cryptoedu/paper-engine/internal/reward"
	"github.com/cryptoedu/paper-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cfg := engine.DefaultConfig()
	if v := os.Getenv("FEE_RATE"); v != "" {
		if rate, err := decimal.NewFromString(v); err == nil {
			cfg.Costing.FeeRate = rate
		}
	}

	spread := decimal.NewFromFloat(0.001)
	if v := os.Getenv("SPREAD_RATE"); v != "" {
		if rate, err := decimal.NewFromString(v); err == nil {
			spread = rate
		}
	}

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb = redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote provider ---
	var quotes quote.Provider
	if quoteURL := os.Getenv("QUOTE_URL"); quoteURL != "" {
		quotes = quote.NewHTTPProvider(quoteURL, spread, 5*time.Second)
	} else {
		slog.Warn("QUOTE_URL not set, using fixed development prices")
		quotes = quote.NewFixedProvider(spread, map[string]decimal.Decimal{
			"bitcoin":  decimal.NewFromInt(64000),
			"ethereum": decimal.NewFromInt(3200),
			"solana":   decimal.NewFromInt(140),
		})
	}
	if rdb != nil {
		// Cache TTL stays below the staleness threshold.
		quoteTTL := 10 * time.Second
		if v := os.Getenv("QUOTE_TTL"); v != "" {
			if ttl, err := time.ParseDuration(v); err == nil {
				quoteTTL = ttl
			}
		}
		quotes = quote.NewCachedProvider(quotes, rdb, quoteTTL)
	}

	// --- Achievement catalogue ---
	if err := st.SeedAchievementDefinitions(context.Background(), reward.DefaultCatalogue()); err != nil {
		slog.Error("failed to seed achievement definitions", "err", err)
		os.Exit(1)
	}

	// --- Pipeline + engine ---
	tracker := milestone.NewTracker(st)
	rewards := reward.NewEngine(st, tracker)

	wsHub := engine.NewWSHub()
	go wsHub.Run()

	svc := engine.NewService(st, quotes, rewards, tracker, cfg, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade/achievement events.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts & orders.
		r.Post("/accounts", svc.CreateAccount)
		r.Post("/orders", svc.PlaceOrder)

		// Read-side queries.
		r.Get("/portfolio/{userID}", svc.GetPortfolio)
		r.Get("/trades/{userID}", svc.GetTradeHistory)
		r.Get("/achievements/{userID}", svc.GetAchievements)
		r.Get("/quotes/{symbol}", svc.GetQuote)

		// Stat hooks invoked by the login/course subsystems.
		r.Post("/events/login", svc.RecordLogin)
		r.Post("/events/course-completed", svc.CompleteCourse)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}
