package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Rajshah1302/fate-engine/internal/chain"
	"github.com/Rajshah1302/fate-engine/internal/metrics"
	"github.com/Rajshah1302/fate-engine/internal/store"
	"github.com/Rajshah1302/fate-engine/internal/trade"
	"github.com/Rajshah1302/fate-engine/internal/verify"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Chain configuration ---
	cfg := chain.DefaultConfig()
	cfg.PackageID = os.Getenv("SUI_PACKAGE_ID")
	cfg.RegistryID = os.Getenv("SUI_REGISTRY_ID")
	cfg.OracleHolderID = os.Getenv("SUI_ORACLE_HOLDER_ID")
	if v := os.Getenv("GAS_BUDGET"); v != "" {
		budget, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			slog.Error("invalid GAS_BUDGET", "err", err)
			os.Exit(1)
		}
		cfg.GasBudget = budget
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("chain configuration incomplete", "err", err)
		os.Exit(1)
	}

	rpcURL := os.Getenv("SUI_RPC_URL")
	if rpcURL == "" {
		rpcURL = "https://fullnode.testnet.sui.io:443"
	}
	client := chain.NewRPCClient(rpcURL, cfg)

	// --- Initialize store ---
	var st store.Store
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
			rdb := redis.NewClient(opt)
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

	// --- Trade verification ---
	verifier, err := verify.New(client, cfg)
	if err != nil {
		slog.Error("verifier setup failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Trade service ---
	tradeSvc := trade.NewService(st, client, verifier, cfg, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
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
		w.Write([]byte(`{"status":"ok","service":"fate-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time pool and trade updates.
		r.Get("/ws", wsHub.HandleWS)

		// Pool management.
		r.Get("/pools", tradeSvc.ListPools)
		r.Post("/pools", tradeSvc.RegisterPool)
		r.Get("/pools/{poolID}", tradeSvc.GetPool)
		r.Post("/pools/{poolID}/refresh", tradeSvc.RefreshPool)
		r.Get("/pools/{poolID}/trades", tradeSvc.GetPoolTrades)

		// Quoting and trade execution.
		r.Post("/quote", tradeSvc.GetQuote)
		r.Post("/trade", tradeSvc.ExecuteTrade)
		r.Get("/trades/{address}", tradeSvc.GetTrades)

		// Portfolio queries.
		r.Get("/portfolio/{address}", tradeSvc.GetPortfolio)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fate-engine listening", "port", port, "rpc", rpcURL)
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

	slog.Info("shutting down fate-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fate-engine stopped")
}
