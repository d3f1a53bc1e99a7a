// Package main is the entry point for the tripsync API server.
// Its sole responsibility is wiring dependencies together and starting the server.
// No business logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pkordes/tripsync/internal/auth"
	"github.com/pkordes/tripsync/internal/config"
	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/handler"
	"github.com/pkordes/tripsync/internal/middleware"
	"github.com/pkordes/tripsync/internal/mirror"
	"github.com/pkordes/tripsync/internal/service"
	"github.com/pkordes/tripsync/migrations"
)

// maxBodyBytes caps request bodies; no endpoint reads more than a token header.
const maxBodyBytes = 1 << 20

func main() {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		// Use plain stderr before the logger is configured.
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// --- Document store ---------------------------------------------------
	store, closeStore, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		slog.Error("failed to open document store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- Auth and mirror --------------------------------------------------
	verifier, err := auth.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		slog.Error("failed to configure token verifier", "error", err)
		os.Exit(1)
	}
	broker := auth.NewBroker()

	m := mirror.New(store, mirror.Options{
		Logger:    logger,
		Metrics:   mirror.NewMetrics(prometheus.DefaultRegisterer),
		OpTimeout: cfg.MirrorOpTimeout,
	})
	manager := mirror.NewManager(m, broker, logger)
	stopMirroring := manager.Start()

	// --- Router -----------------------------------------------------------
	// Middleware is applied in order: RequestID → RealIP → Logger → Recoverer → CORS → body limit.
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(maxBodyBytes))

	r.Handle("/metrics", promhttp.Handler())
	srv := handler.NewServer(service.NewTripService(store), broker, verifier, manager, logger)
	srv.Register(r)

	// --- HTTP Server ------------------------------------------------------
	// Explicit timeouts prevent slowloris and resource exhaustion attacks.
	// WriteTimeout leaves room for POST /session, which waits for the previous
	// identity's session to stop.
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.MirrorOpTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", httpSrv.Addr, "store", cfg.StoreDriver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	// Mirroring stops after the last request so no sign-in can start a new
	// session behind it.
	stopMirroring()
	slog.Info("server stopped")
}

// openStore builds the document store selected by cfg.StoreDriver and
// returns the function that releases it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (docstore.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		slog.Warn("using in-memory document store; data is lost on exit")
		return docstore.NewMemoryStore(), func() {}, nil
	}

	// pgxpool manages a pool of Postgres connections.
	// New() does not open connections immediately; the first query does.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("create database pool: %w", err)
	}

	// Verify the DB is reachable before accepting traffic.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	slog.Info("database connection established")

	if cfg.MigrateOnStart {
		sqlDB := stdlib.OpenDBFromPool(pool)
		n, err := migrations.Up(ctx, sqlDB)
		_ = sqlDB.Close()
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("migrations applied", "count", n)
	}

	store := docstore.NewPGStore(pool,
		docstore.WithListenPool(pool),
		docstore.WithBatchWindow(cfg.MirrorBatchWindow),
		docstore.WithLogger(logger),
	)
	return store, pool.Close, nil
}
