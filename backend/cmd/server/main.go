// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efguard/backend/config"
	"github.com/efchatnet/efguard/backend/handlers"
	"github.com/efchatnet/efguard/backend/integration"
	"github.com/efchatnet/efguard/backend/middleware"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := config.SetupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database connection
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Redis connection
	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	gate, err := integration.NewGate(ctx, &integration.Config{
		DB:       db,
		Redis:    rdb,
		Settings: cfg,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise gate: %w", err)
	}
	if err := gate.ValidateSetup(ctx); err != nil {
		return err
	}
	gate.StartCleanup(ctx, cfg.CleanupInterval)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Logging(logger))

	gate.RegisterRoutes(r, nil)

	// Health check and metrics (no auth required)
	r.HandleFunc("/health", handlers.Health(gate.Store())).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if strings.HasPrefix(cfg.UploadBaseURL, "/") {
		prefix := strings.TrimSuffix(cfg.UploadBaseURL, "/") + "/"
		r.PathPrefix(prefix).Handler(http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.UploadDir)))).Methods("GET")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("efguard server starting",
			slog.String("addr", srv.Addr),
			slog.String("jwt_issuer", cfg.JWTIssuer),
			slog.String("rate_limit_backend", cfg.RateLimitBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// newRedisClient accepts either a redis:// URL or a bare host:port.
func newRedisClient(addr string) (*redis.Client, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}
