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

package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efguard/backend/access"
	"github.com/efchatnet/efguard/backend/audit"
	"github.com/efchatnet/efguard/backend/config"
	"github.com/efchatnet/efguard/backend/content"
	"github.com/efchatnet/efguard/backend/envelope"
	"github.com/efchatnet/efguard/backend/gatekeeper"
	"github.com/efchatnet/efguard/backend/handlers"
	"github.com/efchatnet/efguard/backend/middleware"
	"github.com/efchatnet/efguard/backend/models"
	"github.com/efchatnet/efguard/backend/pipeline"
	"github.com/efchatnet/efguard/backend/quarantine"
	"github.com/efchatnet/efguard/backend/ratelimit"
	"github.com/efchatnet/efguard/backend/scan"
	"github.com/efchatnet/efguard/backend/storage"
	"github.com/efchatnet/efguard/backend/storage/postgres"
)

// Gate bundles the upload and message gates behind one router mount so it
// can be embedded into efchat or served standalone.
type Gate struct {
	store     storage.Store
	cleaner   expiredMessageCleaner
	directory *access.CachedDirectory
	settings  *config.Config
	logger    *slog.Logger

	upload  *pipeline.Upload
	send    *pipeline.Send
	mailbox *pipeline.Mailbox

	messageHandler    *handlers.MessageHandler
	uploadHandler     *handlers.UploadHandler
	quarantineHandler *handlers.QuarantineHandler
}

type expiredMessageCleaner interface {
	CleanupExpiredMessages(ctx context.Context) (int, error)
}

// Config holds the connections and settings NewGate wires together.
type Config struct {
	DB       *sql.DB
	Redis    *redis.Client
	Settings *config.Config
	Logger   *slog.Logger
}

// NewGate runs migrations against Postgres and builds the gate on top of it.
// The rate limiter is shared through Redis when RATE_LIMIT_BACKEND=redis.
func NewGate(ctx context.Context, cfg *Config) (*Gate, error) {
	if cfg.Settings == nil {
		return nil, &ValidationError{Message: "settings are not configured"}
	}
	store := postgres.NewStore(cfg.DB, cfg.Redis, cfg.Settings.MessageTTL)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var limiter ratelimit.Limiter
	if cfg.Settings.RateLimitBackend == "redis" {
		limiter = ratelimit.NewRedis(cfg.Redis, "send", cfg.Settings.RateLimit, cfg.Settings.RateWindow)
	}

	g, err := New(ctx, cfg.Settings, store, limiter, cfg.Logger)
	if err != nil {
		return nil, err
	}
	g.cleaner = store.Messages()
	return g, nil
}

// New assembles the gate over any storage backend. A nil limiter selects
// the in-process fixed-window limiter.
func New(ctx context.Context, settings *config.Config, store storage.Store, limiter ratelimit.Limiter, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		store:    store,
		settings: settings,
		logger:   logger.With(slog.String("component", "gate")),
	}
	if c, ok := store.(expiredMessageCleaner); ok {
		g.cleaner = c
	}

	cipher, err := envelope.New(settings.CipherSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise message cipher: %w", err)
	}

	auditor := audit.NewLogger(store, logger)

	qstore, err := quarantine.NewStore(settings.QuarantineDir, store, auditor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise quarantine: %w", err)
	}

	hashes, err := store.ListQuarantinedHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load quarantined hashes: %w", err)
	}
	blocklist := scan.NewBlocklist(store, uint(len(hashes))+100000)
	blocklist.Seed(hashes)

	scanner := scan.NewScanner(scan.Config{
		MaxSize:          settings.MaxFileSize,
		EntropyThreshold: settings.EntropyThreshold,
		Patterns:         scan.NewPatternScanner(settings.PatternWindow),
	})

	g.upload, err = pipeline.NewUpload(pipeline.UploadConfig{
		StagingDir: settings.StagingDir,
		UploadDir:  settings.UploadDir,
		BaseURL:    settings.UploadBaseURL,
	}, gatekeeper.New(settings.AllowedMimeTypes, settings.MaxFileSize), scanner, blocklist, qstore, auditor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise upload pipeline: %w", err)
	}

	var directory access.Directory = store
	if settings.IdentityCacheTTL > 0 {
		g.directory = access.NewCachedDirectory(store, settings.IdentityCacheTTL)
		directory = g.directory
	}

	if limiter == nil {
		limiter = ratelimit.NewMemory(settings.RateLimit, settings.RateWindow)
	}
	validator := content.NewValidator(content.Config{
		MaxLength:           settings.MaxMessageLength,
		ExtraSpamPhrases:    settings.ExtraSpamPhrases,
		ExtraBlockedDomains: settings.ExtraBlockedDomains,
	})
	g.send = pipeline.NewSend(limiter, validator, access.NewVerifier(directory), cipher, store, auditor, logger)
	g.mailbox = pipeline.NewMailbox(store, cipher)

	g.messageHandler = handlers.NewMessageHandler(g.send, g.mailbox, logger)
	g.uploadHandler = handlers.NewUploadHandler(g.upload, settings.MaxFileSize, logger)
	g.quarantineHandler = handlers.NewQuarantineHandler(qstore, logger)

	logger.Info("gate initialised",
		slog.Int("known_malicious_hashes", len(hashes)),
		slog.Bool("identity_cache", g.directory != nil),
	)
	return g, nil
}

// RegisterRoutes mounts the gate under /api/gate on router.
// If authMiddleware is nil, it will use the built-in JWT validation.
func (g *Gate) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	api := router.PathPrefix("/api/gate").Subrouter()

	api.Use(middleware.Metrics)
	if authMiddleware != nil {
		api.Use(authMiddleware)
	} else {
		api.Use(middleware.NewAuthMiddleware(middleware.JWTConfig{
			Secret: g.settings.JWTSecret,
			Issuer: g.settings.JWTIssuer,
		}))
	}

	api.HandleFunc("/uploads", g.uploadHandler.Upload).Methods("POST", "OPTIONS")
	api.HandleFunc("/messages", g.messageHandler.SendMessage).Methods("POST", "OPTIONS")
	api.HandleFunc("/messages", g.messageHandler.GetMessages).Methods("GET", "OPTIONS")
	api.HandleFunc("/messages/{messageId}/read", g.messageHandler.MarkRead).Methods("POST", "OPTIONS")

	adminOnly := middleware.RequireRole(middleware.RoleAdmin)
	api.Handle("/quarantine", adminOnly(http.HandlerFunc(g.quarantineHandler.List))).Methods("GET", "OPTIONS")
	api.Handle("/quarantine/release", adminOnly(http.HandlerFunc(g.quarantineHandler.Release))).Methods("POST", "OPTIONS")
}

// Store returns the underlying storage implementation
func (g *Gate) Store() storage.Store {
	return g.store
}

// ForgetIdentity drops a cached directory answer, for use when efchat
// deactivates an account.
func (g *Gate) ForgetIdentity(id string, kind models.ActorKind) {
	if g.directory != nil {
		g.directory.Forget(id, kind)
	}
}

// StartCleanup trims expired messages every interval until ctx is done.
func (g *Gate) StartCleanup(ctx context.Context, interval time.Duration) {
	if g.cleaner == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := g.cleaner.CleanupExpiredMessages(ctx)
				if err != nil {
					g.logger.Error("message cleanup failed", slog.String("error", err.Error()))
					continue
				}
				if n > 0 {
					g.logger.Info("expired messages removed", slog.Int("count", n))
				}
			}
		}
	}()
}

// ValidateSetup checks that the gate can reach its stores and that its
// directories are usable.
func (g *Gate) ValidateSetup(ctx context.Context) error {
	if err := g.store.Ping(ctx); err != nil {
		return &ValidationError{Message: "storage unreachable: " + err.Error()}
	}
	if g.settings.JWTSecret == "" {
		return &ValidationError{Message: "JWT secret is not configured"}
	}
	for _, dir := range []string{g.settings.StagingDir, g.settings.UploadDir, g.settings.QuarantineDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return &ValidationError{Message: fmt.Sprintf("directory %s: %v", dir, err)}
		}
		if !info.IsDir() {
			return &ValidationError{Message: fmt.Sprintf("%s is not a directory", dir)}
		}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidationError reports whether err came from gate setup validation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
