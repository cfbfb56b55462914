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

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration, read once at startup from the
// environment.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	JWTSecret    string
	JWTIssuer    string
	CipherSecret string

	UploadDir     string
	StagingDir    string
	QuarantineDir string
	UploadBaseURL string

	MaxFileSize      int64
	MaxMessageLength int
	EntropyThreshold float64
	PatternWindow    int

	RateLimit        int
	RateWindow       time.Duration
	RateLimitBackend string

	// AllowedMimeTypes is nil when the built-in allow-list applies.
	AllowedMimeTypes    []string
	ExtraSpamPhrases    []string
	ExtraBlockedDomains []string

	// IdentityCacheTTL of zero disables the directory cache.
	IdentityCacheTTL time.Duration
	MessageTTL       time.Duration
	CleanupInterval  time.Duration

	CORSOrigins []string

	LogLevel        slog.Level
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads the environment and validates every value. Errors name the
// offending variable.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.Port = getEnvDefault("PORT", "8081")
	if p, perr := strconv.Atoi(cfg.Port); perr != nil || p <= 0 || p > 65535 {
		return nil, fmt.Errorf("PORT: invalid port %q", cfg.Port)
	}

	cfg.DatabaseURL = getEnvDefault("DATABASE_URL", "postgres://localhost/efguard?sslmode=disable")
	cfg.RedisURL = getEnvDefault("REDIS_URL", "localhost:6379")

	if cfg.JWTSecret, err = getEnvRequired("JWT_SECRET"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("JWT_ISSUER", "efchat")
	if cfg.CipherSecret, err = getEnvRequired("CIPHER_SECRET"); err != nil {
		return nil, err
	}

	cfg.UploadDir = getEnvDefault("UPLOAD_DIR", "./data/uploads")
	cfg.StagingDir = getEnvDefault("STAGING_DIR", "./data/staging")
	cfg.QuarantineDir = getEnvDefault("QUARANTINE_DIR", "./data/quarantine")
	cfg.UploadBaseURL = getEnvDefault("UPLOAD_BASE_URL", "/uploads")

	if cfg.MaxFileSize, err = getEnvInt64("MAX_FILE_SIZE", 50*1024*1024); err != nil {
		return nil, fmt.Errorf("MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("MAX_FILE_SIZE: value must be positive")
	}

	if cfg.MaxMessageLength, err = getEnvInt("MAX_MESSAGE_LENGTH", 2000); err != nil {
		return nil, fmt.Errorf("MAX_MESSAGE_LENGTH: %w", err)
	}
	if cfg.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGE_LENGTH: value must be positive")
	}

	if cfg.EntropyThreshold, err = getEnvFloat("ENTROPY_THRESHOLD", 7.5); err != nil {
		return nil, fmt.Errorf("ENTROPY_THRESHOLD: %w", err)
	}
	if cfg.EntropyThreshold <= 0 || cfg.EntropyThreshold > 8 {
		return nil, fmt.Errorf("ENTROPY_THRESHOLD: value %.2f outside (0, 8]", cfg.EntropyThreshold)
	}

	if cfg.PatternWindow, err = getEnvInt("PATTERN_WINDOW", 10240); err != nil {
		return nil, fmt.Errorf("PATTERN_WINDOW: %w", err)
	}
	if cfg.PatternWindow <= 0 {
		return nil, fmt.Errorf("PATTERN_WINDOW: value must be positive")
	}

	if cfg.RateLimit, err = getEnvInt("RATE_LIMIT", 30); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT: %w", err)
	}
	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT: value must be positive")
	}
	if cfg.RateWindow, err = getEnvDuration("RATE_WINDOW", time.Minute); err != nil {
		return nil, fmt.Errorf("RATE_WINDOW: %w", err)
	}
	if cfg.RateWindow <= 0 {
		return nil, fmt.Errorf("RATE_WINDOW: value must be positive")
	}
	cfg.RateLimitBackend = strings.ToLower(getEnvDefault("RATE_LIMIT_BACKEND", "memory"))
	if cfg.RateLimitBackend != "memory" && cfg.RateLimitBackend != "redis" {
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND: invalid value %q, allowed: memory, redis", cfg.RateLimitBackend)
	}

	cfg.AllowedMimeTypes = getEnvList("ALLOWED_MIME_TYPES")
	cfg.ExtraSpamPhrases = getEnvList("EXTRA_SPAM_PHRASES")
	cfg.ExtraBlockedDomains = getEnvList("EXTRA_BLOCKED_DOMAINS")

	if cfg.IdentityCacheTTL, err = getEnvDuration("IDENTITY_CACHE_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("IDENTITY_CACHE_TTL: %w", err)
	}
	if cfg.IdentityCacheTTL < 0 {
		return nil, fmt.Errorf("IDENTITY_CACHE_TTL: value must not be negative")
	}
	if cfg.MessageTTL, err = getEnvDuration("MESSAGE_TTL", 30*24*time.Hour); err != nil {
		return nil, fmt.Errorf("MESSAGE_TTL: %w", err)
	}
	if cfg.MessageTTL <= 0 {
		return nil, fmt.Errorf("MESSAGE_TTL: value must be positive")
	}
	if cfg.CleanupInterval, err = getEnvDuration("MESSAGE_CLEANUP_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("MESSAGE_CLEANUP_INTERVAL: %w", err)
	}

	cfg.CORSOrigins = getEnvList("CORS_ALLOWED_ORIGINS")

	if cfg.LogLevel, err = parseLogLevel(getEnvDefault("LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = strings.ToLower(getEnvDefault("LOG_FORMAT", "json"))
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT: invalid value %q, allowed: json, text", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger builds the process logger and installs it as the slog default.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With(slog.String("service", "efguard"))
	slog.SetDefault(logger)
	return logger
}

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: required environment variable is not set", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %q", val)
	}
	return f, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q (use Go format: 30s, 1h)", val)
	}
	return d, nil
}

// getEnvList splits a comma-separated variable, dropping empty items. An
// unset variable yields nil.
func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid level %q, allowed: debug, info, warn, error", level)
	}
}
