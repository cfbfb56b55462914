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

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsKey contextKey = "claims"

// RoleAdmin allows quarantine administration.
const RoleAdmin = "admin"

// Claims represents the JWT claims structure
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username,omitempty"`
	Kind     string   `json:"kind,omitempty"` // "user" or "lawyer"
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// JWTConfig holds the JWT configuration
type JWTConfig struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

// NewAuthMiddleware creates a new authentication middleware. Tokens must be
// HS256, unexpired, and carry a user_id.
func NewAuthMiddleware(cfg JWTConfig) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "no authorization header")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header format")
				return
			}

			claims := &Claims{}
			if _, err := parser.ParseWithClaims(tokenString, claims, keyFunc); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", describeTokenError(err))
				return
			}
			if claims.UserID == "" {
				writeError(w, http.StatusUnauthorized, "invalid_token", "token has no user_id")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func describeTokenError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "invalid token issuer"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid signature"
	default:
		return fmt.Sprintf("invalid token: %v", err)
	}
}

// RequireRole rejects callers whose token lacks role. It must run after
// the auth middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r)
			if !ok || !claims.HasRole(role) {
				writeError(w, http.StatusForbidden, "forbidden", "requires role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserID extracts the user ID from the request context
func GetUserID(r *http.Request) (string, bool) {
	claims, ok := GetClaims(r)
	if !ok {
		return "", false
	}
	return claims.UserID, true
}

// GetClaims extracts the full claims from the request context
func GetClaims(r *http.Request) (*Claims, bool) {
	claims, ok := r.Context().Value(claimsKey).(*Claims)
	return claims, ok
}

// WithClaims returns a copy of ctx carrying claims. Used when the gate is
// mounted behind an authenticator that is not this package's.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// DefaultAllowedOrigins are the efchat front-ends.
var DefaultAllowedOrigins = []string{
	"https://efchat.net",
	"https://app.efchat.net",
	"http://localhost:3000", // Development
}

// CORS middleware for handling cross-origin requests
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if slices.Contains(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
