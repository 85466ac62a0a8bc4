// Package middleware contains HTTP middleware for the sitegate API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/sitegate/internal/auth"
	"github.com/DukeRupert/sitegate/internal/handler"
)

// =============================================================================
// API Key Configuration
// =============================================================================

// APIKey is a named bcrypt hash of a client secret.
type APIKey struct {
	Name string
	Hash []byte
}

// ErrMalformedAPIKeys is returned by ParseAPIKeys for an unparseable list.
var ErrMalformedAPIKeys = errors.New("malformed API key list")

// ParseAPIKeys parses "name:hash,name:hash". bcrypt hashes never contain
// ':' or ','.
func ParseAPIKeys(raw string) ([]APIKey, error) {
	var keys []APIKey
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, hash, ok := strings.Cut(part, ":")
		if !ok || name == "" || hash == "" {
			return nil, ErrMalformedAPIKeys
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, errors.Join(ErrMalformedAPIKeys, err)
		}
		keys = append(keys, APIKey{Name: name, Hash: []byte(hash)})
	}
	return keys, nil
}

// =============================================================================
// API Key Middleware
// =============================================================================

// APIKeyMiddleware authenticates product services by bearer API key.
//
// A key that verified once is remembered by its SHA-256 digest for the life
// of the process.
type APIKeyMiddleware struct {
	keys    []APIKey
	logger  *slog.Logger
	enabled bool

	mu       sync.RWMutex
	verified map[string]string // sha256(token) -> client name
}

// NewAPIKeyMiddleware creates a new API key middleware. With no keys
// configured, authentication is disabled and every request passes.
func NewAPIKeyMiddleware(keys []APIKey, logger *slog.Logger) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		keys:     keys,
		logger:   logger,
		enabled:  len(keys) > 0,
		verified: make(map[string]string),
	}
}

// RequireClient returns middleware that rejects requests without a valid key
// and stores the matched client in the request context.
func (m *APIKeyMiddleware) RequireClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		name, ok := m.verify(token)
		if !ok {
			m.logger.Warn("invalid API key", "path", r.URL.Path, "ip", getClientIP(r))
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}

		ctx := auth.SetClient(r.Context(), &auth.Client{Name: name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *APIKeyMiddleware) verify(token string) (string, bool) {
	sum := sha256.Sum256([]byte(token))
	digest := hex.EncodeToString(sum[:])

	m.mu.RLock()
	name, ok := m.verified[digest]
	m.mu.RUnlock()
	if ok {
		return name, true
	}

	for _, k := range m.keys {
		if bcrypt.CompareHashAndPassword(k.Hash, []byte(token)) == nil {
			m.mu.Lock()
			m.verified[digest] = k.Name
			m.mu.Unlock()
			return k.Name, true
		}
	}
	return "", false
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	requireClient := Stack(apiKeyMw.RequireClient, rateLimitMw.Limit)
//	mux.Handle("POST /v1/access-check", requireClient(checkHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&APIKeyMiddleware{}).RequireClient
	_ func(http.Handler) http.Handler = (&RateLimitMiddleware{}).Limit
)
