package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/audit"
)

// Roles.
const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

// Scopes.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	VerifyToken(token string) (*Claims, error)
}

// ErrorWriter renders an UNAUTHORIZED or FORBIDDEN error.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type claimsKey struct{}

// Middleware authenticates requests and checks grants.
type Middleware struct {
	verifier TokenVerifier
	onError  ErrorWriter
}

// NewMiddleware creates middleware around verifier. onError may be nil.
func NewMiddleware(verifier TokenVerifier, onError ErrorWriter) *Middleware {
	if onError == nil {
		onError = writeError
	}
	return &Middleware{verifier: verifier, onError: onError}
}

// RequireAuth rejects requests without a valid bearer token. The token
// subject becomes the audit actor for the request.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			m.onError(w, r, adapter.New(adapter.CodeUnauthorized, "").WithDetails("reason", err.Error()))
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			m.onError(w, r, adapter.New(adapter.CodeUnauthorized, "Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = audit.WithActor(ctx, claims.Subject)
		next(w, r.WithContext(ctx))
	}
}

// RequireScope rejects requests whose claims lack any of scopes.
func (m *Middleware) RequireScope(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return m.require(func(c *Claims) bool {
		for _, s := range scopes {
			if !c.HasScope(s) {
				return false
			}
		}
		return true
	})
}

// RequireRole rejects requests whose claims carry none of roles.
func (m *Middleware) RequireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return m.require(func(c *Claims) bool {
		if len(roles) == 0 {
			return true
		}
		for _, role := range roles {
			if c.HasRole(role) {
				return true
			}
		}
		return false
	})
}

func (m *Middleware) require(allowed func(*Claims) bool) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				m.onError(w, r, adapter.New(adapter.CodeUnauthorized, ""))
				return
			}
			if !allowed(claims) {
				m.onError(w, r, adapter.New(adapter.CodeForbidden, ""))
				return
			}
			next(w, r)
		}
	}
}

// Protect is RequireAuth followed by RequireScope(scope).
func (m *Middleware) Protect(scope string, next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(m.RequireScope(scope)(next))
}

// ClaimsFromContext returns the verified claims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

var (
	errMissingHeader = errors.New("missing Authorization header")
	errBadScheme     = errors.New("invalid Authorization header format")
	errEmptyToken    = errors.New("empty token")
)

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errBadScheme
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// writeError is the fallback when no ErrorWriter is supplied.
func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	code := adapter.CodeOf(err)
	status := http.StatusUnauthorized
	if code == adapter.CodeForbidden {
		status = http.StatusForbidden
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"result":        "error",
		"code":          code,
		"message":       adapter.DefaultMessage(code),
		"correlationId": uuid.NewString(),
	})
}
