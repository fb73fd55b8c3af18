package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/radio-control/controlplane/internal/config"
)

// Supported signing algorithms.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
)

// Claims are the verified identity and grants carried by a token.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return c != nil && contains(c.Scopes, scope)
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	return c != nil && contains(c.Roles, role)
}

type tokenClaims struct {
	Roles  []string `json:"roles"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// JWK is one RSA key of a JSON Web Key Set.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is a JSON Web Key Set document.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type cachedKey struct {
	key     *rsa.PublicKey
	fetched time.Time
}

// Verifier checks token signatures and extracts Claims.
type Verifier struct {
	cfg        config.AuthConfig
	publicKey  *rsa.PublicKey
	httpClient *http.Client
	now        func() time.Time

	fetchMu sync.Mutex

	mu        sync.RWMutex
	keys      map[string]cachedKey
	lastFetch time.Time
}

// NewVerifier builds a verifier for cfg. With RS256 and a JWKS URL the key
// set is fetched once up front.
func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.JWKSFetchTimeout},
		now:        time.Now,
		keys:       make(map[string]cachedKey),
	}

	switch cfg.Algorithm {
	case AlgorithmRS256:
		if cfg.PublicKeyPEM == "" && cfg.JWKSURL == "" {
			return nil, fmt.Errorf("RS256 requires a public key or a JWKS URL")
		}
		if cfg.PublicKeyPEM != "" {
			key, err := parsePublicKeyPEM(cfg.PublicKeyPEM)
			if err != nil {
				return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
			}
			v.publicKey = key
		}
		if cfg.JWKSURL != "" {
			if err := v.fetchJWKS(); err != nil {
				return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
			}
		}
	case AlgorithmHS256:
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %q", cfg.Algorithm)
	}

	return v, nil
}

// VerifyToken verifies tokenString and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.cfg.Algorithm}),
		jwt.WithTimeFunc(v.now),
	)

	var tc tokenClaims
	if _, err := parser.ParseWithClaims(tokenString, &tc, v.keyFunc); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return buildClaims(&tc)
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if v.cfg.Algorithm == AlgorithmHS256 {
		return []byte(v.cfg.SecretKey), nil
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		if v.publicKey == nil {
			return nil, fmt.Errorf("token has no kid and no static public key is configured")
		}
		return v.publicKey, nil
	}
	return v.jwksKey(kid)
}

func buildClaims(tc *tokenClaims) (*Claims, error) {
	if tc.Subject == "" {
		return nil, fmt.Errorf("missing 'sub' claim")
	}
	for _, role := range tc.Roles {
		if role != RoleViewer && role != RoleController {
			return nil, fmt.Errorf("invalid role: %q", role)
		}
	}
	if len(tc.Roles) == 0 {
		return nil, fmt.Errorf("missing 'roles' claim")
	}

	scopes := tc.Scopes
	if len(scopes) == 0 {
		scopes = scopesForRoles(tc.Roles)
	}
	for _, scope := range scopes {
		if scope != ScopeRead && scope != ScopeControl && scope != ScopeTelemetry {
			return nil, fmt.Errorf("invalid scope: %q", scope)
		}
	}

	return &Claims{Subject: tc.Subject, Roles: tc.Roles, Scopes: scopes}, nil
}

// scopesForRoles is used when a token carries roles but no scopes.
func scopesForRoles(roles []string) []string {
	scopes := []string{ScopeRead, ScopeTelemetry}
	if contains(roles, RoleController) {
		scopes = append(scopes, ScopeControl)
	}
	return scopes
}

func parsePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

var errKeyNotFound = errors.New("key not found")

// jwksKey returns the key for kid, refetching the set when the cached key
// has expired or kid is unknown and the refresh interval has passed.
func (v *Verifier) jwksKey(kid string) (*rsa.PublicKey, error) {
	if v.cfg.JWKSURL == "" {
		return nil, fmt.Errorf("%w: %s (no JWKS configured)", errKeyNotFound, kid)
	}

	v.mu.RLock()
	entry, ok := v.keys[kid]
	stale := v.now().Sub(v.lastFetch) > v.cfg.JWKSRefreshInterval
	v.mu.RUnlock()

	if ok && v.now().Sub(entry.fetched) < v.cfg.JWKSCacheTimeout {
		return entry.key, nil
	}
	if !ok && !stale {
		return nil, fmt.Errorf("%w: %s", errKeyNotFound, kid)
	}

	if err := v.fetchJWKS(); err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if entry, ok := v.keys[kid]; ok {
		return entry.key, nil
	}
	return nil, fmt.Errorf("%w: %s", errKeyNotFound, kid)
}

// fetchJWKS downloads the key set and replaces the cache. Concurrent
// callers share one request.
func (v *Verifier) fetchJWKS() error {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	resp, err := v.httpClient.Get(v.cfg.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var set JWKSet
	if err := json.Unmarshal(body, &set); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	now := v.now()
	keys := make(map[string]cachedKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") || (jwk.Alg != "" && jwk.Alg != AlgorithmRS256) {
			continue
		}
		key, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = cachedKey{key: key, fetched: now}
	}

	v.mu.Lock()
	v.keys = keys
	v.lastFetch = now
	v.mu.Unlock()
	return nil
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	n, err := base64URLDecode(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	e, err := base64URLDecode(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("unsupported exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

// base64URLDecode accepts base64url with or without padding.
func base64URLDecode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
