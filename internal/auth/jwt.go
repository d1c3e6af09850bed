// Package auth provides JWT-based authentication middleware with metrics.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
)

const issuer = "nanome-vault"

// DefaultTokenTTL is the lifetime of tokens minted without an explicit TTL.
const DefaultTokenTTL = 30 * 24 * time.Hour

var ErrInvalidAccount = errors.New("account must look like user-0a1b2c3d")

// Claims holds JWT token claims. The subject is the account folder.
type Claims struct {
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Account string // empty for trusted callers
	Trusted bool   // authenticated by API key, not limited to one account
}

// Name identifies the principal for rate limiting and logs.
func (p *Principal) Name() string {
	if p.Trusted {
		return "api-key"
	}
	return p.Account
}

// CanAccess reports whether p may touch rel. Account folders other than the
// principal's own are out of scope; everything else is shared.
func (p *Principal) CanAccess(rel string) bool {
	if p.Trusted {
		return true
	}
	account, ok := filestore.AccountOf(rel)
	return !ok || account == p.Account
}

// Auth handles JWT and API key authentication.
type Auth struct {
	secret []byte
	apiKey string
}

// New creates a new Auth handler. Either credential may be empty to disable it.
func New(jwtSecret, apiKey string) *Auth {
	return &Auth{
		secret: []byte(jwtSecret),
		apiKey: apiKey,
	}
}

// Middleware returns HTTP middleware that authenticates every request.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.authenticate(r)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Debug("authentication failed", zap.Error(err))
			sendAuthError(w, http.StatusUnauthorized, err.Error())
			return
		}
		metrics.RecordAuthAttempt(true)

		ctx := WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) authenticate(r *http.Request) (*Principal, error) {
	if key := r.Header.Get(protocol.APIKeyHeader); key != "" {
		if a.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) != 1 {
			return nil, fmt.Errorf("invalid API key")
		}
		return &Principal{Trusted: true}, nil
	}

	tokenStr := extractToken(r)
	if tokenStr == "" {
		return nil, fmt.Errorf("missing authentication token")
	}
	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return &Principal{Account: claims.Subject}, nil
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFrom extracts the principal from the request context.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// IssueToken mints an HS256 token for account. ttl <= 0 uses DefaultTokenTTL.
func (a *Auth) IssueToken(account string, ttl time.Duration) (string, time.Time, error) {
	if !filestore.IsAccountFolder(account) {
		return "", time.Time{}, ErrInvalidAccount
	}
	if len(a.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("JWT secret is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

// ValidateToken parses tokenStr and checks its signature, expiry and subject.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("tokens are not accepted")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !filestore.IsAccountFolder(claims.Subject) {
		return nil, ErrInvalidAccount
	}
	return claims, nil
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback, EventSource cannot set headers
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Success: false, Error: msg})
}
