// Package middleware provides HTTP middleware for the local UI API.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// ScopeKey is the context key for the session scope.
	ScopeKey ContextKey = "scope"
)

// SessionScope is the scope minted for the local UI shell.
const SessionScope = "local-ui"

// Claims are the session token claims the daemon mints at startup.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// MintSessionToken signs a session token the UI shell presents as a bearer
// token. The secret is per-launch unless configured.
func MintSessionToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ui-shell",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: SessionScope,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth creates session token authentication middleware.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid || claims.Scope != SessionScope {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ScopeKey, claims.Scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetScope gets the session scope from context.
func GetScope(ctx context.Context) string {
	if v := ctx.Value(ScopeKey); v != nil {
		return v.(string)
	}
	return ""
}
