/**
 * @description
 * Authentication middleware for the automation-service. Sessions are wallet
 * scoped: the gateway issues an HS256 JWT whose subject is the wallet
 * address, and this middleware verifies it and injects the wallet into the
 * request context.
 */
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// WalletContextKey is the key used to store the wallet address in the request context.
type contextKey string

const WalletContextKey = contextKey("walletAddress")

// WalletAuthMiddleware validates bearer JWTs and injects the wallet address into context.
func WalletAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			walletAddress, ok := claims["sub"].(string)
			if !ok || strings.TrimSpace(walletAddress) == "" {
				http.Error(w, "Wallet address not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), WalletContextKey, walletAddress)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WalletFromContext retrieves the wallet address from the request context.
func WalletFromContext(ctx context.Context) (string, bool) {
	walletAddress, ok := ctx.Value(WalletContextKey).(string)
	return walletAddress, ok
}
