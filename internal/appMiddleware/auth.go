package appMiddleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"ShopAssist/server/internal/models"
	"ShopAssist/server/internal/services"
)

type contextKey string

const principalKey contextKey = "principal"

// Identify resolves the request's credentials into a Principal and attaches
// it to the context. A request with no credentials at all passes through
// anonymous; handlers decide whether that is acceptable. A malformed or
// invalid session token is rejected here.
func Identify(auth services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := services.Credentials{
				GuestToken: r.Header.Get("X-Guest-Token"),
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
				if tokenStr == authHeader {
					log.Printf("Invalid token format: %s", authHeader)
					http.Error(w, "Invalid token format", http.StatusUnauthorized)
					return
				}
				creds.Token = tokenStr
			}

			if creds.Token == "" && creds.GuestToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := auth.Resolve(creds)
			if err != nil {
				log.Printf("Failed to resolve principal: %v", err)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAgent guards agent-only endpoints.
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "Missing token", http.StatusUnauthorized)
			return
		}
		if !principal.IsAgent() {
			http.Error(w, "Agents only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	principal, ok := ctx.Value(principalKey).(models.Principal)
	return principal, ok
}

// WithPrincipal is used by tests to seed a request context.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}
