package httputil

import (
	"context"
	"net/http"
	"strings"

	"github.com/mailloop/mailloop/internal/domain"
)

// SessionTokenCookie is the cookie carrying the session token for browser
// clients. API clients use the Authorization header instead.
const SessionTokenCookie = "mailloop_session"

// CORSMiddleware creates CORS middleware that handles preflight requests
// and adds appropriate CORS headers to responses.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			if originsSet[origin] || originsSet["*"] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const identityKey contextKey = "identity"

// IdentityResolver turns a bearer credential into a caller identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (domain.Identity, error)
}

// ResolveIdentityMiddleware resolves the caller identity from the request
// credential and stores it in the context. It never rejects: a missing or
// invalid credential simply resolves to Anonymous, leaving the decision to
// the handler.
func ResolveIdentityMiddleware(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.Resolve(r.Context(), requestCredential(r))
			if err != nil {
				identity = domain.Anonymous{}
			}
			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthMiddleware creates authentication middleware requiring a resolved
// non-anonymous identity.
func AuthMiddleware(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := requestCredential(r)
			if credential == "" {
				Error(w, http.StatusUnauthorized, "missing credentials")
				return
			}

			identity, err := resolver.Resolve(r.Context(), credential)
			if err != nil {
				Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if _, anonymous := identity.(domain.Anonymous); anonymous {
				Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnlyMiddleware rejects any caller that is not an administrator. It
// assumes AuthMiddleware already ran.
func AdminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()).(domain.Administrator); !ok {
			Error(w, http.StatusForbidden, "administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext extracts the caller identity from the context,
// defaulting to Anonymous.
func IdentityFromContext(ctx context.Context) domain.Identity {
	if identity, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return identity
	}
	return domain.Anonymous{}
}

// requestCredential extracts the bearer credential from the Authorization
// header, falling back to the session cookie.
func requestCredential(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if cookie, err := r.Cookie(SessionTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}
