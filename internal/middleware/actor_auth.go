package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/engagehub/backend/internal/auth"
)

type contextKey string

const ctxActorKey contextKey = "actor"

// TokenValidator is the slice of auth.Service the middleware needs.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (auth.Actor, error)
}

// ActorAuth validates the Bearer token and puts the actor into the request
// context.
func ActorAuth(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}
			actor, err := v.ValidateToken(r.Context(), raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// RequireRole lets the request through only if the actor holds one of roles.
// Must run after ActorAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromCtx(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "forbidden for role "+actor.Role)
		})
	}
}

// ActorFromCtx returns the authenticated actor.
func ActorFromCtx(ctx context.Context) (auth.Actor, bool) {
	a, ok := ctx.Value(ctxActorKey).(auth.Actor)
	return a, ok
}

// WithActor returns a context carrying the given actor.
func WithActor(ctx context.Context, a auth.Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, a)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
