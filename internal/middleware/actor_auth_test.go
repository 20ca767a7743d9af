package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/engagehub/backend/internal/auth"
	"github.com/engagehub/backend/internal/models"
)

type stubValidator struct {
	actor auth.Actor
	err   error
}

func (s stubValidator) ValidateToken(_ context.Context, _ string) (auth.Actor, error) {
	return s.actor, s.err
}

// okHandler writes the actor id so tests can see what reached the handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if a, ok := ActorFromCtx(r.Context()); ok {
		_, _ = w.Write([]byte(a.ID.String()))
	}
})

func TestActorAuth(t *testing.T) {
	provider := auth.Actor{ID: uuid.New(), Role: models.RoleProvider}
	tests := []struct {
		name   string
		header string
		v      stubValidator
		want   int
	}{
		{"valid", "Bearer tok", stubValidator{actor: provider}, http.StatusOK},
		{"lowercase scheme", "bearer tok", stubValidator{actor: provider}, http.StatusOK},
		{"missing header", "", stubValidator{actor: provider}, http.StatusUnauthorized},
		{"basic auth", "Basic abc", stubValidator{actor: provider}, http.StatusUnauthorized},
		{"invalid token", "Bearer tok", stubValidator{err: errors.New("expired")}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ActorAuth(tt.v)(okHandler).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, provider.ID.String(), rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(models.RoleBuyer, models.RoleOperator)(okHandler)

	for role, want := range map[string]int{
		models.RoleBuyer:    http.StatusOK,
		models.RoleOperator: http.StatusOK,
		models.RoleProvider: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithActor(req.Context(), auth.Actor{ID: uuid.New(), Role: role}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
