package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagehub/backend/internal/auth"
	"github.com/engagehub/backend/internal/dashboard"
	"github.com/engagehub/backend/internal/handlers"
	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/registry"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type emptyPool struct{}

func (emptyPool) ListAvailable(context.Context, uuid.UUID, int) ([]*models.PoolEntry, error) {
	return nil, nil
}

func (emptyPool) GetEntry(context.Context, uuid.UUID) (*models.PoolEntry, error) {
	return nil, models.ErrNotFound
}

func (emptyPool) Claim(context.Context, uuid.UUID, uuid.UUID) (*models.Assignment, error) {
	return nil, models.ErrAlreadyClaimed
}

func newTestRouter(db Pinger) (http.Handler, auth.Service) {
	tokens := auth.NewService("test-secret")
	h := Handlers{
		Pool:         &handlers.PoolHandler{Pool: emptyPool{}},
		Assignments:  &handlers.AssignmentHandler{},
		Verification: &handlers.VerificationHandler{},
		Orders:       &handlers.OrderHandler{},
		Dashboard:    dashboard.NewHandler(nil, nil, nil),
		Registry:     registry.NewHandler(nil, nil),
	}
	return New(db, tokens, h), tokens
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(pinger{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	r, _ = newTestRouter(pinger{err: errors.New("connection refused")})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRoleGates(t *testing.T) {
	r, tokens := newTestRouter(pinger{})

	token := func(role string) string {
		tok, err := tokens.IssueToken(context.Background(), auth.Actor{ID: uuid.New(), Role: role}, time.Hour)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/pool", "", http.StatusUnauthorized},
		{"provider lists pool", http.MethodGet, "/api/v1/pool", models.RoleProvider, http.StatusOK},
		{"buyer cannot list pool", http.MethodGet, "/api/v1/pool", models.RoleBuyer, http.StatusForbidden},
		{"provider entry detail reaches handler", http.MethodGet, "/api/v1/pool/" + uuid.NewString(), models.RoleProvider, http.StatusNotFound},
		{"provider claim reaches handler", http.MethodPost, "/api/v1/pool/" + uuid.NewString() + "/claim", models.RoleProvider, http.StatusConflict},
		{"provider cannot verify", http.MethodPost, "/api/v1/assignments/" + uuid.NewString() + "/verify", models.RoleProvider, http.StatusForbidden},
		{"buyer cannot force ai", http.MethodPost, "/api/v1/admin/assignments/" + uuid.NewString() + "/ai-verify", models.RoleBuyer, http.StatusForbidden},
		{"provider cannot post orders", http.MethodPost, "/internal/orders/paid", models.RoleProvider, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.role != "" {
				req.Header.Set("Authorization", "Bearer "+token(tt.role))
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
