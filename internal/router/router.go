// Package router assembles the HTTP surface.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/engagehub/backend/internal/dashboard"
	"github.com/engagehub/backend/internal/handlers"
	"github.com/engagehub/backend/internal/middleware"
	"github.com/engagehub/backend/internal/models"
	"github.com/engagehub/backend/internal/registry"
)

const requestTimeout = 90 * time.Second

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Pool         *handlers.PoolHandler
	Assignments  *handlers.AssignmentHandler
	Verification *handlers.VerificationHandler
	Orders       *handlers.OrderHandler
	Dashboard    *dashboard.Handler
	Registry     *registry.Handler
}

// New returns the root handler. Every route except /health requires a bearer
// token; role groups narrow access further.
func New(db Pinger, tokens middleware.TokenValidator, h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/health", health(db))

	r.Group(func(r chi.Router) {
		r.Use(middleware.ActorAuth(tokens))

		r.With(middleware.RequireRole(models.RoleService)).
			Post("/internal/orders/paid", h.Orders.OrderPaid)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/assignments/{id}", h.Assignments.Get)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleProvider))
				r.Get("/pool", h.Pool.ListAvailable)
				r.Get("/pool/{entryID}", h.Pool.GetEntry)
				r.Post("/pool/{entryID}/claim", h.Pool.Claim)
				r.Post("/assignments/{id}/start", h.Assignments.Start)
				r.Post("/assignments/{id}/proof", h.Assignments.SubmitProof)
				r.Post("/assignments/{id}/reverify", h.Verification.Reverify)

				r.Get("/me/balance", h.Dashboard.GetBalance)
				r.Get("/me/credits", h.Dashboard.ListCredits)
				r.Get("/me/assignments", h.Dashboard.ListAssignments)
				r.Get("/me/preferences", h.Registry.GetPreferences)
				r.Put("/me/preferences", h.Registry.SetPreferences)
			})

			r.With(middleware.RequireRole(models.RoleBuyer)).
				Post("/assignments/{id}/verify", h.Verification.Verify)

			r.With(middleware.RequireRole(models.RoleOperator)).
				Post("/admin/assignments/{id}/ai-verify", h.Verification.ForceAI)
		})
	})

	return r
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]any{"ok": true, "time": time.Now().UTC()}
		code := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			status["ok"] = false
			status["db"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
