/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint
  /api/users/*          Caller profile, wallet, history
  /api/orders/*         Order creation and owner actions
  /api/admin/*          Admin-only operations

SECURITY NOTE:
  Caller identity comes from X-Actor-ID, set by the trusted front-end.
  Do not expose this router directly to end users.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        http.Handler // served at /metrics when set
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.requireActor)

		// Caller routes
		r.Route("/users", func(r chi.Router) {
			r.Post("/touch", h.Touch)
			r.Get("/me", h.GetMe)
			r.Get("/me/wallet", h.GetMyWallet)
			r.Get("/me/orders", h.ListMyOrders)
			r.Get("/me/items", h.ListMyItems)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Patch("/{id}", h.EditOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Get("/orders/pending", h.ListPendingOrders)
			r.Post("/orders/{id}/approve", h.ApproveOrder)
			r.Post("/orders/{id}/reject", h.RejectOrder)

			r.Get("/ledger", h.GetLedger)
			r.Get("/audit", h.GetAudit)
			r.Get("/settings", h.GetSettings)
			r.Put("/settings", h.UpdateSettings)

			r.Get("/users", h.ListUsers)
			r.Post("/users/{id}/ban", h.BanUser)
			r.Post("/users/{id}/unban", h.UnbanUser)

			r.Get("/admins", h.ListAdmins)
			r.Post("/admins/{id}", h.GrantAdmin)
			r.Delete("/admins/{id}", h.RevokeAdmin)

			r.Get("/inventory", h.ListInventory)
			r.Post("/inventory", h.AddInventoryItem)
			r.Get("/inventory/match", h.MatchInventory)
			r.Delete("/inventory/{username}", h.RemoveInventoryItem)
			r.Post("/inventory/{id}/unassign", h.UnassignInventoryItem)
		})
	})

	return r
}
