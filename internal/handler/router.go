package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/gamehub-rewards/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса наград.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	// WebSocket-соединение нельзя оборачивать в сжатие ответа.
	r.With(h.authMiddleware.Middleware).Get("/api/profile/stream", h.Stream)

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Route("/api/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)

			r.Group(func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/me", h.Me)
				r.Post("/test-mode", h.ToggleTestMode)
			})
		})

		r.Get("/api/shop/packages", h.GetPackages)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/api/profile", h.GetProfile)
			r.Get("/api/profile/transactions", h.GetTransactions)

			r.Get("/api/checkin", h.GetCheckin)
			r.Post("/api/checkin/{day}", h.ClaimCheckin)

			r.Get("/api/tasks", h.GetTasks)
			r.Post("/api/tasks/reset-daily", h.ResetDailyTasks)
			r.Post("/api/tasks/{id}/progress", h.UpdateTaskProgress)
			r.Post("/api/tasks/{id}/claim", h.ClaimTask)

			r.Get("/api/invites", h.GetInvites)
			r.Post("/api/invites/redeem", h.RedeemInvite)
			r.Post("/api/invites/{id}/claim", h.ClaimInvite)

			r.Post("/api/orders", h.CreateOrder)
			r.Get("/api/orders", h.GetOrders)
			r.Get("/api/orders/{id}", h.GetOrder)
			r.Post("/api/orders/{id}/confirm", h.ConfirmTestOrder)

			r.Post("/api/test-mode/reset", h.ResetSandbox)
			r.Post("/api/test-mode/invites", h.AddSandboxInvites)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
