package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/drawwin-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса розыгрышей.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/tickets", h.GetTickets)

			r.Get("/draws", h.ListDraws)
			r.Route("/draws/{drawID}", func(r chi.Router) {
				r.Get("/", h.GetDraw)
				r.Get("/taken", h.TakenNumbers)
				r.Get("/entries/{userID}", h.UserEntered)
				r.Post("/tickets", h.BuyTicket)
			})

			r.Get("/users/{userID}/balance", h.GetBalance)

			r.Route("/admin", func(r chi.Router) {
				r.Use(custommiddleware.RequireAdmin)

				r.Post("/draws", h.CreateDraw)
				r.Put("/draws/{drawID}/status", h.SetDrawStatus)
				r.Post("/users/{userID}/balance", h.TopUpBalance)
			})
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
