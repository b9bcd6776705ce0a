/*
server.go - Router and middleware configuration

PURPOSE:
  Wires URLs to handlers with chi. The middleware stack mirrors what the
  rest of the platform runs: request ids for tracing, panic recovery, CORS
  for the game clients.
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the wallet API router.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api/wallet", func(r chi.Router) {
		r.Post("/topup", h.TopUp)
		r.Post("/bonus", h.Bonus)
		r.Post("/purchase", h.Purchase)
		r.Post("/accounts", h.CreateAccount)

		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetHistory)
		})
	})

	return r
}
