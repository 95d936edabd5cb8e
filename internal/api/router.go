package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler builds the router. Exposed so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverPanics)
	r.Use(cors(s.cfg.CORS.AllowedOrigins))
	r.Use(limitBody)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/fixtures", func(r chi.Router) {
			r.Get("/", s.handleListFixtures)
			r.Post("/discover", s.handleDiscover)

			r.Route("/{address}", func(r chi.Router) {
				r.Get("/", s.handleGetFixture)
				r.Get("/state", s.handleGetState)
				r.Put("/state", s.handleSetState)
				r.Post("/subscription", s.handleSubscribe)
				r.Delete("/subscription", s.handleUnsubscribe)
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
