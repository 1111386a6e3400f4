package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const healthTimeout = 2 * time.Second

// Prober checks the dependencies of the service by name
type Prober interface {
	Probe(ctx context.Context) map[string]error
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func NewRouter(cart *CartHandler, prober Prober, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", healthHandler(prober))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware)
		r.Use(IdentityMiddleware)
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cart.GetCart)
			r.Delete("/", cart.ClearCart)
			r.Post("/items", cart.AddItem)
			r.Put("/items/{product_id}", cart.UpdateQuantity)
			r.Delete("/items/{product_id}", cart.RemoveItem)
			r.Post("/toggle", cart.Toggle)
			r.Post("/refresh", cart.Refresh)
		})
	})

	return otelhttp.NewHandler(r, "cart-engine")
}

func healthHandler(prober Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if prober == nil {
			respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := HealthResponse{Status: "ok", Checks: make(map[string]string)}
		status := http.StatusOK
		for name, err := range prober.Probe(ctx) {
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		respondJSON(w, status, resp)
	}
}
