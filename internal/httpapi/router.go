package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Options struct {
	RequestTimeout time.Duration
	MaxRequestBody int64
	AdminToken     string
	RateLimit      float64
	RateBurst      int
}

type Services struct {
	Carts    CartService
	Checkout CheckoutService
	Orders   OrderService
}

// NewRouter mounts the storefront API and wraps it in otelhttp.
func NewRouter(svc Services, opts Options, logger *slog.Logger) http.Handler {
	if opts.MaxRequestBody <= 0 {
		opts.MaxRequestBody = 1 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	cartHandler := NewCartHandler(svc.Carts, opts.MaxRequestBody, logger)
	checkoutHandler := NewCheckoutHandler(svc.Checkout, opts.MaxRequestBody, logger)
	ordersHandler := NewOrdersHandler(svc.Orders, logger)
	limiter := NewRateLimiter(opts.RateLimit, opts.RateBurst)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware)

			r.Get("/cart", cartHandler.GetCart)
			r.Get("/orders", ordersHandler.ListOrders)
			r.Get("/orders/{id}", ordersHandler.GetOrder)

			r.Group(func(r chi.Router) {
				r.Use(limiter.Middleware)
				r.Delete("/cart", cartHandler.ClearCart)
				r.Post("/cart/items", cartHandler.AddItem)
				r.Patch("/cart/items", cartHandler.UpdateQuantity)
				r.Delete("/cart/items", cartHandler.RemoveItem)
				r.Post("/cart/merge", cartHandler.MergeCarts)
				r.Post("/checkout", checkoutHandler.Checkout)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminMiddleware(opts.AdminToken))
			r.Get("/orders", ordersHandler.ListByStatus)
			r.Post("/orders/{id}/complete", ordersHandler.CompleteOrder)
			r.Post("/orders/{id}/cancel", ordersHandler.CancelOrder)
		})
	})

	return otelhttp.NewHandler(r, "storefront-http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
