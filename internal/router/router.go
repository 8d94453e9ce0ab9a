package router

import (
	"net/http"

	"autodelivery-api/internal/handler"
	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Config holds the configuration for creating a router.
type Config struct {
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
	Handler            *handler.Handler
	FulfillmentHandler *handler.FulfillmentHandler
	PoolHandler        *handler.PoolHandler
	DeliveryHandler    *handler.DeliveryHandler
	AdminHandler       *handler.AdminHandler
	AuthMiddleware     func(http.Handler) http.Handler
	// AdminMiddleware guards buyer erasure and /admin. Nil leaves them behind AuthMiddleware only.
	AdminMiddleware func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	admin := cfg.AdminMiddleware
	if admin == nil {
		admin = func(next http.Handler) http.Handler { return next }
	}

	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID(log))
	r.Use(middleware.Logging(cfg.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Request-ID",
			middleware.HeaderAPIKey, middleware.HeaderSellerID, middleware.HeaderBuyerID,
		},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
		r.Get("/api/v1/health", cfg.Handler.Health)
		r.Get("/api/v1/ready", cfg.Handler.Ready)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.FulfillmentHandler != nil {
				r.Post("/fulfillment/claims", cfg.FulfillmentHandler.Claim)
			}

			if cfg.PoolHandler != nil {
				r.Route("/products/{product_id}/pool/{item_type}", func(r chi.Router) {
					r.Post("/items", cfg.PoolHandler.AddItem)
					r.Get("/items", cfg.PoolHandler.ListItems)
					r.Post("/import", cfg.PoolHandler.Import)
					r.Get("/stock", cfg.PoolHandler.GetStock)
				})
				r.Delete("/pool/items/{item_id}", cfg.PoolHandler.DeleteItem)
			}

			if cfg.DeliveryHandler != nil {
				r.Get("/products/{product_id}/deliveries", cfg.DeliveryHandler.ListForProduct)
				r.Route("/deliveries/{delivery_id}", func(r chi.Router) {
					r.Get("/", cfg.DeliveryHandler.Get)
					r.Post("/reveal", cfg.DeliveryHandler.Reveal)
				})
				r.Get("/buyers/me/deliveries", cfg.DeliveryHandler.ListMine)
				r.With(admin).Delete("/buyers/{buyer_id}/deliveries", cfg.DeliveryHandler.EraseBuyer)
			}

			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Use(admin)
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Get("/health", cfg.AdminHandler.GetHealth)
					r.Get("/stock", cfg.AdminHandler.ListStock)
					r.Post("/stock/sweep", cfg.AdminHandler.Sweep)
				})
			}
		})
	})

	return r
}
