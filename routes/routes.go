// routes/routes.go
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/capactiyvirus/cafe-checkout/config"
	"github.com/capactiyvirus/cafe-checkout/handlers"
	"github.com/capactiyvirus/cafe-checkout/middleware"
	"github.com/capactiyvirus/cafe-checkout/store"
)

// Deps are the shared pieces the router is built from. NewRelic and
// Idempotency may be nil.
type Deps struct {
	Config      *config.Config
	Handlers    *handlers.Handlers
	Idempotency store.IdempotencyCache
	NewRelic    *newrelic.Application
}

// SetupRoutes builds the proxy's router.
func SetupRoutes(d Deps) chi.Router {
	r := chi.NewRouter()
	h := d.Handlers

	// Basic middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.NewRelic(d.NewRelic))
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(middleware.CORS(d.Config.CorsAllowedOrigins))
	r.Use(middleware.Security(d.Config.IsProduction()))

	r.Get("/health", h.HealthCheck)
	r.Get("/.well-known/apple-developer-merchantid-domain-association", h.ApplePayDomainAssociation)

	r.Route("/api/payment", func(r chi.Router) {
		// Webhooks carry their own signature and must not be replayed from cache.
		if d.Config.StripeWebhookSecret != "" {
			r.Post("/webhook", h.HandleStripeWebhook)
		}

		r.Group(func(r chi.Router) {
			if d.Idempotency != nil {
				r.Use(middleware.Idempotency(d.Idempotency))
			}

			r.Get("/config", h.GetConfig)

			// Orders
			r.Get("/order/{orderId}", h.GetOrder)
			r.Get("/order/{orderId}/payments", h.ListOrderPayments)

			// Stripe sessions
			r.Post("/create-payment-intent", h.CreatePaymentIntent)
			r.Post("/confirm", h.ConfirmPayment)

			// Payment records
			r.Post("/", h.RecordPayment)
			r.Get("/", h.FindPayments)
			r.Get("/payment/{paymentId}", h.GetPayment)
			r.Post("/{paymentId}/capture", h.CapturePayment)
			r.Post("/refund", h.RefundPayment)

			// Hosted providers
			r.Post("/qclub/create-payment", h.CreateQClubPayment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Not found"}`))
	})

	return r
}
