// handlers/webhook_handlers.go
package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/capactiyvirus/cafe-checkout/gateway"
)

// HandleStripeWebhook verifies a Stripe event and applies PaymentIntent
// state changes to the session ledger and the backend.
func (h *Handlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Error reading request body: %v", err)
		respondWithError(w, http.StatusServiceUnavailable, "Error reading request body")
		return
	}

	// Verify webhook signature
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.config.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Printf("Webhook signature verification failed: %v", err)
		respondWithError(w, http.StatusBadRequest, "Webhook signature verification failed")
		return
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled,
		stripe.EventTypePaymentIntentAmountCapturableUpdated:
		if err := h.handlePaymentIntentEvent(r, event); err != nil {
			log.Printf("Failed to apply %s (%s): %v", event.Type, event.ID, err)
			// Non-2xx makes Stripe redeliver.
			h.respondWithAppError(w, r, err)
			return
		}
	default:
		log.Printf("Unhandled event type: %s", event.Type)
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handlers) handlePaymentIntentEvent(r *http.Request, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Printf("Error parsing %s: %v", event.Type, err)
		return nil
	}

	intent := gateway.FromPaymentIntent(&pi)
	log.Printf("Webhook %s: intent %s for order %s is %s", event.Type, intent.ID, intent.Metadata["order_id"], intent.Status)

	return h.payments.ApplyIntentStatus(r.Context(), string(event.Type), intent)
}
