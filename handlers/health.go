// handlers/health.go
package handlers

import (
	"net/http"

	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
)

// HealthCheck is a simple health check endpoint
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetConfig gives the checkout page its publishable key and tip presets.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, models.ConfigResponse{
		PublishableKey:    h.config.StripePublishableKey,
		Currency:          h.config.DefaultCurrency,
		TipPresets:        pricing.TipPresets,
		DefaultTipPercent: pricing.DefaultTipPercent,
	})
}

// ApplePayDomainAssociation serves the file Apple fetches to verify the domain.
func (h *Handlers) ApplePayDomainAssociation(w http.ResponseWriter, r *http.Request) {
	if h.config.ApplePayDomainFile == "" {
		respondWithError(w, http.StatusNotFound, "Not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	http.ServeFile(w, r, h.config.ApplePayDomainFile)
}
