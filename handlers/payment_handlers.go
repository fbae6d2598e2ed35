// handlers/payment_handlers.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/config"
	"github.com/capactiyvirus/cafe-checkout/gateway"
	"github.com/capactiyvirus/cafe-checkout/middleware"
	"github.com/capactiyvirus/cafe-checkout/models"
)

const maxBodyBytes = int64(1 << 20)

// PaymentAPI is implemented by services.PaymentService.
type PaymentAPI interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	CreatePaymentIntent(ctx context.Context, req *models.CreatePaymentIntentRequest, idempotencyKey string) (*models.PaymentIntentResponse, error)
	ConfirmPayment(ctx context.Context, req *models.ConfirmPaymentRequest) (*models.PaymentResult, error)
	RecordPayment(ctx context.Context, req *models.RecordPaymentRequest) (*models.PaymentResult, error)
	CreateQClubPayment(ctx context.Context, req *models.QClubPaymentRequest) (json.RawMessage, error)
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error)
	FindPaymentsByProviderRef(ctx context.Context, ref string) ([]models.Payment, error)
	CapturePayment(ctx context.Context, paymentID string) (*models.PaymentResult, error)
	RefundPayment(ctx context.Context, req *models.RefundRequest) (*models.PaymentResult, error)
	ApplyIntentStatus(ctx context.Context, eventType string, intent *gateway.Intent) error
}

// Handlers serves the checkout page's payment API.
type Handlers struct {
	config   *config.Config
	payments PaymentAPI
}

func NewHandlers(cfg *config.Config, payments PaymentAPI) *Handlers {
	return &Handlers{
		config:   cfg,
		payments: payments,
	}
}

// GetOrder returns the order summary the checkout page renders.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.payments.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}

// CreatePaymentIntent opens a Stripe session for subtotal plus tip.
func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePaymentIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.payments.CreatePaymentIntent(r.Context(), &req, r.Header.Get(middleware.IdempotencyHeader))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// ConfirmPayment confirms a Stripe intent server side and records it.
func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.payments.ConfirmPayment(r.Context(), &req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, result)
}

// RecordPayment records a confirmed Stripe payment or opens a hosted one.
func (h *Handlers) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req models.RecordPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.payments.RecordPayment(r.Context(), &req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, result)
}

// CreateQClubPayment passes the backend's Q-Club response through.
func (h *Handlers) CreateQClubPayment(w http.ResponseWriter, r *http.Request) {
	var req models.QClubPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	raw, err := h.payments.CreateQClubPayment(r.Context(), &req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, raw)
}

// FindPayments looks payments up by provider reference, e.g. the N-Genius
// "ref" on a return URL.
func (h *Handlers) FindPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.FindPaymentsByProviderRef(r.Context(), r.URL.Query().Get("provider_transaction_id"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

func (h *Handlers) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.payments.ListOrderPayments(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	respondWithJSON(w, http.StatusOK, payments)
}

func (h *Handlers) CapturePayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.payments.CapturePayment(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, result)
}

func (h *Handlers) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.payments.RefundPayment(r.Context(), &req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithResult(w, result)
}

// decodeJSON reads a bounded JSON body and answers 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		respondWithError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

// respondWithResult writes 207 when money moved but recording it did not.
func respondWithResult(w http.ResponseWriter, result *models.PaymentResult) {
	code := http.StatusOK
	if result.Warning != "" {
		code = http.StatusMultiStatus
	}
	respondWithJSON(w, code, result)
}

// respondWithAppError maps the error taxonomy onto a status code. Only the
// user-facing message leaves the server.
func (h *Handlers) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		log.Printf("[%s] %s %s failed: %v", chimw.GetReqID(r.Context()), r.Method, r.URL.Path, err)
	}
	respondWithJSON(w, code, models.ErrorResponse{
		Error: apperr.Message(err),
		Kind:  apperr.Kind(err),
	})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Error encoding response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
