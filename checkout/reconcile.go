package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/models"
)

var (
	ErrStatusUnavailable = errors.New("payment status unavailable")
	ErrCaptureFailed     = errors.New("payment capture failed")
	ErrStillProcessing   = errors.New("payment still processing")
)

const (
	captureFailedMessage   = "Payment capture failed. Please contact support."
	stillProcessingMessage = "Your payment is still processing. We will update your order as soon as it completes."
)

// Outcome is where reconciliation settled. Message is meant for the customer.
type Outcome struct {
	Status   models.PaymentStatus
	Payment  *models.Payment
	Captured bool
	Message  string
	Warning  string
}

// Reconcile settles a payment after a redirect back or an authorization. An
// authorized payment is captured exactly once. A failed status fetch ends
// reconciliation with ContactSupportMessage instead of retrying.
func (c *Checkout) Reconcile(ctx context.Context, paymentID string) (*Outcome, error) {
	c.mu.Lock()
	maxPolls, interval := c.maxPolls, c.pollInterval
	c.mu.Unlock()
	if maxPolls < 1 {
		maxPolls = 1
	}

	for poll := 1; ; poll++ {
		payment, err := c.api.GetPayment(ctx, paymentID)
		if err != nil {
			log.Printf("Status check for payment %s failed: %v", paymentID, err)
			return &Outcome{Message: ContactSupportMessage}, fmt.Errorf("%w: %w", ErrStatusUnavailable, err)
		}

		switch payment.Status {
		case models.PaymentStatusCompleted, models.PaymentStatusRefunded:
			c.applyOutcome(payment, payment.Status)
			return &Outcome{Status: payment.Status, Payment: payment, Message: "Payment successful! Your order has been confirmed."}, nil

		case models.PaymentStatusFailed, models.PaymentStatusCanceled, models.PaymentStatusSuperseded:
			c.applyOutcome(payment, payment.Status)
			msg := "Payment failed"
			if payment.ErrorMessage != "" {
				msg += ": " + payment.ErrorMessage
			}
			return &Outcome{Status: payment.Status, Payment: payment, Message: msg}, nil

		case models.PaymentStatusAuthorized:
			return c.capture(ctx, payment)
		}

		if poll >= maxPolls {
			return &Outcome{Status: payment.Status, Payment: payment, Message: stillProcessingMessage}, ErrStillProcessing
		}
		select {
		case <-ctx.Done():
			return &Outcome{Status: payment.Status, Payment: payment, Message: stillProcessingMessage}, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// capture makes the single capture attempt and settles on its response.
func (c *Checkout) capture(ctx context.Context, payment *models.Payment) (*Outcome, error) {
	id := payment.PaymentID.String()
	res, err := c.api.CapturePayment(ctx, id, "capture-"+id)
	if err != nil {
		log.Printf("Capture of payment %s failed: %v", id, err)
		c.applyOutcome(payment, models.PaymentStatusFailed)
		return &Outcome{Status: models.PaymentStatusFailed, Payment: payment, Message: captureFailedMessage},
			fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	captured := payment
	if res.Data != nil {
		captured = res.Data
	}
	if !res.Success || (res.Data != nil && res.Data.Status != models.PaymentStatusCompleted) {
		c.applyOutcome(captured, models.PaymentStatusFailed)
		return &Outcome{Status: models.PaymentStatusFailed, Payment: captured, Message: captureFailedMessage},
			fmt.Errorf("%w: payment %s is %s after capture", ErrCaptureFailed, id, captured.Status)
	}

	c.applyOutcome(captured, models.PaymentStatusCompleted)
	return &Outcome{
		Status:   models.PaymentStatusCompleted,
		Payment:  captured,
		Captured: true,
		Message:  "Payment completed successfully!",
		Warning:  res.Warning,
	}, nil
}

// ReconcileByReference resolves a provider reference, such as the N-Genius
// "ref" on the return URL, and reconciles the first matching payment.
func (c *Checkout) ReconcileByReference(ctx context.Context, ref string) (*Outcome, error) {
	payments, err := c.api.FindPayments(ctx, ref)
	if err != nil {
		log.Printf("Lookup of provider reference %s failed: %v", ref, err)
		return &Outcome{Message: ContactSupportMessage}, fmt.Errorf("%w: %w", ErrStatusUnavailable, err)
	}
	if len(payments) == 0 {
		return &Outcome{Message: "Payment not found"}, apperr.NotFound("Payment not found")
	}
	return c.Reconcile(ctx, payments[0].PaymentID.String())
}

// applyOutcome moves the active session along if it belongs to payment.
func (c *Checkout) applyOutcome(payment *models.Payment, status models.PaymentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if s == nil {
		return
	}
	id := payment.PaymentID.String()
	if s.PaymentID != id && (payment.ProviderTransactionID == "" || s.ID != payment.ProviderTransactionID) {
		return
	}
	if status == models.PaymentStatusRefunded {
		status = models.PaymentStatusCompleted
	}
	if !s.transition(status) {
		return
	}
	if status == models.PaymentStatusFailed && payment.ErrorMessage != "" {
		s.FailureReason = payment.ErrorMessage
	}
}
