package checkout

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrNetwork           = errors.New("could not reach the payment service")
	ErrNoOrder           = errors.New("no order is loaded")
	ErrNoSession         = errors.New("no payment session is open")
	ErrBusy              = errors.New("a payment request is already in progress")
	ErrStale             = errors.New("a newer session request replaced this one")
	ErrSessionSuperseded = errors.New("the total changed after this payment was started")
	ErrSessionClosed     = errors.New("this payment session is no longer open")
	ErrCheckoutLocked    = errors.New("the payment is already authorized")
	ErrAmountMismatch    = errors.New("the payment service quoted a different total")
)

// ContactSupportMessage ends reconciliation when the payment's status
// cannot be established.
const ContactSupportMessage = "We could not verify your payment. Please contact support."
