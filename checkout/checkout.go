package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
)

const (
	defaultQuietPeriod   = 400 * time.Millisecond
	defaultMaxPolls      = 10
	defaultPollInterval  = 2 * time.Second
	defaultRefreshWindow = 30 * time.Second
)

// Checkout is one customer's checkout: the loaded order, the tip selection
// and at most one active payment session. Every session is opened for the
// total shown at that moment; changing the tip supersedes it.
type Checkout struct {
	api      *Client
	flow     Flow
	currency string
	newKey   func() string

	quietPeriod   time.Duration
	refreshWindow time.Duration
	maxPolls      int
	pollInterval  time.Duration

	// opening serializes session creation so at most one request is in flight.
	opening sync.Mutex

	mu         sync.Mutex
	order      *models.Order
	tip        pricing.TipSelection
	session    *Session
	seq        uint64
	submitting bool
	refreshing int
	timer      *time.Timer
	onSession  func(*Session, error)
}

type Option func(*Checkout)

func WithCurrency(currency string) Option {
	return func(c *Checkout) { c.currency = currency }
}

// WithQuietPeriod sets how long ScheduleRefresh waits for edits to stop.
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Checkout) { c.quietPeriod = d }
}

// WithPolling bounds reconciliation while a payment is still pending.
func WithPolling(maxPolls int, interval time.Duration) Option {
	return func(c *Checkout) {
		c.maxPolls = maxPolls
		c.pollInterval = interval
	}
}

// WithKeyFunc replaces the Idempotency-Key generator.
func WithKeyFunc(fn func() string) Option {
	return func(c *Checkout) { c.newKey = fn }
}

// New creates a checkout that takes payments through flow.
func New(api *Client, flow Flow, opts ...Option) *Checkout {
	c := &Checkout{
		api:           api,
		flow:          flow,
		currency:      "usd",
		newKey:        uuid.NewString,
		quietPeriod:   defaultQuietPeriod,
		refreshWindow: defaultRefreshWindow,
		maxPolls:      defaultMaxPolls,
		pollInterval:  defaultPollInterval,
		tip:           pricing.DefaultTip(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadOrder fetches the order and resets the tip to the default preset. On
// failure the checkout holds no order and refuses to open sessions.
func (c *Checkout) LoadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := c.api.GetOrder(ctx, orderID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.session = nil
	c.tip = pricing.DefaultTip()

	if err != nil {
		c.order = nil
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("load order %s: %w: %w", orderID, ErrNetwork, err)
	}

	c.order = order
	cp := *order
	return &cp, nil
}

// SelectTipPercent picks a preset and clears any custom tip.
func (c *Checkout) SelectTipPercent(percent int) error {
	sel, err := pricing.Preset(percent)
	if err != nil {
		return apperr.Validation(err.Error())
	}
	return c.setTip(sel)
}

// SetCustomTip applies free-form input. Bad input counts as zero.
func (c *Checkout) SetCustomTip(input string) error {
	return c.setTip(pricing.CustomFromInput(input))
}

func (c *Checkout) setTip(sel pricing.TipSelection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.submitting {
		return ErrBusy
	}
	if c.session != nil && c.session.Locked() {
		return ErrCheckoutLocked
	}
	c.tip = sel
	c.invalidateLocked()
	return nil
}

// invalidateLocked supersedes an unconfirmed session and makes any opening
// request still in flight stale.
func (c *Checkout) invalidateLocked() {
	c.seq++
	if c.session != nil && c.session.Status == models.PaymentStatusCreated {
		c.session.transition(models.PaymentStatusSuperseded)
	}
}

// Totals derives subtotal, tip and total from the current inputs.
func (c *Checkout) Totals() (pricing.Totals, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order == nil {
		return pricing.Totals{}, ErrNoOrder
	}
	return pricing.Compute(c.order.Subtotal(), c.tip), nil
}

// Tip returns the current selection.
func (c *Checkout) Tip() pricing.TipSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tip
}

// Session returns a copy of the current session, or nil.
func (c *Checkout) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.clone()
}

// Busy reports whether controls should be disabled.
func (c *Checkout) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting || c.refreshing > 0
}

// OnSessionChange registers the callback for sessions opened by ScheduleRefresh.
func (c *Checkout) OnSessionChange(fn func(*Session, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSession = fn
}

// CreateOrRefreshSession opens a session for the current total and
// supersedes the previous unconfirmed one. Calls queue behind each other;
// a call whose total was changed while it waited or ran returns ErrStale.
func (c *Checkout) CreateOrRefreshSession(ctx context.Context, method models.PaymentMethod) (*Session, error) {
	c.mu.Lock()
	if c.order == nil {
		c.mu.Unlock()
		return nil, ErrNoOrder
	}
	if c.submitting {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.session != nil && c.session.Locked() {
		c.mu.Unlock()
		return nil, ErrCheckoutLocked
	}
	c.seq++
	tag := c.seq
	c.refreshing++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing--
		c.mu.Unlock()
	}()

	c.opening.Lock()
	defer c.opening.Unlock()

	// Inputs are read after the queue so a waiting call opens for the
	// latest total, or not at all.
	c.mu.Lock()
	if tag != c.seq {
		c.mu.Unlock()
		return nil, ErrStale
	}
	req := &OpenRequest{
		Order:    c.order,
		Totals:   pricing.Compute(c.order.Subtotal(), c.tip),
		Currency: c.currency,
		Method:   method,
		Key:      c.newKey(),
	}
	c.mu.Unlock()

	if method == "" {
		req.Method = models.PaymentMethodCard
	}

	session, err := c.flow.Open(ctx, c.api, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if tag != c.seq {
		if err == nil {
			log.Printf("Discarding stale session %s for order %s", session.ID, session.OrderID)
		}
		return nil, ErrStale
	}
	if err != nil {
		return nil, err
	}
	if c.session != nil && c.session.Status == models.PaymentStatusCreated {
		c.session.transition(models.PaymentStatusSuperseded)
	}
	c.session = session
	return session.clone(), nil
}

// Submit confirms the active session exactly once. A decline marks the
// session failed with the provider's reason; nothing is retried.
func (c *Checkout) Submit(ctx context.Context, d Details) (*Result, error) {
	c.mu.Lock()
	if c.submitting || c.refreshing > 0 {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	s := c.session
	if s == nil || c.order == nil {
		c.mu.Unlock()
		return nil, ErrNoSession
	}
	switch s.Status {
	case models.PaymentStatusSuperseded:
		c.mu.Unlock()
		return nil, ErrSessionSuperseded
	case models.PaymentStatusCreated:
	default:
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if !s.Matches(pricing.Compute(c.order.Subtotal(), c.tip).Total) {
		s.transition(models.PaymentStatusSuperseded)
		c.mu.Unlock()
		return nil, ErrSessionSuperseded
	}
	if d.Key == "" {
		d.Key = c.newKey()
	}
	if d.CustomerEmail == "" {
		d.CustomerEmail = c.order.CustomerEmail
	}
	if d.CustomerPhone == "" {
		d.CustomerPhone = c.order.CustomerPhone
	}
	c.submitting = true
	snapshot := s.clone()
	c.mu.Unlock()

	res, err := c.flow.Confirm(ctx, c.api, snapshot, &d)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false

	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.transition(models.PaymentStatusSuperseded)
			return nil, fmt.Errorf("%w: %s", ErrSessionSuperseded, apperr.Message(err))
		}
		// Validation happens before anything reaches the provider.
		if errors.Is(err, apperr.ErrValidation) {
			return nil, err
		}
		s.transition(models.PaymentStatusFailed)
		s.FailureReason = failureReason(err)
		return nil, err
	}

	if !s.transition(res.Status) {
		log.Printf("Session %s reported %s after %s", s.ID, res.Status, s.Status)
	}
	s.PaymentID = res.PaymentID
	s.RedirectURL = res.RedirectURL
	s.Warning = res.Warning
	if res.Warning != "" {
		log.Printf("Payment for order %s went through with a warning: %s", s.OrderID, res.Warning)
	}
	return res, nil
}

// failureReason is the text shown to the customer after a failed submit.
func failureReason(err error) string {
	if errors.Is(err, ErrNetwork) {
		return "We could not reach the payment service. Please check your connection before trying again."
	}
	return apperr.Message(err)
}
