package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/checkout"
	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
)

func orderCmd() *cobra.Command {
	var tip tipFlags
	cmd := &cobra.Command{
		Use:   "order [order-id]",
		Short: "Show an order with its tip and total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			co := checkout.New(newClient(), checkout.CardElement{})
			order, err := co.LoadOrder(cmd.Context(), args[0])
			if err != nil {
				return userError(err)
			}
			if err := tip.apply(co); err != nil {
				return userError(err)
			}
			printOrder(order)
			return printTotals(co)
		},
	}
	tip.register(cmd)
	return cmd
}

func payCmd() *cobra.Command {
	var (
		tip             tipFlags
		provider        string
		method          string
		currency        string
		paymentMethodID string
		returnURL       string
		email           string
	)
	cmd := &cobra.Command{
		Use:   "pay [order-id]",
		Short: "Open a payment session for the order total and confirm it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := flowFor(models.Provider(provider))
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			opts := []checkout.Option{}
			if currency != "" {
				opts = append(opts, checkout.WithCurrency(currency))
			}
			co := checkout.New(newClient(), flow, opts...)

			order, err := co.LoadOrder(ctx, args[0])
			if err != nil {
				return userError(err)
			}
			if err := tip.apply(co); err != nil {
				return userError(err)
			}
			printOrder(order)
			if err := printTotals(co); err != nil {
				return err
			}

			session, err := co.CreateOrRefreshSession(ctx, models.PaymentMethod(method))
			if err != nil {
				return userError(err)
			}
			fmt.Printf("\nSession %s opened for %s\n", session.ID, pricing.Display(session.Amount))

			res, err := co.Submit(ctx, checkout.Details{
				PaymentMethodID: paymentMethodID,
				ReturnURL:       returnURL,
				CustomerEmail:   email,
				Key:             uuid.NewString(),
			})
			if err != nil {
				return userError(err)
			}

			if res.Warning != "" {
				fmt.Fprintf(os.Stderr, "Warning: %s\n", res.Warning)
			}
			if res.RedirectURL != "" {
				fmt.Printf("Continue payment at: %s\n", res.RedirectURL)
				if res.PaymentID != "" {
					fmt.Printf("Then run: checkout status %s\n", res.PaymentID)
				}
				return nil
			}
			fmt.Printf("Payment %s: %s\n", res.PaymentID, res.Status)

			if res.Status == models.PaymentStatusAuthorized && res.PaymentID != "" {
				return reconcile(ctx, co, res.PaymentID, "")
			}
			return nil
		},
	}
	tip.register(cmd)
	cmd.Flags().StringVarP(&provider, "provider", "p", string(models.ProviderStripeIntent), "stripe_intent, stripe_element, ngenius or qclub")
	cmd.Flags().StringVarP(&method, "method", "m", string(models.PaymentMethodCard), "card, apple_pay or google_pay")
	cmd.Flags().StringVar(&currency, "currency", "", "Currency code (defaults to the proxy's)")
	cmd.Flags().StringVar(&paymentMethodID, "payment-method", "", "Stripe payment method id, e.g. pm_card_visa")
	cmd.Flags().StringVar(&returnURL, "return-url", "", "Where hosted pages send the customer back to")
	cmd.Flags().StringVar(&email, "email", "", "Receipt email")
	return cmd
}

func statusCmd() *cobra.Command {
	var (
		ref          string
		maxPolls     int
		pollInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status [payment-id]",
		Short: "Settle a payment after a redirect, capturing it if authorized",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && ref == "" {
				return errors.New("a payment id or --ref is required")
			}
			co := checkout.New(newClient(), checkout.CardElement{}, checkout.WithPolling(maxPolls, pollInterval))
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return reconcile(cmd.Context(), co, id, ref)
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "Provider reference from the return URL")
	cmd.Flags().IntVar(&maxPolls, "max-polls", 10, "Status checks while the payment is pending")
	cmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Second, "Delay between status checks")
	return cmd
}

func refundCmd() *cobra.Command {
	var (
		amount float64
		reason string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "refund [payment-id]",
		Short: "Refund a completed payment, fully or in part",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().RefundPayment(cmd.Context(), &models.RefundRequest{
				PaymentID: models.ID(args[0]),
				Amount:    amount,
				Reason:    reason,
			}, uuid.NewString())
			if err != nil {
				return userError(err)
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(res)
			}
			if res.Warning != "" {
				fmt.Fprintf(os.Stderr, "Warning: %s\n", res.Warning)
			}
			if res.Data != nil {
				fmt.Printf("Payment %s: %s\n", res.Data.PaymentID, res.Data.Status)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "Amount to refund (0 refunds everything)")
	cmd.Flags().StringVar(&reason, "reason", "", "duplicate, fraudulent or requested_by_customer")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

type tipFlags struct {
	percent int
	custom  string
}

func (t *tipFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&t.percent, "tip", "t", pricing.DefaultTipPercent, "Tip percentage (0, 10, 15 or 20)")
	cmd.Flags().StringVar(&t.custom, "custom-tip", "", "Custom tip amount; overrides --tip")
}

func (t *tipFlags) apply(co *checkout.Checkout) error {
	if t.custom != "" {
		return co.SetCustomTip(t.custom)
	}
	return co.SelectTipPercent(t.percent)
}

func flowFor(p models.Provider) (checkout.Flow, error) {
	switch p {
	case models.ProviderStripeIntent:
		return checkout.CardElement{}, nil
	case models.ProviderStripeElement:
		return checkout.PaymentElement{}, nil
	case models.ProviderNGenius, models.ProviderQClub:
		return checkout.HostedRedirect{Via: p}, nil
	}
	return nil, fmt.Errorf("unknown provider %q", p)
}

func reconcile(ctx context.Context, co *checkout.Checkout, paymentID, ref string) error {
	var (
		out *checkout.Outcome
		err error
	)
	if ref != "" {
		out, err = co.ReconcileByReference(ctx, ref)
	} else {
		out, err = co.Reconcile(ctx, paymentID)
	}
	if out != nil && out.Message != "" {
		fmt.Println(out.Message)
	}
	if out != nil && out.Warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", out.Warning)
	}
	if err != nil {
		return userError(err)
	}
	return nil
}

func printOrder(order *models.Order) {
	fmt.Printf("Order %s\n", order.ID)
	fmt.Println(strings.Repeat("=", 40))
	for _, item := range order.Items {
		name := item.Name
		if name == "" {
			name = "Item " + item.ProductID.String()
		}
		fmt.Printf("  %-24s x%-3d %8.2f\n", name, item.Quantity, item.Price)
	}
}

func printTotals(co *checkout.Checkout) error {
	totals, err := co.Totals()
	if err != nil {
		return userError(err)
	}
	label := "Tip"
	if sel := co.Tip(); !sel.IsCustom() {
		label = fmt.Sprintf("Tip (%d%%)", sel.Percent())
	}
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("  %-28s %10s\n", "Subtotal", pricing.Display(totals.Subtotal.Round(2)))
	fmt.Printf("  %-28s %10s\n", label, pricing.Display(totals.Tip.Round(2)))
	fmt.Printf("  %-28s %10s\n", "Total", pricing.Display(totals.Total.Round(2)))
	return nil
}

// userError keeps the customer-facing text and drops internal detail.
func userError(err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return errors.New(appErr.Message)
	case errors.Is(err, checkout.ErrOrderNotFound),
		errors.Is(err, checkout.ErrSessionSuperseded),
		errors.Is(err, checkout.ErrBusy),
		errors.Is(err, checkout.ErrCheckoutLocked),
		errors.Is(err, checkout.ErrSessionClosed):
		return err
	case errors.Is(err, checkout.ErrNetwork):
		return checkout.ErrNetwork
	}
	return err
}
