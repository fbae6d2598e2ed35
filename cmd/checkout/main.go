package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/capactiyvirus/cafe-checkout/checkout"
)

var Version = "dev"

var (
	apiURL  string
	timeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "checkout",
		Short:   "Pay for a café order through the payment proxy",
		Version: Version,
	}

	defaultURL := os.Getenv("CHECKOUT_API_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Payment proxy base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 20*time.Second, "Per-request timeout")

	// Add subcommands
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(refundCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newClient() *checkout.Client {
	return checkout.NewClient(apiURL, timeout)
}
