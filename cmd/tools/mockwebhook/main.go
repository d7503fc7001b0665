// Command mockwebhook signs and delivers mock-provider webhooks to a
// running server, and mints bearer tokens for local API calls.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bradb345/t3test-sub001/internal/http/middleware"
	"github.com/bradb345/t3test-sub001/internal/modules/payments"
	"github.com/bradb345/t3test-sub001/internal/modules/payments/mockprovider"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "mockwebhook",
		Short: "Local tooling for the mock payment provider",
	}
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type sendFlags struct {
	url     string
	secret  string
	eventID string
	data    mockprovider.EventData
	dryRun  bool
}

var eventTypes = []payments.EventType{
	payments.EventCheckoutCompleted,
	payments.EventCheckoutAsyncSucceeded,
	payments.EventCheckoutAsyncFailed,
	payments.EventCheckoutExpired,
	payments.EventPaymentIntentSucceeded,
	payments.EventPaymentIntentPaymentFailed,
	payments.EventAccountUpdated,
}

func sendCmd() *cobra.Command {
	var f sendFlags

	names := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		names[i] = string(t)
	}

	cmd := &cobra.Command{
		Use:   "send <event-type>",
		Short: "Sign and POST a webhook event",
		Long:  "Event types:\n  " + strings.Join(names, "\n  "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.secret == "" {
				return fmt.Errorf("secret not provided and MOCK_WEBHOOK_SECRET not set")
			}
			if f.eventID == "" {
				f.eventID = "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
			}
			return send(cmd.OutOrStdout(), f, mockprovider.Event{ID: f.eventID, Type: args[0], Data: f.data})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.url, "url", "http://localhost:8080/webhooks/mock", "Webhook URL")
	fl.StringVar(&f.secret, "secret", os.Getenv("MOCK_WEBHOOK_SECRET"), "Webhook secret")
	fl.StringVar(&f.eventID, "event-id", "", "Event ID (random when empty)")
	fl.StringVar(&f.data.CheckoutSessionID, "session", "", "Checkout session ID")
	fl.StringVar(&f.data.PaymentIntentID, "intent", "", "Payment intent ID")
	fl.StringVar(&f.data.TransferID, "transfer", "", "Transfer ID")
	fl.StringVar(&f.data.PaymentStatus, "payment-status", "paid", "Checkout payment status (paid, unpaid)")
	fl.StringVar(&f.data.FailureMessage, "failure", "", "Failure message")
	fl.StringVar(&f.data.PaymentID, "payment", "", "Local payment ID carried in metadata")
	fl.StringVar(&f.data.AccountID, "account", "", "Connected account ID")
	fl.BoolVar(&f.data.ChargesEnabled, "charges-enabled", false, "account.updated: charges enabled")
	fl.BoolVar(&f.data.PayoutsEnabled, "payouts-enabled", false, "account.updated: payouts enabled")
	fl.BoolVar(&f.dryRun, "dry-run", false, "Only print signature header, don't send")

	return cmd
}

func send(out io.Writer, f sendFlags, ev mockprovider.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	sig := mockprovider.Sign([]byte(f.secret), time.Now(), body)

	fmt.Fprintf(out, "%s: %s\n", mockprovider.SignatureHeader, sig)
	fmt.Fprintf(out, "Body: %s\n", body)
	if f.dryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Not sending request")
		return nil
	}

	fmt.Fprintf(out, "\nSending to %s...\n", f.url)
	req, err := http.NewRequest(http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(mockprovider.SignatureHeader, sig)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(out, "Status: %d\nResponse: %s\n", resp.StatusCode, respBody)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}

func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET not set")
			}
			tok, err := middleware.IssueToken(middleware.AuthConfig{
				Secret: []byte(secret),
				Issuer: os.Getenv("JWT_ISSUER"),
			}, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", middleware.RoleTenant, "Role claim (tenant, landlord, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
