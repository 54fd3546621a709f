package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/25x8/localseo-fulfillment/internal/fulfillment/service"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const maxWebhookBodyBytes = int64(65536)

var errNoWebhookSecret = errors.New("webhook secret is not configured")

// StripeWebhook verifies and handles Stripe events. Once the signature is
// valid the event is always acknowledged; processing failures are logged.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		webhookError(w, fmt.Errorf("read body: %w", err))
		return
	}

	if h.WebhookSecret == "" {
		h.Logger.Printf("Rejecting webhook: %v", errNoWebhookSecret)
		webhookError(w, errNoWebhookSecret)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.Logger.Printf("Webhook signature verification failed: %v", err)
		webhookError(w, err)
		return
	}

	ctx := r.Context()
	first, err := h.Events.FirstSeen(ctx, event.ID)
	if err != nil {
		// the ledger is idempotent per checkout session, so process anyway
		h.Logger.Printf("Error checking event %s: %v", event.ID, err)
		first = true
	}
	if !first {
		h.Logger.Printf("Event %s already handled", event.ID)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		h.handleCheckoutCompleted(ctx, event)
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			h.Logger.Printf("Error parsing payment intent in event %s: %v", event.ID, err)
			break
		}
		h.Logger.Printf("Payment intent %s succeeded: %d %s", pi.ID, pi.Amount, pi.Currency)
	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			h.Logger.Printf("Error parsing payment intent in event %s: %v", event.ID, err)
			break
		}
		reason := "unknown"
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Msg
		}
		h.Logger.Printf("Payment intent %s failed: %s", pi.ID, reason)
	default:
		h.Logger.Printf("Unhandled event type: %s", event.Type)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.Logger.Printf("Error parsing checkout session in event %s: %v", event.ID, err)
		return
	}

	c := service.CheckoutCompleted{
		SessionID:     sess.ID,
		CustomerEmail: sess.CustomerEmail,
		AmountCents:   sess.AmountTotal,
		CompletedAt:   time.Now(),
	}
	if sess.CustomerDetails != nil {
		if sess.CustomerDetails.Email != "" {
			c.CustomerEmail = sess.CustomerDetails.Email
		}
		c.CustomerName = sess.CustomerDetails.Name
	}
	if sess.Customer != nil {
		c.CustomerID = sess.Customer.ID
	}
	if event.Created > 0 {
		c.CompletedAt = time.Unix(event.Created, 0)
	}

	out := h.Purchases.RecordCheckout(ctx, c)
	if out.LedgerErr != nil {
		h.Logger.Printf("Error recording checkout %s: %v", sess.ID, out.LedgerErr)
	}
	if out.ProjectionErr != nil {
		h.Logger.Printf("Error projecting checkout %s: %v", sess.ID, out.ProjectionErr)
	}
}

func webhookError(w http.ResponseWriter, err error) {
	http.Error(w, fmt.Sprintf("Webhook Error: %v", err), http.StatusBadRequest)
}
