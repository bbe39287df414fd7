// Package stripewebhooks accepts card-checkout confirmations as an
// alternative instant-payment path next to the in-platform invoice.
package stripewebhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"subscription-bot/internal/domain/billing"
	"subscription-bot/internal/subscription"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/webhook"
	"go.uber.org/zap"
)

type Handler struct {
	Subscriptions *subscription.Service
	Logger        *zap.Logger
}

func (h *Handler) StripeWebhook(c *gin.Context) {
	endpointSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if endpointSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STRIPE_WEBHOOK_SECRET not configured"})
		return
	}

	payload, err := readStripeBody(c, 65536)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		c.GetHeader("Stripe-Signature"),
		endpointSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		h.Logger.Warn("stripe signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse session"})
			return
		}
		if err := h.handleCheckoutCompleted(&session); err != nil {
			if errors.Is(err, errBadReference) {
				// Non-retryable: acknowledge so Stripe stops resending.
				h.Logger.Error("checkout session with unusable reference", zap.Error(err))
				c.JSON(http.StatusOK, gin.H{"status": "ignored"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "received"})

	default:
		// Acknowledge unknown events to avoid retries
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

var errBadReference = errors.New("missing or invalid client reference")

// handleCheckoutCompleted maps the checkout session onto the
// successful-payment workflow. The Telegram id travels in
// client_reference_id; the purchased duration in metadata.payload.
func (h *Handler) handleCheckoutCompleted(session *stripe.CheckoutSession) error {
	if session.ClientReferenceID == "" {
		return errBadReference
	}
	telegramID, err := strconv.ParseInt(session.ClientReferenceID, 10, 64)
	if err != nil {
		return errBadReference
	}

	payload := billing.PayloadMonthSubscription
	username := ""
	if session.Metadata != nil {
		if p := session.Metadata["payload"]; p != "" {
			payload = p
		}
		username = session.Metadata["username"]
	}

	return h.Subscriptions.HandleSuccessfulPayment(telegramID, username, payload)
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
