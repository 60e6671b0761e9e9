package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/yasashii-care/caredocs/internal/api/middleware"
	"github.com/yasashii-care/caredocs/internal/api/response"
	"github.com/yasashii-care/caredocs/internal/metrics"
	"github.com/yasashii-care/caredocs/internal/payments"
)

const webhookBodyLimit = 1 << 20

// EventHandler folds a verified payment event into local state.
type EventHandler interface {
	HandleEvent(ctx context.Context, event stripelib.Event) (payments.Outcome, error)
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// WebhookHandler receives payment provider events.
type WebhookHandler struct {
	secret string
	events EventHandler
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(secret string, events EventHandler) *WebhookHandler {
	return &WebhookHandler{secret: secret, events: events}
}

// ServeHTTP handles POST /webhooks/payments. Only a bad signature or an
// unreadable body is rejected; once verified, every event is acknowledged so
// the provider does not retry a failure that a retry cannot fix.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		response.Err(w, status, "INVALID_BODY", "Failed to read request body", requestID)
		return
	}

	event, err := payments.VerifyEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		slog.Warn("webhook signature rejected", "error", err, "requestId", requestID)
		status = http.StatusBadRequest
		response.Err(w, status, "INVALID_SIGNATURE", "Invalid webhook signature", requestID)
		return
	}
	eventType = string(event.Type)

	outcome, err := h.events.HandleEvent(r.Context(), event)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "webhook event processing failed",
			"error", err,
			"eventId", event.ID,
			"eventType", eventType,
			"outcome", outcome,
			"requestId", requestID,
		)
	}

	response.Success(w, http.StatusOK, webhookReceivedResponse{Received: true}, requestID)
}
