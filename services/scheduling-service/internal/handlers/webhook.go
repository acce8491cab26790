package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/booking"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/payments"
)

// CallLookup resolves a call from the provider-side payment order id, which
// is all a webhook event carries.
type CallLookup interface {
	GetByPaymentOrder(ctx context.Context, providerOrderID string) (booking.Call, error)
}

// ProviderEventStore records provider event ids for replay suppression.
type ProviderEventStore interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// WebhookHandler confirms calls from Stripe webhook deliveries. Signature
// verification happens inside the booking service; no other auth applies,
// so the gateway may expose this path publicly. Razorpay confirmations come
// through the client-side /calls/verify handshake instead.
type WebhookHandler struct {
	calls  *booking.Service
	lookup CallLookup
	events ProviderEventStore
	logger *slog.Logger
}

func NewWebhookHandler(calls *booking.Service, lookup CallLookup, events ProviderEventStore, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{calls: calls, lookup: lookup, events: events, logger: logger}
}

type paymentWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// Payments handles POST /api/v1/webhooks/payments.
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sigHeader := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
	if sigHeader == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var evt paymentWebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.ID == "" {
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if evt.Type != "payment_intent.succeeded" {
		h.logger.Info("payment webhook event ignored", "provider_event_id", evt.ID, "event_type", evt.Type)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	call, err := h.lookup.GetByPaymentOrder(r.Context(), evt.Data.Object.ID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			h.logger.Warn("payment webhook for unknown order", "provider_event_id", evt.ID, "provider_order_id", evt.Data.Object.ID)
			http.Error(w, "unknown payment order", http.StatusNotFound)
			return
		}
		writeError(w, h.logger, err)
		return
	}

	confirmed, err := h.calls.ConfirmOnPayment(r.Context(), call.ID, payments.Assertion{
		OrderID:         evt.Data.Object.ID,
		PaymentID:       evt.Data.Object.ID,
		Payload:         body,
		SignatureHeader: sigHeader,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// Replay suppression is recorded after a verified confirmation so that a
	// rejected delivery can be retried. ConfirmOnPayment itself is
	// idempotent, the marker only quiets the logs on redelivery.
	fresh, err := h.events.MarkProcessed(r.Context(), "stripe", evt.ID)
	if err != nil {
		// The confirmation already succeeded, a dedup-store failure is not a
		// replay. Answer ok and let a redelivery hit the idempotent confirm.
		h.logger.Error("mark provider event processed", "provider_event_id", evt.ID, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	if !fresh {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	h.logger.Info("payment webhook processed",
		"provider_event_id", evt.ID,
		"call_id", confirmed.ID,
		"status", string(confirmed.Status),
	)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
