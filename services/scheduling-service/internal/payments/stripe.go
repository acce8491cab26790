package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Stripe implements Verifier with PaymentIntents. The assertion is the raw
// webhook payload plus the Stripe-Signature header; signature verification is
// the auth.
type Stripe struct {
	secretKey        string
	publishableKey   string
	webhookSecret    string
	webhookTolerance time.Duration
	logger           *slog.Logger
}

func NewStripe(secretKey, publishableKey, webhookSecret string, toleranceSeconds int, logger *slog.Logger) *Stripe {
	if toleranceSeconds <= 0 {
		toleranceSeconds = 300
	}
	return &Stripe{
		secretKey:        secretKey,
		publishableKey:   publishableKey,
		webhookSecret:    webhookSecret,
		webhookTolerance: time.Duration(toleranceSeconds) * time.Second,
		logger:           logger,
	}
}

func (s *Stripe) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	// Stripe uses a global API key. Keep usage limited to this call.
	stripe.Key = s.secretKey

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		Metadata: req.Notes,
	}
	if req.Receipt != "" {
		params.Description = stripe.String(req.Receipt)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return Order{}, fmt.Errorf("stripe payment intent create: %w", err)
	}

	s.logger.Info("payment order created",
		"provider", "stripe",
		"provider_order_id", pi.ID,
		"amount", pi.Amount,
		"currency", pi.Currency,
	)
	return Order{
		ProviderOrderID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		KeyID:           s.publishableKey,
	}, nil
}

// Verify reconstructs the webhook event from the raw payload and signature
// header, then checks the event settles the expected payment intent.
func (s *Stripe) Verify(ctx context.Context, orderID string, assertion Assertion) error {
	if len(assertion.Payload) == 0 || assertion.SignatureHeader == "" {
		return ErrVerificationFailed
	}

	evt, err := webhook.ConstructEventWithTolerance(assertion.Payload, assertion.SignatureHeader, s.webhookSecret, s.webhookTolerance)
	if err != nil {
		s.logger.Warn("stripe webhook signature rejected", "err", err)
		return ErrVerificationFailed
	}
	if evt.Type != "payment_intent.succeeded" {
		return ErrVerificationFailed
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return fmt.Errorf("decode payment intent from event: %w", err)
	}
	if pi.ID != orderID {
		return ErrVerificationFailed
	}
	return nil
}
