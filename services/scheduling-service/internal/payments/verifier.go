package payments

import (
	"context"
	"errors"
)

// ErrVerificationFailed means the payment assertion did not check out against
// the stored order. It is an expected business outcome, not a system fault.
var ErrVerificationFailed = errors.New("payment verification failed")

// OrderRequest describes the payment to collect. Amount is in the currency's
// minor unit (paise, cents).
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Order is the provider-side handle the client completes payment against.
type Order struct {
	ProviderOrderID string
	Amount          int64
	Currency        string
	KeyID           string
}

// Assertion is the proof of payment presented back to the engine. Razorpay
// fills OrderID/PaymentID/Signature; Stripe webhooks fill Payload and
// SignatureHeader.
type Assertion struct {
	OrderID         string
	PaymentID       string
	Signature       string
	Payload         []byte
	SignatureHeader string
}

// Verifier creates payment orders and checks payment assertions. Verify
// returns ErrVerificationFailed for a bad assertion and other errors only for
// infrastructure trouble.
type Verifier interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	Verify(ctx context.Context, orderID string, assertion Assertion) error
}
