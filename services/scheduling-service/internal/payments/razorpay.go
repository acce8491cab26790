package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const razorpayBaseURL = "https://api.razorpay.com/v1"

// Razorpay implements Verifier against the Razorpay orders API. Signature
// verification is HMAC-SHA256 of "order_id|payment_id" keyed with the API
// secret, hex encoded.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
	logger    *slog.Logger
}

func NewRazorpay(keyID, keySecret string, logger *slog.Logger) *Razorpay {
	return &Razorpay{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   razorpayBaseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return Order{}, fmt.Errorf("marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, err
	}
	httpReq.SetBasicAuth(r.keyID, r.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Order{}, fmt.Errorf("razorpay order create: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		r.logger.Error("razorpay order create failed",
			"status", resp.StatusCode,
			"body", string(msg),
		)
		return Order{}, fmt.Errorf("razorpay order create: status %d", resp.StatusCode)
	}

	var out razorpayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Order{}, fmt.Errorf("decode order response: %w", err)
	}

	r.logger.Info("payment order created",
		"provider", "razorpay",
		"provider_order_id", out.ID,
		"amount", out.Amount,
		"currency", out.Currency,
	)
	return Order{
		ProviderOrderID: out.ID,
		Amount:          out.Amount,
		Currency:        out.Currency,
		KeyID:           r.keyID,
	}, nil
}

// Verify checks the client-supplied signature over "order_id|payment_id".
func (r *Razorpay) Verify(ctx context.Context, orderID string, assertion Assertion) error {
	if assertion.OrderID != orderID {
		return ErrVerificationFailed
	}
	if assertion.PaymentID == "" || assertion.Signature == "" {
		return ErrVerificationFailed
	}

	mac := hmac.New(sha256.New, []byte(r.keySecret))
	mac.Write([]byte(assertion.OrderID + "|" + assertion.PaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(assertion.Signature)) {
		return ErrVerificationFailed
	}
	return nil
}
