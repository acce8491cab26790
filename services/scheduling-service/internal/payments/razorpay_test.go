package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayVerifyAcceptsValidSignature(t *testing.T) {
	r := NewRazorpay("key_test", "secret_test", slog.Default())

	a := Assertion{
		OrderID:   "order_123",
		PaymentID: "pay_456",
		Signature: sign("secret_test", "order_123", "pay_456"),
	}
	if err := r.Verify(context.Background(), "order_123", a); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestRazorpayVerifyRejectsBadSignature(t *testing.T) {
	r := NewRazorpay("key_test", "secret_test", slog.Default())

	a := Assertion{
		OrderID:   "order_123",
		PaymentID: "pay_456",
		Signature: sign("wrong_secret", "order_123", "pay_456"),
	}
	if err := r.Verify(context.Background(), "order_123", a); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestRazorpayVerifyRejectsOrderMismatch(t *testing.T) {
	r := NewRazorpay("key_test", "secret_test", slog.Default())

	a := Assertion{
		OrderID:   "order_other",
		PaymentID: "pay_456",
		Signature: sign("secret_test", "order_other", "pay_456"),
	}
	if err := r.Verify(context.Background(), "order_123", a); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestRazorpayVerifyRejectsEmptyAssertion(t *testing.T) {
	r := NewRazorpay("key_test", "secret_test", slog.Default())

	if err := r.Verify(context.Background(), "order_123", Assertion{OrderID: "order_123"}); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestRazorpayCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key_test" || pass != "secret_test" {
			t.Fatalf("basic auth = %s:%s", user, pass)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req["amount"].(float64) != 150000 {
			t.Fatalf("amount = %v, want 150000", req["amount"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":       "order_abc",
			"amount":   150000,
			"currency": "INR",
			"status":   "created",
		})
	}))
	defer srv.Close()

	r := NewRazorpay("key_test", "secret_test", slog.Default())
	r.baseURL = srv.URL

	order, err := r.CreateOrder(context.Background(), OrderRequest{Amount: 150000, Currency: "INR"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ProviderOrderID != "order_abc" {
		t.Fatalf("order id = %s", order.ProviderOrderID)
	}
	if order.KeyID != "key_test" {
		t.Fatalf("key id = %s", order.KeyID)
	}
}

func TestRazorpayCreateOrderSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"description":"amount too small"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	r := NewRazorpay("key_test", "secret_test", slog.Default())
	r.baseURL = srv.URL

	if _, err := r.CreateOrder(context.Background(), OrderRequest{Amount: 1, Currency: "INR"}); err == nil {
		t.Fatal("expected error from provider 400")
	}
}
