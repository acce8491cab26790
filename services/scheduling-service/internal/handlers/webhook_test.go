package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/booking"
)

type fakeProviderEvents struct {
	seen map[string]bool
	err  error
}

func (f *fakeProviderEvents) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	key := provider + ":" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func newWebhookFixture(t *testing.T) (*WebhookHandler, *callFixture) {
	t.Helper()
	f := newCallFixture(t)
	svc := booking.NewService(f.store, &fakeDirectory{users: map[string]booking.User{
		"mentor@example.com": {ID: "mentor-1", Email: "mentor@example.com"},
	}}, &fakeGuard{}, f.verifier, testLogger())
	events := &fakeProviderEvents{seen: map[string]bool{}}
	return NewWebhookHandler(svc, f.store, events, testLogger()), f
}

func webhookRequest(eventID, orderID string) *http.Request {
	payload := fmt.Sprintf(`{
		"id": %q,
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": %q}}
	}`, eventID, orderID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	return req
}

func TestWebhookConfirmsCall(t *testing.T) {
	h, f := newWebhookFixture(t)
	created := f.createCall(t)

	rw := httptest.NewRecorder()
	h.Payments(rw, webhookRequest("evt_1", created.Order.OrderID))

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	stored := f.store.calls[created.Call.CallID]
	if stored.Status != booking.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", stored.Status)
	}
}

func TestWebhookDedupStoreFailureIsNotReplay(t *testing.T) {
	f := newCallFixture(t)
	svc := booking.NewService(f.store, &fakeDirectory{users: map[string]booking.User{
		"mentor@example.com": {ID: "mentor-1", Email: "mentor@example.com"},
	}}, &fakeGuard{}, f.verifier, testLogger())
	events := &fakeProviderEvents{err: fmt.Errorf("connection refused")}
	h := NewWebhookHandler(svc, f.store, events, testLogger())
	created := f.createCall(t)

	rw := httptest.NewRecorder()
	h.Payments(rw, webhookRequest("evt_1", created.Order.OrderID))

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if !strings.Contains(rw.Body.String(), "ok") || strings.Contains(rw.Body.String(), "duplicate") {
		t.Fatalf("dedup failure must answer ok, got %s", rw.Body.String())
	}
	stored := f.store.calls[created.Call.CallID]
	if stored.Status != booking.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", stored.Status)
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	h, f := newWebhookFixture(t)
	created := f.createCall(t)

	first := httptest.NewRecorder()
	h.Payments(first, webhookRequest("evt_1", created.Order.OrderID))
	if first.Code != http.StatusOK {
		t.Fatalf("first delivery failed: %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.Payments(second, webhookRequest("evt_1", created.Order.OrderID))
	if second.Code != http.StatusOK {
		t.Fatalf("replay must be a no-op 200, got %d", second.Code)
	}
	if !strings.Contains(second.Body.String(), "duplicate") {
		t.Fatalf("expected duplicate status, got %s", second.Body.String())
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	h, _ := newWebhookFixture(t)

	payload := `{"id": "evt_2", "type": "payment_intent.created", "data": {"object": {"id": "pi_1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rw := httptest.NewRecorder()
	h.Payments(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if !strings.Contains(rw.Body.String(), "ignored") {
		t.Fatalf("expected ignored status, got %s", rw.Body.String())
	}
}

func TestWebhookUnknownOrder(t *testing.T) {
	h, _ := newWebhookFixture(t)

	rw := httptest.NewRecorder()
	h.Payments(rw, webhookRequest("evt_3", "pi_missing"))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	h, _ := newWebhookFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", strings.NewReader(`{}`))
	rw := httptest.NewRecorder()
	h.Payments(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}
