package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/booking"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/payments"
)

type CallHandler struct {
	calls  *booking.Service
	logger *slog.Logger
}

func NewCallHandler(calls *booking.Service, logger *slog.Logger) *CallHandler {
	return &CallHandler{calls: calls, logger: logger}
}

// Calls dispatches /api/v1/calls: POST creates a pending call, GET lists a
// participant's calls.
func (h *CallHandler) Calls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Create(w, r)
	case http.MethodGet:
		h.List(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createCallRequest struct {
	RequesterID      string `json:"requester_id"`
	RequesterEmail   string `json:"requester_email"`
	CounterpartEmail string `json:"counterpart_email"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Notes            string `json:"notes"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

type callItem struct {
	CallID           string `json:"call_id"`
	RequesterID      string `json:"requester_id"`
	CounterpartID    string `json:"counterpart_id"`
	CounterpartEmail string `json:"counterpart_email"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Title            string `json:"title,omitempty"`
	Description      string `json:"description,omitempty"`
	Notes            string `json:"notes,omitempty"`
	Status           string `json:"status"`
	PaymentStatus    string `json:"payment_status"`
	PaymentAmount    int64  `json:"payment_amount"`
	PaymentCurrency  string `json:"payment_currency"`
	PaymentOrderID   string `json:"payment_order_id,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

type createCallResponse struct {
	Call  callItem  `json:"call"`
	Order orderItem `json:"payment_order"`
}

type orderItem struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id,omitempty"`
}

// Create handles POST /api/v1/calls: it resolves the counterpart, checks
// their calendar, creates the payment order and stores the call as
// pending_payment.
func (h *CallHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	requesterID := strings.TrimSpace(req.RequesterID)
	counterpartEmail := strings.TrimSpace(strings.ToLower(req.CounterpartEmail))
	if requesterID == "" || counterpartEmail == "" {
		http.Error(w, "requester_id and counterpart_email are required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	result, err := h.calls.CreatePending(r.Context(), booking.CreateRequest{
		RequesterID:      requesterID,
		RequesterEmail:   strings.TrimSpace(strings.ToLower(req.RequesterEmail)),
		CounterpartEmail: counterpartEmail,
		Start:            start,
		End:              end,
		Title:            strings.TrimSpace(req.Title),
		Description:      strings.TrimSpace(req.Description),
		Notes:            strings.TrimSpace(req.Notes),
		Amount:           req.Amount,
		Currency:         strings.TrimSpace(req.Currency),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createCallResponse{
		Call: toCallItem(result.Call),
		Order: orderItem{
			OrderID:  result.Order.ProviderOrderID,
			Amount:   result.Order.Amount,
			Currency: result.Order.Currency,
			KeyID:    result.Order.KeyID,
		},
	})
}

type verifyCallRequest struct {
	CallID    string `json:"call_id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// Verify handles POST /api/v1/calls/verify, the client-side payment
// handshake. A rejected signature marks the payment failed and keeps the
// call pending so the client can retry.
func (h *CallHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	callID := strings.TrimSpace(req.CallID)
	if callID == "" {
		http.Error(w, "call_id is required", http.StatusBadRequest)
		return
	}

	call, err := h.calls.ConfirmOnPayment(r.Context(), callID, payments.Assertion{
		OrderID:   strings.TrimSpace(req.OrderID),
		PaymentID: strings.TrimSpace(req.PaymentID),
		Signature: strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallItem(call))
}

type cancelCallRequest struct {
	CallID  string `json:"call_id"`
	ActorID string `json:"actor_id"`
}

// Cancel handles POST /api/v1/calls/cancel. Only the requester or the
// counterpart may cancel.
func (h *CallHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	callID := strings.TrimSpace(req.CallID)
	actorID := strings.TrimSpace(req.ActorID)
	if callID == "" || actorID == "" {
		http.Error(w, "call_id and actor_id are required", http.StatusBadRequest)
		return
	}

	call, err := h.calls.Cancel(r.Context(), callID, actorID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallItem(call))
}

// List handles GET /api/v1/calls for one participant, newest first.
func (h *CallHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	participantID := strings.TrimSpace(q.Get("participant_id"))
	if participantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}
	status := booking.Status(strings.TrimSpace(q.Get("status")))
	limit, offset := parsePage(q.Get("limit"), q.Get("offset"))

	calls, err := h.calls.List(r.Context(), participantID, status, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]callItem, 0, len(calls))
	for _, call := range calls {
		items = append(items, toCallItem(call))
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": items})
}

func toCallItem(call booking.Call) callItem {
	item := callItem{
		CallID:           call.ID,
		RequesterID:      call.RequesterID,
		CounterpartID:    call.CounterpartID,
		CounterpartEmail: call.CounterpartEmail,
		StartTime:        call.Interval.Start.Format(time.RFC3339),
		EndTime:          call.Interval.End.Format(time.RFC3339),
		Title:            call.Title,
		Description:      call.Description,
		Notes:            call.Notes,
		Status:           string(call.Status),
		PaymentStatus:    string(call.PaymentStatus),
		PaymentAmount:    call.PaymentAmount,
		PaymentCurrency:  call.PaymentCurrency,
		PaymentOrderID:   call.PaymentOrderID,
	}
	if !call.CreatedAt.IsZero() {
		item.CreatedAt = call.CreatedAt.Format(time.RFC3339)
	}
	return item
}
