package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/payments"
)

var (
	ErrNotFound                  = errors.New("call not found")
	ErrCounterpartNotFound       = errors.New("mentor not found")
	ErrSlotUnavailable           = errors.New("time slot is no longer available")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrNotParticipant            = errors.New("only the requester or counterpart may cancel this call")
	ErrNotCancellable            = errors.New("call cannot be cancelled in its current state")
)

// ValidationError is a request problem the caller can fix.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// User is a resolved participant identity.
type User struct {
	ID    string
	Email string
	Name  string
}

// Directory resolves participants by email. ErrNotFound from the directory
// maps to ErrCounterpartNotFound at the service boundary.
type Directory interface {
	ResolveByEmail(ctx context.Context, email string) (User, error)
}

// Guard answers whether the counterpart's calendar is still free for the
// interval. A missing calendar or a lookup failure counts as free; only a
// positive busy answer blocks the booking.
type Guard interface {
	IntervalFree(ctx context.Context, participantID string, iv interval.Interval) (bool, error)
}

// Store persists calls. Insert must reject an overlapping active call for the
// same counterpart with ErrSlotUnavailable, backed by store-level exclusion
// so two concurrent requesters cannot both win. ConfirmPayment must be
// atomic: it transitions pending_payment to confirmed exactly once and, in
// the same transaction, enqueues the invite-dispatch event; confirmedNow is
// false when another caller already won, which makes webhook replays no-ops.
type Store interface {
	Insert(ctx context.Context, call Call) error
	Get(ctx context.Context, id string) (Call, error)
	ConfirmPayment(ctx context.Context, id, paymentID string) (call Call, confirmedNow bool, err error)
	MarkPaymentFailed(ctx context.Context, id string) error
	Cancel(ctx context.Context, id, actorID string) (Call, error)
	ListByParticipant(ctx context.Context, participantID string, status Status, limit, offset int) ([]Call, error)
}

type CreateRequest struct {
	RequesterID      string
	RequesterEmail   string
	CounterpartEmail string
	Start            time.Time
	End              time.Time
	Title            string
	Description      string
	Notes            string
	Amount           int64
	Currency         string
}

// CreateResult pairs the pending call with the payment order the client must
// complete.
type CreateResult struct {
	Call  Call
	Order payments.Order
}

// Service drives the call lifecycle: pending_payment on create, confirmed
// after a verified payment, cancelled on request of either party.
type Service struct {
	store     Store
	directory Directory
	guard     Guard
	verifier  payments.Verifier
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(store Store, directory Directory, guard Guard, verifier payments.Verifier, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		directory: directory,
		guard:     guard,
		verifier:  verifier,
		now:       time.Now,
		logger:    logger,
	}
}

// CreatePending validates the request, re-checks the counterpart's
// availability, creates the payment order and persists the call in
// pending_payment. The availability re-check runs here even though the
// caller already saw a free window, to close the race between two requesters
// targeting the same slot; the store's overlap rejection is the final word.
func (s *Service) CreatePending(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if !req.End.After(req.Start) {
		return CreateResult{}, invalidf("start time must be before end time")
	}
	if req.Start.Before(s.now()) {
		return CreateResult{}, invalidf("cannot schedule a call in the past")
	}
	if req.Amount <= 0 {
		return CreateResult{}, invalidf("amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = "INR"
	}

	counterpart, err := s.directory.ResolveByEmail(ctx, req.CounterpartEmail)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return CreateResult{}, ErrCounterpartNotFound
		}
		return CreateResult{}, fmt.Errorf("resolve counterpart: %w", err)
	}

	iv := interval.Interval{Start: req.Start.UTC(), End: req.End.UTC()}
	free, err := s.guard.IntervalFree(ctx, counterpart.ID, iv)
	if err != nil {
		// Calendar trouble must not block bookings; the store-level overlap
		// check still protects against double booking.
		s.logger.Warn("availability re-check failed, assuming free",
			"counterpart_id", counterpart.ID,
			"err", err,
		)
	} else if !free {
		return CreateResult{}, ErrSlotUnavailable
	}

	order, err := s.verifier.CreateOrder(ctx, payments.OrderRequest{
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  fmt.Sprintf("Mentorship call with %s", req.CounterpartEmail),
		Notes: map[string]string{
			"requester_id":   req.RequesterID,
			"counterpart_id": counterpart.ID,
		},
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("create payment order: %w", err)
	}

	now := s.now().UTC()
	call := Call{
		ID:               uuid.NewString(),
		RequesterID:      req.RequesterID,
		RequesterEmail:   req.RequesterEmail,
		CounterpartID:    counterpart.ID,
		CounterpartEmail: counterpart.Email,
		Interval:         iv,
		Title:            req.Title,
		Description:      req.Description,
		Notes:            req.Notes,
		Status:           StatusPendingPayment,
		PaymentStatus:    PaymentPending,
		PaymentAmount:    req.Amount,
		PaymentCurrency:  currency,
		PaymentOrderID:   order.ProviderOrderID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Insert(ctx, call); err != nil {
		return CreateResult{}, err
	}

	s.logger.Info("pending call created",
		"call_id", call.ID,
		"requester_id", call.RequesterID,
		"counterpart_id", call.CounterpartID,
		"start", call.Interval.Start.Format(time.RFC3339),
		"provider_order_id", order.ProviderOrderID,
	)
	return CreateResult{Call: call, Order: order}, nil
}

// ConfirmOnPayment verifies the payment assertion and moves the call to
// confirmed. A replayed confirmation for an already-confirmed call returns
// the stored state without dispatching a second invite. A failed
// verification marks the payment failed but keeps the call in
// pending_payment so the client may retry or cancel.
func (s *Service) ConfirmOnPayment(ctx context.Context, callID string, assertion payments.Assertion) (Call, error) {
	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}

	switch call.Status {
	case StatusConfirmed:
		return call, nil
	case StatusCancelled, StatusCompleted:
		return Call{}, invalidf("call is %s and cannot be confirmed", call.Status)
	}

	if err := s.verifier.Verify(ctx, call.PaymentOrderID, assertion); err != nil {
		if errors.Is(err, payments.ErrVerificationFailed) {
			if markErr := s.store.MarkPaymentFailed(ctx, callID); markErr != nil {
				s.logger.Error("mark payment failed", "call_id", callID, "err", markErr)
			}
			s.logger.Warn("payment verification rejected",
				"call_id", callID,
				"provider_order_id", call.PaymentOrderID,
			)
			return Call{}, ErrPaymentVerificationFailed
		}
		return Call{}, fmt.Errorf("verify payment: %w", err)
	}

	confirmed, confirmedNow, err := s.store.ConfirmPayment(ctx, callID, assertion.PaymentID)
	if err != nil {
		return Call{}, err
	}
	if confirmedNow {
		s.logger.Info("call confirmed",
			"call_id", confirmed.ID,
			"payment_id", assertion.PaymentID,
			"counterpart_id", confirmed.CounterpartID,
		)
	}
	return confirmed, nil
}

// Cancel moves a pending or confirmed call to cancelled. Only the requester
// or the counterpart may cancel; a completed payment is not reversed here.
func (s *Service) Cancel(ctx context.Context, callID, actorID string) (Call, error) {
	call, err := s.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if actorID != call.RequesterID && actorID != call.CounterpartID {
		return Call{}, ErrNotParticipant
	}

	switch call.Status {
	case StatusCancelled:
		return call, nil
	case StatusPendingPayment, StatusConfirmed:
	default:
		return Call{}, ErrNotCancellable
	}

	cancelled, err := s.store.Cancel(ctx, callID, actorID)
	if err != nil {
		return Call{}, err
	}
	s.logger.Info("call cancelled",
		"call_id", callID,
		"actor_id", actorID,
		"previous_status", string(call.Status),
	)
	return cancelled, nil
}

// List returns a participant's calls, optionally filtered by status.
func (s *Service) List(ctx context.Context, participantID string, status Status, limit, offset int) ([]Call, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByParticipant(ctx, participantID, status, limit, offset)
}
