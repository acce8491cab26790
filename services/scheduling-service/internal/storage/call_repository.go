package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mentormesh/mentormesh/libs/db"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/booking"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/outbox"
)

// CallRepository persists scheduled calls and implements the booking store.
// An exclusion constraint on (counterpart_id, tstzrange(start_time,
// end_time)) over non-cancelled rows guarantees two concurrent bookings for
// overlapping intervals cannot both commit.
type CallRepository struct {
	pool       *db.Pool
	outboxRepo *outbox.Repository
}

func NewCallRepository(pool *db.Pool, outboxRepo *outbox.Repository) *CallRepository {
	return &CallRepository{pool: pool, outboxRepo: outboxRepo}
}

const callColumns = `
	id::text, requester_id, requester_email, counterpart_id, counterpart_email,
	start_time, end_time, COALESCE(title, ''), COALESCE(description, ''), COALESCE(notes, ''),
	status, payment_status, payment_amount, payment_currency,
	COALESCE(payment_order_id, ''), COALESCE(payment_id, ''), created_at, updated_at`

func (r *CallRepository) Insert(ctx context.Context, call booking.Call) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduled_calls
			(id, requester_id, requester_email, counterpart_id, counterpart_email,
			 start_time, end_time, title, description, notes,
			 status, payment_status, payment_amount, payment_currency, payment_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, call.ID, call.RequesterID, call.RequesterEmail, call.CounterpartID, call.CounterpartEmail,
		call.Interval.Start, call.Interval.End, nullIfEmpty(call.Title), nullIfEmpty(call.Description), nullIfEmpty(call.Notes),
		string(call.Status), string(call.PaymentStatus), call.PaymentAmount, call.PaymentCurrency, nullIfEmpty(call.PaymentOrderID))
	if err != nil {
		if IsConflict(err) {
			return booking.ErrSlotUnavailable
		}
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (r *CallRepository) Get(ctx context.Context, id string) (booking.Call, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM scheduled_calls
		WHERE id::text = $1
	`, id)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Call{}, booking.ErrNotFound
		}
		return booking.Call{}, err
	}
	return call, nil
}

// GetByPaymentOrder resolves a call from the provider-side order id, which
// is all a payment webhook carries.
func (r *CallRepository) GetByPaymentOrder(ctx context.Context, providerOrderID string) (booking.Call, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+callColumns+`
		FROM scheduled_calls
		WHERE payment_order_id = $1
	`, providerOrderID)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Call{}, booking.ErrNotFound
		}
		return booking.Call{}, err
	}
	return call, nil
}

// ConfirmPayment transitions pending_payment to confirmed and enqueues the
// invite-dispatch event in the same transaction. When another caller already
// confirmed the call, the stored row is returned and no second event is
// written; that makes duplicate webhook deliveries no-ops.
func (r *CallRepository) ConfirmPayment(ctx context.Context, id, paymentID string) (booking.Call, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return booking.Call{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE scheduled_calls
		SET status = 'confirmed',
			payment_status = 'success',
			payment_id = $2,
			updated_at = now()
		WHERE id::text = $1 AND status = 'pending_payment'
		RETURNING `+callColumns,
		id, paymentID)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race or replayed delivery: surface current state.
			existing, getErr := r.Get(ctx, id)
			if getErr != nil {
				return booking.Call{}, false, getErr
			}
			return existing, false, nil
		}
		return booking.Call{}, false, err
	}

	evt, err := callEvent(outbox.TopicCallConfirmed, call)
	if err != nil {
		return booking.Call{}, false, err
	}
	if err := r.outboxRepo.Insert(ctx, tx, evt); err != nil {
		return booking.Call{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return booking.Call{}, false, err
	}
	return call, true, nil
}

func (r *CallRepository) MarkPaymentFailed(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_calls
		SET payment_status = 'failed', updated_at = now()
		WHERE id::text = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *CallRepository) Cancel(ctx context.Context, id, actorID string) (booking.Call, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return booking.Call{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE scheduled_calls
		SET status = 'cancelled', updated_at = now()
		WHERE id::text = $1 AND status IN ('pending_payment', 'confirmed')
		RETURNING `+callColumns,
		id)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Call{}, booking.ErrNotCancellable
		}
		return booking.Call{}, err
	}

	evt, err := callEvent(outbox.TopicCallCancelled, call)
	if err != nil {
		return booking.Call{}, err
	}
	if err := r.outboxRepo.Insert(ctx, tx, evt); err != nil {
		return booking.Call{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return booking.Call{}, err
	}
	return call, nil
}

func (r *CallRepository) ListByParticipant(ctx context.Context, participantID string, status booking.Status, limit, offset int) ([]booking.Call, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+callColumns+`
		FROM scheduled_calls
		WHERE (requester_id = $1 OR counterpart_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3 OFFSET $4
	`, participantID, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, call)
	}
	return out, rows.Err()
}

func callEvent(eventType string, call booking.Call) (outbox.Event, error) {
	return outbox.NewCallEvent(eventType, outbox.CallEvent{
		CallID:           call.ID,
		RequesterID:      call.RequesterID,
		RequesterEmail:   call.RequesterEmail,
		CounterpartID:    call.CounterpartID,
		CounterpartEmail: call.CounterpartEmail,
		StartTime:        call.Interval.Start,
		EndTime:          call.Interval.End,
		Title:            call.Title,
		Description:      call.Description,
		OccurredAt:       time.Now().UTC(),
	})
}

func scanCall(row pgx.Row) (booking.Call, error) {
	var c booking.Call
	var start, end time.Time
	err := row.Scan(&c.ID, &c.RequesterID, &c.RequesterEmail, &c.CounterpartID, &c.CounterpartEmail,
		&start, &end, &c.Title, &c.Description, &c.Notes,
		(*string)(&c.Status), (*string)(&c.PaymentStatus), &c.PaymentAmount, &c.PaymentCurrency,
		&c.PaymentOrderID, &c.PaymentID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return booking.Call{}, err
	}
	c.Interval = interval.Interval{Start: start.UTC(), End: end.UTC()}
	return c, nil
}
