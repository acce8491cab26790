package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mentormesh/mentormesh/libs/db"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/slots"
)

// SlotRepository persists slots in user_time_slots. Dated slots carry
// start_time/end_time; weekly templates carry day_of_week plus clock strings.
// A Postgres exclusion constraint on (owner_id, tstzrange(start_time,
// end_time)) for non-cancelled rows backs up the application-level conflict
// check.
type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

const slotColumns = `
	id::text, owner_id, start_time, end_time, day_of_week,
	COALESCE(start_clock, ''), COALESCE(end_clock, ''), timezone,
	COALESCE(title, ''), COALESCE(description, ''), status,
	is_recurring, COALESCE(recurring_pattern, ''), duration_minutes,
	created_at, updated_at`

// InsertBatch writes all slots in one transaction; either the whole batch
// lands or none of it does.
func (r *SlotRepository) InsertBatch(ctx context.Context, batch []slots.Slot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, s := range batch {
		if err := insertSlot(ctx, tx, s); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertSlot(ctx context.Context, tx pgx.Tx, s slots.Slot) error {
	var start, end *time.Time
	if s.Interval.Valid() {
		st, en := s.Interval.Start, s.Interval.End
		start, end = &st, &en
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO user_time_slots
			(id, owner_id, start_time, end_time, day_of_week, start_clock, end_clock,
			 timezone, title, description, status, is_recurring, recurring_pattern, duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, s.ID, s.OwnerID, start, end, s.DayOfWeek, nullIfEmpty(s.StartClock), nullIfEmpty(s.EndClock),
		s.Timezone, nullIfEmpty(s.Title), nullIfEmpty(s.Description), string(s.Status),
		s.Recurring, nullIfEmpty(s.RecurringPattern), s.DurationMinutes)
	return err
}

// ListActiveIntervals implements the conflict checker's store: dated,
// non-cancelled intervals for one owner, optionally leaving one slot out.
func (r *SlotRepository) ListActiveIntervals(ctx context.Context, ownerID, excludeID string) ([]interval.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM user_time_slots
		WHERE owner_id = $1
			AND status <> 'cancelled'
			AND start_time IS NOT NULL
			AND ($2 = '' OR id::text <> $2)
		ORDER BY start_time
	`, ownerID, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []interval.Interval
	for rows.Next() {
		var iv interval.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// ListRecurring returns the owner's weekly templates.
func (r *SlotRepository) ListRecurring(ctx context.Context, ownerID string) ([]slots.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM user_time_slots
		WHERE owner_id = $1 AND is_recurring
		ORDER BY day_of_week, start_clock
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlots(rows)
}

// List returns the owner's slots with optional weekday and status filters.
func (r *SlotRepository) List(ctx context.Context, ownerID string, dayOfWeek *int, status slots.Status, limit, offset int) ([]slots.Slot, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM user_time_slots
		WHERE owner_id = $1
			AND ($2::int IS NULL OR day_of_week = $2)
			AND ($3 = '' OR status = $3)
		ORDER BY day_of_week NULLS LAST, start_clock, start_time
		LIMIT $4 OFFSET $5
	`, ownerID, dayOfWeek, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlots(rows)
}

func (r *SlotRepository) GetByID(ctx context.Context, ownerID, slotID string) (slots.Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM user_time_slots
		WHERE id::text = $1 AND owner_id = $2
	`, slotID, ownerID)
	return scanSlot(row)
}

// Update rewrites the mutable slot fields. The caller is responsible for
// re-running the conflict check when the interval changed.
func (r *SlotRepository) Update(ctx context.Context, s slots.Slot) error {
	var start, end *time.Time
	if s.Interval.Valid() {
		st, en := s.Interval.Start, s.Interval.End
		start, end = &st, &en
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_time_slots
		SET start_time = $3,
			end_time = $4,
			timezone = $5,
			title = $6,
			description = $7,
			status = $8,
			duration_minutes = $9,
			updated_at = now()
		WHERE id::text = $1 AND owner_id = $2
	`, s.ID, s.OwnerID, start, end, s.Timezone, nullIfEmpty(s.Title), nullIfEmpty(s.Description),
		string(s.Status), s.DurationMinutes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *SlotRepository) UpdateStatus(ctx context.Context, ownerID, slotID string, status slots.Status) (slots.Slot, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_time_slots
		SET status = $3, updated_at = now()
		WHERE id::text = $1 AND owner_id = $2
	`, slotID, ownerID, string(status))
	if err != nil {
		return slots.Slot{}, err
	}
	if tag.RowsAffected() == 0 {
		return slots.Slot{}, pgx.ErrNoRows
	}
	return r.GetByID(ctx, ownerID, slotID)
}

func (r *SlotRepository) Delete(ctx context.Context, ownerID, slotID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM user_time_slots
		WHERE id::text = $1 AND owner_id = $2
	`, slotID, ownerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Summary aggregates the owner's slot counts and finds the next upcoming
// available slot.
type Summary struct {
	Total         int
	Available     int
	Booked        int
	Blocked       int
	Upcoming      int
	NextAvailable *slots.Slot
}

func (r *SlotRepository) Summarize(ctx context.Context, ownerID string) (Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'available'),
			COUNT(*) FILTER (WHERE status = 'booked'),
			COUNT(*) FILTER (WHERE status = 'blocked'),
			COUNT(*) FILTER (WHERE start_time > now())
		FROM user_time_slots
		WHERE owner_id = $1
	`, ownerID).Scan(&s.Total, &s.Available, &s.Booked, &s.Blocked, &s.Upcoming)
	if err != nil {
		return Summary{}, err
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM user_time_slots
		WHERE owner_id = $1 AND status = 'available' AND start_time > now()
		ORDER BY start_time
		LIMIT 1
	`, ownerID)
	next, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, nil
		}
		return Summary{}, err
	}
	s.NextAvailable = &next
	return s, nil
}

func scanSlots(rows pgx.Rows) ([]slots.Slot, error) {
	var out []slots.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSlot(row pgx.Row) (slots.Slot, error) {
	var s slots.Slot
	var start, end *time.Time
	var dayOfWeek *int
	err := row.Scan(&s.ID, &s.OwnerID, &start, &end, &dayOfWeek,
		&s.StartClock, &s.EndClock, &s.Timezone, &s.Title, &s.Description,
		(*string)(&s.Status), &s.Recurring, &s.RecurringPattern, &s.DurationMinutes,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return slots.Slot{}, err
	}
	if start != nil && end != nil {
		s.Interval = interval.Interval{Start: start.UTC(), End: end.UTC()}
	}
	s.DayOfWeek = dayOfWeek
	return s, nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// IsConflict reports an exclusion-constraint violation, raised when two
// transactions race to book overlapping intervals.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
