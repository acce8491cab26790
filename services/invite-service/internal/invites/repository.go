package invites

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mentormesh/mentormesh/libs/db"
	otelx "github.com/mentormesh/mentormesh/libs/otel"
)

// Job kinds. An invite job creates the calendar event and mails both
// parties; a cancel job mails the cancellation notice.
const (
	KindInvite = "invite"
	KindCancel = "cancel"
)

type Job struct {
	ID               int64
	CallID           string
	Kind             string
	RequesterEmail   string
	CounterpartID    string
	CounterpartEmail string
	Title            string
	Description      string
	StartTime        time.Time
	EndTime          time.Time
	Traceparent      string
	Tracestate       string
	Attempts         int
	MaxAttempts      int
	NextRunAt        time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert enqueues one job per call and kind; a replayed call event lands on
// the unique key and does nothing.
func (r *Repository) Insert(ctx context.Context, job Job) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invite_jobs
			(call_id, kind, requester_email, counterpart_id, counterpart_email,
			 title, description, start_time, end_time, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), $10, $11)
		ON CONFLICT (call_id, kind) DO NOTHING
	`, job.CallID, job.Kind, job.RequesterEmail, job.CounterpartID, job.CounterpartEmail,
		job.Title, job.Description, job.StartTime, job.EndTime, traceparent, tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, call_id, kind, requester_email, counterpart_id, counterpart_email,
		       title, COALESCE(description, ''), start_time, end_time,
		       COALESCE(traceparent, ''), COALESCE(tracestate, ''), attempts, max_attempts, next_run_at
		FROM invite_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.CallID, &j.Kind, &j.RequesterEmail, &j.CounterpartID, &j.CounterpartEmail,
			&j.Title, &j.Description, &j.StartTime, &j.EndTime,
			&j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE invite_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE invite_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
