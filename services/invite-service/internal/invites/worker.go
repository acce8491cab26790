package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mentormesh/mentormesh/libs/db"
	otelx "github.com/mentormesh/mentormesh/libs/otel"
	"github.com/mentormesh/mentormesh/services/invite-service/internal/dlq"
	"github.com/mentormesh/mentormesh/services/invite-service/internal/email"
)

// Worker drains due invite jobs. An invite job puts the call on the
// counterpart's calendar (which mails the Google invite to both attendees)
// and sends the confirmation email; a cancel job sends the cancellation
// notice. Failed jobs retry with a fixed backoff until max attempts, then go
// to the dead letter topic.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	calendar  EventCreator
	sender    email.Sender
	dlq       *dlq.Producer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

// EventCreator puts a confirmed call on the counterpart's calendar and
// returns the event id and meeting link.
type EventCreator interface {
	CreateEvent(ctx context.Context, job Job) (eventID string, meetLink string, err error)
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, calendar EventCreator, sender email.Sender, dlqProducer *dlq.Producer, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		calendar:  calendar,
		sender:    sender,
		dlq:       dlqProducer,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("invite batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var done []int64
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.dispatch(jobCtx, job); err != nil {
			w.logger.Error("invite dispatch failed", "call_id", job.CallID, "kind", job.Kind, "err", err)
			attempts := job.Attempts + 1
			nextRunAt := time.Now().UTC().Add(w.backoff)
			if markErr := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, nextRunAt, err.Error()); markErr != nil {
				return markErr
			}
			if attempts >= job.MaxAttempts {
				if dlqErr := w.dlq.Publish(jobCtx, job.CallID, job.Kind, job.CounterpartEmail, job.RequesterEmail,
					job.StartTime, job.EndTime, err.Error()); dlqErr != nil {
					w.logger.Error("invite dlq publish failed", "call_id", job.CallID, "err", dlqErr)
				}
			}
			continue
		}
		done = append(done, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, done); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *Worker) dispatch(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindInvite:
		return w.dispatchInvite(ctx, job)
	case KindCancel:
		return w.dispatchCancel(ctx, job)
	default:
		return fmt.Errorf("unknown invite job kind %q", job.Kind)
	}
}

func (w *Worker) dispatchInvite(ctx context.Context, job Job) error {
	meetLink := ""
	eventID, link, err := w.calendar.CreateEvent(ctx, job)
	switch {
	case err == nil:
		meetLink = link
		w.logger.Info("calendar invite created",
			"call_id", job.CallID,
			"event_id", eventID,
			"counterpart_id", job.CounterpartID,
		)
	case errors.Is(err, ErrNoCredentials):
		// No linked calendar on the counterpart side. The email still goes
		// out; nothing to retry.
		w.logger.Warn("calendar invite skipped, no linked calendar", "call_id", job.CallID, "counterpart_id", job.CounterpartID)
	default:
		return fmt.Errorf("create calendar event: %w", err)
	}

	subject := "Your mentorship call is confirmed"
	if job.Title != "" {
		subject = fmt.Sprintf("Confirmed: %s", job.Title)
	}
	body := confirmationBody(job, meetLink)
	for _, to := range []string{job.RequesterEmail, job.CounterpartEmail} {
		if to == "" {
			continue
		}
		if err := w.sender.Send(to, subject, body); err != nil {
			return fmt.Errorf("send confirmation email to %s: %w", to, err)
		}
	}
	return nil
}

func (w *Worker) dispatchCancel(ctx context.Context, job Job) error {
	subject := "Your mentorship call was cancelled"
	if job.Title != "" {
		subject = fmt.Sprintf("Cancelled: %s", job.Title)
	}
	body := fmt.Sprintf(
		"The call scheduled for %s - %s has been cancelled.\r\n",
		job.StartTime.UTC().Format("Mon, 02 Jan 2006 15:04 MST"),
		job.EndTime.UTC().Format("15:04 MST"),
	)
	for _, to := range []string{job.RequesterEmail, job.CounterpartEmail} {
		if to == "" {
			continue
		}
		if err := w.sender.Send(to, subject, body); err != nil {
			return fmt.Errorf("send cancellation email to %s: %w", to, err)
		}
	}
	return nil
}

func confirmationBody(job Job, meetLink string) string {
	body := fmt.Sprintf(
		"Your call is confirmed for %s - %s.\r\n",
		job.StartTime.UTC().Format("Mon, 02 Jan 2006 15:04 MST"),
		job.EndTime.UTC().Format("15:04 MST"),
	)
	if job.Description != "" {
		body += "\r\n" + job.Description + "\r\n"
	}
	if meetLink != "" {
		body += "\r\nJoin: " + meetLink + "\r\n"
	}
	return body
}
