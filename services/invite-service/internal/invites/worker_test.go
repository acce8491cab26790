package invites

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeEventCreator struct {
	err     error
	created int
}

func (f *fakeEventCreator) CreateEvent(_ context.Context, _ Job) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.created++
	return "gcal-evt-1", "https://meet.google.com/abc-defg-hij", nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func testJob(kind string) Job {
	start := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	return Job{
		ID:               1,
		CallID:           "call-1",
		Kind:             kind,
		RequesterEmail:   "mentee@example.com",
		CounterpartID:    "mentor-1",
		CounterpartEmail: "mentor@example.com",
		Title:            "Career chat",
		StartTime:        start,
		EndTime:          start.Add(time.Hour),
		MaxAttempts:      5,
	}
}

func newTestWorker(creator EventCreator, sender *fakeSender) *Worker {
	return NewWorker(nil, nil, creator, sender, nil, slog.Default(), WorkerConfig{})
}

func TestDispatchInviteSendsCalendarEventAndEmails(t *testing.T) {
	creator := &fakeEventCreator{}
	sender := &fakeSender{}
	w := newTestWorker(creator, sender)

	if err := w.dispatch(context.Background(), testJob(KindInvite)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if creator.created != 1 {
		t.Fatalf("expected 1 calendar event, got %d", creator.created)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected email to both parties, got %d", len(sender.sent))
	}
	if sender.sent[0].to != "mentee@example.com" || sender.sent[1].to != "mentor@example.com" {
		t.Fatalf("unexpected recipients: %+v", sender.sent)
	}
	if !strings.Contains(sender.sent[0].subject, "Career chat") {
		t.Fatalf("subject should carry the call title, got %q", sender.sent[0].subject)
	}
	if !strings.Contains(sender.sent[0].body, "meet.google.com") {
		t.Fatalf("body should carry the meet link, got %q", sender.sent[0].body)
	}
}

func TestDispatchInviteWithoutLinkedCalendarStillMails(t *testing.T) {
	sender := &fakeSender{}
	w := newTestWorker(&fakeEventCreator{err: ErrNoCredentials}, sender)

	if err := w.dispatch(context.Background(), testJob(KindInvite)); err != nil {
		t.Fatalf("missing credentials must not fail the job: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sender.sent))
	}
	if strings.Contains(sender.sent[0].body, "meet.google.com") {
		t.Fatal("no meet link expected without a calendar event")
	}
}

func TestDispatchInviteCalendarFailureRetries(t *testing.T) {
	sender := &fakeSender{}
	w := newTestWorker(&fakeEventCreator{err: errors.New("upstream 503")}, sender)

	if err := w.dispatch(context.Background(), testJob(KindInvite)); err == nil {
		t.Fatal("expected error for calendar failure")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("no email should go out before the calendar succeeds, got %d", len(sender.sent))
	}
}

func TestDispatchCancelSendsNotice(t *testing.T) {
	creator := &fakeEventCreator{}
	sender := &fakeSender{}
	w := newTestWorker(creator, sender)

	if err := w.dispatch(context.Background(), testJob(KindCancel)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if creator.created != 0 {
		t.Fatal("cancel jobs must not touch the calendar")
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 cancellation emails, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].subject, "Cancelled") {
		t.Fatalf("unexpected subject: %q", sender.sent[0].subject)
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	w := newTestWorker(&fakeEventCreator{}, &fakeSender{})
	if err := w.dispatch(context.Background(), testJob("reschedule")); err == nil {
		t.Fatal("expected error for unknown job kind")
	}
}
