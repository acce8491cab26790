package matcher

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/availability"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

type multiSource struct {
	events map[string][]availability.BusyEvent
	errs   map[string]error
}

func (m *multiSource) FetchEvents(ctx context.Context, participantID string, from, to time.Time) ([]availability.BusyEvent, error) {
	if err := m.errs[participantID]; err != nil {
		return nil, err
	}
	return m.events[participantID], nil
}

func busy(start, end time.Time) availability.BusyEvent {
	return availability.BusyEvent{Interval: interval.Interval{Start: start, End: end}, Class: availability.ClassBusy}
}

func newTestMatcher(src *multiSource) *Matcher {
	analyzer := availability.NewAnalyzer(src, availability.DefaultDayWindow, slog.Default())
	return New(analyzer, slog.Default())
}

func TestMatchIntersectsStaggeredWindows(t *testing.T) {
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	// A is free 09:00-12:00, B is free 10:00-13:00. The overlap 10:00-12:00
	// must be found even though the windows do not align exactly.
	src := &multiSource{events: map[string][]availability.BusyEvent{
		"a": {busy(at(12), at(18))},
		"b": {busy(at(9), at(10)), busy(at(13), at(18))},
	}}
	m := newTestMatcher(src)

	res, err := m.Match(context.Background(), []string{"a", "b"}, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(res.Common) != 1 {
		t.Fatalf("common slots = %d, want 1", len(res.Common))
	}
	c := res.Common[0]
	if !c.Interval.Start.Equal(at(10)) || !c.Interval.End.Equal(at(12)) {
		t.Fatalf("common interval = %s..%s, want 10:00..12:00", c.Interval.Start, c.Interval.End)
	}
	if len(c.ParticipantIDs) != 2 {
		t.Fatalf("participants = %v, want both", c.ParticipantIDs)
	}
}

func TestMatchIdenticalWindowsListBothParticipants(t *testing.T) {
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	// Both are free exactly 14:00-15:00.
	src := &multiSource{events: map[string][]availability.BusyEvent{
		"a": {busy(at(9), at(14)), busy(at(15), at(18))},
		"b": {busy(at(9), at(14)), busy(at(15), at(18))},
	}}
	m := newTestMatcher(src)

	res, err := m.Match(context.Background(), []string{"a", "b"}, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(res.Common) != 1 {
		t.Fatalf("common slots = %d, want 1", len(res.Common))
	}
	c := res.Common[0]
	if !c.Interval.Start.Equal(at(14)) || !c.Interval.End.Equal(at(15)) {
		t.Fatalf("common interval = %s..%s", c.Interval.Start, c.Interval.End)
	}
	if len(c.ParticipantIDs) != 2 || c.ParticipantIDs[0] != "a" || c.ParticipantIDs[1] != "b" {
		t.Fatalf("participants = %v, want [a b]", c.ParticipantIDs)
	}
}

func TestMatchFailedParticipantDegradesToEmpty(t *testing.T) {
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	src := &multiSource{
		events: map[string][]availability.BusyEvent{
			"a": {busy(at(12), at(18))},
			"b": {busy(at(12), at(18))},
		},
		errs: map[string]error{"c": availability.ErrNoCredentials},
	}
	m := newTestMatcher(src)

	res, err := m.Match(context.Background(), []string{"a", "b", "c"}, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(res.Participants) != 3 {
		t.Fatalf("participants = %d, want 3", len(res.Participants))
	}
	failed := res.Participants[2]
	if failed.ParticipantID != "c" || !failed.Failed || len(failed.Free) != 0 {
		t.Fatalf("failed participant not degraded: %+v", failed)
	}
	if len(res.Common) != 1 {
		t.Fatalf("common slots = %d, want a and b to still match", len(res.Common))
	}
}

func TestMatchFiltersShortCommonWindows(t *testing.T) {
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	// Overlap is only 15 minutes, below the requested hour.
	src := &multiSource{events: map[string][]availability.BusyEvent{
		"a": {busy(at(10, 15), at(18, 0))},
		"b": {busy(at(9, 0), at(10, 0)), busy(at(13, 0), at(18, 0))},
	}}
	m := newTestMatcher(src)

	res, err := m.Match(context.Background(), []string{"a", "b"}, day, day, time.Hour)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(res.Common) != 0 {
		t.Fatalf("common slots = %d, want none under minimum duration", len(res.Common))
	}
}

func TestMatchSingleParticipantHasNoCommonSlots(t *testing.T) {
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	src := &multiSource{}
	m := newTestMatcher(src)

	res, err := m.Match(context.Background(), []string{"a"}, day, day, 30*time.Minute)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(res.Common) != 0 {
		t.Fatalf("common slots = %d, want 0", len(res.Common))
	}
	if errors.Is(err, availability.ErrNoCredentials) {
		t.Fatal("unexpected credentials error")
	}
}
