package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/availability"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/matcher"
)

type fakeCalendarSource struct {
	events map[string][]availability.BusyEvent
	errs   map[string]error
}

func (f *fakeCalendarSource) FetchEvents(_ context.Context, participantID string, _, _ time.Time) ([]availability.BusyEvent, error) {
	if err := f.errs[participantID]; err != nil {
		return nil, err
	}
	return f.events[participantID], nil
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func newAvailabilityHandler(source availability.Source) *AvailabilityHandler {
	logger := testLogger()
	analyzer := availability.NewAnalyzer(source, availability.DefaultDayWindow, logger)
	return NewAvailabilityHandler(analyzer, matcher.New(analyzer, logger), logger)
}

func busyAt(day string, startHour, endHour int) availability.BusyEvent {
	date, _ := time.Parse("2006-01-02", day)
	return availability.BusyEvent{
		ID:    "evt-1",
		Title: "1:1",
		Interval: interval.Interval{
			Start: date.Add(time.Duration(startHour) * time.Hour),
			End:   date.Add(time.Duration(endHour) * time.Hour),
		},
		Class: availability.ClassBusy,
	}
}

func TestAnalyzeReturnsFreeSlotsAroundBusyEvent(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{
		events: map[string][]availability.BusyEvent{
			"user-1": {busyAt("2025-03-10", 12, 13)},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability?participant_id=user-1&start_date=2025-03-10&end_date=2025-03-10", nil)
	rw := httptest.NewRecorder()
	h.Analyze(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp availabilityResponse
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Free) != 2 {
		t.Fatalf("expected 2 free slots, got %d", len(resp.Free))
	}
	if !strings.HasSuffix(resp.Free[0].EndTime, "12:00:00Z") {
		t.Fatalf("first free slot should end at the busy event, got %s", resp.Free[0].EndTime)
	}
	if !strings.HasSuffix(resp.Free[1].StartTime, "13:00:00Z") {
		t.Fatalf("second free slot should start after the busy event, got %s", resp.Free[1].StartTime)
	}
}

func TestAnalyzeRejectsMissingParticipant(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability?start_date=2025-03-10&end_date=2025-03-10", nil)
	rw := httptest.NewRecorder()
	h.Analyze(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestAnalyzeDefaultsToThirtyDayWindow(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability?participant_id=user-1", nil)
	rw := httptest.NewRecorder()
	h.Analyze(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 without explicit dates, got %d: %s", rw.Code, rw.Body.String())
	}

	var resp struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	start, err := time.Parse("2006-01-02", resp.StartDate)
	if err != nil {
		t.Fatalf("parse start_date: %v", err)
	}
	end, err := time.Parse("2006-01-02", resp.EndDate)
	if err != nil {
		t.Fatalf("parse end_date: %v", err)
	}
	if got := end.Sub(start); got != 30*24*time.Hour {
		t.Fatalf("expected a 30 day window, got %v", got)
	}
}

func TestAnalyzeRejectsRangeOverNinetyDays(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability?participant_id=user-1&start_date=2025-03-10&end_date=2326-01-01", nil)
	rw := httptest.NewRecorder()
	h.Analyze(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a 300 year range, got %d", rw.Code)
	}
	if !strings.Contains(rw.Body.String(), "90 days") {
		t.Fatalf("expected range limit message, got %q", rw.Body.String())
	}

	// Exactly 90 days stays within the limit.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/availability?participant_id=user-1&start_date=2025-03-10&end_date=2025-06-08", nil)
	rw = httptest.NewRecorder()
	h.Analyze(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for a 90 day range, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestBatchRejectsRangeOverNinetyDays(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{})

	body := `{"participant_ids":["user-a","user-b"],"start_date":"2025-03-10","end_date":"2326-01-01"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/availability/batch", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Batch(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a 300 year range, got %d", rw.Code)
	}
}

func TestAnalyzeUnlinkedCalendarConflicts(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{
		errs: map[string]error{"user-1": availability.ErrNoCredentials},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability?participant_id=user-1&start_date=2025-03-10&end_date=2025-03-10", nil)
	rw := httptest.NewRecorder()
	h.Analyze(rw, req)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unlinked calendar, got %d", rw.Code)
	}
}

func TestBatchFindsCommonWindow(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{
		events: map[string][]availability.BusyEvent{
			"user-a": {busyAt("2025-03-10", 9, 10)},
			"user-b": {busyAt("2025-03-10", 16, 18)},
		},
	})

	body := `{"participant_ids":["user-a","user-b"],"start_date":"2025-03-10","end_date":"2025-03-10","min_duration_minutes":60}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/availability/batch", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Batch(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp batchAvailabilityResponse
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.CommonSlots) != 1 {
		t.Fatalf("expected 1 common slot, got %d", len(resp.CommonSlots))
	}
	got := resp.CommonSlots[0]
	if !strings.HasSuffix(got.StartTime, "10:00:00Z") || !strings.HasSuffix(got.EndTime, "16:00:00Z") {
		t.Fatalf("expected 10:00-16:00 common window, got %s - %s", got.StartTime, got.EndTime)
	}
	if len(got.ParticipantIDs) != 2 {
		t.Fatalf("expected both participants in the common slot, got %v", got.ParticipantIDs)
	}
}

func TestBatchDegradesFailedParticipant(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{
		errs: map[string]error{"user-c": availability.ErrNoCredentials},
	})

	body := `{"participant_ids":["user-a","user-c"],"start_date":"2025-03-10","end_date":"2025-03-10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/availability/batch", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Batch(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("batch must not fail on one broken participant, got %d", rw.Code)
	}
	var resp batchAvailabilityResponse
	if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var failed *batchParticipantItem
	for i := range resp.Participants {
		if resp.Participants[i].ParticipantID == "user-c" {
			failed = &resp.Participants[i]
		}
	}
	if failed == nil || !failed.Failed {
		t.Fatal("expected user-c marked as failed")
	}
	if len(resp.CommonSlots) != 0 {
		t.Fatalf("one healthy participant cannot have common slots, got %d", len(resp.CommonSlots))
	}
}

func TestBatchRequiresTwoParticipants(t *testing.T) {
	h := newAvailabilityHandler(&fakeCalendarSource{})

	body := `{"participant_ids":["user-a"],"start_date":"2025-03-10","end_date":"2025-03-10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/availability/batch", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Batch(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}
