package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/slots"
)

type fakeSlotStore struct {
	intervals []interval.Interval
	templates []slots.Slot
}

func (s *fakeSlotStore) ListActiveIntervals(_ context.Context, _, _ string) ([]interval.Interval, error) {
	return s.intervals, nil
}

func (s *fakeSlotStore) ListRecurring(_ context.Context, _ string) ([]slots.Slot, error) {
	return s.templates, nil
}

// newSlotHandler wires the generator against an in-memory store. The
// repository stays nil, so these tests cover only paths that reject before
// persistence.
func newSlotHandler(store *fakeSlotStore) *SlotHandler {
	checker := slots.NewConflictChecker(store)
	generator := slots.NewGenerator(checker, store, testLogger())
	return NewSlotHandler(generator, checker, nil, testLogger())
}

func TestSlotsMethodNotAllowed(t *testing.T) {
	h := newSlotHandler(&fakeSlotStore{})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/slots", nil)
	rw := httptest.NewRecorder()
	h.Slots(rw, req)
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}
}

func TestCreateSlotRequiresOwner(t *testing.T) {
	h := newSlotHandler(&fakeSlotStore{})
	body := `{"start_time": "2030-01-06T10:00:00Z", "end_time": "2030-01-06T11:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/slots", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Slots(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestCreateSlotInPastRejected(t *testing.T) {
	h := newSlotHandler(&fakeSlotStore{})
	body := `{"owner_id": "mentor-1", "start_time": "2020-01-06T10:00:00Z", "end_time": "2020-01-06T11:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/slots", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Slots(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for past slot, got %d", rw.Code)
	}
}

func TestCreateSlotConflict(t *testing.T) {
	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	h := newSlotHandler(&fakeSlotStore{
		intervals: []interval.Interval{{Start: start, End: start.Add(time.Hour)}},
	})
	body := fmt.Sprintf(`{"owner_id": "mentor-1", "start_time": %q, "end_time": %q}`,
		start.Add(30*time.Minute).Format(time.RFC3339), start.Add(90*time.Minute).Format(time.RFC3339))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/slots", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Slots(rw, req)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rw.Code, rw.Body.String())
	}
}

func TestCreateBulkUnsupportedDuration(t *testing.T) {
	h := newSlotHandler(&fakeSlotStore{})
	body := `{
		"owner_id": "mentor-1",
		"start_date": "2030-01-06",
		"end_date": "2030-01-10",
		"days_of_week": [0, 2],
		"start_time": "10:00",
		"end_time": "11:30",
		"slot_duration_minutes": 25
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/slots/bulk", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.CreateBulk(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for 25 minute slots, got %d", rw.Code)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	h := newSlotHandler(&fakeSlotStore{})
	body := `{"owner_id": "mentor-1", "slot_id": "slot-1", "status": "parked"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/slots/status", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.UpdateStatus(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestUpdateRequiresPairedTimes(t *testing.T) {
	h := newSlotHandler(&fakeSlotStore{})
	body := `{"owner_id": "mentor-1", "slot_id": "slot-1", "start_time": "2030-01-06T10:00:00Z"}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/slots/update", strings.NewReader(body))
	rw := httptest.NewRecorder()
	h.Update(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestDeleteRequiresIdentifiers(t *testing.T) {
	h := newSlotHandler(&fakeSlotStore{})
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/slots?owner_id=mentor-1", nil)
	rw := httptest.NewRecorder()
	h.Slots(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}
