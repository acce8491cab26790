package slots

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

type fakeStore struct {
	intervals []interval.Interval
	recurring []Slot
}

func (f *fakeStore) ListActiveIntervals(ctx context.Context, ownerID, excludeID string) ([]interval.Interval, error) {
	return f.intervals, nil
}

func (f *fakeStore) ListRecurring(ctx context.Context, ownerID string) ([]Slot, error) {
	return f.recurring, nil
}

func newTestGenerator(store *fakeStore, now time.Time) *Generator {
	g := NewGenerator(NewConflictChecker(store), store, slog.Default())
	g.now = func() time.Time { return now }
	return g
}

func TestBulkGeneratesSlotsOnSelectedWeekdaysOnly(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	g := newTestGenerator(&fakeStore{}, now)

	res, err := g.Bulk(context.Background(), "mentor-1", BulkRequest{
		StartDate:           "2025-01-06",
		EndDate:             "2025-01-10",
		DaysOfWeek:          []int{0, 2}, // Monday, Wednesday
		StartTime:           "10:00",
		EndTime:             "11:30",
		SlotDurationMinutes: 45,
	})
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	if len(res.Slots) != 4 {
		t.Fatalf("slots = %d, want 4", len(res.Slots))
	}

	want := []string{
		"2025-01-06T10:00:00Z",
		"2025-01-06T10:45:00Z",
		"2025-01-08T10:00:00Z",
		"2025-01-08T10:45:00Z",
	}
	for i, s := range res.Slots {
		if got := s.Interval.Start.Format(time.RFC3339); got != want[i] {
			t.Fatalf("slot %d start = %s, want %s", i, got, want[i])
		}
		if s.DurationMinutes != 45 {
			t.Fatalf("slot %d duration = %d, want 45", i, s.DurationMinutes)
		}
		if s.Status != StatusAvailable {
			t.Fatalf("slot %d status = %s", i, s.Status)
		}
	}
	for i := 0; i < len(res.Slots); i++ {
		for j := i + 1; j < len(res.Slots); j++ {
			if res.Slots[i].Interval.Overlaps(res.Slots[j].Interval) {
				t.Fatalf("slots %d and %d overlap", i, j)
			}
		}
	}
}

func TestBulkSkipsConflictingCandidates(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{intervals: []interval.Interval{{
		Start: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 6, 10, 45, 0, 0, time.UTC),
	}}}
	g := newTestGenerator(store, now)

	res, err := g.Bulk(context.Background(), "mentor-1", BulkRequest{
		StartDate:           "2025-01-06",
		EndDate:             "2025-01-07",
		DaysOfWeek:          []int{0},
		StartTime:           "10:00",
		EndTime:             "11:30",
		SlotDurationMinutes: 45,
	})
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	if res.Requested != 2 {
		t.Fatalf("requested = %d, want 2", res.Requested)
	}
	if len(res.Slots) != 1 {
		t.Fatalf("slots = %d, want 1 after conflict skip", len(res.Slots))
	}
	if got := res.Slots[0].Interval.Start.Format(time.RFC3339); got != "2025-01-06T10:45:00Z" {
		t.Fatalf("surviving slot start = %s", got)
	}
}

func TestBulkRejectsUnsupportedDuration(t *testing.T) {
	g := newTestGenerator(&fakeStore{}, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))

	_, err := g.Bulk(context.Background(), "mentor-1", BulkRequest{
		StartDate:           "2025-01-06",
		EndDate:             "2025-01-07",
		DaysOfWeek:          []int{0},
		StartTime:           "10:00",
		EndTime:             "11:00",
		SlotDurationMinutes: 25,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestBulkRejectsRangeOverNinetyDays(t *testing.T) {
	g := newTestGenerator(&fakeStore{}, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))

	_, err := g.Bulk(context.Background(), "mentor-1", BulkRequest{
		StartDate:           "2025-01-06",
		EndDate:             "2025-05-01",
		DaysOfWeek:          []int{0},
		StartTime:           "10:00",
		EndTime:             "11:00",
		SlotDurationMinutes: 30,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestBulkRejectsPastStartDate(t *testing.T) {
	g := newTestGenerator(&fakeStore{}, time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC))

	_, err := g.Bulk(context.Background(), "mentor-1", BulkRequest{
		StartDate:           "2025-01-06",
		EndDate:             "2025-01-10",
		DaysOfWeek:          []int{0},
		StartTime:           "10:00",
		EndTime:             "11:00",
		SlotDurationMinutes: 30,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestDayCreatesExplicitWindows(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	g := newTestGenerator(&fakeStore{}, now)

	res, err := g.Day(context.Background(), "mentor-1", DayRequest{
		Date: "2025-01-06",
		Windows: []ClockRange{
			{Start: "09:00", End: "09:45"},
			{Start: "14:00", End: "15:00"},
		},
	})
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if len(res.Slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(res.Slots))
	}
	if res.Slots[1].DurationMinutes != 60 {
		t.Fatalf("second slot duration = %d, want 60", res.Slots[1].DurationMinutes)
	}
}

func TestDaySkipsOverlapWithinBatch(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	g := newTestGenerator(&fakeStore{}, now)

	res, err := g.Day(context.Background(), "mentor-1", DayRequest{
		Date: "2025-01-06",
		Windows: []ClockRange{
			{Start: "09:00", End: "10:00"},
			{Start: "09:30", End: "10:30"},
		},
	})
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if len(res.Slots) != 1 {
		t.Fatalf("slots = %d, want 1 after intra-batch overlap skip", len(res.Slots))
	}
}

func TestFlexibleRespectsBreaksAndCounts(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	g := newTestGenerator(&fakeStore{}, now)

	res, err := g.Flexible(context.Background(), "mentor-1", FlexibleRequest{
		StartDate: "2025-01-06",
		EndDate:   "2025-01-07",
		DayConfigs: []DayConfig{{
			DayOfWeek:           0,
			StartTime:           "10:00",
			EndTime:             "12:00",
			SlotCount:           2,
			SlotDurationMinutes: 45,
			BreakMinutes:        15,
		}},
	})
	if err != nil {
		t.Fatalf("Flexible: %v", err)
	}
	if len(res.Slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(res.Slots))
	}
	// Second slot starts after 45m slot plus 15m break.
	if got := res.Slots[1].Interval.Start.Format(time.RFC3339); got != "2025-01-06T11:00:00Z" {
		t.Fatalf("second slot start = %s, want 11:00", got)
	}
}

func TestFlexibleSkipsDayWithTooSmallWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	g := newTestGenerator(&fakeStore{}, now)

	// 10:00-11:00 cannot fit 2x45m plus a break; the day is skipped and the
	// batch fails because nothing else was requested.
	_, err := g.Flexible(context.Background(), "mentor-1", FlexibleRequest{
		StartDate: "2025-01-06",
		EndDate:   "2025-01-07",
		DayConfigs: []DayConfig{{
			DayOfWeek:           0,
			StartTime:           "10:00",
			EndTime:             "11:00",
			SlotCount:           2,
			SlotDurationMinutes: 45,
			BreakMinutes:        15,
		}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestFlexibleRejectsSlotCountOutOfRange(t *testing.T) {
	g := newTestGenerator(&fakeStore{}, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))

	_, err := g.Flexible(context.Background(), "mentor-1", FlexibleRequest{
		StartDate: "2025-01-06",
		EndDate:   "2025-01-07",
		DayConfigs: []DayConfig{{
			DayOfWeek:           0,
			StartTime:           "08:00",
			EndTime:             "20:00",
			SlotCount:           11,
			SlotDurationMinutes: 30,
		}},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestWeeklyStoresTemplatesAndSkipsDuplicates(t *testing.T) {
	day := 1
	store := &fakeStore{recurring: []Slot{{
		OwnerID:    "mentor-1",
		DayOfWeek:  &day,
		StartClock: "10:00",
		EndClock:   "11:00",
		Recurring:  true,
	}}}
	g := newTestGenerator(store, time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))

	res, err := g.Weekly(context.Background(), "mentor-1", WeeklyRequest{
		DayConfigs: []WeeklyConfig{
			{DayOfWeek: 1, StartTime: "10:00", EndTime: "11:00"}, // duplicate
			{DayOfWeek: 3, StartTime: "14:00", EndTime: "15:30"},
		},
	})
	if err != nil {
		t.Fatalf("Weekly: %v", err)
	}
	if res.Requested != 2 {
		t.Fatalf("requested = %d, want 2", res.Requested)
	}
	if len(res.Slots) != 1 {
		t.Fatalf("slots = %d, want 1 after duplicate skip", len(res.Slots))
	}
	s := res.Slots[0]
	if s.DayOfWeek == nil || *s.DayOfWeek != 3 {
		t.Fatalf("day of week = %v, want 3", s.DayOfWeek)
	}
	if !s.Recurring || s.RecurringPattern != "weekly" {
		t.Fatalf("slot not marked weekly recurring: %+v", s)
	}
	if s.DurationMinutes != 90 {
		t.Fatalf("duration = %d, want 90", s.DurationMinutes)
	}
}

func TestSingleRejectsPastStart(t *testing.T) {
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	g := newTestGenerator(&fakeStore{}, now)

	_, err := g.Single(context.Background(), "mentor-1", SingleRequest{
		Start: now.Add(-time.Hour),
		End:   now.Add(time.Hour),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestSingleConflictIsHardFailure(t *testing.T) {
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{intervals: []interval.Interval{{
		Start: now.Add(2 * time.Hour),
		End:   now.Add(3 * time.Hour),
	}}}
	g := newTestGenerator(store, now)

	_, err := g.Single(context.Background(), "mentor-1", SingleRequest{
		Start: now.Add(2*time.Hour + 30*time.Minute),
		End:   now.Add(3*time.Hour + 30*time.Minute),
	})
	var cerr *ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestConflictCheckerAllowsTouchingIntervals(t *testing.T) {
	base := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{intervals: []interval.Interval{{Start: base, End: base.Add(time.Hour)}}}
	checker := NewConflictChecker(store)

	candidate := interval.Interval{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}
	if err := checker.Check(context.Background(), "mentor-1", candidate, ""); err != nil {
		t.Fatalf("touching interval reported as conflict: %v", err)
	}
}
