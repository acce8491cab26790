package availability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

// DayWindow bounds free-slot analysis to working hours, expressed as minutes
// from midnight.
type DayWindow struct {
	StartMinute int
	EndMinute   int
}

// DefaultDayWindow is 09:00-18:00.
var DefaultDayWindow = DayWindow{StartMinute: 540, EndMinute: 1080}

// Slot is one free or blocked window found by the analyzer.
type Slot struct {
	Interval interval.Interval
	Class    EventClass
	Title    string
}

// Result is the availability analysis for one participant over a date range.
type Result struct {
	Events  []BusyEvent
	Free    []Slot
	Blocked []Slot
}

type Analyzer struct {
	source Source
	window DayWindow
	logger *slog.Logger
}

func NewAnalyzer(source Source, window DayWindow, logger *slog.Logger) *Analyzer {
	if window.EndMinute <= window.StartMinute {
		window = DefaultDayWindow
	}
	return &Analyzer{source: source, window: window, logger: logger}
}

// Analyze fetches the participant's events for [startDate, endDate]
// (inclusive calendar dates, UTC) and classifies each day into free and
// blocked slots bounded by the working window. A missing-credentials
// condition from the source propagates as ErrNoCredentials; the caller
// decides whether that degrades or fails.
func (a *Analyzer) Analyze(ctx context.Context, participantID string, startDate, endDate time.Time, includeFree, includeBlocked bool) (Result, error) {
	if endDate.Before(startDate) {
		return Result{}, fmt.Errorf("end date %s before start date %s",
			endDate.Format("2006-01-02"), startDate.Format("2006-01-02"))
	}

	from := dayStart(startDate)
	to := dayStart(endDate).AddDate(0, 0, 1)

	events, err := a.source.FetchEvents(ctx, participantID, from, to)
	if err != nil {
		return Result{}, err
	}

	res := Result{Events: events}
	if !includeFree && !includeBlocked {
		return res, nil
	}

	if includeBlocked {
		for _, ev := range events {
			if ev.Class != ClassBlocked {
				continue
			}
			res.Blocked = append(res.Blocked, Slot{
				Interval: ev.Interval,
				Class:    ClassBlocked,
				Title:    ev.Title,
			})
		}
		sort.Slice(res.Blocked, func(i, j int) bool {
			return res.Blocked[i].Interval.Start.Before(res.Blocked[j].Interval.Start)
		})
	}

	if includeFree {
		for day := dayStart(startDate); !day.After(dayStart(endDate)); day = day.AddDate(0, 0, 1) {
			window := interval.Interval{
				Start: day.Add(time.Duration(a.window.StartMinute) * time.Minute),
				End:   day.Add(time.Duration(a.window.EndMinute) * time.Minute),
			}

			var busy []interval.Interval
			for _, ev := range events {
				if ev.Class == ClassFree {
					continue
				}
				if ev.Interval.Overlaps(window) {
					busy = append(busy, ev.Interval)
				}
			}

			for _, gap := range interval.Subtract(window, busy) {
				res.Free = append(res.Free, Slot{Interval: gap, Class: ClassFree})
			}
		}
	}

	a.logger.Info("availability analyzed",
		"participant_id", participantID,
		"events", len(res.Events),
		"free_slots", len(res.Free),
		"blocked_slots", len(res.Blocked),
	)
	return res, nil
}

// FreeSlots is the batch-query variant: free windows of at least minDuration,
// with blocked reporting skipped.
func (a *Analyzer) FreeSlots(ctx context.Context, participantID string, startDate, endDate time.Time, minDuration time.Duration) ([]Slot, error) {
	res, err := a.Analyze(ctx, participantID, startDate, endDate, true, false)
	if err != nil {
		return nil, err
	}
	var out []Slot
	for _, s := range res.Free {
		if s.Interval.Duration() >= minDuration {
			out = append(out, s)
		}
	}
	return out, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
