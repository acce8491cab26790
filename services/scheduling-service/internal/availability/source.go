package availability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

// ErrNoCredentials means the participant has no linked calendar. Single-user
// queries surface it; batch queries degrade the participant to empty
// availability instead.
var ErrNoCredentials = errors.New("no calendar credentials linked")

type EventClass string

const (
	ClassFree    EventClass = "free"
	ClassBlocked EventClass = "blocked"
	ClassBusy    EventClass = "busy"
)

// BusyEvent is one calendar event as reported by the external calendar.
type BusyEvent struct {
	ID       string
	Title    string
	Interval interval.Interval
	Class    EventClass
	AllDay   bool
}

// Source fetches a participant's calendar events for a time range.
type Source interface {
	FetchEvents(ctx context.Context, participantID string, from, to time.Time) ([]BusyEvent, error)
}

var blockedKeywords = []string{"out of office", "ooo", "vacation", "holiday"}

// Classify maps a calendar event's transparency marker and title onto an
// event class. Transparent events count as free time; out-of-office style
// titles are blocked; everything else is busy.
func Classify(title string, transparent bool) EventClass {
	if transparent {
		return ClassFree
	}
	lower := strings.ToLower(title)
	for _, kw := range blockedKeywords {
		if strings.Contains(lower, kw) {
			return ClassBlocked
		}
	}
	return ClassBusy
}
