package slots

import (
	"fmt"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusBooked    Status = "booked"
	StatusBlocked   Status = "blocked"
	StatusCancelled Status = "cancelled"
)

// Slot is a bookable unit of an owner's time. Dated slots carry a concrete
// UTC interval; weekly recurring templates carry DayOfWeek plus clock times
// and are never expanded into dated rows.
type Slot struct {
	ID               string
	OwnerID          string
	Interval         interval.Interval
	DayOfWeek        *int // 0=Monday..6=Sunday, set only for recurring templates
	StartClock       string
	EndClock         string
	Timezone         string
	Title            string
	Description      string
	Status           Status
	Recurring        bool
	RecurringPattern string
	DurationMinutes  int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

var validDurations = map[int]bool{15: true, 30: true, 45: true, 60: true, 90: true, 120: true}

// ValidDuration reports whether minutes is one of the supported slot lengths.
func ValidDuration(minutes int) bool {
	return validDurations[minutes]
}

var dayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DayName returns the name for a 0=Monday weekday index.
func DayName(dayOfWeek int) string {
	if dayOfWeek < 0 || dayOfWeek >= len(dayNames) {
		return ""
	}
	return dayNames[dayOfWeek]
}

// weekdayIndex converts time.Weekday (0=Sunday) to the 0=Monday scheme used
// on the wire and in recurring templates.
func weekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// parseClock parses an HH:MM wall-clock value into minutes from midnight.
func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("time %q is not in HH:MM format", value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// parseDate parses a YYYY-MM-DD date in the given location.
func parseDate(value string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not in YYYY-MM-DD format", value)
	}
	return d, nil
}
