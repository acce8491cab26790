package slots

import (
	"context"
	"fmt"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

// ConflictError reports the stored interval a candidate collides with.
type ConflictError struct {
	Existing interval.Interval
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("time slot conflicts with existing slot from %s to %s",
		e.Existing.Start.Format("2006-01-02T15:04:05Z07:00"),
		e.Existing.End.Format("2006-01-02T15:04:05Z07:00"))
}

// Store lists an owner's active slot intervals for conflict checks. Cancelled
// slots do not count; excludeID (may be empty) leaves one slot out so updates
// do not conflict with themselves.
type Store interface {
	ListActiveIntervals(ctx context.Context, ownerID, excludeID string) ([]interval.Interval, error)
}

type ConflictChecker struct {
	store Store
}

func NewConflictChecker(store Store) *ConflictChecker {
	return &ConflictChecker{store: store}
}

// Check returns a ConflictError if candidate overlaps any of the owner's
// active slots. Intervals are half-open, so touching boundaries do not
// conflict.
func (c *ConflictChecker) Check(ctx context.Context, ownerID string, candidate interval.Interval, excludeID string) error {
	existing, err := c.store.ListActiveIntervals(ctx, ownerID, excludeID)
	if err != nil {
		return fmt.Errorf("list slots for %s: %w", ownerID, err)
	}
	for _, iv := range existing {
		if candidate.Overlaps(iv) {
			return &ConflictError{Existing: iv}
		}
	}
	return nil
}
