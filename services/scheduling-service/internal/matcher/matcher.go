package matcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/availability"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

// ParticipantAvailability is one participant's free slots within a batch
// query. Failed participants are still listed, with zero slots, so the caller
// can tell "no availability" apart from "lookup failed".
type ParticipantAvailability struct {
	ParticipantID string
	Free          []availability.Slot
	Failed        bool
	FailureReason string
}

// CommonSlot is a window where at least two participants are simultaneously
// free for the full window.
type CommonSlot struct {
	Interval       interval.Interval
	ParticipantIDs []string
}

type Result struct {
	Participants []ParticipantAvailability
	Common       []CommonSlot
}

// Matcher fans availability analysis out across participants and intersects
// the results. Common windows are found by true interval intersection over
// segment boundaries, so staggered free windows still match on their overlap.
type Matcher struct {
	analyzer *availability.Analyzer
	logger   *slog.Logger
}

func New(analyzer *availability.Analyzer, logger *slog.Logger) *Matcher {
	return &Matcher{analyzer: analyzer, logger: logger}
}

// Match runs one availability analysis per participant concurrently. A
// participant whose lookup fails (missing credentials, calendar error)
// degrades to empty availability and never aborts the batch.
func (m *Matcher) Match(ctx context.Context, participantIDs []string, startDate, endDate time.Time, minDuration time.Duration) (Result, error) {
	res := Result{Participants: make([]ParticipantAvailability, len(participantIDs))}

	var wg sync.WaitGroup
	for i, id := range participantIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			slots, err := m.analyzer.FreeSlots(ctx, id, startDate, endDate, minDuration)
			if err != nil {
				m.logger.Warn("participant availability lookup failed",
					"participant_id", id,
					"err", err,
				)
				res.Participants[i] = ParticipantAvailability{
					ParticipantID: id,
					Failed:        true,
					FailureReason: err.Error(),
				}
				return
			}
			res.Participants[i] = ParticipantAvailability{ParticipantID: id, Free: slots}
		}(i, id)
	}
	wg.Wait()

	res.Common = commonSlots(res.Participants, minDuration)

	m.logger.Info("batch availability matched",
		"participants", len(participantIDs),
		"common_slots", len(res.Common),
	)
	return res, nil
}

// commonSlots sweeps the union of all free-interval boundaries and, for each
// elementary segment, records which participants are free across the whole
// segment. Adjacent segments with the same participant set merge back into
// one window; windows shorter than minDuration or covering fewer than two
// participants are dropped.
func commonSlots(participants []ParticipantAvailability, minDuration time.Duration) []CommonSlot {
	type freeSet struct {
		id        string
		intervals []interval.Interval
	}

	var sets []freeSet
	boundarySet := map[time.Time]bool{}
	for _, p := range participants {
		if len(p.Free) == 0 {
			continue
		}
		ivs := make([]interval.Interval, 0, len(p.Free))
		for _, s := range p.Free {
			ivs = append(ivs, s.Interval)
		}
		ivs = interval.Merge(ivs)
		sets = append(sets, freeSet{id: p.ParticipantID, intervals: ivs})
		for _, iv := range ivs {
			boundarySet[iv.Start] = true
			boundarySet[iv.End] = true
		}
	}
	if len(sets) < 2 {
		return nil
	}

	boundaries := make([]time.Time, 0, len(boundarySet))
	for b := range boundarySet {
		boundaries = append(boundaries, b)
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i].Before(boundaries[j]) })

	var out []CommonSlot
	for i := 0; i+1 < len(boundaries); i++ {
		segment := interval.Interval{Start: boundaries[i], End: boundaries[i+1]}

		var ids []string
		for _, fs := range sets {
			for _, iv := range fs.intervals {
				if iv.Contains(segment) {
					ids = append(ids, fs.id)
					break
				}
			}
		}
		if len(ids) < 2 {
			continue
		}

		if n := len(out); n > 0 && out[n-1].Interval.End.Equal(segment.Start) && sameIDs(out[n-1].ParticipantIDs, ids) {
			out[n-1].Interval.End = segment.End
			continue
		}
		out = append(out, CommonSlot{Interval: segment, ParticipantIDs: ids})
	}

	filtered := out[:0]
	for _, c := range out {
		if c.Interval.Duration() >= minDuration {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
