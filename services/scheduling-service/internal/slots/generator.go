package slots

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
)

// ValidationError is a request problem the caller can fix. Handlers map it to
// a 4xx response with the reason verbatim.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

const maxRangeDays = 90

const (
	minSlotCount = 1
	maxSlotCount = 10
)

type ClockRange struct {
	Start string
	End   string
}

type SingleRequest struct {
	Start       time.Time
	End         time.Time
	Timezone    string
	Title       string
	Description string
}

type DayRequest struct {
	Date        string
	Windows     []ClockRange
	Timezone    string
	Title       string
	Description string
}

type BulkRequest struct {
	StartDate           string
	EndDate             string
	DaysOfWeek          []int
	StartTime           string
	EndTime             string
	SlotDurationMinutes int
	Timezone            string
	Title               string
	Description         string
}

type DayConfig struct {
	DayOfWeek           int
	StartTime           string
	EndTime             string
	SlotCount           int
	SlotDurationMinutes int
	BreakMinutes        int
}

type FlexibleRequest struct {
	StartDate   string
	EndDate     string
	DayConfigs  []DayConfig
	Timezone    string
	Title       string
	Description string
}

type WeeklyConfig struct {
	DayOfWeek int
	StartTime string
	EndTime   string
}

type WeeklyRequest struct {
	DayConfigs  []WeeklyConfig
	Timezone    string
	Title       string
	Description string
}

// BatchResult reports partial success: Requested counts every candidate the
// request described, Slots holds only the ones that survived conflict checks.
type BatchResult struct {
	Requested int
	Slots     []Slot
}

// TemplateStore lists an owner's weekly recurring templates so the weekly
// mode can skip exact duplicates.
type TemplateStore interface {
	ListRecurring(ctx context.Context, ownerID string) ([]Slot, error)
}

// Generator synthesizes candidate slots from recurrence descriptions. Every
// dated candidate passes the conflict checker before it is accepted; within
// one batch, accepted candidates also guard against each other.
type Generator struct {
	checker   *ConflictChecker
	templates TemplateStore
	now       func() time.Time
	logger    *slog.Logger
}

func NewGenerator(checker *ConflictChecker, templates TemplateStore, logger *slog.Logger) *Generator {
	return &Generator{checker: checker, templates: templates, now: time.Now, logger: logger}
}

// Single validates and conflict-checks one explicit slot.
func (g *Generator) Single(ctx context.Context, ownerID string, req SingleRequest) (Slot, error) {
	if !req.End.After(req.Start) {
		return Slot{}, invalidf("start time must be before end time")
	}
	if req.Start.Before(g.now()) {
		return Slot{}, invalidf("cannot create slots in the past")
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return Slot{}, invalidf("unknown timezone %q", tz)
	}

	iv := interval.Interval{Start: req.Start.UTC(), End: req.End.UTC()}
	if err := g.checker.Check(ctx, ownerID, iv, ""); err != nil {
		return Slot{}, err
	}
	return g.newSlot(ownerID, iv, tz, req.Title, req.Description), nil
}

// Day creates slots from explicit start/end clock pairs on one date.
// Conflicting candidates are skipped; the batch fails only when nothing
// survives.
func (g *Generator) Day(ctx context.Context, ownerID string, req DayRequest) (BatchResult, error) {
	loc, err := g.location(req.Timezone)
	if err != nil {
		return BatchResult{}, err
	}
	date, err := parseDate(req.Date, loc)
	if err != nil {
		return BatchResult{}, invalidf("%s", err)
	}
	if date.Before(todayStart(g.now(), loc)) {
		return BatchResult{}, invalidf("cannot create slots for past dates")
	}
	if len(req.Windows) == 0 {
		return BatchResult{}, invalidf("at least one time slot must be provided")
	}

	res := BatchResult{Requested: len(req.Windows)}
	var accepted []interval.Interval
	for _, w := range req.Windows {
		startMin, err := parseClock(w.Start)
		if err != nil {
			return BatchResult{}, invalidf("%s", err)
		}
		endMin, err := parseClock(w.End)
		if err != nil {
			return BatchResult{}, invalidf("%s", err)
		}
		if startMin >= endMin {
			return BatchResult{}, invalidf("start time %s must be before end time %s", w.Start, w.End)
		}

		iv := clockInterval(date, startMin, endMin)
		if !g.accept(ctx, ownerID, iv, accepted) {
			continue
		}
		accepted = append(accepted, iv)
		res.Slots = append(res.Slots, g.newSlot(ownerID, iv, timezoneOrUTC(req.Timezone), req.Title, req.Description))
	}

	if len(res.Slots) == 0 {
		return BatchResult{}, invalidf("no valid slots could be created due to conflicts")
	}
	return res, nil
}

// Bulk slices a daily window into consecutive fixed-duration slots across a
// date range, on the selected weekdays only.
func (g *Generator) Bulk(ctx context.Context, ownerID string, req BulkRequest) (BatchResult, error) {
	loc, err := g.location(req.Timezone)
	if err != nil {
		return BatchResult{}, err
	}
	startDate, endDate, err := g.dateRange(req.StartDate, req.EndDate, loc)
	if err != nil {
		return BatchResult{}, err
	}
	startMin, err := parseClock(req.StartTime)
	if err != nil {
		return BatchResult{}, invalidf("%s", err)
	}
	endMin, err := parseClock(req.EndTime)
	if err != nil {
		return BatchResult{}, invalidf("%s", err)
	}
	if startMin >= endMin {
		return BatchResult{}, invalidf("start time must be before end time")
	}
	if !ValidDuration(req.SlotDurationMinutes) {
		return BatchResult{}, invalidf("slot duration must be one of 15, 30, 45, 60, 90 or 120 minutes")
	}
	if len(req.DaysOfWeek) == 0 {
		return BatchResult{}, invalidf("at least one day of week must be selected")
	}
	days := map[int]bool{}
	for _, d := range req.DaysOfWeek {
		if d < 0 || d > 6 {
			return BatchResult{}, invalidf("day of week %d is out of range 0-6", d)
		}
		days[d] = true
	}

	var res BatchResult
	var accepted []interval.Interval
	for date := startDate; !date.After(endDate); date = date.AddDate(0, 0, 1) {
		if !days[weekdayIndex(date)] {
			continue
		}
		for slotStart := startMin; slotStart+req.SlotDurationMinutes <= endMin; slotStart += req.SlotDurationMinutes {
			res.Requested++
			iv := clockInterval(date, slotStart, slotStart+req.SlotDurationMinutes)
			if !g.accept(ctx, ownerID, iv, accepted) {
				continue
			}
			accepted = append(accepted, iv)
			res.Slots = append(res.Slots, g.newSlot(ownerID, iv, timezoneOrUTC(req.Timezone), req.Title, req.Description))
		}
	}

	if len(res.Slots) == 0 {
		return BatchResult{}, invalidf("no valid slots could be created")
	}
	return res, nil
}

// Flexible applies a distinct window, count, duration and break per weekday
// across a date range. A day whose window cannot fit the requested slots is
// skipped with a warning.
func (g *Generator) Flexible(ctx context.Context, ownerID string, req FlexibleRequest) (BatchResult, error) {
	loc, err := g.location(req.Timezone)
	if err != nil {
		return BatchResult{}, err
	}
	startDate, endDate, err := g.dateRange(req.StartDate, req.EndDate, loc)
	if err != nil {
		return BatchResult{}, err
	}
	if len(req.DayConfigs) == 0 {
		return BatchResult{}, invalidf("at least one day configuration must be provided")
	}

	configs := map[int]DayConfig{}
	for _, cfg := range req.DayConfigs {
		if cfg.DayOfWeek < 0 || cfg.DayOfWeek > 6 {
			return BatchResult{}, invalidf("day of week %d is out of range 0-6", cfg.DayOfWeek)
		}
		if _, dup := configs[cfg.DayOfWeek]; dup {
			return BatchResult{}, invalidf("duplicate configuration for day %d", cfg.DayOfWeek)
		}
		if cfg.SlotCount < minSlotCount || cfg.SlotCount > maxSlotCount {
			return BatchResult{}, invalidf("slot count must be between %d and %d", minSlotCount, maxSlotCount)
		}
		if !ValidDuration(cfg.SlotDurationMinutes) {
			return BatchResult{}, invalidf("slot duration must be one of 15, 30, 45, 60, 90 or 120 minutes")
		}
		if cfg.BreakMinutes < 0 {
			return BatchResult{}, invalidf("break between slots cannot be negative")
		}
		configs[cfg.DayOfWeek] = cfg
	}

	var res BatchResult
	var accepted []interval.Interval
	for date := startDate; !date.After(endDate); date = date.AddDate(0, 0, 1) {
		cfg, ok := configs[weekdayIndex(date)]
		if !ok {
			continue
		}
		startMin, err := parseClock(cfg.StartTime)
		if err != nil {
			return BatchResult{}, invalidf("%s", err)
		}
		endMin, err := parseClock(cfg.EndTime)
		if err != nil {
			return BatchResult{}, invalidf("%s", err)
		}
		if startMin >= endMin {
			return BatchResult{}, invalidf("start time %s must be before end time %s for day %d", cfg.StartTime, cfg.EndTime, cfg.DayOfWeek)
		}

		required := cfg.SlotCount*cfg.SlotDurationMinutes + (cfg.SlotCount-1)*cfg.BreakMinutes
		if endMin-startMin < required {
			g.logger.Warn("window too small for requested slots",
				"owner_id", ownerID,
				"date", date.Format("2006-01-02"),
				"day_of_week", cfg.DayOfWeek,
				"slot_count", cfg.SlotCount,
			)
			continue
		}

		slotStart := startMin
		for i := 0; i < cfg.SlotCount; i++ {
			res.Requested++
			iv := clockInterval(date, slotStart, slotStart+cfg.SlotDurationMinutes)
			if g.accept(ctx, ownerID, iv, accepted) {
				accepted = append(accepted, iv)
				res.Slots = append(res.Slots, g.newSlot(ownerID, iv, timezoneOrUTC(req.Timezone), req.Title, req.Description))
			}
			slotStart += cfg.SlotDurationMinutes + cfg.BreakMinutes
		}
	}

	if len(res.Slots) == 0 {
		return BatchResult{}, invalidf("no valid slots could be created")
	}
	return res, nil
}

// Weekly stores one recurring template per weekday config. Templates are not
// expanded into dated slots; an exact duplicate of an existing template is
// skipped.
func (g *Generator) Weekly(ctx context.Context, ownerID string, req WeeklyRequest) (BatchResult, error) {
	if len(req.DayConfigs) == 0 {
		return BatchResult{}, invalidf("at least one day configuration must be provided")
	}
	tz := timezoneOrUTC(req.Timezone)
	if _, err := time.LoadLocation(tz); err != nil {
		return BatchResult{}, invalidf("unknown timezone %q", req.Timezone)
	}

	existing, err := g.templates.ListRecurring(ctx, ownerID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list recurring slots for %s: %w", ownerID, err)
	}

	seen := map[int]bool{}
	res := BatchResult{Requested: len(req.DayConfigs)}
	for _, cfg := range req.DayConfigs {
		if cfg.DayOfWeek < 0 || cfg.DayOfWeek > 6 {
			return BatchResult{}, invalidf("day of week %d is out of range 0-6", cfg.DayOfWeek)
		}
		if seen[cfg.DayOfWeek] {
			return BatchResult{}, invalidf("duplicate configuration for day %d", cfg.DayOfWeek)
		}
		seen[cfg.DayOfWeek] = true

		startMin, err := parseClock(cfg.StartTime)
		if err != nil {
			return BatchResult{}, invalidf("%s", err)
		}
		endMin, err := parseClock(cfg.EndTime)
		if err != nil {
			return BatchResult{}, invalidf("%s", err)
		}
		if startMin >= endMin {
			return BatchResult{}, invalidf("start time %s must be before end time %s for %s", cfg.StartTime, cfg.EndTime, DayName(cfg.DayOfWeek))
		}

		if hasTemplate(existing, cfg.DayOfWeek, cfg.StartTime, cfg.EndTime) {
			g.logger.Warn("weekly template already exists",
				"owner_id", ownerID,
				"day", DayName(cfg.DayOfWeek),
				"start_time", cfg.StartTime,
				"end_time", cfg.EndTime,
			)
			continue
		}

		day := cfg.DayOfWeek
		now := g.now().UTC()
		res.Slots = append(res.Slots, Slot{
			ID:               uuid.NewString(),
			OwnerID:          ownerID,
			DayOfWeek:        &day,
			StartClock:       cfg.StartTime,
			EndClock:         cfg.EndTime,
			Timezone:         tz,
			Title:            req.Title,
			Description:      req.Description,
			Status:           StatusAvailable,
			Recurring:        true,
			RecurringPattern: "weekly",
			DurationMinutes:  endMin - startMin,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	if len(res.Slots) == 0 {
		return BatchResult{}, invalidf("no new slots could be created, all may already exist")
	}
	return res, nil
}

// accept runs the batch-internal overlap check and the stored-slot conflict
// check; a rejected candidate is logged and dropped.
func (g *Generator) accept(ctx context.Context, ownerID string, iv interval.Interval, batch []interval.Interval) bool {
	for _, other := range batch {
		if iv.Overlaps(other) {
			g.logger.Warn("skipping slot overlapping earlier candidate in batch",
				"owner_id", ownerID,
				"start", iv.Start.Format(time.RFC3339),
				"end", iv.End.Format(time.RFC3339),
			)
			return false
		}
	}
	if err := g.checker.Check(ctx, ownerID, iv, ""); err != nil {
		g.logger.Warn("skipping conflicting slot",
			"owner_id", ownerID,
			"start", iv.Start.Format(time.RFC3339),
			"end", iv.End.Format(time.RFC3339),
			"err", err,
		)
		return false
	}
	return true
}

func (g *Generator) newSlot(ownerID string, iv interval.Interval, tz, title, description string) Slot {
	now := g.now().UTC()
	return Slot{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Interval:        iv,
		Timezone:        tz,
		Title:           title,
		Description:     description,
		Status:          StatusAvailable,
		DurationMinutes: int(iv.Duration() / time.Minute),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (g *Generator) location(tz string) (*time.Location, error) {
	loc, err := time.LoadLocation(timezoneOrUTC(tz))
	if err != nil {
		return nil, invalidf("unknown timezone %q", tz)
	}
	return loc, nil
}

func (g *Generator) dateRange(start, end string, loc *time.Location) (time.Time, time.Time, error) {
	startDate, err := parseDate(start, loc)
	if err != nil {
		return time.Time{}, time.Time{}, invalidf("%s", err)
	}
	endDate, err := parseDate(end, loc)
	if err != nil {
		return time.Time{}, time.Time{}, invalidf("%s", err)
	}
	if !endDate.After(startDate) {
		return time.Time{}, time.Time{}, invalidf("start date must be before end date")
	}
	if startDate.Before(todayStart(g.now(), loc)) {
		return time.Time{}, time.Time{}, invalidf("cannot create slots for past dates")
	}
	if endDate.After(startDate.AddDate(0, 0, maxRangeDays)) {
		return time.Time{}, time.Time{}, invalidf("date range cannot exceed %d days", maxRangeDays)
	}
	return startDate, endDate, nil
}

func timezoneOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}

func todayStart(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// clockInterval builds the UTC interval for [startMin, endMin) minutes from
// midnight on the given local date.
func clockInterval(date time.Time, startMin, endMin int) interval.Interval {
	y, m, d := date.Date()
	loc := date.Location()
	return interval.Interval{
		Start: time.Date(y, m, d, startMin/60, startMin%60, 0, 0, loc).UTC(),
		End:   time.Date(y, m, d, endMin/60, endMin%60, 0, 0, loc).UTC(),
	}
}

func hasTemplate(existing []Slot, dayOfWeek int, startClock, endClock string) bool {
	for _, s := range existing {
		if s.DayOfWeek != nil && *s.DayOfWeek == dayOfWeek && s.StartClock == startClock && s.EndClock == endClock {
			return true
		}
	}
	return false
}
