package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/availability"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/matcher"
)

type AvailabilityHandler struct {
	analyzer *availability.Analyzer
	matcher  *matcher.Matcher
	logger   *slog.Logger
}

func NewAvailabilityHandler(analyzer *availability.Analyzer, m *matcher.Matcher, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{analyzer: analyzer, matcher: m, logger: logger}
}

type availabilitySlotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Title     string `json:"title,omitempty"`
}

type availabilityEventItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Class     string `json:"class"`
	AllDay    bool   `json:"all_day,omitempty"`
}

type availabilityResponse struct {
	ParticipantID string                  `json:"participant_id"`
	StartDate     string                  `json:"start_date"`
	EndDate       string                  `json:"end_date"`
	Events        []availabilityEventItem `json:"events"`
	Free          []availabilitySlotItem  `json:"free_slots,omitempty"`
	Blocked       []availabilitySlotItem  `json:"blocked_slots,omitempty"`
}

// Analyze handles GET /api/v1/availability for a single participant. A
// participant without linked calendar credentials gets a 409 here; only
// batch queries degrade silently.
func (h *AvailabilityHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	participantID := strings.TrimSpace(q.Get("participant_id"))
	if participantID == "" {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}
	startDate, endDate, ok := parseDateRange(w, q.Get("start_date"), q.Get("end_date"))
	if !ok {
		return
	}
	includeFree := q.Get("include_free") != "false"
	includeBlocked := q.Get("include_blocked") != "false"

	result, err := h.analyzer.Analyze(r.Context(), participantID, startDate, endDate, includeFree, includeBlocked)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := availabilityResponse{
		ParticipantID: participantID,
		StartDate:     startDate.Format("2006-01-02"),
		EndDate:       endDate.Format("2006-01-02"),
		Events:        make([]availabilityEventItem, 0, len(result.Events)),
	}
	for _, evt := range result.Events {
		resp.Events = append(resp.Events, availabilityEventItem{
			ID:        evt.ID,
			Title:     evt.Title,
			StartTime: evt.Interval.Start.Format(time.RFC3339),
			EndTime:   evt.Interval.End.Format(time.RFC3339),
			Class:     string(evt.Class),
			AllDay:    evt.AllDay,
		})
	}
	resp.Free = availabilitySlotItems(result.Free)
	resp.Blocked = availabilitySlotItems(result.Blocked)
	writeJSON(w, http.StatusOK, resp)
}

type batchAvailabilityRequest struct {
	ParticipantIDs     []string `json:"participant_ids"`
	StartDate          string   `json:"start_date"`
	EndDate            string   `json:"end_date"`
	MinDurationMinutes int      `json:"min_duration_minutes"`
}

type batchParticipantItem struct {
	ParticipantID string                 `json:"participant_id"`
	Free          []availabilitySlotItem `json:"free_slots"`
	Failed        bool                   `json:"failed,omitempty"`
	FailureReason string                 `json:"failure_reason,omitempty"`
}

type commonSlotItem struct {
	StartTime      string   `json:"start_time"`
	EndTime        string   `json:"end_time"`
	ParticipantIDs []string `json:"participant_ids"`
}

type batchAvailabilityResponse struct {
	Participants []batchParticipantItem `json:"participants"`
	CommonSlots  []commonSlotItem       `json:"common_slots"`
}

const (
	maxBatchParticipants = 10
	maxRangeDays         = 90
)

// Batch handles POST /api/v1/availability/batch and returns per-participant
// free slots plus the windows where two or more participants overlap.
func (h *AvailabilityHandler) Batch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req batchAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	ids := make([]string, 0, len(req.ParticipantIDs))
	for _, id := range req.ParticipantIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		http.Error(w, "at least two participant_ids are required", http.StatusBadRequest)
		return
	}
	if len(ids) > maxBatchParticipants {
		http.Error(w, "too many participants, maximum is "+strconv.Itoa(maxBatchParticipants), http.StatusBadRequest)
		return
	}
	startDate, endDate, ok := parseDateRange(w, req.StartDate, req.EndDate)
	if !ok {
		return
	}
	if req.MinDurationMinutes < 0 {
		http.Error(w, "min_duration_minutes must not be negative", http.StatusBadRequest)
		return
	}
	minDuration := time.Duration(req.MinDurationMinutes) * time.Minute

	result, err := h.matcher.Match(r.Context(), ids, startDate, endDate, minDuration)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := batchAvailabilityResponse{
		Participants: make([]batchParticipantItem, 0, len(result.Participants)),
		CommonSlots:  make([]commonSlotItem, 0, len(result.Common)),
	}
	for _, p := range result.Participants {
		resp.Participants = append(resp.Participants, batchParticipantItem{
			ParticipantID: p.ParticipantID,
			Free:          availabilitySlotItems(p.Free),
			Failed:        p.Failed,
			FailureReason: p.FailureReason,
		})
	}
	for _, c := range result.Common {
		resp.CommonSlots = append(resp.CommonSlots, commonSlotItem{
			StartTime:      c.Interval.Start.Format(time.RFC3339),
			EndTime:        c.Interval.End.Format(time.RFC3339),
			ParticipantIDs: c.ParticipantIDs,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func availabilitySlotItems(in []availability.Slot) []availabilitySlotItem {
	if len(in) == 0 {
		return []availabilitySlotItem{}
	}
	out := make([]availabilitySlotItem, 0, len(in))
	for _, s := range in {
		out = append(out, availabilitySlotItem{
			StartTime: s.Interval.Start.Format(time.RFC3339),
			EndTime:   s.Interval.End.Format(time.RFC3339),
			Title:     s.Title,
		})
	}
	return out
}

func parseDateRange(w http.ResponseWriter, start, end string) (time.Time, time.Time, bool) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" && end == "" {
		// No range means the next 30 days.
		today := time.Now().UTC().Truncate(24 * time.Hour)
		return today, today.AddDate(0, 0, 30), true
	}
	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		http.Error(w, "invalid start_date, expected YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		http.Error(w, "invalid end_date, expected YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	if endDate.Before(startDate) {
		http.Error(w, "end_date must not be before start_date", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	// AddDate keeps the bound correct across DST transitions.
	if endDate.After(startDate.AddDate(0, 0, maxRangeDays)) {
		http.Error(w, "date range must not exceed 90 days", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return startDate, endDate, true
}
