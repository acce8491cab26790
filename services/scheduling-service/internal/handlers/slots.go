package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/interval"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/slots"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/storage"
)

type SlotHandler struct {
	generator *slots.Generator
	checker   *slots.ConflictChecker
	repo      *storage.SlotRepository
	logger    *slog.Logger
}

func NewSlotHandler(generator *slots.Generator, checker *slots.ConflictChecker, repo *storage.SlotRepository, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{generator: generator, checker: checker, repo: repo, logger: logger}
}

type slotItem struct {
	SlotID           string `json:"slot_id"`
	OwnerID          string `json:"owner_id"`
	StartTime        string `json:"start_time,omitempty"`
	EndTime          string `json:"end_time,omitempty"`
	DayOfWeek        *int   `json:"day_of_week,omitempty"`
	DayName          string `json:"day_name,omitempty"`
	StartClock       string `json:"start_clock,omitempty"`
	EndClock         string `json:"end_clock,omitempty"`
	Timezone         string `json:"timezone"`
	Title            string `json:"title,omitempty"`
	Description      string `json:"description,omitempty"`
	Status           string `json:"status"`
	Recurring        bool   `json:"recurring,omitempty"`
	RecurringPattern string `json:"recurring_pattern,omitempty"`
	DurationMinutes  int    `json:"duration_minutes"`
	CreatedAt        string `json:"created_at,omitempty"`
}

type batchSlotsResponse struct {
	Requested int        `json:"requested"`
	Created   int        `json:"created"`
	Skipped   int        `json:"skipped"`
	Slots     []slotItem `json:"slots"`
}

// Slots dispatches /api/v1/slots: POST creates one slot, GET lists the
// owner's slots, DELETE removes one.
func (h *SlotHandler) Slots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSingle(w, r)
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createSlotRequest struct {
	OwnerID     string `json:"owner_id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Timezone    string `json:"timezone"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *SlotHandler) createSingle(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	slot, err := h.generator.Single(r.Context(), ownerID, slots.SingleRequest{
		Start:       start,
		End:         end,
		Timezone:    strings.TrimSpace(req.Timezone),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.repo.InsertBatch(r.Context(), []slots.Slot{slot}); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotItem(slot))
}

type createDaySlotsRequest struct {
	OwnerID     string `json:"owner_id"`
	Date        string `json:"date"`
	Windows     []struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	} `json:"windows"`
	Timezone    string `json:"timezone"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateDay handles POST /api/v1/slots/day.
func (h *SlotHandler) CreateDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createDaySlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	windows := make([]slots.ClockRange, 0, len(req.Windows))
	for _, win := range req.Windows {
		windows = append(windows, slots.ClockRange{Start: win.StartTime, End: win.EndTime})
	}

	result, err := h.generator.Day(r.Context(), ownerID, slots.DayRequest{
		Date:        strings.TrimSpace(req.Date),
		Windows:     windows,
		Timezone:    strings.TrimSpace(req.Timezone),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.persistBatch(w, r, result)
}

type createBulkSlotsRequest struct {
	OwnerID             string `json:"owner_id"`
	StartDate           string `json:"start_date"`
	EndDate             string `json:"end_date"`
	DaysOfWeek          []int  `json:"days_of_week"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	Timezone            string `json:"timezone"`
	Title               string `json:"title"`
	Description         string `json:"description"`
}

// CreateBulk handles POST /api/v1/slots/bulk.
func (h *SlotHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createBulkSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.generator.Bulk(r.Context(), ownerID, slots.BulkRequest{
		StartDate:           strings.TrimSpace(req.StartDate),
		EndDate:             strings.TrimSpace(req.EndDate),
		DaysOfWeek:          req.DaysOfWeek,
		StartTime:           strings.TrimSpace(req.StartTime),
		EndTime:             strings.TrimSpace(req.EndTime),
		SlotDurationMinutes: req.SlotDurationMinutes,
		Timezone:            strings.TrimSpace(req.Timezone),
		Title:               strings.TrimSpace(req.Title),
		Description:         strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.persistBatch(w, r, result)
}

type flexibleDayConfig struct {
	DayOfWeek           int    `json:"day_of_week"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	SlotCount           int    `json:"slot_count"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	BreakMinutes        int    `json:"break_minutes"`
}

type createFlexibleSlotsRequest struct {
	OwnerID     string              `json:"owner_id"`
	StartDate   string              `json:"start_date"`
	EndDate     string              `json:"end_date"`
	DayConfigs  []flexibleDayConfig `json:"day_configs"`
	Timezone    string              `json:"timezone"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
}

// CreateFlexible handles POST /api/v1/slots/flexible.
func (h *SlotHandler) CreateFlexible(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createFlexibleSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	configs := make([]slots.DayConfig, 0, len(req.DayConfigs))
	for _, cfg := range req.DayConfigs {
		configs = append(configs, slots.DayConfig{
			DayOfWeek:           cfg.DayOfWeek,
			StartTime:           cfg.StartTime,
			EndTime:             cfg.EndTime,
			SlotCount:           cfg.SlotCount,
			SlotDurationMinutes: cfg.SlotDurationMinutes,
			BreakMinutes:        cfg.BreakMinutes,
		})
	}

	result, err := h.generator.Flexible(r.Context(), ownerID, slots.FlexibleRequest{
		StartDate:   strings.TrimSpace(req.StartDate),
		EndDate:     strings.TrimSpace(req.EndDate),
		DayConfigs:  configs,
		Timezone:    strings.TrimSpace(req.Timezone),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.persistBatch(w, r, result)
}

type weeklyDayConfig struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type createWeeklySlotsRequest struct {
	OwnerID     string            `json:"owner_id"`
	DayConfigs  []weeklyDayConfig `json:"day_configs"`
	Timezone    string            `json:"timezone"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
}

// CreateWeekly handles POST /api/v1/slots/weekly.
func (h *SlotHandler) CreateWeekly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createWeeklySlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}
	configs := make([]slots.WeeklyConfig, 0, len(req.DayConfigs))
	for _, cfg := range req.DayConfigs {
		configs = append(configs, slots.WeeklyConfig{
			DayOfWeek: cfg.DayOfWeek,
			StartTime: cfg.StartTime,
			EndTime:   cfg.EndTime,
		})
	}

	result, err := h.generator.Weekly(r.Context(), ownerID, slots.WeeklyRequest{
		DayConfigs:  configs,
		Timezone:    strings.TrimSpace(req.Timezone),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.persistBatch(w, r, result)
}

func (h *SlotHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	var dayOfWeek *int
	if raw := strings.TrimSpace(q.Get("day_of_week")); raw != "" {
		day, err := strconv.Atoi(raw)
		if err != nil || day < 0 || day > 6 {
			http.Error(w, "day_of_week must be between 0 (Monday) and 6 (Sunday)", http.StatusBadRequest)
			return
		}
		dayOfWeek = &day
	}
	status := slots.Status(strings.TrimSpace(q.Get("status")))
	limit, offset := parsePage(q.Get("limit"), q.Get("offset"))

	list, err := h.repo.List(r.Context(), ownerID, dayOfWeek, status, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]slotItem, 0, len(list))
	for _, s := range list {
		items = append(items, toSlotItem(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

// Summary handles GET /api/v1/slots/summary.
func (h *SlotHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		http.Error(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	summary, err := h.repo.Summarize(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := map[string]any{
		"total":     summary.Total,
		"available": summary.Available,
		"booked":    summary.Booked,
		"blocked":   summary.Blocked,
		"upcoming":  summary.Upcoming,
	}
	if summary.NextAvailable != nil {
		resp["next_available"] = toSlotItem(*summary.NextAvailable)
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateSlotRequest struct {
	OwnerID     string  `json:"owner_id"`
	SlotID      string  `json:"slot_id"`
	StartTime   *string `json:"start_time"`
	EndTime     *string `json:"end_time"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// Update handles PATCH /api/v1/slots/update. Moving a slot re-runs the
// conflict check against the owner's other slots, excluding the slot itself.
func (h *SlotHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	slotID := strings.TrimSpace(req.SlotID)
	if ownerID == "" || slotID == "" {
		http.Error(w, "owner_id and slot_id are required", http.StatusBadRequest)
		return
	}
	if (req.StartTime == nil) != (req.EndTime == nil) {
		http.Error(w, "start_time and end_time must be provided together", http.StatusBadRequest)
		return
	}

	slot, err := h.repo.GetByID(r.Context(), ownerID, slotID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.StartTime != nil {
		if slot.Recurring {
			http.Error(w, "recurring templates cannot be moved, delete and recreate instead", http.StatusBadRequest)
			return
		}
		start, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			http.Error(w, "invalid start_time", http.StatusBadRequest)
			return
		}
		end, err := time.Parse(time.RFC3339, *req.EndTime)
		if err != nil {
			http.Error(w, "invalid end_time", http.StatusBadRequest)
			return
		}
		if !end.After(start) {
			http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}
		iv := interval.Interval{Start: start.UTC(), End: end.UTC()}
		if err := h.checker.Check(r.Context(), ownerID, iv, slotID); err != nil {
			writeError(w, h.logger, err)
			return
		}
		slot.Interval = iv
		slot.DurationMinutes = int(iv.Duration() / time.Minute)
	}
	if req.Title != nil {
		slot.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		slot.Description = strings.TrimSpace(*req.Description)
	}

	if err := h.repo.Update(r.Context(), slot); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotItem(slot))
}

type updateSlotStatusRequest struct {
	OwnerID string `json:"owner_id"`
	SlotID  string `json:"slot_id"`
	Status  string `json:"status"`
}

// UpdateStatus handles PATCH /api/v1/slots/status.
func (h *SlotHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateSlotStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	slotID := strings.TrimSpace(req.SlotID)
	if ownerID == "" || slotID == "" {
		http.Error(w, "owner_id and slot_id are required", http.StatusBadRequest)
		return
	}
	status := slots.Status(strings.TrimSpace(req.Status))
	switch status {
	case slots.StatusAvailable, slots.StatusBooked, slots.StatusBlocked, slots.StatusCancelled:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	slot, err := h.repo.UpdateStatus(r.Context(), ownerID, slotID, status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotItem(slot))
}

func (h *SlotHandler) delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	slotID := strings.TrimSpace(q.Get("slot_id"))
	if ownerID == "" || slotID == "" {
		http.Error(w, "owner_id and slot_id are required", http.StatusBadRequest)
		return
	}

	deleted, err := h.repo.Delete(r.Context(), ownerID, slotID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !deleted {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "slot_id": slotID})
}

func (h *SlotHandler) persistBatch(w http.ResponseWriter, r *http.Request, result slots.BatchResult) {
	if len(result.Slots) > 0 {
		if err := h.repo.InsertBatch(r.Context(), result.Slots); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	items := make([]slotItem, 0, len(result.Slots))
	for _, s := range result.Slots {
		items = append(items, toSlotItem(s))
	}
	writeJSON(w, http.StatusCreated, batchSlotsResponse{
		Requested: result.Requested,
		Created:   len(result.Slots),
		Skipped:   result.Requested - len(result.Slots),
		Slots:     items,
	})
}

func toSlotItem(s slots.Slot) slotItem {
	item := slotItem{
		SlotID:           s.ID,
		OwnerID:          s.OwnerID,
		DayOfWeek:        s.DayOfWeek,
		StartClock:       s.StartClock,
		EndClock:         s.EndClock,
		Timezone:         s.Timezone,
		Title:            s.Title,
		Description:      s.Description,
		Status:           string(s.Status),
		Recurring:        s.Recurring,
		RecurringPattern: s.RecurringPattern,
		DurationMinutes:  s.DurationMinutes,
	}
	if !s.Interval.Start.IsZero() {
		item.StartTime = s.Interval.Start.Format(time.RFC3339)
		item.EndTime = s.Interval.End.Format(time.RFC3339)
	}
	if s.DayOfWeek != nil {
		item.DayName = slots.DayName(*s.DayOfWeek)
	}
	if !s.CreatedAt.IsZero() {
		item.CreatedAt = s.CreatedAt.Format(time.RFC3339)
	}
	return item
}

func parsePage(limitRaw, offsetRaw string) (int, int) {
	limit := 50
	if v, err := strconv.Atoi(strings.TrimSpace(limitRaw)); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(strings.TrimSpace(offsetRaw)); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
