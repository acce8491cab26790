package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/availability"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/booking"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/slots"
	"github.com/mentormesh/mentormesh/services/scheduling-service/internal/storage"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes. Anything unmapped is
// a 500 and gets logged; mapped errors are the client's problem.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var slotInvalid *slots.ValidationError
	var callInvalid *booking.ValidationError
	var conflict *slots.ConflictError
	switch {
	case errors.As(err, &slotInvalid), errors.As(err, &callInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &conflict),
		errors.Is(err, booking.ErrSlotUnavailable),
		errors.Is(err, booking.ErrNotCancellable),
		storage.IsConflict(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, availability.ErrNoCredentials):
		http.Error(w, "calendar not linked", http.StatusConflict)
	case errors.Is(err, booking.ErrCounterpartNotFound):
		http.Error(w, "counterpart not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrNotFound), storage.IsNotFound(err):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrNotParticipant):
		http.Error(w, "not a participant of this call", http.StatusForbidden)
	case errors.Is(err, booking.ErrPaymentVerificationFailed):
		http.Error(w, "payment verification failed", http.StatusPaymentRequired)
	default:
		logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
