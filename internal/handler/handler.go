// Package handler implements the JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/stayvia/internal/calendar"
	"github.com/dukerupert/stayvia/internal/duedate"
	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/model"
	ws "github.com/dukerupert/stayvia/internal/websocket"
)

// Broadcaster pushes change messages to the given users' live connections.
type Broadcaster interface {
	Publish(msg ws.Message, userIDs ...string)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(ws.Message, ...string) {}

func orNop(b Broadcaster) Broadcaster {
	if b == nil {
		return nopBroadcaster{}
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(model.DateLayout, s, loc)
}

// writeServiceError maps domain errors to a status code. Anything
// unrecognised becomes a 500 with the fallback message so internal error
// text never reaches the client.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, lease.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, lease.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, calendar.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "calendar permission not granted")
	case errors.Is(err, lease.ErrInvalidInput),
		errors.Is(err, lease.ErrInvalidStatus),
		errors.Is(err, duedate.ErrMissingDates),
		errors.Is(err, duedate.ErrEndBeforeStart),
		errors.Is(err, duedate.ErrNonPositiveAmount),
		errors.Is(err, duedate.ErrInvalidPaymentDay):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
