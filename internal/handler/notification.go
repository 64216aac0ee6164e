package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/stayvia/internal/auth"
	"github.com/dukerupert/stayvia/internal/dedup"
	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/model"
)

type NotificationHandler struct {
	poller *dedup.Poller
	tapped *dedup.Feed
	leases *lease.Service
	logger *slog.Logger
}

func NewNotificationHandler(poller *dedup.Poller, tapped *dedup.Feed, leases *lease.Service, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{poller: poller, tapped: tapped, leases: leases, logger: logger}
}

// Poll handles POST /api/notifications/poll. Clients call it when the app
// returns to the foreground.
func (h *NotificationHandler) Poll(w http.ResponseWriter, r *http.Request) {
	res, err := h.poller.Poll(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("poll notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check payments")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Tapped handles POST /api/notifications/tapped. The body is the data
// object the notification carried. Only the payment's tenant or landlord
// may acknowledge its reminders.
func (h *NotificationHandler) Tapped(w http.ResponseWriter, r *http.Request) {
	var data model.NotificationData
	if err := decodeJSON(w, r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	userID := auth.UserID(r.Context())
	if data.UserID == "" {
		data.UserID = userID
	}
	if data.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	sig, ok := dedup.SignalFromData(data, dedup.SourceTapped)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"accepted": false})
		return
	}
	if _, err := h.leases.Payment(r.Context(), userID, sig.PaymentID); err != nil {
		if !errors.Is(err, lease.ErrNotFound) && !errors.Is(err, lease.ErrForbidden) {
			h.logger.Error("look up tapped payment", "payment_id", sig.PaymentID, "error", err)
		}
		writeServiceError(w, err, "failed to record tap")
		return
	}
	if err := h.tapped.Publish(r.Context(), sig); err != nil {
		if errors.Is(err, dedup.ErrFeedClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record tap")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}
