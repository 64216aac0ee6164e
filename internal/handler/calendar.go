package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/stayvia/internal/auth"
	"github.com/dukerupert/stayvia/internal/calendar"
	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/model"
	ws "github.com/dukerupert/stayvia/internal/websocket"
)

type CalendarHandler struct {
	calendar *calendar.Service
	leases   *lease.Service
	hub      Broadcaster
	logger   *slog.Logger
}

func NewCalendarHandler(cal *calendar.Service, leases *lease.Service, hub Broadcaster, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{calendar: cal, leases: leases, hub: orNop(hub), logger: logger}
}

type leaseSyncStatus struct {
	LeaseID string                   `json:"lease_id"`
	Status  model.CalendarSyncStatus `json:"status"`
}

// SyncAll handles POST /api/calendar/sync
func (h *CalendarHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	leases, err := h.leases.ActiveLeases(r.Context(), userID)
	if err != nil {
		h.logger.Error("list active leases", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list leases")
		return
	}
	sum := h.calendar.SyncAll(r.Context(), userID, leases)
	if sum.Synced > 0 {
		h.hub.Publish(ws.NewMessage("calendar", "synced", "", map[string]any{"synced": sum.Synced}), userID)
	}
	writeJSON(w, http.StatusOK, sum)
}

// SyncLease handles POST /api/calendar/leases/{id}/sync
func (h *CalendarHandler) SyncLease(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	d, err := h.leases.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "failed to get lease")
		return
	}

	changed, err := h.calendar.SyncLease(r.Context(), userID, *d.Lease, calendar.Dues(*d.Lease))
	if err != nil {
		h.logger.Error("sync lease calendar", "lease_id", d.Lease.ID, "error", err)
		writeServiceError(w, err, "failed to sync calendar")
		return
	}
	status := h.calendar.Status(r.Context(), userID, d.Lease.ID)
	if changed {
		h.hub.Publish(ws.NewMessage("calendar", "synced", d.Lease.ID, map[string]any{"status": status}), userID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lease_id": d.Lease.ID,
		"changed":  changed,
		"status":   status,
	})
}

// Remove handles DELETE /api/calendar/leases/{id}
func (h *CalendarHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	d, err := h.leases.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "failed to get lease")
		return
	}
	if err := h.calendar.RemoveLease(r.Context(), userID, d.Lease.ID); err != nil {
		h.logger.Error("remove lease calendar", "lease_id", d.Lease.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove calendar events")
		return
	}
	h.hub.Publish(ws.NewMessage("calendar", "removed", d.Lease.ID, nil), userID)
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/calendar/status. With ?lease_id it reports one
// lease, otherwise every active lease of the user.
func (h *CalendarHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if id := r.URL.Query().Get("lease_id"); id != "" {
		d, err := h.leases.Get(r.Context(), userID, id)
		if err != nil {
			writeServiceError(w, err, "failed to get lease")
			return
		}
		writeJSON(w, http.StatusOK, leaseSyncStatus{LeaseID: d.Lease.ID, Status: h.calendar.Status(r.Context(), userID, d.Lease.ID)})
		return
	}

	leases, err := h.leases.ActiveLeases(r.Context(), userID)
	if err != nil {
		h.logger.Error("list active leases", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list leases")
		return
	}
	out := make([]leaseSyncStatus, 0, len(leases))
	for _, l := range leases {
		out = append(out, leaseSyncStatus{LeaseID: l.ID, Status: h.calendar.Status(r.Context(), userID, l.ID)})
	}
	writeJSON(w, http.StatusOK, out)
}
