package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/stayvia/internal/auth"
	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/push"
	"github.com/dukerupert/stayvia/internal/store"
)

// PushSender is the part of push.Service the handler uses.
type PushSender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload push.Payload) error
	VAPIDPublicKey() string
}

var notificationTypes = map[string]bool{
	model.NotifTypeReminderTenant:   true,
	model.NotifTypeReminderLandlord: true,
	model.NotifTypeOverdueTenant:    true,
	model.NotifTypeOverdueLandlord:  true,
	model.NotifTypeRatingReminder:   true,
	model.NotifTypePaymentReceived:  true,
}

type PushHandler struct {
	pushStore *store.PushStore
	service   PushSender
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, svc PushSender, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, service: svc, logger: logger}
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh, and auth are required")
		return
	}

	sub, err := h.pushStore.CreateSubscription(r.Context(), auth.UserID(r.Context()), req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.pushStore.DeleteSubscription(r.Context(), id, auth.UserID(r.Context())); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.service.VAPIDPublicKey()})
}

// GetPreferences handles GET /api/push/preferences
func (h *PushHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.pushStore.GetPreferences(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get preferences")
		return
	}
	if prefs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type updatePreferencesRequest struct {
	Preferences []prefItem `json:"preferences"`
}

type prefItem struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// UpdatePreferences handles PUT /api/push/preferences
func (h *PushHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req updatePreferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	for _, p := range req.Preferences {
		if !notificationTypes[p.Type] {
			writeError(w, http.StatusBadRequest, "unknown notification type: "+p.Type)
			return
		}
	}

	for _, p := range req.Preferences {
		if err := h.pushStore.SetPreference(r.Context(), userID, p.Type, p.Enabled); err != nil {
			h.logger.Error("set push preference", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update preferences")
			return
		}
	}

	prefs, _ := h.pushStore.GetPreferences(r.Context(), userID)
	writeJSON(w, http.StatusOK, prefs)
}

// TestNotification handles POST /api/push/test
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	payload := push.Payload{
		Title: "Test Notification",
		Body:  "Push notifications are working!",
		URL:   "/settings",
		Tag:   "test",
	}

	sent := 0
	for _, sub := range subs {
		if err := h.service.Send(r.Context(), &sub, payload); err != nil {
			if errors.Is(err, push.ErrExpired) {
				h.pushStore.DeleteByEndpoint(r.Context(), sub.Endpoint)
			}
			h.logger.Error("test push send", "error", err)
			continue
		}
		sent++
	}

	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
