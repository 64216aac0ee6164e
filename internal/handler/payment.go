package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/stayvia/internal/auth"
	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/model"
	ws "github.com/dukerupert/stayvia/internal/websocket"
)

type PaymentHandler struct {
	leases *lease.Service
	hub    Broadcaster
	loc    *time.Location
	logger *slog.Logger
}

func NewPaymentHandler(leases *lease.Service, hub Broadcaster, loc *time.Location, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{leases: leases, hub: orNop(hub), loc: loc, logger: logger}
}

// List handles GET /api/payments
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	payments, err := h.leases.Payments(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list payments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	if payments == nil {
		payments = []model.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

// Stats handles GET /api/payments/stats
func (h *PaymentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.leases.Stats(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("payment stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get payment stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type statusRequest struct {
	Status   model.PaymentStatus `json:"status"`
	PaidDate string              `json:"paid_date"`
	Method   string              `json:"payment_method"`
	Notes    string              `json:"notes"`
}

// UpdateStatus handles PUT /api/payments/{id}/status
func (h *PaymentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	u := lease.StatusUpdate{Status: req.Status, Method: req.Method, Notes: req.Notes}
	if req.PaidDate != "" {
		d, err := parseDate(req.PaidDate, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "paid_date must be YYYY-MM-DD")
			return
		}
		u.PaidDate = &d
	}

	p, err := h.leases.SetPaymentStatus(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), u)
	if err != nil {
		h.logger.Error("set payment status", "payment_id", r.PathValue("id"), "error", err)
		writeServiceError(w, err, "failed to update payment")
		return
	}
	h.hub.Publish(ws.NewMessage("payment", "updated", p.ID, map[string]any{
		"lease_id": p.LeaseID,
		"status":   p.Status,
	}), p.TenantID, p.LandlordID)
	writeJSON(w, http.StatusOK, p)
}
