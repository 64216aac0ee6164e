package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/stayvia/internal/auth"
	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/model"
	ws "github.com/dukerupert/stayvia/internal/websocket"
)

type LeaseHandler struct {
	leases *lease.Service
	hub    Broadcaster
	loc    *time.Location
	logger *slog.Logger
}

func NewLeaseHandler(leases *lease.Service, hub Broadcaster, loc *time.Location, logger *slog.Logger) *LeaseHandler {
	return &LeaseHandler{leases: leases, hub: orNop(hub), loc: loc, logger: logger}
}

type leaseRequest struct {
	TenantID      string          `json:"tenant_id"`
	PropertyTitle string          `json:"property_title"`
	StartDate     string          `json:"rental_start_date"`
	EndDate       string          `json:"rental_end_date"`
	PaymentDay    int             `json:"payment_day_of_month"`
	MonthlyAmount decimal.Decimal `json:"monthly_rent_amount"`
	Confirmed     bool            `json:"confirmed"`
}

func (req leaseRequest) input(loc *time.Location) (lease.Input, string) {
	in := lease.Input{
		TenantID:      strings.TrimSpace(req.TenantID),
		PropertyTitle: strings.TrimSpace(req.PropertyTitle),
		PaymentDay:    req.PaymentDay,
		MonthlyAmount: req.MonthlyAmount,
		Confirmed:     req.Confirmed,
	}
	var err error
	if req.StartDate != "" {
		if in.StartDate, err = parseDate(req.StartDate, loc); err != nil {
			return in, "rental_start_date must be YYYY-MM-DD"
		}
	}
	if req.EndDate != "" {
		if in.EndDate, err = parseDate(req.EndDate, loc); err != nil {
			return in, "rental_end_date must be YYYY-MM-DD"
		}
	}
	return in, ""
}

func (h *LeaseHandler) publish(action string, l *model.Lease) {
	h.hub.Publish(ws.NewMessage("lease", action, l.ID, nil), l.TenantID, l.LandlordID)
}

// Create handles POST /api/leases
func (h *LeaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	in, msg := req.input(h.loc)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	l, err := h.leases.Create(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		h.logger.Error("create lease", "error", err)
		writeServiceError(w, err, "failed to create lease")
		return
	}
	h.publish("created", l)
	writeJSON(w, http.StatusCreated, l)
}

// List handles GET /api/leases
func (h *LeaseHandler) List(w http.ResponseWriter, r *http.Request) {
	leases, err := h.leases.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list leases", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list leases")
		return
	}
	if leases == nil {
		leases = []model.Lease{}
	}
	writeJSON(w, http.StatusOK, leases)
}

// Get handles GET /api/leases/{id}
func (h *LeaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.leases.Get(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "failed to get lease")
		return
	}
	if d.Payments == nil {
		d.Payments = []model.Payment{}
	}
	writeJSON(w, http.StatusOK, d)
}

// Update handles PUT /api/leases/{id}
func (h *LeaseHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req leaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	in, msg := req.input(h.loc)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	l, err := h.leases.Update(r.Context(), auth.UserID(r.Context()), r.PathValue("id"), in)
	if err != nil {
		h.logger.Error("update lease", "error", err)
		writeServiceError(w, err, "failed to update lease")
		return
	}
	h.publish("updated", l)
	writeJSON(w, http.StatusOK, l)
}

// Confirm handles POST /api/leases/{id}/confirm
func (h *LeaseHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	l, err := h.leases.Confirm(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.logger.Error("confirm lease", "error", err)
		writeServiceError(w, err, "failed to confirm lease")
		return
	}
	h.publish("confirmed", l)
	writeJSON(w, http.StatusOK, l)
}
