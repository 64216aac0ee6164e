package handler

import (
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/dukerupert/stayvia/internal/auth"
	"github.com/dukerupert/stayvia/internal/store"
)

type UserHandler struct {
	users  *store.UserStore
	logger *slog.Logger
}

func NewUserHandler(users *store.UserStore, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// Me handles GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	if u == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateMe handles PUT /api/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			writeError(w, http.StatusBadRequest, "invalid email")
			return
		}
	}

	u, err := h.users.Upsert(r.Context(), auth.UserID(r.Context()), req.Name, req.Email)
	if err != nil {
		h.logger.Error("upsert user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
