package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/stayvia/internal/calendar"
	"github.com/dukerupert/stayvia/internal/dedup"
	"github.com/dukerupert/stayvia/internal/handler"
	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/middleware"
	"github.com/dukerupert/stayvia/internal/store"
	ws "github.com/dukerupert/stayvia/internal/websocket"
)

// Deps are the components the HTTP surface is built on.
type Deps struct {
	DB        *sql.DB
	Users     *store.UserStore
	PushStore *store.PushStore
	Leases    *lease.Service
	Calendar  *calendar.Service
	Poller    *dedup.Poller
	Tapped    *dedup.Feed
	Hub       *ws.Hub
	Tokens    middleware.TokenParser
	// Push is nil when VAPID keys are not configured.
	Push handler.PushSender
}

type Config struct {
	Location       *time.Location
	AllowedOrigins []string
	// PollLimit is the number of foreground polls a user may make per minute.
	PollLimit int
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	tokens      middleware.TokenParser
	userH       *handler.UserHandler
	leaseH      *handler.LeaseHandler
	paymentH    *handler.PaymentHandler
	notifH      *handler.NotificationHandler
	calendarH   *handler.CalendarHandler
	pushH       *handler.PushHandler
	rateLimiter *middleware.RateLimiter
	origins     []string
	pollLimit   int
	logger      *slog.Logger
}

func New(cfg Config, d Deps, logger *slog.Logger) *Server {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = 30
	}

	s := &Server{
		db:          d.DB,
		hub:         d.Hub,
		tokens:      d.Tokens,
		userH:       handler.NewUserHandler(d.Users, logger.With("component", "user")),
		leaseH:      handler.NewLeaseHandler(d.Leases, d.Hub, cfg.Location, logger.With("component", "lease_handler")),
		paymentH:    handler.NewPaymentHandler(d.Leases, d.Hub, cfg.Location, logger.With("component", "payment_handler")),
		notifH:      handler.NewNotificationHandler(d.Poller, d.Tapped, d.Leases, logger.With("component", "notification_handler")),
		calendarH:   handler.NewCalendarHandler(d.Calendar, d.Leases, d.Hub, logger.With("component", "calendar_handler")),
		rateLimiter: middleware.NewRateLimiter(),
		origins:     cfg.AllowedOrigins,
		pollLimit:   cfg.PollLimit,
		logger:      logger,
	}
	if d.Push != nil {
		s.pushH = handler.NewPushHandler(d.PushStore, d.Push, logger.With("component", "push_handler"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, logged with the authenticated user
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	logged := middleware.RequestLogger(s.logger.With("component", "http"))(protectedMux)
	outerMux.Handle("/", middleware.RequireAuth(s.tokens)(logged))
	return outerMux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Error("health check", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc, limit int) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.UserKey, limit, time.Minute)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/me", s.userH.Me)
	mux.HandleFunc("PUT /api/me", s.userH.UpdateMe)

	// Lease API routes
	mux.HandleFunc("POST /api/leases", s.leaseH.Create)
	mux.HandleFunc("GET /api/leases", s.leaseH.List)
	mux.HandleFunc("GET /api/leases/{id}", s.leaseH.Get)
	mux.HandleFunc("PUT /api/leases/{id}", s.leaseH.Update)
	mux.HandleFunc("POST /api/leases/{id}/confirm", s.leaseH.Confirm)

	// Payment API routes
	mux.HandleFunc("GET /api/payments", s.paymentH.List)
	mux.HandleFunc("GET /api/payments/stats", s.paymentH.Stats)
	mux.HandleFunc("PUT /api/payments/{id}/status", s.paymentH.UpdateStatus)

	// Notification routes
	mux.Handle("POST /api/notifications/poll", s.rateLimited(s.notifH.Poll, s.pollLimit))
	mux.HandleFunc("POST /api/notifications/tapped", s.notifH.Tapped)

	// Calendar routes
	mux.HandleFunc("POST /api/calendar/sync", s.calendarH.SyncAll)
	mux.HandleFunc("POST /api/calendar/leases/{id}/sync", s.calendarH.SyncLease)
	mux.HandleFunc("DELETE /api/calendar/leases/{id}", s.calendarH.Remove)
	mux.HandleFunc("GET /api/calendar/status", s.calendarH.Status)

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
		mux.HandleFunc("GET /api/push/preferences", s.pushH.GetPreferences)
		mux.HandleFunc("PUT /api/push/preferences", s.pushH.UpdatePreferences)
		mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.origins))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
