package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stayvia/internal/auth"
	"github.com/dukerupert/stayvia/internal/calendar"
	"github.com/dukerupert/stayvia/internal/database"
	"github.com/dukerupert/stayvia/internal/dedup"
	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/push"
	"github.com/dukerupert/stayvia/internal/reminder"
	"github.com/dukerupert/stayvia/internal/store"
	ws "github.com/dukerupert/stayvia/internal/websocket"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

type published struct {
	msg   ws.Message
	users []string
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []published
}

func (h *recordingHub) Publish(msg ws.Message, userIDs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, published{msg: msg, users: userIDs})
}

func (h *recordingHub) last() published {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.msgs) == 0 {
		return published{}
	}
	return h.msgs[len(h.msgs)-1]
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) Send(_ context.Context, sub *model.PushSubscription, _ push.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sub.Endpoint)
	return nil
}

func (s *fakeSender) VAPIDPublicKey() string { return "test-public-key" }

type fixture struct {
	mux       *http.ServeMux
	users     *store.UserStore
	payments  *store.PaymentStore
	pushStore *store.PushStore
	tapped    *dedup.Feed
	hub       *recordingHub
	sender    *fakeSender
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		users:     store.NewUserStore(db),
		payments:  store.NewPaymentStore(db, time.UTC),
		pushStore: store.NewPushStore(db),
		tapped:    dedup.NewFeed(4),
		hub:       &recordingHub{},
		sender:    &fakeSender{},
		now:       now,
	}
	clock := func() time.Time { return f.now }

	notifications := store.NewNotificationStore(db)
	queue := push.NewQueue(notifications)
	queue.SetClock(clock)
	rcfg := reminder.DefaultConfig()
	rcfg.Location = time.UTC
	sched := reminder.NewScheduler(queue, f.payments, rcfg, discard)
	sched.SetClock(clock)

	ccfg := calendar.DefaultConfig()
	ccfg.Location = time.UTC
	cal := calendar.NewService(calendar.NewLocalProvider(store.NewCalendarStore(db)), store.NewEventMappingStore(db), ccfg, discard)
	cal.SetClock(clock)

	leases := lease.NewService(lease.Deps{
		Leases:        store.NewLeaseStore(db, time.UTC),
		Payments:      f.payments,
		Users:         f.users,
		Notifications: notifications,
		Scheduler:     sched,
		Notifier:      queue,
		Calendar:      cal,
	}, time.UTC, 9, discard)
	leases.SetClock(clock)

	poller := dedup.NewPoller(f.payments, f.payments, queue, f.users, time.UTC, discard)
	poller.SetClock(clock)
	poller.SetInbox(notifications)

	userH := NewUserHandler(f.users, discard)
	leaseH := NewLeaseHandler(leases, f.hub, time.UTC, discard)
	paymentH := NewPaymentHandler(leases, f.hub, time.UTC, discard)
	notifH := NewNotificationHandler(poller, f.tapped, leases, discard)
	calH := NewCalendarHandler(cal, leases, f.hub, discard)
	pushH := NewPushHandler(f.pushStore, f.sender, discard)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/me", userH.Me)
	mux.HandleFunc("PUT /api/me", userH.UpdateMe)
	mux.HandleFunc("POST /api/leases", leaseH.Create)
	mux.HandleFunc("GET /api/leases", leaseH.List)
	mux.HandleFunc("GET /api/leases/{id}", leaseH.Get)
	mux.HandleFunc("PUT /api/leases/{id}", leaseH.Update)
	mux.HandleFunc("POST /api/leases/{id}/confirm", leaseH.Confirm)
	mux.HandleFunc("GET /api/payments", paymentH.List)
	mux.HandleFunc("GET /api/payments/stats", paymentH.Stats)
	mux.HandleFunc("PUT /api/payments/{id}/status", paymentH.UpdateStatus)
	mux.HandleFunc("POST /api/notifications/poll", notifH.Poll)
	mux.HandleFunc("POST /api/notifications/tapped", notifH.Tapped)
	mux.HandleFunc("POST /api/calendar/sync", calH.SyncAll)
	mux.HandleFunc("POST /api/calendar/leases/{id}/sync", calH.SyncLease)
	mux.HandleFunc("DELETE /api/calendar/leases/{id}", calH.Remove)
	mux.HandleFunc("GET /api/calendar/status", calH.Status)
	mux.HandleFunc("POST /api/push/subscribe", pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", pushH.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", pushH.GetVAPIDKey)
	mux.HandleFunc("GET /api/push/preferences", pushH.GetPreferences)
	mux.HandleFunc("PUT /api/push/preferences", pushH.UpdatePreferences)
	mux.HandleFunc("POST /api/push/test", pushH.TestNotification)
	f.mux = mux
	return f
}

// do serves one request as userID. body may be a string or any value
// that is encoded as JSON.
func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID}))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func leaseBody(confirmed bool) map[string]any {
	return map[string]any{
		"tenant_id":            "tenant-1",
		"property_title":       "Sunny Loft",
		"rental_start_date":    "2024-01-10",
		"rental_end_date":      "2024-03-20",
		"payment_day_of_month": 10,
		"monthly_rent_amount":  "12500",
		"confirmed":            confirmed,
	}
}

// createLease creates a confirmed lease for tenant-1 owned by landlord-1.
func (f *fixture) createLease(t *testing.T) model.Lease {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/leases", "landlord-1", leaseBody(true))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Lease](t, rec)
}
