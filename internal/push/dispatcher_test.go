package push

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/stayvia/internal/database"
	"github.com/dukerupert/stayvia/internal/dedup"
	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/reminder"
	"github.com/dukerupert/stayvia/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeSender struct {
	mu      sync.Mutex
	sent    map[string][]Payload
	expired map[string]bool
	fail    error
}

func (f *fakeSender) Send(_ context.Context, sub *model.PushSubscription, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired[sub.Endpoint] {
		return ErrExpired
	}
	if f.fail != nil {
		return f.fail
	}
	if f.sent == nil {
		f.sent = map[string][]Payload{}
	}
	f.sent[sub.Endpoint] = append(f.sent[sub.Endpoint], p)
	return nil
}

func reminderNotification(userID string, days int) reminder.Notification {
	return reminder.Notification{
		UserID: userID,
		Title:  "💰 Payment Reminder",
		Body:   "Payment due in 3 days",
		Data: model.NotificationData{
			Type:         model.NotifTypeReminderTenant,
			Action:       model.ActionTenantPayments,
			PaymentID:    "p-1",
			DaysUntilDue: &days,
			UserID:       userID,
		},
	}
}

func TestQueueScheduleAndCancel(t *testing.T) {
	ns := store.NewNotificationStore(setupTestDB(t))
	q := NewQueue(ns)
	ctx := context.Background()
	at := time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC)

	h1, err := q.Schedule(ctx, at, reminderNotification("tenant-1", 3))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	h2, _ := q.Schedule(ctx, at, reminderNotification("tenant-1", 3))
	if h1 == "" || h1 == h2 {
		t.Fatalf("handles should be unique and non-empty: %q %q", h1, h2)
	}

	if err := q.Cancel(ctx, h1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := q.Cancel(ctx, "no-such-handle"); err != nil {
		t.Errorf("cancelling an unknown handle should not fail: %v", err)
	}

	n, _ := ns.GetByID(ctx, h1)
	if n.State != model.NotificationCancelled {
		t.Errorf("state = %q, want cancelled", n.State)
	}
}

func TestQueueNotifyWakes(t *testing.T) {
	ns := store.NewNotificationStore(setupTestDB(t))
	q := NewQueue(ns)

	if err := q.Notify(context.Background(), reminderNotification("tenant-1", 0)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	// A second notify must not block on the full wake channel.
	if err := q.Notify(context.Background(), reminderNotification("tenant-1", 0)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case <-q.Wake():
	default:
		t.Error("expected wake signal")
	}
}

func TestDispatcherDeliversDue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ps := store.NewPushStore(db)
	ns := store.NewNotificationStore(db)
	q := NewQueue(ns)
	now := time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC)

	ps.CreateSubscription(ctx, "tenant-1", "https://push.example.com/a", "k", "a", "phone")
	ps.CreateSubscription(ctx, "tenant-1", "https://push.example.com/b", "k", "a", "laptop")
	ps.CreateSubscription(ctx, "tenant-1", "https://push.example.com/gone", "k", "a", "old")

	dueHandle, _ := q.Schedule(ctx, now.Add(-time.Minute), reminderNotification("tenant-1", 3))
	laterHandle, _ := q.Schedule(ctx, now.Add(time.Hour), reminderNotification("tenant-1", 1))

	sender := &fakeSender{expired: map[string]bool{"https://push.example.com/gone": true}}
	feed := dedup.NewFeed(4)
	d := NewDispatcher(sender, ps, ns, feed, discard)
	d.SetClock(func() time.Time { return now })

	if got := d.DeliverDue(ctx); got != 1 {
		t.Fatalf("settled = %d, want 1", got)
	}
	if len(sender.sent["https://push.example.com/a"]) != 1 || len(sender.sent["https://push.example.com/b"]) != 1 {
		t.Errorf("sent = %+v", sender.sent)
	}
	p := sender.sent["https://push.example.com/a"][0]
	if p.URL != "/payments" || p.Tag != "payment_reminder_tenant-p-1-3day" {
		t.Errorf("payload url/tag = %q/%q", p.URL, p.Tag)
	}
	if p.Data.PaymentID != "p-1" {
		t.Errorf("payload data = %+v", p.Data)
	}

	subs, _ := ps.ListByUser(ctx, "tenant-1")
	if len(subs) != 2 {
		t.Errorf("expired subscription should be removed, have %d", len(subs))
	}

	select {
	case sig := <-feed.C():
		want := dedup.Signal{PaymentID: "p-1", Tier: model.Tier3Day, UserID: "tenant-1", Source: dedup.SourceDelivered}
		if sig != want {
			t.Errorf("signal = %+v, want %+v", sig, want)
		}
	default:
		t.Error("expected delivered signal")
	}

	got, _ := ns.GetByID(ctx, dueHandle)
	if got.State != model.NotificationDelivered {
		t.Errorf("due state = %q, want delivered", got.State)
	}
	got, _ = ns.GetByID(ctx, laterHandle)
	if got.State != model.NotificationPending {
		t.Errorf("later state = %q, want pending", got.State)
	}

	// Nothing is sent twice.
	if again := d.DeliverDue(ctx); again != 0 {
		t.Errorf("second run settled %d, want 0", again)
	}
}

func TestDispatcherSkipsCancelledAndDisabled(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ps := store.NewPushStore(db)
	ns := store.NewNotificationStore(db)
	q := NewQueue(ns)
	now := time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC)

	ps.CreateSubscription(ctx, "tenant-1", "https://push.example.com/a", "k", "a", "")
	ps.CreateSubscription(ctx, "landlord-1", "https://push.example.com/l", "k", "a", "")
	ps.SetPreference(ctx, "landlord-1", model.NotifTypeReminderLandlord, false)

	h, _ := q.Schedule(ctx, now.Add(-time.Minute), reminderNotification("tenant-1", 3))
	q.Cancel(ctx, h)

	n := reminderNotification("landlord-1", 3)
	n.Data.Type = model.NotifTypeReminderLandlord
	q.Schedule(ctx, now.Add(-time.Minute), n)

	sender := &fakeSender{}
	feed := dedup.NewFeed(4)
	d := NewDispatcher(sender, ps, ns, feed, discard)
	d.SetClock(func() time.Time { return now })

	if got := d.DeliverDue(ctx); got != 1 {
		t.Errorf("settled = %d, want 1 (the disabled one)", got)
	}
	if len(sender.sent) != 0 {
		t.Errorf("nothing should be sent: %+v", sender.sent)
	}
	select {
	case sig := <-feed.C():
		t.Errorf("unexpected signal %+v", sig)
	default:
	}
}

func TestDispatcherSendFailureNoSignal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ps := store.NewPushStore(db)
	ns := store.NewNotificationStore(db)
	now := time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC)

	ps.CreateSubscription(ctx, "tenant-1", "https://push.example.com/a", "k", "a", "")
	NewQueue(ns).Schedule(ctx, now, reminderNotification("tenant-1", 0))

	feed := dedup.NewFeed(1)
	d := NewDispatcher(&fakeSender{fail: errors.New("push service down")}, ps, ns, feed, discard)
	d.SetClock(func() time.Time { return now })
	d.DeliverDue(ctx)

	select {
	case sig := <-feed.C():
		t.Errorf("failed delivery must not signal: %+v", sig)
	default:
	}
}

func TestDispatcherNoDeviceLeavesUndelivered(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ps := store.NewPushStore(db)
	ns := store.NewNotificationStore(db)
	q := NewQueue(ns)
	now := time.Date(2024, 3, 12, 1, 0, 0, 0, time.UTC)

	ps.SetPreference(ctx, "landlord-1", model.NotifTypeReminderLandlord, false)
	bare, _ := q.Schedule(ctx, now.Add(-time.Minute), reminderNotification("tenant-1", 3))
	n := reminderNotification("landlord-1", 3)
	n.Data.Type = model.NotifTypeReminderLandlord
	optedOut, _ := q.Schedule(ctx, now.Add(-time.Minute), n)

	d := NewDispatcher(&fakeSender{}, ps, ns, dedup.NewFeed(4), discard)
	d.SetClock(func() time.Time { return now })
	if got := d.DeliverDue(ctx); got != 2 {
		t.Fatalf("settled = %d, want 2", got)
	}

	got, _ := ns.GetByID(ctx, bare)
	if got.State != model.NotificationUndelivered {
		t.Errorf("no-device state = %q, want undelivered", got.State)
	}
	got, _ = ns.GetByID(ctx, optedOut)
	if got.State != model.NotificationDelivered {
		t.Errorf("opted-out state = %q, want delivered", got.State)
	}

	// Undelivered rows wait for the client, not the dispatcher.
	if again := d.DeliverDue(ctx); again != 0 {
		t.Errorf("second run settled %d, want 0", again)
	}
}

func TestDispatcherStartStop(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ps := store.NewPushStore(db)
	ns := store.NewNotificationStore(db)
	q := NewQueue(ns)
	ps.CreateSubscription(ctx, "tenant-1", "https://push.example.com/a", "k", "a", "")

	sender := &fakeSender{}
	d := NewDispatcher(sender, ps, ns, nil, discard)
	d.SetInterval(time.Hour)
	d.SetWake(q.Wake())
	d.Start(ctx)
	defer d.Stop()

	if err := q.Notify(ctx, reminderNotification("tenant-1", 0)); err != nil {
		t.Fatalf("notify: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sender.mu.Lock()
		n := len(sender.sent["https://push.example.com/a"])
		sender.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("wake did not trigger delivery")
}
