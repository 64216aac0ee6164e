package lease

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stayvia/internal/database"
	"github.com/dukerupert/stayvia/internal/duedate"
	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/push"
	"github.com/dukerupert/stayvia/internal/reminder"
	"github.com/dukerupert/stayvia/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeCalendar struct {
	mu      sync.Mutex
	created map[string][]duedate.Due
	removed []string
	err     error
}

func (c *fakeCalendar) CreateLeaseEvents(_ context.Context, ownerID string, l model.Lease, dues []duedate.Due) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.created[ownerID+"/"+l.ID] = dues
	return make([]string, len(dues)), nil
}

func (c *fakeCalendar) RemoveLease(_ context.Context, ownerID, leaseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, ownerID+"/"+leaseID)
	return nil
}

type fixture struct {
	svc           *Service
	payments      *store.PaymentStore
	notifications *store.NotificationStore
	calendar      *fakeCalendar
}

var now = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		payments:      store.NewPaymentStore(db, time.UTC),
		notifications: store.NewNotificationStore(db),
		calendar:      &fakeCalendar{created: map[string][]duedate.Due{}},
	}
	users := store.NewUserStore(db)
	_, err = users.Upsert(context.Background(), "tenant-1", "Maria", "maria@example.com")
	require.NoError(t, err)

	queue := push.NewQueue(f.notifications)
	cfg := reminder.DefaultConfig()
	cfg.Location = time.UTC
	sched := reminder.NewScheduler(queue, f.payments, cfg, discard)
	sched.SetClock(func() time.Time { return now })

	f.svc = NewService(Deps{
		Leases:        store.NewLeaseStore(db, time.UTC),
		Payments:      f.payments,
		Users:         users,
		Notifications: f.notifications,
		Scheduler:     sched,
		Notifier:      queue,
		Calendar:      f.calendar,
	}, time.UTC, 9, discard)
	f.svc.SetClock(func() time.Time { return now })
	return f
}

func testInput(confirmed bool) Input {
	return Input{
		TenantID:      "tenant-1",
		PropertyTitle: "Sunny Loft",
		StartDate:     day(2024, 1, 10),
		EndDate:       day(2024, 3, 20),
		PaymentDay:    10,
		MonthlyAmount: decimal.NewFromInt(12500),
		Confirmed:     confirmed,
	}
}

// pending returns queued notifications, optionally only those about one payment.
func (f *fixture) pending(t *testing.T, paymentID string) []model.ScheduledNotification {
	t.Helper()
	all, err := f.notifications.ListDue(context.Background(), day(2100, 1, 1), 1000)
	require.NoError(t, err)
	if paymentID == "" {
		return all
	}
	var out []model.ScheduledNotification
	for _, n := range all {
		if n.Data.PaymentID == paymentID {
			out = append(out, n)
		}
	}
	return out
}

func TestCreateConfirmedGeneratesPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.svc.Create(ctx, "landlord-1", testInput(true))
	require.NoError(t, err)
	require.NotEmpty(t, l.ID)
	assert.Equal(t, "landlord-1", l.LandlordID)

	payments, err := f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	for i, want := range []time.Time{day(2024, 1, 10), day(2024, 2, 10), day(2024, 3, 10)} {
		assert.True(t, payments[i].DueDate.Equal(want), "payment %d due %v", i, payments[i].DueDate)
		assert.Equal(t, model.PaymentUnpaid, payments[i].Status)
		assert.Len(t, payments[i].Handles(), 3, "tenant handle per tier")
	}

	// Three tiers for two audiences per payment, plus the rating prompt.
	queued := f.pending(t, "")
	assert.Len(t, queued, 3*6+1)

	assert.Len(t, f.calendar.created["tenant-1/"+l.ID], 3)
}

func TestCreatePendingThenConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.svc.Create(ctx, "landlord-1", testInput(false))
	require.NoError(t, err)
	payments, err := f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	_, err = f.svc.Confirm(ctx, "landlord-2", l.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Confirm(ctx, "landlord-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	confirmed, err := f.svc.Confirm(ctx, "landlord-1", l.ID)
	require.NoError(t, err)
	assert.True(t, confirmed.Confirmed)

	_, err = f.svc.Confirm(ctx, "landlord-1", l.ID)
	require.NoError(t, err)
	payments, err = f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 3, "confirming twice does not duplicate payments")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := testInput(true)
	in.EndDate = day(2023, 12, 1)
	_, err := f.svc.Create(ctx, "landlord-1", in)
	assert.ErrorIs(t, err, duedate.ErrEndBeforeStart)

	in = testInput(true)
	in.MonthlyAmount = decimal.Zero
	_, err = f.svc.Create(ctx, "landlord-1", in)
	assert.ErrorIs(t, err, duedate.ErrNonPositiveAmount)

	in = testInput(true)
	in.TenantID = ""
	_, err = f.svc.Create(ctx, "landlord-1", in)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateSurvivesCalendarFailure(t *testing.T) {
	f := newFixture(t)
	f.calendar.err = errors.New("permission denied")

	l, err := f.svc.Create(context.Background(), "landlord-1", testInput(true))
	require.NoError(t, err)
	payments, err := f.payments.ListByLease(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 3)
}

func TestSetPaymentStatusPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l, err := f.svc.Create(ctx, "landlord-1", testInput(true))
	require.NoError(t, err)
	payments, err := f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)
	target := payments[1]
	require.Len(t, f.pending(t, target.ID), 6)

	_, err = f.svc.SetPaymentStatus(ctx, "landlord-2", target.ID, StatusUpdate{Status: model.PaymentPaid})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.SetPaymentStatus(ctx, "landlord-1", target.ID, StatusUpdate{Status: "settled"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.svc.SetPaymentStatus(ctx, "landlord-1", "missing", StatusUpdate{Status: model.PaymentPaid})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.SetPaymentStatus(ctx, "landlord-1", target.ID, StatusUpdate{Status: model.PaymentPaid, Method: "gcash"})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, got.Status)
	require.NotNil(t, got.PaidDate)
	assert.True(t, got.PaidDate.Equal(day(2024, 1, 1)))
	assert.Equal(t, "gcash", got.PaymentMethod)
	assert.Empty(t, got.Handles())

	remaining := f.pending(t, target.ID)
	require.Len(t, remaining, 1, "only the receipt is left")
	assert.Equal(t, model.NotifTypePaymentReceived, remaining[0].Data.Type)
	assert.Equal(t, "tenant-1", remaining[0].UserID)

	assert.Len(t, f.pending(t, payments[0].ID), 6, "other payments keep their reminders")
}

func TestUpdateRegeneratesUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l, err := f.svc.Create(ctx, "landlord-1", testInput(true))
	require.NoError(t, err)
	before, err := f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)
	_, err = f.svc.SetPaymentStatus(ctx, "landlord-1", before[0].ID, StatusUpdate{Status: model.PaymentPaid})
	require.NoError(t, err)

	in := testInput(true)
	in.EndDate = day(2024, 4, 20)
	in.MonthlyAmount = decimal.NewFromInt(15000)
	updated, err := f.svc.Update(ctx, "landlord-1", l.ID, in)
	require.NoError(t, err)
	assert.True(t, updated.EndDate.Equal(day(2024, 4, 20)))

	after, err := f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, after, 4)
	assert.Equal(t, before[0].ID, after[0].ID, "settled payment is kept")
	assert.True(t, after[0].Amount.Equal(decimal.NewFromInt(12500)))
	for _, p := range after[1:] {
		assert.Equal(t, model.PaymentUnpaid, p.Status)
		assert.True(t, p.Amount.Equal(decimal.NewFromInt(15000)))
		assert.Len(t, f.pending(t, p.ID), 6)
	}
	for _, p := range before[1:] {
		assert.Empty(t, f.pending(t, p.ID), "old reminders withdrawn")
	}

	assert.Equal(t, []string{"tenant-1/" + l.ID}, f.calendar.removed)
	assert.Len(t, f.calendar.created["tenant-1/"+l.ID], 4)

	_, err = f.svc.Update(ctx, "landlord-2", l.ID, in)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateMovedPaymentDayKeepsSettledMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l, err := f.svc.Create(ctx, "landlord-1", testInput(true))
	require.NoError(t, err)
	before, err := f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, before, 3)
	_, err = f.svc.SetPaymentStatus(ctx, "landlord-1", before[1].ID, StatusUpdate{Status: model.PaymentPaid})
	require.NoError(t, err)

	in := testInput(true)
	in.PaymentDay = 20
	_, err = f.svc.Update(ctx, "landlord-1", l.ID, in)
	require.NoError(t, err)

	after, err := f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)
	var dues []string
	for _, p := range after {
		dues = append(dues, p.DueDate.Format(model.DateLayout)+" "+string(p.Status))
	}
	assert.Equal(t, []string{
		"2024-01-20 unpaid",
		"2024-02-10 paid",
		"2024-03-20 unpaid",
	}, dues, "February is already settled")
}

func TestPaymentVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l, err := f.svc.Create(ctx, "landlord-1", testInput(true))
	require.NoError(t, err)
	payments, err := f.payments.ListByLease(ctx, l.ID)
	require.NoError(t, err)

	for _, user := range []string{"tenant-1", "landlord-1"} {
		p, err := f.svc.Payment(ctx, user, payments[0].ID)
		require.NoError(t, err, user)
		assert.Equal(t, payments[0].ID, p.ID)
	}
	_, err = f.svc.Payment(ctx, "stranger", payments[0].ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Payment(ctx, "tenant-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l, err := f.svc.Create(ctx, "landlord-1", testInput(true))
	require.NoError(t, err)

	d, err := f.svc.Get(ctx, "tenant-1", l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, d.Lease.ID)
	assert.Len(t, d.Payments, 3)

	_, err = f.svc.Get(ctx, "stranger", l.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Get(ctx, "tenant-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	leases, err := f.svc.List(ctx, "landlord-1")
	require.NoError(t, err)
	assert.Len(t, leases, 1)

	active, err := f.svc.ActiveLeases(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	payments, err := f.svc.Payments(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, payments, 3)

	stats, err := f.svc.Stats(ctx, "landlord-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total.Count)
	assert.True(t, stats.Total.Amount.Equal(decimal.NewFromInt(37500)))
}
