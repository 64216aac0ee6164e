// Package lease drives a lease from creation through confirmation and
// edits, keeping its payments, reminders and calendar events in step.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/stayvia/internal/duedate"
	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/reminder"
	"github.com/dukerupert/stayvia/internal/store"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidStatus = errors.New("invalid payment status")
)

// Calendar mirrors a lease's due dates into the tenant's calendar.
type Calendar interface {
	CreateLeaseEvents(ctx context.Context, ownerID string, l model.Lease, dues []duedate.Due) ([]string, error)
	RemoveLease(ctx context.Context, ownerID, leaseID string) error
}

// Notifier sends a notification right away.
type Notifier interface {
	Notify(ctx context.Context, n reminder.Notification) error
}

// Input holds the terms a landlord sets on a lease.
type Input struct {
	TenantID      string
	PropertyTitle string
	StartDate     time.Time
	EndDate       time.Time
	PaymentDay    int
	MonthlyAmount decimal.Decimal
	Confirmed     bool
}

// StatusUpdate is a landlord's change to a single payment.
type StatusUpdate struct {
	Status   model.PaymentStatus
	PaidDate *time.Time
	Method   string
	Notes    string
}

// Detail is a lease together with its payments.
type Detail struct {
	Lease    *model.Lease    `json:"lease"`
	Payments []model.Payment `json:"payments"`
}

type Service struct {
	leases        *store.LeaseStore
	payments      *store.PaymentStore
	users         *store.UserStore
	notifications *store.NotificationStore
	scheduler     *reminder.Scheduler
	notifier      Notifier
	calendar      Calendar
	loc           *time.Location
	hour          int
	logger        *slog.Logger
	now           func() time.Time
}

type Deps struct {
	Leases        *store.LeaseStore
	Payments      *store.PaymentStore
	Users         *store.UserStore
	Notifications *store.NotificationStore
	Scheduler     *reminder.Scheduler
	Notifier      Notifier
	// Calendar is optional.
	Calendar Calendar
}

func NewService(d Deps, loc *time.Location, hour int, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		leases:        d.Leases,
		payments:      d.Payments,
		users:         d.Users,
		notifications: d.Notifications,
		scheduler:     d.Scheduler,
		notifier:      d.Notifier,
		calendar:      d.Calendar,
		loc:           loc,
		hour:          hour,
		logger:        logger.With("component", "lease"),
		now:           time.Now,
	}
}

// SetClock replaces the service's time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) today() time.Time {
	return duedate.Civil(s.now(), s.loc)
}

func (in Input) validate() error {
	if in.TenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	if in.PropertyTitle == "" {
		return fmt.Errorf("%w: property title is required", ErrInvalidInput)
	}
	return duedate.Validate(duedate.Terms{
		Start:      in.StartDate,
		End:        in.EndDate,
		PaymentDay: in.PaymentDay,
		Amount:     in.MonthlyAmount,
	})
}

// Create stores a lease for the landlord. A lease created confirmed is
// activated immediately.
func (s *Service) Create(ctx context.Context, landlordID string, in Input) (*model.Lease, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	l, err := s.leases.Create(ctx, &model.Lease{
		ID:            uuid.NewString(),
		TenantID:      in.TenantID,
		LandlordID:    landlordID,
		PropertyTitle: in.PropertyTitle,
		StartDate:     duedate.Civil(in.StartDate, s.loc),
		EndDate:       duedate.Civil(in.EndDate, s.loc),
		PaymentDay:    in.PaymentDay,
		MonthlyAmount: in.MonthlyAmount,
		Confirmed:     in.Confirmed,
	})
	if err != nil {
		return nil, err
	}

	if l.Confirmed {
		if err := s.activate(ctx, l); err != nil {
			return nil, err
		}
	}
	s.logger.Info("lease created", "lease_id", l.ID, "confirmed", l.Confirmed)
	return l, nil
}

// Confirm confirms a pending lease and generates its payments. Confirming
// twice is a no-op.
func (s *Service) Confirm(ctx context.Context, landlordID, leaseID string) (*model.Lease, error) {
	l, err := s.ownLease(ctx, landlordID, leaseID)
	if err != nil {
		return nil, err
	}
	if l.Confirmed {
		return l, nil
	}
	if err := s.leases.Confirm(ctx, l.ID); err != nil {
		return nil, err
	}
	l.Confirmed = true
	if err := s.activate(ctx, l); err != nil {
		return nil, err
	}
	s.logger.Info("lease confirmed", "lease_id", l.ID)
	return l, nil
}

// activate generates payments for a newly confirmed lease and schedules
// everything that hangs off them.
func (s *Service) activate(ctx context.Context, l *model.Lease) error {
	dues := s.dues(l)
	if _, err := s.insertPayments(ctx, l, dues, nil); err != nil {
		return err
	}

	move := l.StartDate
	moveIn := time.Date(move.Year(), move.Month(), move.Day(), s.hour, 0, 0, 0, s.loc)
	if _, err := s.scheduler.ScheduleRatingReminder(ctx, reminder.RatingReminder{
		RentalID:      l.ID,
		TenantID:      l.TenantID,
		PropertyTitle: l.PropertyTitle,
		MoveIn:        moveIn,
	}); err != nil {
		s.logger.Error("rating reminder", "lease_id", l.ID, "error", err)
	}

	s.createEvents(ctx, l, dues)
	return nil
}

func (s *Service) dues(l *model.Lease) []duedate.Due {
	return duedate.Generate(l.StartDate, l.EndDate, l.EffectivePaymentDay(), l.MonthlyAmount)
}

// billingMonth keys a due date by the month it bills. A lease has at most
// one due date per month.
func billingMonth(d time.Time) string {
	return d.Format("2006-01")
}

// insertPayments stores a payment for every billing month not in covered and
// schedules its reminders.
func (s *Service) insertPayments(ctx context.Context, l *model.Lease, dues []duedate.Due, covered map[string]bool) ([]model.Payment, error) {
	var payments []model.Payment
	for _, d := range dues {
		if covered[billingMonth(d.Date)] {
			continue
		}
		payments = append(payments, model.Payment{
			ID:            uuid.NewString(),
			LeaseID:       l.ID,
			TenantID:      l.TenantID,
			LandlordID:    l.LandlordID,
			PropertyTitle: l.PropertyTitle,
			DueDate:       d.Date,
			Amount:        d.Amount,
			Status:        model.PaymentUnpaid,
		})
	}
	if len(payments) == 0 {
		return nil, nil
	}
	if err := s.payments.InsertPayments(ctx, payments); err != nil {
		return nil, fmt.Errorf("generate payments: %w", err)
	}

	name := s.users.DisplayName(ctx, l.TenantID, "")
	rs := make([]reminder.PaymentReminder, len(payments))
	for i, p := range payments {
		rs[i] = reminder.FromPayment(p, name)
	}
	res := s.scheduler.SchedulePayments(ctx, rs)
	s.logger.Info("payment reminders scheduled",
		"lease_id", l.ID,
		"payments", len(payments),
		"scheduled", res.Scheduled,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return payments, nil
}

func (s *Service) createEvents(ctx context.Context, l *model.Lease, dues []duedate.Due) {
	if s.calendar == nil {
		return
	}
	if _, err := s.calendar.CreateLeaseEvents(ctx, l.TenantID, *l, dues); err != nil {
		s.logger.Warn("create calendar events", "lease_id", l.ID, "error", err)
	}
}

// Update applies an administrative edit. For a confirmed lease the unpaid
// payments are withdrawn with their reminders and regenerated from the new
// terms, skipping months already billed by a settled payment.
func (s *Service) Update(ctx context.Context, landlordID, leaseID string, in Input) (*model.Lease, error) {
	l, err := s.ownLease(ctx, landlordID, leaseID)
	if err != nil {
		return nil, err
	}
	in.TenantID = l.TenantID
	if err := in.validate(); err != nil {
		return nil, err
	}

	l.PropertyTitle = in.PropertyTitle
	l.StartDate = duedate.Civil(in.StartDate, s.loc)
	l.EndDate = duedate.Civil(in.EndDate, s.loc)
	l.PaymentDay = in.PaymentDay
	l.MonthlyAmount = in.MonthlyAmount
	updated, err := s.leases.UpdateTerms(ctx, l)
	if err != nil {
		return nil, err
	}
	if !updated.Confirmed {
		return updated, nil
	}

	existing, err := s.payments.ListByLease(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	covered := make(map[string]bool)
	for _, p := range existing {
		if p.Status == model.PaymentUnpaid {
			s.withdrawReminders(ctx, p)
			continue
		}
		covered[billingMonth(p.DueDate)] = true
	}
	removed, err := s.payments.DeleteUnpaidByLease(ctx, l.ID)
	if err != nil {
		return nil, err
	}

	dues := s.dues(updated)
	created, err := s.insertPayments(ctx, updated, dues, covered)
	if err != nil {
		return nil, err
	}

	if s.calendar != nil {
		if err := s.calendar.RemoveLease(ctx, updated.TenantID, updated.ID); err != nil {
			s.logger.Warn("remove calendar events", "lease_id", updated.ID, "error", err)
		}
		s.createEvents(ctx, updated, dues)
	}

	s.logger.Info("lease updated", "lease_id", updated.ID, "removed", removed, "created", len(created))
	return updated, nil
}

// withdrawReminders cancels every pending reminder of a payment: the
// tenant handles it carries and the landlord copies queued alongside them.
func (s *Service) withdrawReminders(ctx context.Context, p model.Payment) {
	if handles := p.Handles(); len(handles) > 0 {
		res := s.scheduler.CancelHandles(ctx, handles)
		if res.Failed > 0 {
			s.logger.Warn("cancel reminder handles", "payment_id", p.ID, "failed", res.Failed)
		}
	}
	if s.notifications == nil {
		return
	}
	if _, err := s.notifications.CancelByPayment(ctx, p.ID); err != nil {
		s.logger.Warn("cancel payment notifications", "payment_id", p.ID, "error", err)
	}
}

// SetPaymentStatus records the landlord's status for a payment. Leaving
// unpaid withdraws the payment's reminders; marking it paid notifies the
// tenant.
func (s *Service) SetPaymentStatus(ctx context.Context, landlordID, paymentID string, u StatusUpdate) (*model.Payment, error) {
	if !u.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, u.Status)
	}
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	if p.LandlordID != landlordID {
		return nil, ErrForbidden
	}

	if u.Status == model.PaymentPaid && u.PaidDate == nil {
		today := s.today()
		u.PaidDate = &today
	}
	updated, err := s.payments.UpdateStatus(ctx, p.ID, u.Status, u.PaidDate, u.Method, u.Notes)
	if err != nil {
		return nil, err
	}

	if p.Status == model.PaymentUnpaid && u.Status != model.PaymentUnpaid {
		s.withdrawReminders(ctx, *p)
		if err := s.payments.ClearHandles(ctx, p.ID); err != nil {
			s.logger.Warn("clear reminder handles", "payment_id", p.ID, "error", err)
		}
	}
	if u.Status == model.PaymentPaid && p.Status != model.PaymentPaid && s.notifier != nil {
		n := reminder.ReceivedNotification(reminder.FromPayment(*updated, ""))
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("payment received notification", "payment_id", p.ID, "error", err)
		}
	}

	s.logger.Info("payment status set", "payment_id", p.ID, "from", p.Status, "to", u.Status)
	return s.payments.GetByID(ctx, p.ID)
}

func (s *Service) Stats(ctx context.Context, landlordID string) (*model.PaymentStats, error) {
	return s.payments.Stats(ctx, landlordID)
}

// Payments lists every payment the user owes or collects.
func (s *Service) Payments(ctx context.Context, userID string) ([]model.Payment, error) {
	return s.payments.ListByUser(ctx, userID)
}

func (s *Service) List(ctx context.Context, userID string) ([]model.Lease, error) {
	return s.leases.ListByUser(ctx, userID)
}

// Get returns a lease the user is party to, with its payments.
func (s *Service) Get(ctx context.Context, userID, leaseID string) (*Detail, error) {
	l, err := s.leases.GetByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrNotFound
	}
	if l.TenantID != userID && l.LandlordID != userID {
		return nil, ErrForbidden
	}
	payments, err := s.payments.ListByLease(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Lease: l, Payments: payments}, nil
}

// Payment returns a payment the user is tenant or landlord of.
func (s *Service) Payment(ctx context.Context, userID, paymentID string) (*model.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	if p.TenantID != userID && p.LandlordID != userID {
		return nil, ErrForbidden
	}
	return p, nil
}

// ActiveLeases returns the confirmed leases of the user still running today.
func (s *Service) ActiveLeases(ctx context.Context, userID string) ([]model.Lease, error) {
	return s.leases.ListActiveByUser(ctx, userID, s.today())
}

func (s *Service) ownLease(ctx context.Context, landlordID, leaseID string) (*model.Lease, error) {
	l, err := s.leases.GetByID(ctx, leaseID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrNotFound
	}
	if l.LandlordID != landlordID {
		return nil, ErrForbidden
	}
	return l, nil
}
