// Package reminder schedules tiered payment reminders and the rating
// reminder through a notification platform.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/stayvia/internal/model"
)

// Platform delivers notifications now or at a future instant. Handles are
// weak references: cancelling a handle the platform no longer knows is not
// an error.
type Platform interface {
	Schedule(ctx context.Context, at time.Time, n Notification) (string, error)
	Cancel(ctx context.Context, handle string) error
	Notify(ctx context.Context, n Notification) error
}

// HandleStore persists the tenant-facing handle of each scheduled tier.
type HandleStore interface {
	SetHandle(ctx context.Context, paymentID string, tier model.ReminderTier, handle string) error
}

// PastDuePolicy decides what happens to a reminder whose instant has
// already passed when it is scheduled.
type PastDuePolicy string

const (
	PolicySkip    PastDuePolicy = "skip"
	PolicyFireNow PastDuePolicy = "fire"
)

var ErrUnknownPolicy = errors.New("unknown past-due policy")

func ParsePolicy(s string) (PastDuePolicy, error) {
	switch PastDuePolicy(s) {
	case PolicySkip, PolicyFireNow:
		return PastDuePolicy(s), nil
	}
	return "", fmt.Errorf("parse policy %q: %w", s, ErrUnknownPolicy)
}

type Config struct {
	// Hour is the local hour of day reminders fire at.
	Hour     int
	Location *time.Location
	// PaymentPolicy governs tier reminders, RatingPolicy the rating reminder.
	PaymentPolicy PastDuePolicy
	RatingPolicy  PastDuePolicy
	// Concurrency bounds in-flight platform requests per payment.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		Hour:          9,
		Location:      time.Local,
		PaymentPolicy: PolicySkip,
		RatingPolicy:  PolicyFireNow,
		Concurrency:   3,
	}
}

type Scheduler struct {
	platform Platform
	handles  HandleStore
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduler(platform Platform, handles HandleStore, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PaymentPolicy == "" {
		cfg.PaymentPolicy = PolicySkip
	}
	if cfg.RatingPolicy == "" {
		cfg.RatingPolicy = PolicyFireNow
	}
	return &Scheduler{
		platform: platform,
		handles:  handles,
		cfg:      cfg,
		logger:   logger.With("component", "reminder"),
		now:      time.Now,
	}
}

// SetClock replaces the scheduler's time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// FireTime returns the instant a tier reminder for the given due date fires:
// the configured hour on the civil day days-before the due date.
func (s *Scheduler) FireTime(due time.Time, tier model.ReminderTier) time.Time {
	return time.Date(due.Year(), due.Month(), due.Day()-tier.DaysBefore(), s.cfg.Hour, 0, 0, 0, s.cfg.Location)
}

// Outcome is the result of one (tier, audience) request.
type Outcome struct {
	Tier     model.ReminderTier
	Audience model.Audience
	At       time.Time
	Handle   string
	Skipped  bool
	Fired    bool
	Err      error
}

// Result summarizes a SchedulePayment call. Counts are for logging; callers
// should not branch on them.
type Result struct {
	Scheduled int
	Skipped   int
	Failed    int
	// TenantHandles holds the tenant-facing handle per scheduled tier.
	TenantHandles map[model.ReminderTier]string
	Outcomes      []Outcome
}

// Handles returns every handle produced, tenant and landlord.
func (r Result) Handles() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Handle != "" {
			out = append(out, o.Handle)
		}
	}
	return out
}

func (r *Result) add(other Result) {
	r.Scheduled += other.Scheduled
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
}

var audiences = []model.Audience{model.AudienceTenant, model.AudienceLandlord}

// ErrMissingPayment is returned when a reminder has no payment id.
var ErrMissingPayment = errors.New("payment id is required")

// SchedulePayment requests the three tier reminders for both audiences.
// Requests run concurrently up to the configured limit and fail
// independently.
func (s *Scheduler) SchedulePayment(ctx context.Context, r PaymentReminder) (Result, error) {
	if r.PaymentID == "" {
		return Result{}, fmt.Errorf("schedule payment: %w", ErrMissingPayment)
	}

	now := s.now()
	outcomes := make([]Outcome, len(model.Tiers)*len(audiences))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, tier := range model.Tiers {
		for j, a := range audiences {
			slot := &outcomes[i*len(audiences)+j]
			slot.Tier = tier
			slot.Audience = a
			slot.At = s.FireTime(r.DueDate, tier)
			g.Go(func() error {
				s.scheduleOne(ctx, now, r, slot)
				return nil
			})
		}
	}
	g.Wait()

	res := Result{TenantHandles: make(map[model.ReminderTier]string), Outcomes: outcomes}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			res.Failed++
		case o.Skipped:
			res.Skipped++
		default:
			res.Scheduled++
			if o.Audience == model.AudienceTenant && o.Handle != "" {
				res.TenantHandles[o.Tier] = o.Handle
			}
		}
	}

	s.logger.Debug("payment reminders scheduled",
		"payment_id", r.PaymentID,
		"due_date", r.DueDate.Format(model.DateLayout),
		"scheduled", res.Scheduled,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

func (s *Scheduler) scheduleOne(ctx context.Context, now time.Time, r PaymentReminder, o *Outcome) {
	n := ReminderNotification(r, o.Tier, o.Audience)
	log := s.logger.With("payment_id", r.PaymentID, "tier", o.Tier.String(), "audience", string(o.Audience))

	if o.At.Before(now) {
		if s.cfg.PaymentPolicy != PolicyFireNow {
			o.Skipped = true
			return
		}
		if err := s.platform.Notify(ctx, n); err != nil {
			log.Error("send past-due reminder", "error", err)
			o.Err = err
			return
		}
		o.Fired = true
		return
	}

	handle, err := s.platform.Schedule(ctx, o.At, n)
	if err != nil {
		log.Error("schedule reminder", "error", err, "at", o.At)
		o.Err = err
		return
	}
	o.Handle = handle

	if o.Audience != model.AudienceTenant || s.handles == nil {
		return
	}
	if err := s.handles.SetHandle(ctx, r.PaymentID, o.Tier, handle); err != nil {
		// The reminder is still scheduled; only later cancellation is lost.
		log.Error("persist reminder handle", "error", err, "handle", handle)
	}
}

// SchedulePayments schedules every payment in turn and returns the
// combined result.
func (s *Scheduler) SchedulePayments(ctx context.Context, rs []PaymentReminder) Result {
	total := Result{TenantHandles: map[model.ReminderTier]string{}}
	for _, r := range rs {
		res, err := s.SchedulePayment(ctx, r)
		if err != nil {
			s.logger.Error("schedule payment reminders", "error", err)
			total.Failed++
			continue
		}
		total.add(res)
	}
	return total
}

// CancelResult summarizes a CancelHandles call.
type CancelResult struct {
	Cancelled int
	Failed    int
}

// CancelHandles asks the platform to cancel each handle. A failed cancel
// does not stop the rest.
func (s *Scheduler) CancelHandles(ctx context.Context, handles []string) CancelResult {
	var (
		mu  sync.Mutex
		res CancelResult
		g   errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, h := range handles {
		if h == "" {
			continue
		}
		g.Go(func() error {
			err := s.platform.Cancel(ctx, h)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("cancel reminder", "handle", h, "error", err)
				res.Failed++
				return nil
			}
			res.Cancelled++
			return nil
		})
	}
	g.Wait()
	return res
}

// ScheduleRatingReminder schedules the rating prompt for seven days after
// move-in. Under PolicyFireNow a past instant, or a failed schedule request,
// results in an immediate notification instead.
func (s *Scheduler) ScheduleRatingReminder(ctx context.Context, r RatingReminder) (string, error) {
	n := ratingNotification(r)
	at := r.MoveIn.AddDate(0, 0, 7)
	log := s.logger.With("rental_id", r.RentalID)

	if !at.After(s.now()) {
		if s.cfg.RatingPolicy != PolicyFireNow {
			log.Debug("rating reminder in the past, skipping", "at", at)
			return "", nil
		}
		if err := s.platform.Notify(ctx, n); err != nil {
			return "", fmt.Errorf("send rating reminder: %w", err)
		}
		return "", nil
	}

	handle, err := s.platform.Schedule(ctx, at, n)
	if err == nil {
		log.Info("rating reminder scheduled", "at", at, "handle", handle)
		return handle, nil
	}
	log.Error("schedule rating reminder", "error", err)
	if s.cfg.RatingPolicy != PolicyFireNow {
		return "", fmt.Errorf("schedule rating reminder: %w", err)
	}
	if ferr := s.platform.Notify(ctx, n); ferr != nil {
		return "", fmt.Errorf("send rating reminder fallback: %w", errors.Join(err, ferr))
	}
	return "", nil
}
