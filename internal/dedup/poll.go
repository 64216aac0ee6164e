package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/reminder"
)

// PaymentSource lists the payments a poll may notify about.
type PaymentSource interface {
	ListReminderCandidates(ctx context.Context, userID string, tier model.ReminderTier, due, now time.Time) ([]model.Payment, error)
	ListOverdueCandidates(ctx context.Context, userID string, today time.Time) ([]model.Payment, error)
	ListUsersWithUnpaid(ctx context.Context) ([]string, error)
}

type Directory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// Mailer is the optional second channel for overdue notices.
type Mailer interface {
	SendOverdueNotice(ctx context.Context, to string, n reminder.Notification) error
}

// Inbox is the queue as seen by the foreground poll. ReleaseReminder
// withdraws the queued copies of a tier reminder unless one already reached
// a device. TakeDue hands the user's due and undelivered rows to the
// caller, settling them as delivered.
type Inbox interface {
	ReleaseReminder(ctx context.Context, paymentID string, daysUntilDue int) (bool, error)
	TakeDue(ctx context.Context, userID string, now time.Time, limit int) ([]model.ScheduledNotification, error)
}

const inboxLimit = 50

// PollResult counts what a poll sent. Notifications carries the rows the
// client should show itself.
type PollResult struct {
	Reminders     int                           `json:"reminders"`
	Overdue       int                           `json:"overdue"`
	Failed        int                           `json:"failed"`
	Notifications []model.ScheduledNotification `json:"notifications,omitempty"`
}

func (r *PollResult) add(o PollResult) {
	r.Reminders += o.Reminders
	r.Overdue += o.Overdue
	r.Failed += o.Failed
}

// Poller is the foreground fallback for reminders no platform schedule
// covers. Each (payment, tier) is claimed before anything is sent, so
// only one path ever notifies.
type Poller struct {
	payments PaymentSource
	flags    FlagStore
	platform reminder.Platform
	users    Directory
	mailer   Mailer
	inbox    Inbox
	loc      *time.Location
	now      func() time.Time
	group    singleflight.Group
	logger   *slog.Logger
}

func NewPoller(payments PaymentSource, flags FlagStore, platform reminder.Platform, users Directory, loc *time.Location, logger *slog.Logger) *Poller {
	if loc == nil {
		loc = time.Local
	}
	return &Poller{
		payments: payments,
		flags:    flags,
		platform: platform,
		users:    users,
		loc:      loc,
		now:      time.Now,
		logger:   logger.With("component", "poller"),
	}
}

// SetMailer enables overdue emails.
func (p *Poller) SetMailer(m Mailer) {
	p.mailer = m
}

// SetInbox lets polls take over queued reminders and return the user's
// due notifications.
func (p *Poller) SetInbox(in Inbox) {
	p.inbox = in
}

func (p *Poller) SetClock(now func() time.Time) {
	p.now = now
}

// Poll checks the user's payments and collects the notifications waiting
// for them. Concurrent polls for the same user share one sweep.
func (p *Poller) Poll(ctx context.Context, userID string) (PollResult, error) {
	res, err := p.shared(ctx, userID)
	if err != nil {
		return PollResult{}, err
	}
	if p.inbox == nil {
		return res, nil
	}

	taken, err := p.inbox.TakeDue(ctx, userID, p.now(), inboxLimit)
	if err != nil {
		return res, fmt.Errorf("take notifications: %w", err)
	}
	for _, n := range taken {
		if sig, ok := SignalFromData(n.Data, SourcePoll); ok {
			if _, err := p.flags.ClaimReminder(ctx, sig.PaymentID, sig.Tier); err != nil {
				p.logger.Error("claim reminder", "payment_id", sig.PaymentID, "tier", sig.Tier.String(), "error", err)
			}
		}
	}
	if len(taken) > 0 {
		res.Notifications = taken
	}
	return res, nil
}

// shared runs one sweep per user at a time. The sweep is detached from the
// caller so a cancelled leader does not fail the followers.
func (p *Poller) shared(ctx context.Context, userID string) (PollResult, error) {
	v, err, shared := p.group.Do(userID, func() (any, error) {
		return p.sweep(context.WithoutCancel(ctx), userID)
	})
	if shared {
		p.logger.Debug("poll collapsed", "user_id", userID)
	}
	if err != nil {
		return PollResult{}, err
	}
	return v.(PollResult), nil
}

func (p *Poller) today() time.Time {
	n := p.now().In(p.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, p.loc)
}

func (p *Poller) sweep(ctx context.Context, userID string) (PollResult, error) {
	var res PollResult
	today := p.today()
	now := p.now()

	for _, tier := range model.Tiers {
		due := today.AddDate(0, 0, tier.DaysBefore())
		candidates, err := p.payments.ListReminderCandidates(ctx, userID, tier, due, now)
		if err != nil {
			return res, fmt.Errorf("poll %s reminders: %w", tier, err)
		}
		for _, pay := range candidates {
			if !p.release(ctx, pay.ID, tier, &res) {
				continue
			}
			claimed, err := p.flags.ClaimReminder(ctx, pay.ID, tier)
			if err != nil {
				p.logger.Error("claim reminder", "payment_id", pay.ID, "tier", tier.String(), "error", err)
				res.Failed++
				continue
			}
			if !claimed {
				continue
			}
			r := reminder.FromPayment(pay, p.tenantName(ctx, pay.TenantID))
			for _, a := range []model.Audience{model.AudienceTenant, model.AudienceLandlord} {
				if err := p.platform.Notify(ctx, reminder.ReminderNotification(r, tier, a)); err != nil {
					p.logger.Error("send reminder", "payment_id", pay.ID, "tier", tier.String(), "audience", string(a), "error", err)
					res.Failed++
					continue
				}
				res.Reminders++
			}
		}
	}

	overdue, err := p.payments.ListOverdueCandidates(ctx, userID, today)
	if err != nil {
		return res, fmt.Errorf("poll overdue: %w", err)
	}
	for _, pay := range overdue {
		claimed, err := p.flags.ClaimOverdue(ctx, pay.ID)
		if err != nil {
			p.logger.Error("claim overdue", "payment_id", pay.ID, "error", err)
			res.Failed++
			continue
		}
		if !claimed {
			continue
		}
		res.add(p.sendOverdue(ctx, pay, DaysBetween(pay.DueDate, today)))
	}

	if res.Reminders > 0 || res.Overdue > 0 || res.Failed > 0 {
		p.logger.Info("poll complete", "user_id", userID, "reminders", res.Reminders, "overdue", res.Overdue, "failed", res.Failed)
	}
	return res, nil
}

// release clears the way for the poll to send a tier reminder whose queued
// copies lapsed or never reached a device.
func (p *Poller) release(ctx context.Context, paymentID string, tier model.ReminderTier, res *PollResult) bool {
	if p.inbox == nil {
		return true
	}
	ok, err := p.inbox.ReleaseReminder(ctx, paymentID, tier.DaysBefore())
	if err != nil {
		p.logger.Error("release reminder", "payment_id", paymentID, "tier", tier.String(), "error", err)
		res.Failed++
		return false
	}
	return ok
}

func (p *Poller) sendOverdue(ctx context.Context, pay model.Payment, days int) PollResult {
	var res PollResult
	tenant := p.lookup(ctx, pay.TenantID)
	name := ""
	if tenant != nil {
		name = tenant.Name
	}
	r := reminder.FromPayment(pay, name)

	for _, a := range []model.Audience{model.AudienceTenant, model.AudienceLandlord} {
		if err := p.platform.Notify(ctx, reminder.OverdueNotification(r, a, days)); err != nil {
			p.logger.Error("send overdue notice", "payment_id", pay.ID, "audience", string(a), "error", err)
			res.Failed++
			continue
		}
		res.Overdue++
	}

	if p.mailer != nil && tenant != nil && tenant.Email != "" {
		n := reminder.OverdueNotification(r, model.AudienceTenant, days)
		if err := p.mailer.SendOverdueNotice(ctx, tenant.Email, n); err != nil {
			p.logger.Error("email overdue notice", "payment_id", pay.ID, "error", err)
		}
	}
	return res
}

func (p *Poller) lookup(ctx context.Context, id string) *model.User {
	if p.users == nil {
		return nil
	}
	u, err := p.users.GetByID(ctx, id)
	if err != nil {
		p.logger.Warn("look up user", "user_id", id, "error", err)
		return nil
	}
	return u
}

func (p *Poller) tenantName(ctx context.Context, id string) string {
	if u := p.lookup(ctx, id); u != nil {
		return u.Name
	}
	return ""
}

// PollAll sweeps every user with unpaid payments. Nothing is taken from the
// inbox; queued rows wait for the dispatcher or the user's own poll.
func (p *Poller) PollAll(ctx context.Context) (PollResult, error) {
	users, err := p.payments.ListUsersWithUnpaid(ctx)
	if err != nil {
		return PollResult{}, fmt.Errorf("poll all: %w", err)
	}
	var total PollResult
	for _, id := range users {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := p.shared(ctx, id)
		if err != nil {
			p.logger.Error("poll user", "user_id", id, "error", err)
			continue
		}
		total.add(res)
	}
	return total, nil
}

// DaysBetween counts civil days from a to b.
func DaysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
