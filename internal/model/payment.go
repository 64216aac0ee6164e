package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPaid      PaymentStatus = "paid"
	PaymentPartial   PaymentStatus = "partial"
	PaymentOverdue   PaymentStatus = "overdue"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Valid reports whether s is one of the known payment statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentPartial, PaymentOverdue, PaymentCancelled:
		return true
	}
	return false
}

// DateLayout is the storage and wire format of civil due dates.
const DateLayout = "2006-01-02"

// Payment is a single monthly obligation generated from a Lease.
type Payment struct {
	ID            string          `json:"id"`
	LeaseID       string          `json:"lease_id"`
	TenantID      string          `json:"tenant_id"`
	LandlordID    string          `json:"landlord_id"`
	PropertyTitle string          `json:"property_title"`
	DueDate       time.Time       `json:"due_date"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	PaidDate      *time.Time      `json:"paid_date"`
	PaymentMethod string          `json:"payment_method"`
	Notes         string          `json:"notes"`

	Reminder3DaySent    bool `json:"reminder_3day_sent"`
	Reminder1DaySent    bool `json:"reminder_1day_sent"`
	ReminderDueDateSent bool `json:"reminder_duedate_sent"`
	OverdueNotified     bool `json:"overdue_notif_sent"`

	Notification3DayID    *string `json:"notification_3day_id"`
	Notification1DayID    *string `json:"notification_1day_id"`
	NotificationDueDateID *string `json:"notification_duedate_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReminderSent reports the flag for the given tier.
func (p *Payment) ReminderSent(t ReminderTier) bool {
	switch t {
	case Tier3Day:
		return p.Reminder3DaySent
	case Tier1Day:
		return p.Reminder1DaySent
	case TierDueDate:
		return p.ReminderDueDateSent
	}
	return false
}

// Handle returns the persisted tenant-facing schedule handle for the tier.
func (p *Payment) Handle(t ReminderTier) *string {
	switch t {
	case Tier3Day:
		return p.Notification3DayID
	case Tier1Day:
		return p.Notification1DayID
	case TierDueDate:
		return p.NotificationDueDateID
	}
	return nil
}

// Handles returns every non-empty schedule handle on the payment.
func (p *Payment) Handles() []string {
	var out []string
	for _, t := range Tiers {
		if h := p.Handle(t); h != nil && *h != "" {
			out = append(out, *h)
		}
	}
	return out
}

// StatusTotal aggregates payments sharing a status.
type StatusTotal struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type PaymentStats struct {
	ByStatus map[PaymentStatus]StatusTotal `json:"by_status"`
	Total    StatusTotal                   `json:"total"`
}
