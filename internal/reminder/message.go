package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/stayvia/internal/model"
)

// Notification is the content handed to a Platform.
type Notification struct {
	UserID string
	Title  string
	Body   string
	Data   model.NotificationData
}

// PaymentReminder carries what is needed to word and schedule the
// reminders for one payment.
type PaymentReminder struct {
	PaymentID     string
	LeaseID       string
	TenantID      string
	LandlordID    string
	TenantName    string
	PropertyTitle string
	DueDate       time.Time
	Amount        decimal.Decimal
}

// FromPayment builds a PaymentReminder from a stored payment.
func FromPayment(p model.Payment, tenantName string) PaymentReminder {
	return PaymentReminder{
		PaymentID:     p.ID,
		LeaseID:       p.LeaseID,
		TenantID:      p.TenantID,
		LandlordID:    p.LandlordID,
		TenantName:    tenantName,
		PropertyTitle: p.PropertyTitle,
		DueDate:       p.DueDate,
		Amount:        p.Amount,
	}
}

// FormatAmount renders an amount in pesos with thousands separators,
// dropping the fraction when it is zero.
func FormatAmount(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "₱" + b.String()
	if frac != "00" {
		out += "." + frac
	}
	if d.IsNegative() {
		out = "-" + out
	}
	return out
}

func userFor(r PaymentReminder, a model.Audience) string {
	if a == model.AudienceLandlord {
		return r.LandlordID
	}
	return r.TenantID
}

func tenantLabel(r PaymentReminder) string {
	if r.TenantName == "" {
		return "Tenant"
	}
	return r.TenantName
}

// ReminderNotification words the tier reminder for one audience.
func ReminderNotification(r PaymentReminder, tier model.ReminderTier, a model.Audience) Notification {
	amount := FormatAmount(r.Amount)
	days := tier.DaysBefore()

	var when string
	switch tier {
	case model.Tier3Day:
		when = "due in 3 days"
	case model.Tier1Day:
		when = "due tomorrow"
	default:
		when = "due today"
	}

	n := Notification{
		UserID: userFor(r, a),
		Data: model.NotificationData{
			PaymentID:    r.PaymentID,
			RentalID:     r.LeaseID,
			DaysUntilDue: &days,
			UserID:       userFor(r, a),
		},
	}

	if a == model.AudienceLandlord {
		n.Data.Type = model.NotifTypeReminderLandlord
		n.Data.Action = model.ActionLandlordPayments
		switch tier {
		case model.Tier3Day:
			n.Title = "💰 Upcoming Payment"
		case model.Tier1Day:
			n.Title = "💰 Payment Due Tomorrow"
		default:
			n.Title = "💰 Payment Due Today"
		}
		n.Body = fmt.Sprintf("%s - %s %s", tenantLabel(r), amount, when)
		return n
	}

	n.Data.Type = model.NotifTypeReminderTenant
	n.Data.Action = model.ActionTenantPayments
	switch tier {
	case model.Tier3Day:
		n.Title = "💰 Payment Reminder"
		n.Body = fmt.Sprintf("Payment due in 3 days: %s for %s", amount, r.PropertyTitle)
	case model.Tier1Day:
		n.Title = "💰 Payment Due Tomorrow"
		n.Body = fmt.Sprintf("%s due tomorrow for %s", amount, r.PropertyTitle)
	default:
		n.Title = "💰 Payment Due Today"
		n.Body = fmt.Sprintf("%s due today for %s", amount, r.PropertyTitle)
	}
	return n
}

// OverdueNotification words the one-time overdue notice for one audience.
func OverdueNotification(r PaymentReminder, a model.Audience, daysOverdue int) Notification {
	amount := FormatAmount(r.Amount)
	n := Notification{
		UserID: userFor(r, a),
		Data: model.NotificationData{
			PaymentID: r.PaymentID,
			RentalID:  r.LeaseID,
			UserID:    userFor(r, a),
		},
	}
	if a == model.AudienceLandlord {
		n.Title = "⚠️ Overdue Payment"
		n.Body = fmt.Sprintf("%s - %s is %d day(s) overdue", tenantLabel(r), amount, daysOverdue)
		n.Data.Type = model.NotifTypeOverdueLandlord
		n.Data.Action = model.ActionLandlordPayments
		return n
	}
	n.Title = "⚠️ Payment Overdue"
	n.Body = fmt.Sprintf("%s for %s is %d day(s) overdue", amount, r.PropertyTitle, daysOverdue)
	n.Data.Type = model.NotifTypeOverdueTenant
	n.Data.Action = model.ActionTenantPayments
	return n
}

// ReceivedNotification tells the tenant a payment was recorded as paid.
func ReceivedNotification(r PaymentReminder) Notification {
	return Notification{
		UserID: r.TenantID,
		Title:  "✅ Payment Received",
		Body:   fmt.Sprintf("Your payment of %s for %s has been received", FormatAmount(r.Amount), r.PropertyTitle),
		Data: model.NotificationData{
			Type:      model.NotifTypePaymentReceived,
			Action:    model.ActionPayments,
			PaymentID: r.PaymentID,
			RentalID:  r.LeaseID,
			UserID:    r.TenantID,
		},
	}
}

// RatingReminder asks a tenant to rate their stay a week after move-in.
type RatingReminder struct {
	RentalID      string
	TenantID      string
	PropertyTitle string
	MoveIn        time.Time
}

func ratingNotification(r RatingReminder) Notification {
	return Notification{
		UserID: r.TenantID,
		Title:  "⭐ Time to rate your stay!",
		Body:   fmt.Sprintf("It's time to rate your experience at %s. Share your feedback!", r.PropertyTitle),
		Data: model.NotificationData{
			Type:     model.NotifTypeRatingReminder,
			Action:   model.ActionRatings,
			RentalID: r.RentalID,
			UserID:   r.TenantID,
		},
	}
}
