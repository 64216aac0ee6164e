package model

// ReminderTier identifies one of the three pre-due reminders.
type ReminderTier int

const (
	TierDueDate ReminderTier = 0
	Tier1Day    ReminderTier = 1
	Tier3Day    ReminderTier = 3
)

// Tiers lists reminder tiers from earliest to latest.
var Tiers = []ReminderTier{Tier3Day, Tier1Day, TierDueDate}

// DaysBefore is how many days ahead of the due date the tier fires.
func (t ReminderTier) DaysBefore() int {
	return int(t)
}

func (t ReminderTier) String() string {
	switch t {
	case Tier3Day:
		return "3day"
	case Tier1Day:
		return "1day"
	case TierDueDate:
		return "duedate"
	}
	return "unknown"
}

// TierFromDays maps a days-until-due value back to its tier.
func TierFromDays(days int) (ReminderTier, bool) {
	switch days {
	case 3:
		return Tier3Day, true
	case 1:
		return Tier1Day, true
	case 0:
		return TierDueDate, true
	}
	return 0, false
}

type Audience string

const (
	AudienceTenant   Audience = "tenant"
	AudienceLandlord Audience = "landlord"
)

// Notification type constants
const (
	NotifTypeReminderTenant   = "payment_reminder_tenant"
	NotifTypeReminderLandlord = "payment_reminder_landlord"
	NotifTypeOverdueTenant    = "payment_overdue_tenant"
	NotifTypeOverdueLandlord  = "payment_overdue_landlord"
	NotifTypeRatingReminder   = "rating_reminder"
	NotifTypePaymentReceived  = "payment_received"
)

// Notification actions tell the client which screen to open on tap.
const (
	ActionTenantPayments   = "open_student_payments"
	ActionLandlordPayments = "open_landlord_payments"
	ActionRatings          = "open_ratings"
	ActionPayments         = "open_payments"
)

// NotificationData travels with every notification and comes back to the
// server when the platform delivers it or the user taps it.
type NotificationData struct {
	Type         string `json:"type"`
	Action       string `json:"action,omitempty"`
	PaymentID    string `json:"payment_id,omitempty"`
	RentalID     string `json:"rental_id,omitempty"`
	DaysUntilDue *int   `json:"days_until_due,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

// IsPaymentReminder reports whether the data belongs to a tiered payment reminder.
func (d NotificationData) IsPaymentReminder() bool {
	return d.Type == NotifTypeReminderTenant || d.Type == NotifTypeReminderLandlord
}
