package model

import "time"

type PushSubscription struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
}

type NotificationPreference struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	NotificationType string    `json:"notification_type"`
	Enabled          bool      `json:"enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type NotificationState string

const (
	NotificationPending     NotificationState = "pending"
	NotificationDelivered   NotificationState = "delivered"
	NotificationCancelled   NotificationState = "cancelled"
	NotificationUndelivered NotificationState = "undelivered" // dispatched, but no device accepted it
)

// ScheduledNotification is a request to deliver a notification at FireAt.
// Its ID is the opaque handle returned to schedulers.
type ScheduledNotification struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	FireAt      time.Time         `json:"fire_at"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        NotificationData  `json:"data"`
	State       NotificationState `json:"state"`
	DeliveredAt *time.Time        `json:"delivered_at"`
	CreatedAt   time.Time         `json:"created_at"`
}
