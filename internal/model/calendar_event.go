package model

import "time"

type CalendarSyncStatus string

const (
	SyncStatusSynced  CalendarSyncStatus = "synced"
	SyncStatusPartial CalendarSyncStatus = "partial"
	SyncStatusNone    CalendarSyncStatus = "none"
)

type Calendar struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// CalendarEvent is an event in a calendar. Alarms are minute offsets
// relative to StartTime (negative = before).
type CalendarEvent struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendar_id"`
	Title      string    `json:"title"`
	Notes      string    `json:"notes"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Alarms     []int     `json:"alarms"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MappedEvent ties a calendar event to the due date it was created for.
// An empty ID records a due date whose event could not be created.
type MappedEvent struct {
	ID  string
	Due time.Time
}
