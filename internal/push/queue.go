package push

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/reminder"
	"github.com/dukerupert/stayvia/internal/store"
)

// Queue is the notification platform behind the reminder scheduler. A
// handle is the id of a scheduled_notifications row; the Dispatcher
// delivers rows when they come due.
type Queue struct {
	store *store.NotificationStore
	wake  chan struct{}
	now   func() time.Time
}

func NewQueue(ns *store.NotificationStore) *Queue {
	return &Queue{
		store: ns,
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}
}

// SetClock overrides the instant used for immediate notifications.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

// Schedule stores the notification for delivery at the given instant and
// returns its handle.
func (q *Queue) Schedule(ctx context.Context, at time.Time, n reminder.Notification) (string, error) {
	sn := &model.ScheduledNotification{
		ID:     uuid.NewString(),
		UserID: n.UserID,
		FireAt: at,
		Title:  n.Title,
		Body:   n.Body,
		Data:   n.Data,
	}
	if err := q.store.Create(ctx, sn); err != nil {
		return "", fmt.Errorf("queue notification: %w", err)
	}
	return sn.ID, nil
}

// Cancel withdraws a pending notification. Handles that are unknown or
// already settled are ignored.
func (q *Queue) Cancel(ctx context.Context, handle string) error {
	if _, err := q.store.Cancel(ctx, handle); err != nil {
		return err
	}
	return nil
}

// Notify queues the notification for immediate delivery.
func (q *Queue) Notify(ctx context.Context, n reminder.Notification) error {
	if _, err := q.Schedule(ctx, q.now(), n); err != nil {
		return err
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake fires when an immediate notification is queued.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
