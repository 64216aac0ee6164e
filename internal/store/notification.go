package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/stayvia/internal/model"
)

// NotificationStore persists the schedule queue behind notification handles.
type NotificationStore struct {
	db *sql.DB
}

func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationCols = `id, user_id, fire_at, title, body, data, state, delivered_at, created_at`

func scanNotification(scanner interface{ Scan(...any) error }) (*model.ScheduledNotification, error) {
	var n model.ScheduledNotification
	var data string
	var delivered sql.NullTime
	err := scanner.Scan(&n.ID, &n.UserID, &n.FireAt, &n.Title, &n.Body, &data, &n.State, &delivered, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
		return nil, fmt.Errorf("decode notification data: %w", err)
	}
	if delivered.Valid {
		t := delivered.Time
		n.DeliveredAt = &t
	}
	return &n, nil
}

func (s *NotificationStore) Create(ctx context.Context, n *model.ScheduledNotification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("encode notification data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_notifications (id, user_id, fire_at, title, body, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.FireAt.UTC(), n.Title, n.Body, string(data),
	)
	if err != nil {
		return fmt.Errorf("insert scheduled notification: %w", err)
	}
	return nil
}

func (s *NotificationStore) GetByID(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM scheduled_notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled notification: %w", err)
	}
	return n, nil
}

// Cancel marks a pending notification cancelled. Unknown or already
// settled handles are left alone.
func (s *NotificationStore) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET state = 'cancelled' WHERE id = ? AND state = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("cancel scheduled notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel scheduled notification: %w", err)
	}
	return n == 1, nil
}

// CancelByPayment cancels every pending notification about a payment,
// whichever audience it was scheduled for.
func (s *NotificationStore) CancelByPayment(ctx context.Context, paymentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET state = 'cancelled'
		 WHERE state = 'pending' AND json_extract(data, '$.payment_id') = ?`, paymentID)
	if err != nil {
		return 0, fmt.Errorf("cancel payment notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel payment notifications: %w", err)
	}
	return n, nil
}

// ListDue returns pending notifications whose fire time is at or before now.
func (s *NotificationStore) ListDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationCols+` FROM scheduled_notifications
		 WHERE state = 'pending' AND fire_at <= ?
		 ORDER BY fire_at ASC, id ASC
		 LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}
	defer rows.Close()

	var out []model.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkDelivered moves a pending notification to delivered. It reports false
// when the notification was cancelled or delivered in the meantime.
func (s *NotificationStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET state = 'delivered', delivered_at = ?
		 WHERE id = ? AND state = 'pending'`, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("mark notification delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification delivered: %w", err)
	}
	return n == 1, nil
}

// MarkUndelivered records that a dispatched notification reached no device.
func (s *NotificationStore) MarkUndelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_notifications SET state = 'undelivered', delivered_at = NULL
		 WHERE id = ? AND state = 'delivered'`, id)
	if err != nil {
		return fmt.Errorf("mark notification undelivered: %w", err)
	}
	return nil
}

const reminderCopies = `json_extract(data, '$.payment_id') = ?
	AND json_extract(data, '$.days_until_due') = ?
	AND json_extract(data, '$.type') IN ('` + model.NotifTypeReminderTenant + `', '` + model.NotifTypeReminderLandlord + `')`

// ReleaseReminder hands a tier reminder over to the foreground poll. When
// no copy of it has been delivered, every pending or undelivered copy is
// cancelled and true is returned. Otherwise nothing changes.
func (s *NotificationStore) ReleaseReminder(ctx context.Context, paymentID string, daysUntilDue int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Write first so the check below reads under the write lock.
	if _, err := tx.ExecContext(ctx,
		`UPDATE scheduled_notifications SET state = 'cancelled'
		 WHERE state IN ('pending', 'undelivered') AND `+reminderCopies,
		paymentID, daysUntilDue); err != nil {
		return false, fmt.Errorf("release reminder: %w", err)
	}
	var delivered int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_notifications WHERE state = 'delivered' AND `+reminderCopies,
		paymentID, daysUntilDue).Scan(&delivered); err != nil {
		return false, fmt.Errorf("release reminder: %w", err)
	}
	if delivered > 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("release reminder: %w", err)
	}
	return true, nil
}

// TakeDue settles the user's notifications that are due but reached no
// device, and returns them oldest first. Each row is taken by at most one
// caller.
func (s *NotificationStore) TakeDue(ctx context.Context, userID string, now time.Time, limit int) ([]model.ScheduledNotification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationCols+` FROM scheduled_notifications
		 WHERE user_id = ?
		   AND ((state = 'pending' AND fire_at <= ?) OR state = 'undelivered')
		 ORDER BY fire_at ASC, id ASC
		 LIMIT ?`,
		userID, now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list undelivered notifications: %w", err)
	}
	var candidates []model.ScheduledNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan scheduled notification: %w", err)
		}
		candidates = append(candidates, *n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list undelivered notifications: %w", err)
	}

	var taken []model.ScheduledNotification
	for _, n := range candidates {
		res, err := s.db.ExecContext(ctx,
			`UPDATE scheduled_notifications SET state = 'delivered', delivered_at = ?
			 WHERE id = ? AND state IN ('pending', 'undelivered')`, now.UTC(), n.ID)
		if err != nil {
			return taken, fmt.Errorf("take notification: %w", err)
		}
		if c, err := res.RowsAffected(); err != nil || c != 1 {
			continue
		}
		at := now.UTC()
		n.State = model.NotificationDelivered
		n.DeliveredAt = &at
		taken = append(taken, n)
	}
	return taken, nil
}

// CleanupBefore deletes settled notifications created before the given time.
func (s *NotificationStore) CleanupBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_notifications WHERE state != 'pending' AND fire_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup scheduled notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup scheduled notifications: %w", err)
	}
	return n, nil
}
