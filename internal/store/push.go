package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/stayvia/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const subscriptionCols = `id, user_id, endpoint, p256dh_key, auth_key, device_name, created_at`

func (s *PushStore) CreateSubscription(ctx context.Context, userID, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET user_id = excluded.user_id, p256dh_key = excluded.p256dh_key,
		 auth_key = excluded.auth_key, device_name = excluded.device_name`,
		userID, endpoint, p256dh, auth, deviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("create push subscription: %w", err)
	}
	// LastInsertId is unreliable after an upsert; re-query by endpoint
	return s.getByEndpoint(ctx, endpoint)
}

func (s *PushStore) GetByID(ctx context.Context, id int64, userID string) (*model.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) getByEndpoint(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by user: %w", err)
	}
	defer rows.Close()

	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *PushStore) DeleteSubscription(ctx context.Context, id int64, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *PushStore) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

// GetPreferences returns the notification preferences a user has set.
func (s *PushStore) GetPreferences(ctx context.Context, userID string) ([]model.NotificationPreference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, notification_type, enabled, created_at, updated_at
		 FROM notification_preferences WHERE user_id = ? ORDER BY notification_type`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get notification preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.NotificationPreference
	for rows.Next() {
		var p model.NotificationPreference
		var enabledInt int
		if err := rows.Scan(&p.ID, &p.UserID, &p.NotificationType, &enabledInt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan notification preference: %w", err)
		}
		p.Enabled = enabledInt != 0
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SetPreference upserts a notification preference.
func (s *PushStore) SetPreference(ctx context.Context, userID, notifType string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences (user_id, notification_type, enabled)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id, notification_type) DO UPDATE SET enabled = excluded.enabled`,
		userID, notifType, boolInt(enabled),
	)
	if err != nil {
		return fmt.Errorf("set notification preference: %w", err)
	}
	return nil
}

// IsPreferenceEnabled checks if a notification type is enabled for a user.
// Returns true by default if no preference record exists.
func (s *PushStore) IsPreferenceEnabled(ctx context.Context, userID, notifType string) (bool, error) {
	var enabledInt int
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM notification_preferences WHERE user_id = ? AND notification_type = ?`,
		userID, notifType,
	).Scan(&enabledInt)
	if err == sql.ErrNoRows {
		return true, nil // default enabled
	}
	if err != nil {
		return false, fmt.Errorf("check notification preference: %w", err)
	}
	return enabledInt != 0, nil
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
