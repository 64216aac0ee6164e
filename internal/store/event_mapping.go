package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stayvia/internal/model"
)

// EventMappingStore records which calendar events belong to a lease, per
// calendar owner.
type EventMappingStore struct {
	db *sql.DB
}

func NewEventMappingStore(db *sql.DB) *EventMappingStore {
	return &EventMappingStore{db: db}
}

// Get returns the owner's event ids for a lease in creation order. Due
// dates whose event was never created are left out.
func (s *EventMappingStore) Get(ctx context.Context, ownerID, leaseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id FROM lease_calendar_events
		 WHERE owner_id = ? AND lease_id = ? AND event_id != ''
		 ORDER BY position`,
		ownerID, leaseID,
	)
	if err != nil {
		return nil, fmt.Errorf("get event mapping: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// GetDueBetween returns the mapped ids whose due date lies in [from, to),
// including empty ids for events that failed to create. Rows written
// before due dates were recorded always match.
func (s *EventMappingStore) GetDueBetween(ctx context.Context, ownerID, leaseID string, from, to time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id FROM lease_calendar_events
		 WHERE owner_id = ? AND lease_id = ?
		   AND (due_date = '' OR (due_date >= ? AND due_date < ?))
		 ORDER BY position`,
		ownerID, leaseID, formatDate(from), formatDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("get event mapping window: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Put replaces the owner's mapping for a lease.
func (s *EventMappingStore) Put(ctx context.Context, ownerID, leaseID string, events []model.MappedEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM lease_calendar_events WHERE owner_id = ? AND lease_id = ?`, ownerID, leaseID); err != nil {
		return fmt.Errorf("clear event mapping: %w", err)
	}
	for i, e := range events {
		var due string
		if !e.Due.IsZero() {
			due = formatDate(e.Due)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lease_calendar_events (owner_id, lease_id, event_id, position, due_date) VALUES (?, ?, ?, ?, ?)`,
			ownerID, leaseID, e.ID, i, due); err != nil {
			return fmt.Errorf("insert event mapping: %w", err)
		}
	}
	return tx.Commit()
}

func (s *EventMappingStore) Remove(ctx context.Context, ownerID, leaseID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM lease_calendar_events WHERE owner_id = ? AND lease_id = ?`, ownerID, leaseID)
	if err != nil {
		return fmt.Errorf("remove event mapping: %w", err)
	}
	return nil
}

// ListLeaseIDs returns the leases the owner has mapped events for.
func (s *EventMappingStore) ListLeaseIDs(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT lease_id FROM lease_calendar_events WHERE owner_id = ? ORDER BY lease_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list mapped leases: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}
