package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/stayvia/internal/model"
)

// CalendarStore holds the calendars and events served by the local
// calendar provider.
type CalendarStore struct {
	db *sql.DB
}

func NewCalendarStore(db *sql.DB) *CalendarStore {
	return &CalendarStore{db: db}
}

// GetOrCreateCalendar returns the owner's calendar with the given title,
// creating it when missing.
func (s *CalendarStore) GetOrCreateCalendar(ctx context.Context, ownerID, title, color string) (*model.Calendar, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (id, owner_id, title, color) VALUES (?, ?, ?, ?)
		 ON CONFLICT(owner_id, title) DO NOTHING`,
		uuid.NewString(), ownerID, title, color,
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar: %w", err)
	}

	var c model.Calendar
	err = s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, color, created_at FROM calendars WHERE owner_id = ? AND title = ?`,
		ownerID, title,
	).Scan(&c.ID, &c.OwnerID, &c.Title, &c.Color, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}
	return &c, nil
}

// ListCalendarIDs returns the ids of every calendar the owner has.
func (s *CalendarStore) ListCalendarIDs(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM calendars WHERE owner_id = ? ORDER BY title`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

const eventCols = `id, calendar_id, title, notes, start_time, end_time, alarms, created_at, updated_at`

func scanEvent(scanner interface{ Scan(...any) error }) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	var alarms string
	err := scanner.Scan(&e.ID, &e.CalendarID, &e.Title, &e.Notes, &e.StartTime, &e.EndTime, &alarms, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(alarms), &e.Alarms); err != nil {
		return nil, fmt.Errorf("decode alarms: %w", err)
	}
	return &e, nil
}

func encodeAlarms(alarms []int) (string, error) {
	if alarms == nil {
		alarms = []int{}
	}
	b, err := json.Marshal(alarms)
	if err != nil {
		return "", fmt.Errorf("encode alarms: %w", err)
	}
	return string(b), nil
}

func (s *CalendarStore) CreateEvent(ctx context.Context, calendarID, title, notes string, start, end time.Time, alarms []int) (*model.CalendarEvent, error) {
	enc, err := encodeAlarms(alarms)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (id, calendar_id, title, notes, start_time, end_time, alarms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, calendarID, title, notes, start.UTC(), end.UTC(), enc,
	)
	if err != nil {
		return nil, fmt.Errorf("insert calendar event: %w", err)
	}
	return s.GetEvent(ctx, id)
}

func (s *CalendarStore) GetEvent(ctx context.Context, id string) (*model.CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM calendar_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query calendar event: %w", err)
	}
	return e, nil
}

// UpdateEvent rewrites an event. It returns nil when the event no longer exists.
func (s *CalendarStore) UpdateEvent(ctx context.Context, id, title, notes string, start, end time.Time, alarms []int) (*model.CalendarEvent, error) {
	enc, err := encodeAlarms(alarms)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE calendar_events SET title = ?, notes = ?, start_time = ?, end_time = ?, alarms = ?
		 WHERE id = ?`,
		title, notes, start.UTC(), end.UTC(), enc, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update calendar event: %w", err)
	}
	return s.GetEvent(ctx, id)
}

func (s *CalendarStore) DeleteEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}

// ListEvents returns events of the given calendars that overlap [start, end].
func (s *CalendarStore) ListEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]model.CalendarEvent, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(calendarIDs)+2)
	placeholders := ""
	for i, id := range calendarIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	args = append(args, end.UTC(), start.UTC())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM calendar_events
		 WHERE calendar_id IN (`+placeholders+`) AND start_time <= ? AND end_time >= ?
		 ORDER BY start_time ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query calendar events: %w", err)
	}
	defer rows.Close()

	var events []model.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
