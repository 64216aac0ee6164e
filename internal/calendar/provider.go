package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/store"
)

var ErrPermissionDenied = errors.New("calendar permission not granted")

// Event is the content of a calendar event. Alarms are minute offsets
// relative to Start.
type Event struct {
	Title  string
	Notes  string
	Start  time.Time
	End    time.Time
	Alarms []int
}

// Provider is the external calendar a user's payment events live in.
type Provider interface {
	RequestPermission(ctx context.Context, ownerID string) (bool, error)
	EnsureCalendar(ctx context.Context, ownerID, title, color string) (string, error)
	CreateEvent(ctx context.Context, calendarID string, e Event) (string, error)
	UpdateEvent(ctx context.Context, eventID string, e Event) error
	DeleteEvent(ctx context.Context, eventID string) error
	ListEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]model.CalendarEvent, error)
}

// MappingRepository persists the ordered event ids created for a lease,
// per calendar owner.
type MappingRepository interface {
	Get(ctx context.Context, ownerID, leaseID string) ([]string, error)
	GetDueBetween(ctx context.Context, ownerID, leaseID string, from, to time.Time) ([]string, error)
	Put(ctx context.Context, ownerID, leaseID string, events []model.MappedEvent) error
	Remove(ctx context.Context, ownerID, leaseID string) error
	ListLeaseIDs(ctx context.Context, ownerID string) ([]string, error)
}

// LocalProvider keeps calendars in the service's own database. Access is
// always granted.
type LocalProvider struct {
	store *store.CalendarStore
}

func NewLocalProvider(s *store.CalendarStore) *LocalProvider {
	return &LocalProvider{store: s}
}

func (p *LocalProvider) RequestPermission(ctx context.Context, ownerID string) (bool, error) {
	return true, nil
}

func (p *LocalProvider) EnsureCalendar(ctx context.Context, ownerID, title, color string) (string, error) {
	c, err := p.store.GetOrCreateCalendar(ctx, ownerID, title, color)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (p *LocalProvider) CreateEvent(ctx context.Context, calendarID string, e Event) (string, error) {
	ev, err := p.store.CreateEvent(ctx, calendarID, e.Title, e.Notes, e.Start, e.End, e.Alarms)
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (p *LocalProvider) UpdateEvent(ctx context.Context, eventID string, e Event) error {
	ev, err := p.store.UpdateEvent(ctx, eventID, e.Title, e.Notes, e.Start, e.End, e.Alarms)
	if err != nil {
		return err
	}
	if ev == nil {
		return fmt.Errorf("update event %s: not found", eventID)
	}
	return nil
}

// DeleteEvent removes an event. Deleting a missing event succeeds.
func (p *LocalProvider) DeleteEvent(ctx context.Context, eventID string) error {
	return p.store.DeleteEvent(ctx, eventID)
}

func (p *LocalProvider) ListEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]model.CalendarEvent, error) {
	return p.store.ListEvents(ctx, calendarIDs, start, end)
}
