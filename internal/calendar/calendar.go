// Package calendar mirrors lease due dates into a calendar provider and
// reports how much of that mirror still exists.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/stayvia/internal/duedate"
	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/reminder"
)

type Config struct {
	CalendarTitle string
	Color         string
	// Hour is the local hour payment events start at.
	Hour     int
	Location *time.Location
	Duration time.Duration
	Alarms   []int
}

func DefaultConfig() Config {
	return Config{
		CalendarTitle: "StayVia Payments",
		Color:         "#2563EB",
		Hour:          9,
		Location:      time.Local,
		Duration:      30 * time.Minute,
		Alarms:        []int{-1440, -60, 0},
	}
}

type Service struct {
	provider Provider
	mappings MappingRepository
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(provider Provider, mappings MappingRepository, cfg Config, logger *slog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 30 * time.Minute
	}
	return &Service{
		provider: provider,
		mappings: mappings,
		cfg:      cfg,
		logger:   logger.With("component", "calendar"),
		now:      time.Now,
	}
}

// SetClock replaces the service's time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) today() time.Time {
	return duedate.Civil(s.now(), s.cfg.Location)
}

// PaymentEvent builds the calendar event for one due date of a lease.
func (s *Service) PaymentEvent(l model.Lease, due duedate.Due) Event {
	start := time.Date(due.Date.Year(), due.Date.Month(), due.Date.Day(), s.cfg.Hour, 0, 0, 0, s.cfg.Location)
	return Event{
		Title:  "Rent Payment - " + l.PropertyTitle,
		Notes:  fmt.Sprintf("Monthly rent payment of %s for %s\nRental ID: %s", reminder.FormatAmount(due.Amount), l.PropertyTitle, l.ID),
		Start:  start,
		End:    start.Add(s.cfg.Duration),
		Alarms: append([]int(nil), s.cfg.Alarms...),
	}
}

func (s *Service) calendarID(ctx context.Context, ownerID string) (string, error) {
	granted, err := s.provider.RequestPermission(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("request permission: %w", err)
	}
	if !granted {
		return "", ErrPermissionDenied
	}
	id, err := s.provider.EnsureCalendar(ctx, ownerID, s.cfg.CalendarTitle, s.cfg.Color)
	if err != nil {
		return "", fmt.Errorf("ensure calendar: %w", err)
	}
	return id, nil
}

// CreateLeaseEvents creates one event per upcoming due date and records
// the event ids in order. When a create fails, the due dates left over are
// mapped without an event so the lease reads as partially synced.
func (s *Service) CreateLeaseEvents(ctx context.Context, ownerID string, l model.Lease, dues []duedate.Due) ([]string, error) {
	calID, err := s.calendarID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	today := s.today()
	var ids []string
	var mapped []model.MappedEvent
	var createErr error
	for _, d := range dues {
		if d.Date.Before(today) {
			continue
		}
		if createErr != nil {
			mapped = append(mapped, model.MappedEvent{Due: d.Date})
			continue
		}
		id, err := s.provider.CreateEvent(ctx, calID, s.PaymentEvent(l, d))
		if err != nil {
			createErr = fmt.Errorf("create event for %s: %w", d.Date.Format(model.DateLayout), err)
			mapped = append(mapped, model.MappedEvent{Due: d.Date})
			continue
		}
		ids = append(ids, id)
		mapped = append(mapped, model.MappedEvent{ID: id, Due: d.Date})
	}

	if err := s.mappings.Put(ctx, ownerID, l.ID, mapped); err != nil {
		return ids, fmt.Errorf("save event mapping: %w", err)
	}
	if createErr != nil {
		return ids, createErr
	}
	s.logger.Info("calendar events created", "owner", ownerID, "lease", l.ID, "count", len(ids))
	return ids, nil
}

// window is the range the oracle inspects: today through one year ahead.
func (s *Service) window() (time.Time, time.Time) {
	start := s.today()
	return start, start.AddDate(1, 0, 0)
}

// Status classifies the lease's calendar sync by intersecting the mapped
// events due inside the window with the events the provider holds there.
// Mapped events due outside the window are not compared. Provider
// failures are logged and reported as none.
func (s *Service) Status(ctx context.Context, ownerID, leaseID string) model.CalendarSyncStatus {
	from, to := s.window()
	ids, err := s.mappings.GetDueBetween(ctx, ownerID, leaseID, from, to)
	if err != nil {
		s.logger.Error("load event mapping", "owner", ownerID, "lease", leaseID, "error", err)
		return model.SyncStatusNone
	}
	if len(ids) == 0 {
		return model.SyncStatusNone
	}

	existing, err := s.existingEvents(ctx, ownerID)
	if err != nil {
		s.logger.Error("check sync status", "owner", ownerID, "lease", leaseID, "error", err)
		return model.SyncStatusNone
	}
	return Classify(ids, existing)
}

func (s *Service) existingEvents(ctx context.Context, ownerID string) (map[string]bool, error) {
	calID, err := s.calendarID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	from, to := s.window()
	events, err := s.provider.ListEvents(ctx, []string{calID}, from, to)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	set := make(map[string]bool, len(events))
	for _, e := range events {
		set[e.ID] = true
	}
	return set, nil
}

// Classify reports synced when every mapped id exists, partial when some
// do and none otherwise.
func Classify(mapped []string, existing map[string]bool) model.CalendarSyncStatus {
	if len(mapped) == 0 {
		return model.SyncStatusNone
	}
	found := 0
	for _, id := range mapped {
		if id != "" && existing[id] {
			found++
		}
	}
	switch {
	case found == len(mapped):
		return model.SyncStatusSynced
	case found > 0:
		return model.SyncStatusPartial
	}
	return model.SyncStatusNone
}

// SyncLease brings a lease's events back in line with its due dates. A
// lease that already reads as synced, or has nothing due inside the
// window, is left alone and false is returned. Otherwise the remaining
// mapped events are deleted and recreated.
func (s *Service) SyncLease(ctx context.Context, ownerID string, l model.Lease, dues []duedate.Due) (bool, error) {
	if !s.dueInWindow(dues) {
		return false, nil
	}
	if s.Status(ctx, ownerID, l.ID) == model.SyncStatusSynced {
		return false, nil
	}
	if err := s.deleteMapped(ctx, ownerID, l.ID); err != nil {
		return false, err
	}
	if _, err := s.CreateLeaseEvents(ctx, ownerID, l, dues); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) dueInWindow(dues []duedate.Due) bool {
	from, to := s.window()
	for _, d := range dues {
		if !d.Date.Before(from) && d.Date.Before(to) {
			return true
		}
	}
	return false
}

// Summary counts the outcome of a multi-lease sync.
type Summary struct {
	Total  int `json:"total"`
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// SyncAll syncs each lease independently; one failure does not stop the rest.
func (s *Service) SyncAll(ctx context.Context, ownerID string, leases []model.Lease) Summary {
	sum := Summary{Total: len(leases)}
	for _, l := range leases {
		if _, err := s.SyncLease(ctx, ownerID, l, Dues(l)); err != nil {
			sum.Failed++
			s.logger.Error("sync lease", "owner", ownerID, "lease", l.ID, "error", err)
			continue
		}
		sum.Synced++
	}
	s.logger.Info("calendar sync complete", "owner", ownerID, "total", sum.Total, "synced", sum.Synced, "failed", sum.Failed)
	return sum
}

// RemoveLease deletes the lease's events and forgets the mapping.
func (s *Service) RemoveLease(ctx context.Context, ownerID, leaseID string) error {
	if err := s.deleteMapped(ctx, ownerID, leaseID); err != nil {
		return err
	}
	if err := s.mappings.Remove(ctx, ownerID, leaseID); err != nil {
		return fmt.Errorf("remove event mapping: %w", err)
	}
	return nil
}

// deleteMapped deletes every mapped event, logging and continuing past
// individual failures.
func (s *Service) deleteMapped(ctx context.Context, ownerID, leaseID string) error {
	ids, err := s.mappings.Get(ctx, ownerID, leaseID)
	if err != nil {
		return fmt.Errorf("load event mapping: %w", err)
	}
	for _, id := range ids {
		if err := s.provider.DeleteEvent(ctx, id); err != nil {
			s.logger.Warn("delete calendar event", "event", id, "lease", leaseID, "error", err)
		}
	}
	return nil
}

// IsPermissionDenied reports whether err came from a refused permission.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
