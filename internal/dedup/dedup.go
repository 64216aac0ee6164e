// Package dedup records reminder delivery exactly once per payment and
// tier, whichever path observes it first.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/stayvia/internal/model"
)

type Source string

const (
	SourceDelivered Source = "delivered"
	SourceTapped    Source = "tapped"
	SourcePoll      Source = "poll"
)

// Signal reports that a tier reminder for a payment reached its user.
type Signal struct {
	PaymentID string
	Tier      model.ReminderTier
	UserID    string
	Source    Source
}

// SignalFromData maps a notification payload to a Signal. Only tiered
// payment reminders with a known days-until-due produce one.
func SignalFromData(d model.NotificationData, src Source) (Signal, bool) {
	if !d.IsPaymentReminder() || d.PaymentID == "" || d.DaysUntilDue == nil {
		return Signal{}, false
	}
	tier, ok := model.TierFromDays(*d.DaysUntilDue)
	if !ok {
		return Signal{}, false
	}
	return Signal{PaymentID: d.PaymentID, Tier: tier, UserID: d.UserID, Source: src}, true
}

// FlagStore flips write-once flags and reports whether the caller did the flip.
type FlagStore interface {
	ClaimReminder(ctx context.Context, paymentID string, tier model.ReminderTier) (bool, error)
	ClaimOverdue(ctx context.Context, paymentID string) (bool, error)
}

type Deduplicator struct {
	flags  FlagStore
	logger *slog.Logger
}

func New(flags FlagStore, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{flags: flags, logger: logger.With("component", "dedup")}
}

// Acknowledge flips the tier flag for the signal. claimed is true only for
// the first signal of a (payment, tier); later ones are no-ops.
func (d *Deduplicator) Acknowledge(ctx context.Context, s Signal) (bool, error) {
	claimed, err := d.flags.ClaimReminder(ctx, s.PaymentID, s.Tier)
	if err != nil {
		return false, fmt.Errorf("acknowledge %s: %w", s.Source, err)
	}
	d.logger.Debug("reminder acknowledged",
		"payment_id", s.PaymentID,
		"tier", s.Tier.String(),
		"source", string(s.Source),
		"claimed", claimed,
	)
	return claimed, nil
}

// Listen consumes every source until all are closed or ctx is done.
// Signals are applied one at a time.
func (d *Deduplicator) Listen(ctx context.Context, sources ...<-chan Signal) {
	merged := make(chan Signal)
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case s, ok := <-src:
					if !ok {
						return
					}
					select {
					case merged <- s:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for s := range merged {
		if _, err := d.Acknowledge(ctx, s); err != nil {
			d.logger.Error("acknowledge signal", "payment_id", s.PaymentID, "error", err)
		}
	}
}

var ErrFeedClosed = errors.New("feed closed")

// Feed is a producer side of a signal stream.
type Feed struct {
	mu     sync.RWMutex
	ch     chan Signal
	done   chan struct{}
	once   sync.Once
	closed bool
}

func NewFeed(buffer int) *Feed {
	return &Feed{ch: make(chan Signal, buffer), done: make(chan struct{})}
}

// Publish hands a signal to the consumer, blocking until it is accepted,
// ctx is done, or the feed is closed.
func (f *Feed) Publish(ctx context.Context, s Signal) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}
	select {
	case f.ch <- s:
		return nil
	case <-f.done:
		return ErrFeedClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) C() <-chan Signal {
	return f.ch
}

// Close ends the stream. Blocked publishers return ErrFeedClosed, as does
// publishing after Close.
func (f *Feed) Close() {
	f.once.Do(func() {
		close(f.done)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.closed = true
		close(f.ch)
	})
}
