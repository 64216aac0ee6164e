package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/stayvia/internal/dedup"
	"github.com/dukerupert/stayvia/internal/model"
	"github.com/dukerupert/stayvia/internal/store"
)

// Sender delivers a payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// Dispatcher periodically delivers queued notifications that have come due.
type Dispatcher struct {
	mu        sync.RWMutex
	sender    Sender
	push      *store.PushStore
	queue     *store.NotificationStore
	delivered *dedup.Feed
	wake      <-chan struct{}
	interval  time.Duration
	batch     int
	now       func() time.Time
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDispatcher creates a dispatcher. Delivered payment reminders are
// published on the feed when it is non-nil.
func NewDispatcher(sender Sender, pushStore *store.PushStore, queue *store.NotificationStore, delivered *dedup.Feed, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:    sender,
		push:      pushStore,
		queue:     queue,
		delivered: delivered,
		interval:  30 * time.Second,
		batch:     100,
		now:       time.Now,
		logger:    logger.With("component", "dispatcher"),
	}
}

func (d *Dispatcher) SetInterval(interval time.Duration) {
	if interval > 0 {
		d.interval = interval
	}
}

// SetWake makes the dispatcher run as soon as the channel fires instead of
// waiting for the next tick.
func (d *Dispatcher) SetWake(wake <-chan struct{}) {
	d.wake = wake
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Start begins the dispatch loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.DeliverDue(ctx)
			case <-d.wake:
				d.DeliverDue(ctx)
			}
		}
	}()
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() {
	d.mu.RLock()
	cancel := d.cancel
	done := d.done
	d.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// DeliverDue sends every pending notification whose time has come and
// returns how many were settled.
func (d *Dispatcher) DeliverDue(ctx context.Context) int {
	now := d.now()
	due, err := d.queue.ListDue(ctx, now, d.batch)
	if err != nil {
		d.logger.Error("list due notifications", "error", err)
		return 0
	}

	settled := 0
	for _, n := range due {
		// Claim the row before sending so a concurrent run cannot send it twice.
		ok, err := d.queue.MarkDelivered(ctx, n.ID, now)
		if err != nil {
			d.logger.Error("mark delivered", "id", n.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		settled++
		sent, optedOut := d.deliver(ctx, n)
		switch {
		case sent > 0:
			d.publish(ctx, n)
		case !optedOut:
			// Left for the foreground poll to hand to the client.
			if err := d.queue.MarkUndelivered(ctx, n.ID); err != nil {
				d.logger.Error("mark undelivered", "id", n.ID, "error", err)
			}
		}
	}
	return settled
}

// deliver pushes n to every subscription of its user and returns how many
// accepted it. optedOut is true when the user disabled the type.
func (d *Dispatcher) deliver(ctx context.Context, n model.ScheduledNotification) (sent int, optedOut bool) {
	log := d.logger.With("id", n.ID, "user_id", n.UserID, "type", n.Data.Type)

	enabled, err := d.push.IsPreferenceEnabled(ctx, n.UserID, n.Data.Type)
	if err != nil {
		log.Error("check preference", "error", err)
		return 0, false
	}
	if !enabled {
		log.Debug("notification type disabled by user")
		return 0, true
	}

	subs, err := d.push.ListByUser(ctx, n.UserID)
	if err != nil {
		log.Error("list subscriptions", "error", err)
		return 0, false
	}

	payload := Payload{
		Title: n.Title,
		Body:  n.Body,
		URL:   urlFor(n.Data),
		Tag:   tagFor(n.Data),
		Data:  n.Data,
	}

	for _, sub := range subs {
		if err := d.sender.Send(ctx, &sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := d.push.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
					log.Error("delete expired subscription", "error", err)
				}
				continue
			}
			log.Error("send push", "endpoint", sub.Endpoint, "error", err)
			continue
		}
		sent++
	}
	return sent, false
}

func (d *Dispatcher) publish(ctx context.Context, n model.ScheduledNotification) {
	if d.delivered == nil {
		return
	}
	sig, ok := dedup.SignalFromData(n.Data, dedup.SourceDelivered)
	if !ok {
		return
	}
	if err := d.delivered.Publish(ctx, sig); err != nil {
		d.logger.Warn("publish delivered signal", "payment_id", sig.PaymentID, "error", err)
	}
}

func urlFor(data model.NotificationData) string {
	switch data.Action {
	case model.ActionTenantPayments, model.ActionLandlordPayments, model.ActionPayments:
		return "/payments"
	case model.ActionRatings:
		return "/ratings"
	}
	return "/"
}

func tagFor(data model.NotificationData) string {
	if data.PaymentID == "" {
		return data.Type
	}
	tag := data.Type + "-" + data.PaymentID
	if data.DaysUntilDue != nil {
		if tier, ok := model.TierFromDays(*data.DaysUntilDue); ok {
			tag += "-" + tier.String()
		}
	}
	return tag
}
