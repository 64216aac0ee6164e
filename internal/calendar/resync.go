package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/stayvia/internal/duedate"
	"github.com/dukerupert/stayvia/internal/model"
)

// LeaseSource lists the confirmed leases still running on a date.
type LeaseSource interface {
	ListUserIDsWithActive(ctx context.Context, asOf time.Time) ([]string, error)
	ListActiveByUser(ctx context.Context, userID string, asOf time.Time) ([]model.Lease, error)
}

// Resyncer runs periodic maintenance jobs on a cron schedule: calendar
// repair for every user who opted into calendar sync, plus any jobs added
// with AddJob.
type Resyncer struct {
	cron    *cron.Cron
	service *Service
	leases  LeaseSource
	logger  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func NewResyncer(service *Service, leases LeaseSource, logger *slog.Logger) *Resyncer {
	return &Resyncer{
		cron:    cron.New(cron.WithSeconds()),
		service: service,
		leases:  leases,
		logger:  logger.With("component", "resyncer"),
	}
}

// ScheduleResync registers the calendar repair job.
func (r *Resyncer) ScheduleResync(spec string) error {
	return r.AddJob(spec, "calendar resync", func(ctx context.Context) error {
		_, err := r.ResyncAll(ctx)
		return err
	})
}

// AddJob registers fn to run on spec. Jobs receive the context passed to
// Start and are logged on failure.
func (r *Resyncer) AddJob(spec, name string, fn func(ctx context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		ctx := r.jobContext()
		start := time.Now()
		if err := fn(ctx); err != nil {
			r.logger.Error("job failed", "job", name, "error", err)
			return
		}
		r.logger.Debug("job finished", "job", name, "elapsed", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("add job %q: %w", name, err)
	}
	return nil
}

func (r *Resyncer) jobContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

func (r *Resyncer) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.cron.Start()
	r.logger.Info("resyncer started", "jobs", len(r.cron.Entries()))
}

// Stop cancels running jobs and waits for them to return.
func (r *Resyncer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("resyncer stopped")
}

// ResyncAll repairs the calendar of every active lease whose owner has
// synced it before.
func (r *Resyncer) ResyncAll(ctx context.Context) (Summary, error) {
	asOf := r.service.today()
	users, err := r.leases.ListUserIDsWithActive(ctx, asOf)
	if err != nil {
		return Summary{}, fmt.Errorf("list users: %w", err)
	}

	var total Summary
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		leases, err := r.optedIn(ctx, userID, asOf)
		if err != nil {
			r.logger.Error("load leases", "user", userID, "error", err)
			total.Failed++
			continue
		}
		if len(leases) == 0 {
			continue
		}
		sum := r.service.SyncAll(ctx, userID, leases)
		total.Total += sum.Total
		total.Synced += sum.Synced
		total.Failed += sum.Failed
	}
	return total, nil
}

func (r *Resyncer) optedIn(ctx context.Context, userID string, asOf time.Time) ([]model.Lease, error) {
	mapped, err := r.service.mappings.ListLeaseIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(mapped) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(mapped))
	for _, id := range mapped {
		want[id] = true
	}

	active, err := r.leases.ListActiveByUser(ctx, userID, asOf)
	if err != nil {
		return nil, err
	}
	var out []model.Lease
	for _, l := range active {
		if want[l.ID] {
			out = append(out, l)
		}
	}
	return out, nil
}

// Dues expands a lease into its due dates.
func Dues(l model.Lease) []duedate.Due {
	return duedate.Generate(l.StartDate, l.EndDate, l.EffectivePaymentDay(), l.MonthlyAmount)
}
