package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/stayvia/internal/auth"
	"github.com/dukerupert/stayvia/internal/calendar"
	"github.com/dukerupert/stayvia/internal/config"
	"github.com/dukerupert/stayvia/internal/database"
	"github.com/dukerupert/stayvia/internal/dedup"
	"github.com/dukerupert/stayvia/internal/email"
	"github.com/dukerupert/stayvia/internal/handler"
	"github.com/dukerupert/stayvia/internal/lease"
	"github.com/dukerupert/stayvia/internal/logging"
	"github.com/dukerupert/stayvia/internal/push"
	"github.com/dukerupert/stayvia/internal/reminder"
	"github.com/dukerupert/stayvia/internal/server"
	"github.com/dukerupert/stayvia/internal/store"
	ws "github.com/dukerupert/stayvia/internal/websocket"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate VAPID keys: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("STAYVIA_VAPID_PUBLIC_KEY=%s\nSTAYVIA_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: stayvia token <user-id>")
			os.Exit(2)
		}
		token, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL).Issue(os.Args[2])
		if err != nil {
			slog.Error("issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	users := store.NewUserStore(db)
	leaseStore := store.NewLeaseStore(db, cfg.Location)
	payments := store.NewPaymentStore(db, cfg.Location)
	notifications := store.NewNotificationStore(db)
	pushStore := store.NewPushStore(db)

	hub := ws.NewHub(logger)
	queue := push.NewQueue(notifications)
	delivered := dedup.NewFeed(64)
	tapped := dedup.NewFeed(64)

	sched := reminder.NewScheduler(queue, payments, cfg.ReminderConfig(), logger)

	calCfg := calendar.DefaultConfig()
	calCfg.Location = cfg.Location
	calCfg.Hour = cfg.ReminderHour
	cal := calendar.NewService(calendar.NewLocalProvider(store.NewCalendarStore(db)), store.NewEventMappingStore(db), calCfg, logger)

	leases := lease.NewService(lease.Deps{
		Leases:        leaseStore,
		Payments:      payments,
		Users:         users,
		Notifications: notifications,
		Scheduler:     sched,
		Notifier:      queue,
		Calendar:      cal,
	}, cfg.Location, cfg.ReminderHour, logger)

	poller := dedup.NewPoller(payments, payments, queue, users, cfg.Location, logger)
	poller.SetInbox(notifications)
	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	if emailClient.Configured() {
		poller.SetMailer(emailClient)
	} else {
		logger.Info("postmark not configured, overdue notices are push only")
	}

	var sender handler.PushSender
	var dispatcher *push.Dispatcher
	if cfg.PushEnabled() {
		svc := push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
		sender = svc
		dispatcher = push.NewDispatcher(svc, pushStore, notifications, delivered, logger)
		dispatcher.SetInterval(cfg.DispatchInterval)
		dispatcher.SetWake(queue.Wake())
	} else {
		logger.Warn("VAPID keys not set, push delivery disabled; run `stayvia vapid-keys` to create them")
	}

	srv := server.New(server.Config{
		Location:       cfg.Location,
		AllowedOrigins: cfg.AllowedOrigins,
		PollLimit:      cfg.PollLimit,
	}, server.Deps{
		DB:        db,
		Users:     users,
		PushStore: pushStore,
		Leases:    leases,
		Calendar:  cal,
		Poller:    poller,
		Tapped:    tapped,
		Hub:       hub,
		Tokens:    auth.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL),
		Push:      sender,
	}, logger)

	jobs := calendar.NewResyncer(cal, leaseStore, logger)
	if err := jobs.ScheduleResync(cfg.ResyncSpec); err != nil {
		return err
	}
	if err := jobs.AddJob(cfg.PollSpec, "poll_sweep", func(ctx context.Context) error {
		res, err := poller.PollAll(ctx)
		if err == nil && (res.Reminders > 0 || res.Overdue > 0) {
			logger.Info("poll sweep", "reminders", res.Reminders, "overdue", res.Overdue, "failed", res.Failed)
		}
		return err
	}); err != nil {
		return err
	}
	if err := jobs.AddJob(cfg.CleanupSpec, "cleanup", func(ctx context.Context) error {
		srv.RateLimiter().Cleanup()
		n, err := notifications.CleanupBefore(ctx, time.Now().Add(-cfg.Retention))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("pruned notifications", "count", n)
		}
		return nil
	}); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dedup.New(payments, logger).Listen(ctx, delivered.C(), tapped.C())
		return nil
	})

	if dispatcher != nil {
		dispatcher.Start(ctx)
	}
	jobs.Start(ctx)

	// Catch up on reminders that came due while the service was down.
	g.Go(func() error {
		select {
		case <-time.After(cfg.PollDelay):
		case <-ctx.Done():
			return nil
		}
		res, err := poller.PollAll(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("startup poll", "error", err)
			return nil
		}
		logger.Info("startup poll complete", "reminders", res.Reminders, "overdue", res.Overdue, "failed", res.Failed)
		return nil
	})

	g.Go(func() error {
		logger.Info("stayvia listening", "addr", httpServer.Addr, "timezone", cfg.Location.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		jobs.Stop()
		if dispatcher != nil {
			dispatcher.Stop()
		}
		delivered.Close()
		tapped.Close()
		return err
	})

	return g.Wait()
}
