// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/dukerupert/stayvia/internal/reminder"
)

const prefix = "STAYVIA_"

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string
	BaseURL   string

	JWTSecret string
	JWTTTL    time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	PostmarkToken string
	FromEmail     string

	Location      *time.Location
	ReminderHour  int
	PaymentPolicy reminder.PastDuePolicy
	RatingPolicy  reminder.PastDuePolicy
	Concurrency   int

	DispatchInterval time.Duration
	PollDelay        time.Duration
	PollSpec         string
	ResyncSpec       string
	CleanupSpec      string
	Retention        time.Duration

	PollLimit       int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	cfg := &Config{
		Port:      e.str("PORT", "8080"),
		DBPath:    e.str("DB_PATH", "stayvia.db"),
		LogLevel:  e.str("LOG_LEVEL", "info"),
		LogFormat: e.str("LOG_FORMAT", "text"),

		JWTSecret: e.str("JWT_SECRET", ""),
		JWTTTL:    e.duration("JWT_TTL", 24*time.Hour),

		VAPIDPublicKey:  e.str("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: e.str("VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber: e.str("VAPID_SUBSCRIBER", "mailto:support@stayvia.app"),

		PostmarkToken: e.str("POSTMARK_TOKEN", ""),
		FromEmail:     e.str("FROM_EMAIL", ""),

		ReminderHour: e.integer("REMINDER_HOUR", 9),
		Concurrency:  e.integer("SCHEDULER_CONCURRENCY", 3),

		DispatchInterval: e.duration("DISPATCH_INTERVAL", 30*time.Second),
		PollDelay:        e.duration("POLL_DELAY", 3*time.Second),
		PollSpec:         e.str("POLL_SPEC", "0 */15 * * * *"),
		ResyncSpec:       e.str("RESYNC_SPEC", "0 0 3 * * *"),
		CleanupSpec:      e.str("CLEANUP_SPEC", "0 30 3 * * *"),
		Retention:        e.duration("NOTIFICATION_RETENTION", 30*24*time.Hour),

		PollLimit:       e.integer("POLL_LIMIT", 30),
		AllowedOrigins:  e.list("ALLOWED_ORIGINS"),
		ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	cfg.BaseURL = e.str("BASE_URL", "http://localhost:"+cfg.Port)

	var err error
	if cfg.Location, err = time.LoadLocation(e.str("TIMEZONE", "Asia/Manila")); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%sTIMEZONE: %w", prefix, err))
	}
	if cfg.PaymentPolicy, err = reminder.ParsePolicy(e.str("PAYMENT_PAST_DUE", string(reminder.PolicySkip))); err != nil {
		e.errs = append(e.errs, err)
	}
	if cfg.RatingPolicy, err = reminder.ParsePolicy(e.str("RATING_PAST_DUE", string(reminder.PolicyFireNow))); err != nil {
		e.errs = append(e.errs, err)
	}

	if cfg.JWTSecret == "" {
		e.errs = append(e.errs, fmt.Errorf("%sJWT_SECRET is required", prefix))
	}
	if cfg.ReminderHour < 0 || cfg.ReminderHour > 23 {
		e.errs = append(e.errs, fmt.Errorf("%sREMINDER_HOUR %d out of range", prefix, cfg.ReminderHour))
	}
	if (cfg.VAPIDPublicKey == "") != (cfg.VAPIDPrivateKey == "") {
		e.errs = append(e.errs, fmt.Errorf("%sVAPID_PUBLIC_KEY and %sVAPID_PRIVATE_KEY must be set together", prefix, prefix))
	}
	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// ReminderConfig returns the scheduler settings.
func (c *Config) ReminderConfig() reminder.Config {
	return reminder.Config{
		Hour:          c.ReminderHour,
		Location:      c.Location,
		PaymentPolicy: c.PaymentPolicy,
		RatingPolicy:  c.RatingPolicy,
		Concurrency:   c.Concurrency,
	}
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(prefix + key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
