// Package app wires the scheduling services from configuration. Both the API
// server and the scheduler worker build the same graph so that reminders and
// waitlist offers behave identically wherever they are triggered.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/reminder"
	"github.com/hackgods/clinic-scheduling/internal/waitlist"
)

// App holds the long-lived clients and the services built on them.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client // nil when Redis is unreachable
	Locker  redisclient.Locker
	Metrics *metrics.SchedulingMetrics

	Appointments *appointment.Service
	Reminders    *reminder.Scheduler
	Waitlist     *waitlist.Engine

	closers []func() error
}

// Build connects to Postgres (required) and Redis (optional), then wires the
// services. reg may be nil when metrics are not exported.
func Build(ctx context.Context, cfg config.Config, reg prometheus.Registerer, logger *slog.Logger) (*App, error) {
	logger = logging.OrDefault(logger)
	a := &App{Config: cfg, Logger: logger}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.WithMaxConns(cfg.PostgresMaxConns))
	cancel()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	logger.Info("connected to postgres")

	a.Locker = redisclient.NoopLocker{}
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unavailable, running without distributed locks", "addr", cfg.RedisAddr, "error", err)
	} else {
		a.Redis = rdb
		a.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		a.closers = append(a.closers, rdb.Close)
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	if reg != nil {
		a.Metrics = metrics.New(reg)
	}

	rec := a.buildRecorder()
	cal := a.buildCalendar(ctx)
	messenger := a.buildMessenger()

	a.Appointments = appointment.NewService(appointment.NewPgRepository(pool), cal, rec, a.Metrics, logger, cfg)
	a.Reminders = reminder.NewScheduler(reminder.NewPgRepository(pool), a.Appointments, messenger, rec, a.Metrics, logger, cfg)
	a.Waitlist = waitlist.NewEngine(waitlist.NewPgRepository(pool), a.Appointments, messenger, a.Locker, rec, a.Metrics, logger, cfg)

	a.Appointments.SetReminderScheduler(a.Reminders)
	a.Appointments.SetSlotFreedHandler(a.Waitlist)

	return a, nil
}

func (a *App) buildRecorder() events.Recorder {
	recs := []events.Recorder{events.NewPgRecorder(a.Pool)}
	if a.Config.KafkaBrokers != "" {
		k := events.NewKafkaRecorder(a.Config.KafkaBrokers, a.Config.KafkaTopic)
		recs = append(recs, k)
		a.closers = append(a.closers, k.Close)
		a.Logger.Info("publishing events to kafka", "topic", a.Config.KafkaTopic)
	}
	return events.NewMulti(a.Logger, recs...)
}

func (a *App) buildCalendar(ctx context.Context) calendar.Provider {
	if a.Config.GoogleCredentialsFile == "" {
		return calendar.NoopProvider{}
	}
	p, err := calendar.NewGoogleProvider(ctx, option.WithCredentialsFile(a.Config.GoogleCredentialsFile))
	if err != nil {
		a.Logger.Warn("google calendar disabled", "error", err)
		return calendar.NoopProvider{}
	}
	a.Logger.Info("google calendar busy-time enabled")
	return p
}

func (a *App) buildMessenger() notify.Messenger {
	var wa *notify.WhatsAppSender
	if a.Config.WhatsAppToken != "" && a.Config.WhatsAppPhoneNumberID != "" {
		wa = notify.NewWhatsAppSender(a.Config.WhatsAppAPIURL, a.Config.WhatsAppPhoneNumberID, a.Config.WhatsAppToken)
	} else {
		a.Logger.Warn("whatsapp not configured")
	}
	var email *notify.EmailSender
	if a.Config.SendGridAPIKey != "" {
		email = notify.NewEmailSender(a.Config.SendGridAPIKey, a.Config.SendGridFromEmail, a.Config.SendGridFromName)
	} else {
		a.Logger.Warn("sendgrid not configured")
	}
	return notify.NewRouter(wa, email, a.Metrics, a.Logger)
}

// Close waits for background offers and releases clients in reverse order.
func (a *App) Close() error {
	if a.Waitlist != nil {
		a.Waitlist.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
