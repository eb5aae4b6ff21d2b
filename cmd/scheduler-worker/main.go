package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-scheduling/internal/app"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("scheduler-worker", "info").Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New("scheduler-worker", cfg.LogLevel)
	logger.Info("scheduler-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval, "batch_size", cfg.BatchSize)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Build(rootCtx, cfg, reg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("error closing resources", "error", err)
		}
	}()

	runner := worker.NewRunner(a.Locker, a.Metrics, logger)
	runner.Add(worker.Task{
		Name:     "deliver_reminders",
		Interval: cfg.WorkerInterval,
		Run: func(ctx context.Context) error {
			stats, err := a.Reminders.DeliverDue(ctx)
			if stats.Claimed > 0 {
				logger.Info("reminder pass",
					"claimed", stats.Claimed, "delivered", stats.Delivered,
					"retried", stats.Retried, "failed", stats.Failed, "skipped", stats.Skipped)
			}
			return err
		},
	})
	runner.Add(worker.Task{
		Name:     "release_stale_reminders",
		Interval: cfg.Reminders.ClaimTimeout,
		Run: func(ctx context.Context) error {
			n, err := a.Reminders.ReleaseStale(ctx)
			if n > 0 {
				logger.Warn("gave up stale reminder claims", "count", n)
			}
			return err
		},
	})
	runner.Add(worker.Task{
		Name:     "expire_waitlist_offers",
		Interval: cfg.WorkerInterval,
		Run: func(ctx context.Context) error {
			n, err := a.Waitlist.ExpireOffers(ctx)
			if n > 0 {
				logger.Info("expired waitlist offers", "count", n)
			}
			return err
		},
	})
	runner.Add(worker.Task{
		Name:     "complete_appointments",
		Interval: cfg.WorkerInterval,
		Run: func(ctx context.Context) error {
			n, err := a.Appointments.CompleteEnded(ctx)
			if n > 0 {
				logger.Info("completed ended appointments", "count", n)
			}
			return err
		},
	})
	runner.Add(worker.Task{
		Name:     "resume_waitlist_slots",
		Interval: cfg.WorkerInterval,
		Run: func(ctx context.Context) error {
			n, err := a.Waitlist.ResumeStalledSlots(ctx)
			if n > 0 {
				logger.Info("resumed stalled waitlist slots", "count", n)
			}
			return err
		},
	})

	// Metrics only; the worker serves no API.
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	runner.Run(rootCtx)
	logger.Info("shutdown signal received, stopping scheduler worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
