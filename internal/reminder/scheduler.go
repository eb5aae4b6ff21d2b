// Package reminder persists the messages owed to a patient for an
// appointment and delivers them at their fire time with bounded retries.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
)

// releaseTimeout bounds the bookkeeping writes made after a pass context ends.
const releaseTimeout = 5 * time.Second

// AppointmentSource resolves the appointment behind a job at delivery time.
type AppointmentSource interface {
	GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error)
	Links(appt *appointment.Appointment) appointment.LinkSet
}

// Scheduler owns reminder jobs: it creates them at booking and delivers them
// when due.
type Scheduler struct {
	repo      Repository
	appts     AppointmentSource
	messenger notify.Messenger
	events    events.Recorder
	metrics   *metrics.SchedulingMetrics
	logger    *slog.Logger
	cfg       config.ReminderConfig
	batchSize int
	now       func() time.Time
}

func NewScheduler(repo Repository, appts AppointmentSource, messenger notify.Messenger,
	rec events.Recorder, m *metrics.SchedulingMetrics, logger *slog.Logger, cfg config.Config) *Scheduler {
	if rec == nil {
		rec = events.Nop{}
	}
	return &Scheduler{
		repo:      repo,
		appts:     appts,
		messenger: messenger,
		events:    rec,
		metrics:   m,
		logger:    logging.OrDefault(logger).With("component", "reminder"),
		cfg:       cfg.Reminders,
		batchSize: max(cfg.BatchSize, 1),
		now:       time.Now,
	}
}

// Schedule creates the booking confirmation job and one job per configured
// offset whose fire time is still ahead. Calling it again for the same
// appointment adds nothing.
func (s *Scheduler) Schedule(ctx context.Context, appt *appointment.Appointment) error {
	now := s.now().UTC()
	jobs := []Job{s.newJob(appt, KindBooking, now, now)}
	for _, off := range s.cfg.Offsets {
		fireAt := appt.StartsAt.Add(-off).UTC()
		if !fireAt.After(now) {
			continue
		}
		jobs = append(jobs, s.newJob(appt, KindBefore(off), fireAt, now))
	}

	n, err := s.repo.Insert(ctx, jobs)
	if err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	s.logger.Debug("reminders scheduled", "appointment_id", appt.ID, "jobs", n)
	return nil
}

func (s *Scheduler) newJob(appt *appointment.Appointment, kind string, fireAt, now time.Time) Job {
	return Job{
		ID:            uuid.New(),
		ClinicID:      appt.ClinicID,
		AppointmentID: appt.ID,
		Kind:          kind,
		Channel:       notify.ChannelWhatsApp,
		FireAt:        fireAt,
		Status:        JobPending,
		MaxAttempts:   s.cfg.MaxAttempts,
		NextAttemptAt: fireAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CancelForAppointment stops every job that has not been handed out yet.
func (s *Scheduler) CancelForAppointment(ctx context.Context, clinicID, appointmentID uuid.UUID) error {
	n, err := s.repo.CancelPending(ctx, clinicID, appointmentID, s.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("reminders cancelled", "appointment_id", appointmentID, "jobs", n)
	}
	return nil
}

// DeliverDue claims due jobs and delivers each one. Concurrent callers never
// receive the same job.
func (s *Scheduler) DeliverDue(ctx context.Context) (DeliveryStats, error) {
	var stats DeliveryStats
	jobs, err := s.repo.ClaimDue(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(jobs)

	for i := range jobs {
		if ctx.Err() != nil {
			s.release(ctx, jobs[i:])
			return stats, ctx.Err()
		}
		outcome, err := s.deliver(ctx, &jobs[i])
		if err != nil {
			s.logger.Error("reminder bookkeeping failed", "job_id", jobs[i].ID, "error", err)
		}
		switch outcome {
		case JobDelivered:
			stats.Delivered++
		case JobPending:
			stats.Retried++
		case JobFailed:
			stats.Failed++
		case JobCancelled:
			stats.Skipped++
		}
		s.metrics.ObserveReminder(outcomeLabel(outcome))
	}
	return stats, nil
}

// release hands jobs the pass never reached back to pending so a later pass
// sends them without losing an attempt.
func (s *Scheduler) release(ctx context.Context, jobs []Job) {
	ids := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	n, err := s.repo.Release(relCtx, ids, s.now().UTC())
	if err != nil {
		s.logger.Error("release unattempted reminders failed", "jobs", len(ids), "error", err)
		return
	}
	s.logger.Warn("delivery pass interrupted, reminders released", "jobs", n)
}

func outcomeLabel(s JobStatus) string {
	if s == JobPending {
		return "retry"
	}
	return string(s)
}

func (s *Scheduler) deliver(ctx context.Context, job *Job) (JobStatus, error) {
	// Outcomes are written even when the pass is cancelled mid-send.
	store, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	appt, err := s.appts.GetAppointment(ctx, job.ClinicID, job.AppointmentID)
	if errors.Is(err, appointment.ErrNotFound) {
		return JobFailed, s.fail(store, job, "appointment not found")
	}
	if err != nil && ctx.Err() != nil {
		s.release(ctx, []Job{*job})
		return JobPending, nil
	}
	if err != nil {
		return s.retryOrFail(store, job, fmt.Errorf("load appointment: %w", err))
	}

	now := s.now()
	if !appt.Status.Active() {
		return JobCancelled, s.repo.MarkCancelled(store, job.ID, "appointment is "+string(appt.Status), now.UTC())
	}
	if job.Kind != KindBooking && !appt.StartsAt.After(now) {
		return JobCancelled, s.repo.MarkCancelled(store, job.ID, "appointment already started", now.UTC())
	}

	templateID := notify.TemplateAppointmentReminder
	if job.Kind == KindBooking {
		templateID = notify.TemplateAppointmentBooked
	}
	links := s.appts.Links(appt)
	vars := map[string]any{
		"patient_name": appt.Patient.Name,
		"doctor_name":  appt.DoctorName,
		"starts_at":    appt.StartsAt.UTC().Format("Mon 02 Jan 2006 15:04 MST"),
		"confirm_url":  links.ConfirmURL,
		"cancel_url":   links.CancelURL,
	}
	contact := notify.Contact{Name: appt.Patient.Name, Phone: appt.Patient.Phone, Email: appt.Patient.Email}

	sendCtx, cancelSend := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	receipt, err := s.messenger.Send(sendCtx, contact, templateID, vars)
	cancelSend()

	switch {
	case err == nil:
		s.logger.Info("reminder delivered",
			"job_id", job.ID, "appointment_id", job.AppointmentID, "kind", job.Kind, "channel", receipt.Channel)
		return JobDelivered, s.repo.MarkDelivered(store, job.ID, receipt.Channel, receipt.ProviderMessageID, s.now().UTC())
	case notify.IsPermanent(err):
		return JobFailed, s.fail(store, job, err.Error())
	default:
		return s.retryOrFail(store, job, err)
	}
}

func (s *Scheduler) retryOrFail(ctx context.Context, job *Job, cause error) (JobStatus, error) {
	if job.Attempts >= job.MaxAttempts {
		return JobFailed, s.fail(ctx, job, fmt.Sprintf("attempts exhausted: %v", cause))
	}
	next := s.now().Add(s.backoffFor(job.Attempts)).UTC()
	s.logger.Warn("reminder delivery failed, will retry",
		"job_id", job.ID, "attempt", job.Attempts, "next_attempt_at", next, "error", cause)
	return JobPending, s.repo.MarkRetry(ctx, job.ID, next, cause.Error(), s.now().UTC())
}

func (s *Scheduler) fail(ctx context.Context, job *Job, reason string) error {
	s.logger.Error("reminder delivery failed permanently",
		"job_id", job.ID, "appointment_id", job.AppointmentID, "kind", job.Kind,
		"attempts", job.Attempts, "error", reason)
	id := job.AppointmentID
	_ = s.events.Record(ctx, events.Event{
		Type:          events.ReminderFailed,
		ClinicID:      job.ClinicID,
		AppointmentID: &id,
		Payload:       map[string]any{"job_id": job.ID.String(), "kind": job.Kind, "attempts": job.Attempts, "error": reason},
		OccurredAt:    s.now().UTC(),
	})
	return s.repo.MarkFailed(ctx, job.ID, reason, s.now().UTC())
}

// backoffFor doubles the base delay per attempt up to the configured cap.
func (s *Scheduler) backoffFor(attempt int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return min(d, s.cfg.MaxBackoff)
}

// ReleaseStale fails jobs whose claim outlived ClaimTimeout. Their delivery
// outcome is unknown, so they are not sent again.
func (s *Scheduler) ReleaseStale(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.repo.FailStale(ctx, now.Add(-s.cfg.ClaimTimeout).UTC(), now.UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("stale reminder claims failed", "jobs", n)
	}
	return n, nil
}
