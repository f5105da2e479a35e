package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ksavchuk/contacthub/internal/domain/job"
	"github.com/ksavchuk/contacthub/internal/domain/user"
	"github.com/ksavchuk/contacthub/internal/jobs"
	"github.com/ksavchuk/contacthub/internal/notifications"
	"github.com/ksavchuk/contacthub/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id string) (user.User, error)
}

type Config struct {
	PollInterval time.Duration
	WorkerID     string
	LockTTL      time.Duration
	JobTimeout   time.Duration
}

// Worker drains the verification email queue: claim, send, mark done, or
// reschedule with backoff until attempts run out.
type Worker struct {
	cfg      Config
	repo     JobsRepository
	users    UserReader
	notifier notifications.Notifier
	metrics  *observability.JobMetrics
	log      *slog.Logger

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, users UserReader, notifier notifications.Notifier, metrics *observability.JobMetrics, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 60 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = observability.NewJobMetrics()
	}

	return &Worker{
		cfg:      cfg,
		repo:     repo,
		users:    users,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
	}
}

func (w *Worker) Metrics() *observability.JobMetrics {
	return w.metrics
}

func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	// release claims left behind by dead workers once per minute
	staleTicker := time.NewTicker(time.Minute)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker received shutdown signal")
			return nil

		case <-staleTicker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)
			if err != nil {
				w.log.Error("requeue stale jobs", "err", err)
			} else if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}

		case <-ticker.C:
			// drain everything that is ready before sleeping again
			for {
				processed, err := w.ProcessOne(ctx)

				if err != nil {
					w.log.Error("process job", "err", err)
					break
				}

				if !processed {
					break
				}
			}
		}
	}
}

// ProcessOne claims and runs a single job. The bool reports whether a job
// was claimed at all.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	w.metrics.IncClaimed()
	start := time.Now()

	execCtx, cancelExec := context.WithTimeout(ctx, w.cfg.JobTimeout)
	err = w.execute(execCtx, j)
	cancelExec()

	w.metrics.ObserveDuration(time.Since(start))

	if err != nil {
		w.handleFailure(ctx, j, err)
		return true, nil
	}

	if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		return true, err
	}

	w.metrics.IncDone()
	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	switch jobs.JobType(j.Type) {
	case jobs.JobEmailVerification:
		return w.sendVerificationEmail(ctx, j)
	default:
		// unknown types never succeed; fail them straight to the dead pile
		return fmt.Errorf("%w: %s", jobs.ErrInvalidJobType, j.Type)
	}
}

func (w *Worker) sendVerificationEmail(ctx context.Context, j job.Job) error {
	decoded, err := jobs.DecodePayload(jobs.JobEmailVerification, j.Payload)
	if err != nil {
		return err
	}

	payload := decoded.(jobs.EmailVerificationPayload)

	if err := jobs.ValidatePayload(jobs.JobEmailVerification, payload); err != nil {
		return err
	}

	// Reload the user: the payload is ID-based so the worker always mails
	// the currently stored code, and resends share this path.
	u, err := w.users.GetByID(ctx, payload.UserID)

	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// account gone; nothing left to verify
			w.metrics.IncSkipped()
			return nil
		}
		return err
	}

	if u.Verify || u.VerificationCode == "" {
		w.metrics.IncSkipped()
		w.log.Info("verification already passed, skipping send", "job_id", j.ID, "user_id", u.ID)
		return nil
	}

	err = w.notifier.SendVerificationEmail(ctx, notifications.SendVerificationEmailInput{
		Email:            u.Email,
		VerificationCode: u.VerificationCode,
	})

	if err != nil {
		return err
	}

	w.log.Info("verification email sent", "job_id", j.ID, "user_id", u.ID)
	return nil
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) {
	// Attempts is the count BEFORE this run; Reschedule bumps it.
	if j.Attempts+1 >= j.MaxAttempts || errors.Is(execErr, jobs.ErrInvalidJobType) || errors.Is(execErr, jobs.ErrInvalidJobPayload) {
		if err := w.repo.MarkFailed(ctx, j.ID, execErr.Error()); err != nil {
			w.log.Error("mark failed", "job_id", j.ID, "err", err)
		}
		w.metrics.IncFailed()
		w.log.Error("job failed permanently", "job_id", j.ID, "job_type", j.Type, "attempts", j.Attempts+1, "err", execErr)
		return
	}

	delay := ExponentialBackoff(j.Attempts)
	runAt := time.Now().UTC().Add(delay)

	if err := w.repo.Reschedule(ctx, j.ID, runAt, execErr.Error()); err != nil {
		w.log.Error("reschedule", "job_id", j.ID, "err", err)
		return
	}

	w.metrics.IncRetried()
	w.log.Warn("job rescheduled", "job_id", j.ID, "job_type", j.Type, "attempt", j.Attempts+1, "delay_ms", delay.Milliseconds(), "err", execErr)
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) isReady() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}
