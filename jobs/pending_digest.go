package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vendorhub/vendor-portal/internal/jobs"
	"github.com/vendorhub/vendor-portal/internal/vendors"
)

// DigestSchedule runs the pending digest every morning (UTC).
const DigestSchedule = "0 8 * * *"

// CountSource reports registry counts.
type CountSource interface {
	Counts(ctx context.Context) (vendors.Counts, error)
}

// PendingDigestJob mails the admin a summary of vendors awaiting review.
type PendingDigestJob struct {
	Counts    CountSource
	Mailer    Mailer
	Recipient string
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

func NewPendingDigestJob(counts CountSource, mailer Mailer, recipient string, logger *slog.Logger, metrics *jobmetrics.Metrics) *PendingDigestJob {
	if logger == nil {
		logger = slog.Default()
	}
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}
	return &PendingDigestJob{Counts: counts, Mailer: mailer, Recipient: recipient, Logger: logger, Metrics: metrics}
}

// Handle processes pending digest tasks. Nothing is sent when no vendor is
// pending.
func (j *PendingDigestJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.Counts == nil {
		return errors.New("pending digest: handler not configured")
	}

	tracker := j.Metrics.Track(TaskPendingDigest)
	defer func() {
		err = tracker.End(err)
	}()

	counts, err := j.Counts.Counts(ctx)
	if err != nil {
		return fmt.Errorf("pending digest: counts: %w", err)
	}
	if counts.Pending == 0 {
		j.Logger.Info("pending digest skipped", slog.Int("total", counts.Total))
		return nil
	}
	msg := Message{
		To:      j.Recipient,
		Subject: fmt.Sprintf("%d vendor registrations awaiting review", counts.Pending),
		Body: fmt.Sprintf("Pending: %d. Active: %d. Suspended: %d. Total: %d.",
			counts.Pending, counts.Active, counts.Suspended, counts.Total),
	}
	if err := j.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("pending digest: send: %w", err)
	}
	return nil
}
