package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/advance-ops/backoffice/internal/jobs"
	"github.com/advance-ops/backoffice/internal/notify"
)

// NotifyPaidJob delivers reimbursement paid notices queued by the reconciler.
type NotifyPaidJob struct {
	Sender  notify.Sender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyPaidJob initialises the notification handler.
func NewNotifyPaidJob(sender notify.Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyPaidJob {
	return &NotifyPaidJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle renders and sends one notice. A payload that cannot be decoded is
// dropped without retry.
func (j *NotifyPaidJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sender == nil {
		return errors.New("notify paid: handler not configured")
	}
	notice, err := notify.ParseReimbursementPaidTask(t)
	if err != nil {
		j.logger().Error("drop undecodable notice", slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskNotifyReimbursementPaid)
	subject, body := notify.RenderPaid(notice)
	err = j.Sender.Send(ctx, notice.Recipient, subject, body)
	logger := j.logger().With(slog.String("reimbursement_id", notice.ReimbursementID))
	if err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		logger.Warn("paid notice not delivered", slog.Int("retry", retried), slog.Any("error", err))
	} else {
		logger.Info("paid notice delivered")
	}
	return tracker.End(err)
}

func (j *NotifyPaidJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskNotifyReimbursementPaid))
	}
	return slog.Default().With(slog.String("job", TaskNotifyReimbursementPaid))
}

func (j *NotifyPaidJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
