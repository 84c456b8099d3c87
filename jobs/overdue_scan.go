package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/advance-ops/backoffice/internal/jobs"
	"github.com/advance-ops/backoffice/internal/reimbursements"
)

// OverdueLister is the ledger query used by the scan.
type OverdueLister interface {
	ListOverdue(ctx context.Context) ([]reimbursements.Reimbursement, error)
}

// OverdueScanJob logs pending reimbursements past their due date and publishes
// their count and amount as gauges.
type OverdueScanJob struct {
	Ledger  OverdueLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueScanJob initialises the overdue scan handler.
func NewOverdueScanJob(ledger OverdueLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueScanJob {
	return &OverdueScanJob{
		Ledger:  ledger,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.GraceHours < 0 {
		payload.GraceHours = 0
	}

	tracker := j.metrics().Track(TaskOverdueScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	rows, err := j.Ledger.ListOverdue(ctx)
	if err != nil {
		resultErr = err
		j.logger().Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	cutoff := j.now().Add(-time.Duration(payload.GraceHours) * time.Hour)
	count := 0
	amounts := make(map[string]int64)
	for _, r := range rows {
		if !r.DueDate.Before(cutoff) {
			continue
		}
		count++
		amounts[r.Currency] += r.AmountToReimburse
		j.logger().Warn("reimbursement overdue",
			slog.String("reimbursement_id", r.ID),
			slog.String("partner_id", r.PartnerID),
			slog.Int64("amount_to_reimburse", r.AmountToReimburse),
			slog.Time("due_date", r.DueDate),
		)
	}
	j.metrics().SetOverdue(count, amounts)
	j.logger().Info("completed overdue scan", slog.Int("overdue", count))
	return resultErr
}

func (j *OverdueScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOverdueScan))
	}
	return slog.Default().With(slog.String("job", TaskOverdueScan))
}

func (j *OverdueScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *OverdueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
