package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/advance-ops/backoffice/internal/jobs"
	"github.com/advance-ops/backoffice/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = notify.Queue
	// TaskNotifyReimbursementPaid delivers a paid notice to the partner.
	TaskNotifyReimbursementPaid = notify.TaskReimbursementPaid
	// TaskOverdueScan reports pending reimbursements past their due date.
	TaskOverdueScan = "reimbursements:overdue_scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// OverdueScanPayload parameterises an overdue scan.
type OverdueScanPayload struct {
	// GraceHours delays reporting a row until this long after its due date.
	GraceHours int `json:"grace_hours"`
}

// NewOverdueScanTask constructs an Asynq task.
func NewOverdueScanTask(graceHours int) (*asynq.Task, error) {
	data, err := json.Marshal(OverdueScanPayload{GraceHours: graceHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, data), nil
}
