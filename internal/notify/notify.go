// Package notify delivers partner-facing messages. Reimbursement notices go
// through the job queue; credentials are sent directly and never queued.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// TaskReimbursementPaid is the asynq task type carrying a PaidNotice.
	TaskReimbursementPaid = "notify:reimbursement_paid"
	// Queue is the asynq queue notification tasks are enqueued on.
	Queue = "default"
	// MaxRetry bounds redelivery of a failed notification before it is dropped.
	MaxRetry = 3
)

// PaidNotice tells a partner that a reimbursement has been received.
type PaidNotice struct {
	ReimbursementID string    `json:"reimbursement_id"`
	PartnerName     string    `json:"partner_name"`
	Recipient       string    `json:"recipient"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	ReceptionNumber string    `json:"reception_number"`
	PaidAt          time.Time `json:"paid_at"`
}

// Notifier accepts paid notices. Implementations must not block on delivery.
type Notifier interface {
	NotifyReimbursementPaid(ctx context.Context, notice PaidNotice) error
}

// Sender delivers one message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Enqueuer is the subset of *asynq.Client used by QueueNotifier.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands notices to the background worker.
type QueueNotifier struct {
	queue Enqueuer
}

// NewQueueNotifier wraps an asynq client.
func NewQueueNotifier(queue Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// NotifyReimbursementPaid enqueues the notice. Success means the task was
// accepted, not that the message was delivered.
func (n *QueueNotifier) NotifyReimbursementPaid(ctx context.Context, notice PaidNotice) error {
	if notice.Recipient == "" {
		return fmt.Errorf("notify: reimbursement %s: no recipient", notice.ReimbursementID)
	}
	task, err := NewReimbursementPaidTask(notice)
	if err != nil {
		return err
	}
	if _, err := n.queue.EnqueueContext(ctx, task, asynq.Queue(Queue), asynq.MaxRetry(MaxRetry)); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// NewReimbursementPaidTask constructs an asynq task.
func NewReimbursementPaidTask(notice PaidNotice) (*asynq.Task, error) {
	data, err := json.Marshal(notice)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReimbursementPaid, data), nil
}

// ParseReimbursementPaidTask decodes the notice carried by t.
func ParseReimbursementPaidTask(t *asynq.Task) (PaidNotice, error) {
	var notice PaidNotice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return PaidNotice{}, fmt.Errorf("notify: decode %s: %w", t.Type(), err)
	}
	return notice, nil
}

var printer = message.NewPrinter(language.English)

// FormatAmount renders an integer amount with grouping, e.g. "50,000 GNF".
func FormatAmount(amount int64, currency string) string {
	return printer.Sprintf("%d %s", amount, currency)
}

// RenderPaid builds the subject and plain-text body of a paid notice.
func RenderPaid(n PaidNotice) (subject, body string) {
	subject = "Reimbursement received"
	name := n.PartnerName
	if name == "" {
		name = "partner"
	}
	body = fmt.Sprintf("Hello %s,\n\nWe received your reimbursement of %s on %s.\nReception number: %s\nReference: %s\n",
		name, FormatAmount(n.Amount, n.Currency), n.PaidAt.UTC().Format("2006-01-02 15:04 MST"), n.ReceptionNumber, n.ReimbursementID)
	return subject, body
}

// RenderCredentials builds the message carrying a one-time password.
func RenderCredentials(displayName, email, password string) (subject, body string) {
	subject = "Your back-office account"
	body = fmt.Sprintf("Hello %s,\n\nAn account was created for you.\nLogin: %s\nTemporary password: %s\n\nChange it after your first sign-in.\n",
		displayName, email, password)
	return subject, body
}

var _ Notifier = (*QueueNotifier)(nil)
