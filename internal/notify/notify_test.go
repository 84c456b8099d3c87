package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: Queue, Type: task.Type()}, nil
}

func TestQueueNotifierEnqueuesNotice(t *testing.T) {
	q := &fakeEnqueuer{}
	n := NewQueueNotifier(q)
	notice := PaidNotice{ReimbursementID: "r-1", Recipient: "finance@acme.test", Amount: 50000, Currency: "GNF", ReceptionNumber: "abc123"}

	require.NoError(t, n.NotifyReimbursementPaid(context.Background(), notice))
	require.Len(t, q.tasks, 1)
	require.Equal(t, TaskReimbursementPaid, q.tasks[0].Type())

	decoded, err := ParseReimbursementPaidTask(q.tasks[0])
	require.NoError(t, err)
	require.Equal(t, notice, decoded)
}

func TestQueueNotifierRequiresRecipient(t *testing.T) {
	q := &fakeEnqueuer{}
	err := NewQueueNotifier(q).NotifyReimbursementPaid(context.Background(), PaidNotice{ReimbursementID: "r-1"})
	require.Error(t, err)
	require.Empty(t, q.tasks)
}

func TestQueueNotifierSurfacesEnqueueError(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("redis down")}
	err := NewQueueNotifier(q).NotifyReimbursementPaid(context.Background(), PaidNotice{Recipient: "a@b.test"})
	require.ErrorContains(t, err, "redis down")
}

func TestRenderPaidFormatsAmount(t *testing.T) {
	require.Equal(t, "50,000 GNF", FormatAmount(50000, "GNF"))
	subject, body := RenderPaid(PaidNotice{
		ReimbursementID: "r-1",
		PartnerName:     "Acme",
		Amount:          1250000,
		Currency:        "GNF",
		ReceptionNumber: "REC-1",
		PaidAt:          time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC),
	})
	require.Equal(t, "Reimbursement received", subject)
	require.Contains(t, body, "Hello Acme")
	require.Contains(t, body, "1,250,000 GNF")
	require.Contains(t, body, "2026-01-02 10:30 UTC")
	require.Contains(t, body, "REC-1")
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: 1025, From: "no-reply@bo.test"})
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		require.Nil(t, a)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), "ops@acme.test", "Hi", "line one\nline two"))
	require.Equal(t, "mail.local:1025", gotAddr)
	require.Equal(t, []string{"ops@acme.test"}, gotTo)
	require.Contains(t, gotMsg, "Subject: Hi\r\n")
	require.Contains(t, gotMsg, "line one\r\nline two")
}

func TestSMTPSenderRefusesHeaderInjection(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: 25})
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	require.Error(t, s.Send(context.Background(), "a@b.test\r\nBcc: x@y.test", "s", "b"))
}
