package verify

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/meridian-commerce/meridian-admin/jobs"
)

// AsynqMailer queues verification mail for background SMTP delivery. The
// destination is the configured authority mailbox, never the operator.
type AsynqMailer struct {
	client    *asynq.Client
	authority string
}

// NewAsynqMailer constructs an AsynqMailer.
func NewAsynqMailer(client *asynq.Client, authority string) *AsynqMailer {
	return &AsynqMailer{client: client, authority: authority}
}

// Deliver enqueues the code mail.
func (m *AsynqMailer) Deliver(ctx context.Context, code, action string) error {
	task, err := jobs.NewVerificationMailTask(jobs.VerificationMailPayload{
		To:     m.authority,
		Code:   code,
		Action: action,
	})
	if err != nil {
		return err
	}
	_, err = m.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
	return err
}
