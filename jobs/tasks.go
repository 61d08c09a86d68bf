package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"os"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-commerce/meridian-admin/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeVerificationMail is the task type for one-time-code delivery.
	TaskTypeVerificationMail = "mail:verification"
)

// VerificationMailPayload carries a one-time code to the authority mailbox.
type VerificationMailPayload struct {
	To     string `json:"to"`
	Code   string `json:"code"`
	Action string `json:"action"`
}

// NewVerificationMailTask constructs an Asynq task.
func NewVerificationMailTask(payload VerificationMailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVerificationMail, data), nil
}

// MailSender delivers a plain-text message.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig collects SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// SMTPSender sends mail over a plain SMTP connection.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one message. In test mode delivery is skipped.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if os.Getenv("MERIDIAN_TEST_MODE") != "" {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	msg := []byte("From: " + s.cfg.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body + "\r\n")
	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg)
}

// NewVerificationMailHandler builds the handler processing code delivery
// tasks. Malformed payloads are dropped without retry.
func NewVerificationMailHandler(sender MailSender, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskTypeVerificationMail)
		var payload VerificationMailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		subject := "Confirmation code for " + payload.Action
		body := "A console operator requested a sensitive change (" + payload.Action + ").\r\n" +
			"Confirmation code: " + payload.Code + "\r\n" +
			"The code expires shortly and can be used once."
		if err := sender.Send(ctx, payload.To, subject, body); err != nil {
			logger.Error("verification mail delivery failed",
				slog.String("action", payload.Action),
				slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("verification mail delivered", slog.String("action", payload.Action))
		return tracker.End(nil)
	}
}
