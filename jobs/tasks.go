// Package jobs holds the asynq task types and the background worker that
// runs them: notification mail, the auto-posting sweeper and verification
// log retention.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for transactional notifications.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeAutopost sweeps authorized vouchers whose source is settled.
	TaskTypeAutopost = "payments:autopost"
	// TaskTypeVerifyExpiry prunes aged verification log rows.
	TaskTypeVerifyExpiry = "verify:expiry"
)

// SendEmailPayload describes one outbound notification.
type SendEmailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// NewSendEmailTask constructs a mail:send task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewAutopostTask constructs a payments:autopost task.
func NewAutopostTask() *asynq.Task {
	return asynq.NewTask(TaskTypeAutopost, nil)
}

// NewVerifyExpiryTask constructs a verify:expiry task.
func NewVerifyExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskTypeVerifyExpiry, nil)
}

// Mailer delivers notification mail.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer sends through a plain SMTP relay, Mailpit in development.
type SMTPMailer struct {
	Addr string
	From string
}

// Send implements Mailer.
func (m SMTPMailer) Send(_ context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(m.Addr, nil, m.From, to, []byte(msg))
}

// NewSendEmailHandler returns the mail:send handler bound to a mailer.
func NewSendEmailHandler(mailer Mailer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode mail payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := mailer.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
			logger.Warn("send mail",
				slog.String("subject", payload.Subject),
				slog.Any("error", err))
			return err
		}
		return nil
	}
}
