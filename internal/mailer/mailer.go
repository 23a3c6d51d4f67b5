// Package mailer abstracts the outbound email transport. Delivery itself is
// an external collaborator; the service only hands over a reset link.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
)

type Mailer interface {
	// SendPasswordReset delivers the reset link for the given recipient.
	// The ticket inside the link is the only plaintext copy in existence.
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// LogMailer is the development transport: it records that a message would
// have been sent. The ticket itself is never logged.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	if log == nil {
		log = slog.Default()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	m.log.InfoContext(ctx, "password reset mail queued", "to", email)
	return nil
}

// ResetURL builds the link placed in the email body.
func ResetURL(baseURL, ticket string) string {
	return fmt.Sprintf("%s/reset-password/%s", baseURL, ticket)
}
