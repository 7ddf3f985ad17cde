package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

// EmailSender is the part of the Resend client the sink uses.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend delivers mail through the Resend API.
type Resend struct {
	emails     EmailSender
	from       string
	overrideTo string
	logger     zerolog.Logger
}

var _ Sink = (*Resend)(nil)

// NewResend creates a sink using apiKey. When overrideTo is set every mail
// goes to that address instead of the real recipient.
func NewResend(apiKey, from, overrideTo string, logger zerolog.Logger) *Resend {
	return NewResendWithSender(resend.NewClient(apiKey).Emails, from, overrideTo, logger)
}

func NewResendWithSender(emails EmailSender, from, overrideTo string, logger zerolog.Logger) *Resend {
	return &Resend{
		emails:     emails,
		from:       from,
		overrideTo: overrideTo,
		logger:     logger,
	}
}

// Recipient returns where mail for to is actually delivered.
func (r *Resend) Recipient(to string) string {
	if r.overrideTo != "" {
		return r.overrideTo
	}
	return to
}

func (r *Resend) Send(ctx context.Context, to, subject, htmlBody string) error {
	recipient := r.Recipient(to)
	sent, err := r.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{recipient},
		Subject: subject,
		Html:    htmlBody,
	})
	if err != nil {
		return fmt.Errorf("resend send to %s: %w", recipient, err)
	}

	r.logger.Info().
		Str("to", recipient).
		Str("id", sent.Id).
		Msg("mail sent")
	return nil
}
