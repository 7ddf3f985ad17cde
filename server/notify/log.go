package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Log writes mails to the logger instead of sending them.
type Log struct {
	logger zerolog.Logger
}

var _ Sink = (*Log)(nil)

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(_ context.Context, to, subject, htmlBody string) error {
	l.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_len", len(htmlBody)).
		Msg("mail not sent, log driver")
	l.logger.Debug().Str("to", to).Str("body", htmlBody).Msg("mail body")
	return nil
}
