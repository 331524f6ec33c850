package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"sba-cms/pkg/config"
	"sba-cms/pkg/logging"
)

// Message is one plain-text notification.
type Message struct {
	To      string
	ReplyTo string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// NewMailer returns an SMTP mailer, or a log-only one when no host is set.
func NewMailer(cfg config.MailConfig) Mailer {
	logger := logging.With().Str("component", "mailer").Logger()
	if cfg.Host == "" {
		return &LogMailer{logger: logger}
	}
	return &SMTPMailer{cfg: cfg, logger: logger}
}

type SMTPMailer struct {
	cfg    config.MailConfig
	logger zerolog.Logger
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	mm := mail.NewMsg()
	if err := mm.From(m.cfg.From); err != nil {
		return fmt.Errorf("setting from address: %w", err)
	}
	if err := mm.To(msg.To); err != nil {
		return fmt.Errorf("setting to address: %w", err)
	}
	if msg.ReplyTo != "" {
		if err := mm.ReplyTo(msg.ReplyTo); err != nil {
			return fmt.Errorf("setting reply-to address: %w", err)
		}
	}
	mm.Subject(msg.Subject)
	mm.SetBodyString(mail.TypeTextPlain, msg.Body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, mm); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}

// LogMailer records notifications in the log instead of sending them.
type LogMailer struct {
	logger zerolog.Logger
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("mail not sent: no smtp host configured")
	return nil
}
