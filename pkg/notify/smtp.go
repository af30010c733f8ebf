package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/paul-bdio/zorro/pkg/db/models/registry"
	"github.com/wneessen/go-mail"
)

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPConfig configures SMTPSender. Port 587 with PLAIN auth over STARTTLS is the default.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Subject  string
}

// SMTPSender sends plain-text email.
type SMTPSender struct {
	client  mailSender
	from    string
	subject string
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Subject == "" {
		cfg.Subject = "Profile registry notification"
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client for %s: %w", cfg.Host, err)
	}
	return &SMTPSender{client: client, from: cfg.From, subject: cfg.Subject}, nil
}

func (s *SMTPSender) Send(ctx context.Context, _ registry.Channel, destination, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return Permanent(fmt.Errorf("smtp from %q: %w", s.from, err))
	}
	if err := msg.To(destination); err != nil {
		return Permanent(fmt.Errorf("smtp to %q: %w", destination, err))
	}
	msg.Subject(s.subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	err := s.client.DialAndSendWithContext(ctx, msg)
	if err == nil {
		return nil
	}
	err = fmt.Errorf("smtp send to %s: %w", destination, err)
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && !sendErr.IsTemp() && sendErr.Reason == mail.ErrSMTPRcptTo {
		return Permanent(err)
	}
	return Transient(err)
}
