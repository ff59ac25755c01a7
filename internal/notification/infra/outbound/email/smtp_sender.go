package email

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/davicafu/usersync/internal/notification/domain"
)

// SMTPSender implementa Sender usando SMTP.
type SMTPSender struct {
	Host     string
	Port     int
	From     string
	User     string
	Pass     string
	TLSMode  string // "auto" | "starttls" | "ssl" | "none"
	log      *zap.Logger
	dialSend func(d *mail.Dialer, m *mail.Message) error
}

func NewSMTPSender(host string, port int, from, user, pass, tlsMode string, log *zap.Logger) *SMTPSender {
	if tlsMode == "" {
		tlsMode = "auto"
	}
	return &SMTPSender{
		Host:    host,
		Port:    port,
		From:    from,
		User:    user,
		Pass:    pass,
		TLSMode: tlsMode,
		log:     log.With(zap.String("component", "SMTPSender"), zap.String("host", host), zap.Int("port", port)),
		dialSend: func(d *mail.Dialer, m *mail.Message) error {
			return d.DialAndSend(m)
		},
	}
}

func (s *SMTPSender) message(to, subject, body string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}

func (s *SMTPSender) dialer() *mail.Dialer {
	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{ServerName: s.Host}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	case "starttls":
		d.StartTLSPolicy = mail.MandatoryStartTLS
	default:
		// "auto": go-mail negocia STARTTLS si el servidor lo ofrece
	}
	return d
}

// Send envía un email de texto plano. go-mail no acepta contexto: si ctx ya
// venció no se intenta el envío.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.log.Debug("sending email", zap.String("to", to), zap.String("subject", subject), zap.String("tls_mode", s.TLSMode))

	done := make(chan error, 1)
	go func() { done <- s.dialSend(s.dialer(), s.message(to, subject, body)) }()

	select {
	case err := <-done:
		if err != nil {
			s.log.Error("smtp send failed", zap.String("to", to), zap.Error(err))
			return fmt.Errorf("smtp send: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}

	s.log.Info("email sent successfully", zap.String("to", to))
	return nil
}

// Verificación estática
var _ domain.Sender = (*SMTPSender)(nil)
