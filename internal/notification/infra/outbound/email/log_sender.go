package email

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/davicafu/usersync/internal/notification/domain"
)

// LogSender no envía nada: deja la notificación en el log y la guarda en
// memoria. Se usa cuando no hay SMTP configurado.
type LogSender struct {
	mu   sync.Mutex
	sent []domain.Message
	log  *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, domain.Message{To: to, Subject: subject, Body: body})
	s.mu.Unlock()

	s.log.Info("📧 [log-sender] email", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// Sent devuelve una copia de lo enviado, en orden.
func (s *LogSender) Sent() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.sent...)
}

// Verificación estática
var _ domain.Sender = (*LogSender)(nil)
