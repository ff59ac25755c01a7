package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
)

var (
	ErrInvalidRequest = errors.New("invalid notification request")
	ErrSendFailed     = errors.New("notification send failed")
)

// Sender es el transporte de notificaciones (SMTP, log...).
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Message es una notificación ya resuelta, lista para enviar.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Template fija asunto y cuerpo para un tipo de evento.
type Template struct {
	Subject string
	Body    string
}

var templates = map[sharedEvents.EventType]Template{
	sharedEvents.UserCreated: {Subject: "Account created", Body: "Your account has been created."},
	sharedEvents.UserUpdated: {Subject: "Account updated", Body: "Your account details have been updated."},
	sharedEvents.UserDeleted: {Subject: "Account deleted", Body: "Your account has been deleted."},
}

// MessageFor construye la notificación de un evento de ciclo de vida.
func MessageFor(evt sharedEvents.UserEvent) (Message, error) {
	tpl, ok := templates[evt.Type]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", sharedEvents.ErrUnknownEventType, evt.Type)
	}
	return Message{To: evt.Email, Subject: tpl.Subject, Body: tpl.Body}, nil
}

// DeliveryAttempt registra un intento de envío. EventID va vacío en los
// envíos manuales.
type DeliveryAttempt struct {
	EventID   string
	Email     string
	EventType string
	Subject   string
	Success   bool
	Error     string
	At        time.Time
}

// DeliveryLog guarda el histórico de intentos.
type DeliveryLog interface {
	Record(ctx context.Context, attempt DeliveryAttempt) error
	Recent(ctx context.Context, limit int) ([]DeliveryAttempt, error)
	// FailureRate es la proporción (0-1) de intentos fallidos en [start, end];
	// 0 si no hay intentos.
	FailureRate(ctx context.Context, start, end time.Time) (float64, error)
}
