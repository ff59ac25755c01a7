package application

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/davicafu/usersync/internal/notification/domain"
	sharedEvents "github.com/davicafu/usersync/internal/shared/events"
)

// SendEmailRequest es el cuerpo de POST /notifications/send.
type SendEmailRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"required,max=200"`
	Text    string `json:"text" validate:"required"`
}

// NotificationService convierte cada evento de ciclo de vida en un envío.
// Implementa sharedEvents.UserEventHandler.
type NotificationService struct {
	sender   domain.Sender
	delivery domain.DeliveryLog
	validate *validator.Validate
	log      *zap.Logger
}

func NewNotificationService(sender domain.Sender, delivery domain.DeliveryLog, log *zap.Logger) *NotificationService {
	return &NotificationService{
		sender:   sender,
		delivery: delivery,
		validate: validator.New(),
		log:      log,
	}
}

func (s *NotificationService) OnCreated(ctx context.Context, evt sharedEvents.UserEvent) error {
	return s.notify(ctx, evt)
}

func (s *NotificationService) OnUpdated(ctx context.Context, evt sharedEvents.UserEvent) error {
	return s.notify(ctx, evt)
}

func (s *NotificationService) OnDeleted(ctx context.Context, evt sharedEvents.UserEvent) error {
	return s.notify(ctx, evt)
}

func (s *NotificationService) notify(ctx context.Context, evt sharedEvents.UserEvent) error {
	msg, err := domain.MessageFor(evt)
	if err != nil {
		return err
	}
	return s.send(ctx, evt.ID.String(), string(evt.Type), msg)
}

// SendCustom envía un email arbitrario fuera del flujo de eventos.
func (s *NotificationService) SendCustom(ctx context.Context, req *SendEmailRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request body is required", domain.ErrInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return s.send(ctx, "", "CUSTOM", domain.Message{To: req.Email, Subject: req.Subject, Body: req.Text})
}

func (s *NotificationService) send(ctx context.Context, eventID, eventType string, msg domain.Message) error {
	sendErr := s.sender.Send(ctx, msg.To, msg.Subject, msg.Body)

	attempt := domain.DeliveryAttempt{
		EventID:   eventID,
		Email:     msg.To,
		EventType: eventType,
		Subject:   msg.Subject,
		Success:   sendErr == nil,
		At:        time.Now().UTC(),
	}
	if sendErr != nil {
		attempt.Error = sendErr.Error()
	}
	if s.delivery != nil {
		if err := s.delivery.Record(ctx, attempt); err != nil {
			s.log.Warn("⚠️ No se pudo registrar el intento de entrega", zap.String("email", msg.To), zap.Error(err))
		}
	}

	if sendErr != nil {
		s.log.Warn("⚠️ Envío de notificación fallido",
			zap.String("event_id", eventID),
			zap.String("email", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(sendErr),
		)
		return fmt.Errorf("%w: %v", domain.ErrSendFailed, sendErr)
	}

	s.log.Info("📧 Notificación enviada",
		zap.String("event_id", eventID),
		zap.String("event_type", eventType),
		zap.String("email", msg.To),
	)
	return nil
}

// RecentDeliveries devuelve los últimos intentos de envío, del más antiguo al
// más reciente. Sin log de entregas la lista va vacía.
func (s *NotificationService) RecentDeliveries(ctx context.Context, limit int) ([]domain.DeliveryAttempt, error) {
	if s.delivery == nil {
		return []domain.DeliveryAttempt{}, nil
	}
	return s.delivery.Recent(ctx, limit)
}

// FailureRate de los envíos de la última ventana.
func (s *NotificationService) FailureRate(ctx context.Context, window time.Duration) (float64, error) {
	if s.delivery == nil {
		return 0, nil
	}
	end := time.Now().UTC()
	return s.delivery.FailureRate(ctx, end.Add(-window), end)
}

// Verificación estática
var _ sharedEvents.UserEventHandler = (*NotificationService)(nil)
