package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/davicafu/usersync/internal/notification/application"
	"github.com/davicafu/usersync/internal/notification/domain"
	sharedHttp "github.com/davicafu/usersync/internal/shared/infra/http"
	"github.com/davicafu/usersync/pkg/utils"
)

type NotificationHandler struct {
	service *application.NotificationService
	log     *zap.Logger
}

func NewNotificationHandler(service *application.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{service: service, log: log}
}

// SendEmail endpoint POST /notifications/send
func (h *NotificationHandler) SendEmail(c *gin.Context) {
	var req application.SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, fmt.Sprintf("%v: malformed body", domain.ErrInvalidRequest))
		return
	}

	h.log.Info("Solicitud de envío recibida",
		zap.String("email", req.Email),
		zap.String("subject", req.Subject),
	)

	err := h.service.SendCustom(c.Request.Context(), &req)
	switch {
	case err == nil:
		utils.SendSuccess(c, http.StatusOK, gin.H{"message": "Email sent to " + req.Email})
	case errors.Is(err, domain.ErrInvalidRequest):
		utils.SendBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrSendFailed):
		utils.SendError(c, http.StatusBadGateway, "notification transport unavailable")
	default:
		h.internalError(c, err)
	}
}


const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 1000
	defaultRateWindow    = time.Hour
)

type deliveryResponse struct {
	EventID   string    `json:"event_id,omitempty"`
	Email     string    `json:"email"`
	EventType string    `json:"event_type"`
	Subject   string    `json:"subject"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// RecentDeliveries endpoint GET /notifications/deliveries?limit=N
func (h *NotificationHandler) RecentDeliveries(c *gin.Context) {
	limit := defaultDeliveryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDeliveryLimit {
			utils.SendBadRequest(c, fmt.Sprintf("limit must be between 1 and %d", maxDeliveryLimit))
			return
		}
		limit = n
	}

	attempts, err := h.service.RecentDeliveries(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, err)
		return
	}
	out := make([]deliveryResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, deliveryResponse{
			EventID:   a.EventID,
			Email:     a.Email,
			EventType: a.EventType,
			Subject:   a.Subject,
			Success:   a.Success,
			Error:     a.Error,
			At:        a.At,
		})
	}
	utils.SendSuccess(c, http.StatusOK, out)
}

// FailureRate endpoint GET /notifications/deliveries/failure-rate?window=1h
func (h *NotificationHandler) FailureRate(c *gin.Context) {
	window := defaultRateWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			utils.SendBadRequest(c, "window must be a positive duration")
			return
		}
		window = d
	}

	rate, err := h.service.FailureRate(c.Request.Context(), window)
	if err != nil {
		h.internalError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"window": window.String(), "failure_rate": rate})
}

func (h *NotificationHandler) internalError(c *gin.Context, err error) {
	h.log.Error("❌ error inesperado",
		zap.String("correlation_id", sharedHttp.GetCorrelationID(c)),
		zap.Error(err),
	)
	utils.SendInternalServerError(c, "internal server error")
}
