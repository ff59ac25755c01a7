package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	sharedHttp "github.com/davicafu/usersync/internal/shared/infra/http"
	"github.com/davicafu/usersync/internal/user/domain"
	"github.com/davicafu/usersync/pkg/utils"
)

// classify traduce un error de dominio a su código HTTP y su code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidData):
		return http.StatusBadRequest, utils.CodeInvalidData
	case errors.Is(err, domain.ErrDuplicateResource):
		return http.StatusConflict, utils.CodeDuplicate
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, utils.CodeNotFound
	default:
		return http.StatusInternalServerError, ""
	}
}

// sendError responde con el mensaje del error de dominio; cualquier otro
// error se loguea y se devuelve como un 500 genérico.
func sendError(c *gin.Context, log *zap.Logger, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		log.Error("❌ error inesperado",
			zap.String("path", c.Request.URL.Path),
			zap.String("correlation_id", sharedHttp.GetCorrelationID(c)),
			zap.Error(err),
		)
		utils.SendInternalServerError(c, "internal server error")
		return
	}
	utils.SendErrorCode(c, status, code, err.Error())
}
