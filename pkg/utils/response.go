package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Códigos estables para que los clientes no dependan del texto del mensaje.
const (
	CodeInvalidData = "INVALID_DATA"
	CodeDuplicate   = "DUPLICATE_RESOURCE"
	CodeNotFound    = "NOT_FOUND"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse es el cuerpo de todos los errores: {"error": {...}}.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorBody envuelve el error con la forma que devuelven todos los servicios.
func ErrorBody(message, code string) gin.H {
	return gin.H{"error": ErrorResponse{Message: message, Code: code}}
}

func SendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

func SendError(c *gin.Context, statusCode int, message string) {
	SendErrorCode(c, statusCode, "", message)
}

func SendErrorCode(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorBody(message, code))
}

// AbortWithError corta la cadena de middlewares con el mismo formato.
func AbortWithError(c *gin.Context, statusCode int, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorBody(message, ""))
}

func SendBadRequest(c *gin.Context, message string) {
	SendErrorCode(c, http.StatusBadRequest, CodeInvalidData, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendErrorCode(c, http.StatusNotFound, CodeNotFound, message)
}

// SendInternalServerError nunca lleva code: el detalle solo va al log.
func SendInternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, message)
}
