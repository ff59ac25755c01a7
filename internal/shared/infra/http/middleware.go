package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/usersync/pkg/utils"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	CorrelationIDKey    = "correlation_id"
)

// CorrelationID reutiliza el X-Correlation-ID entrante o genera uno nuevo.
// Se reescribe también en la request para que los proxies lo propaguen.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
			c.Request.Header.Set(CorrelationIDHeader, correlationID)
		}

		c.Set(CorrelationIDKey, correlationID)
		c.Header(CorrelationIDHeader, correlationID)

		c.Next()
	}
}

// GetCorrelationID devuelve el id de la request, o "" fuera de un contexto HTTP.
func GetCorrelationID(c *gin.Context) string {
	if id, ok := c.Get(CorrelationIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// Recovery convierte un panic en un 500 genérico, sin filtrar detalles.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("💥 panic recuperado",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("correlation_id", GetCorrelationID(c)),
		)
		utils.AbortWithError(c, http.StatusInternalServerError, "internal server error")
	})
}

// RequestLogger sustituye al logger por defecto de gin por zap.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("correlation_id", GetCorrelationID(c)),
		)
	}
}

// NewEngine crea un gin.Engine con la cadena de middlewares común a todos los servicios.
func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	// sin proxies de confianza: ClientIP es la IP de la conexión
	_ = r.SetTrustedProxies(nil)
	r.Use(CorrelationID(), RequestLogger(log), Recovery(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}
