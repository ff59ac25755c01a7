package http

import "github.com/gin-gonic/gin"

func RegisterNotificationRoutes(r gin.IRouter, handler *NotificationHandler) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("/send", handler.SendEmail)
		notifications.GET("/deliveries", handler.RecentDeliveries)
		notifications.GET("/deliveries/failure-rate", handler.FailureRate)
	}
}
