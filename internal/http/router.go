// README: Route table. Everything except health and the websocket upgrade
// sits behind bearer auth.
package http

import (
	"github.com/gin-gonic/gin"

	"carpool/internal/auth"
	"carpool/internal/http/middleware"
	"carpool/internal/logger"
)

type Handlers struct {
	Orders        *OrderHandler
	Notifications *NotificationHandler
	Reviews       *ReviewHandler
	Drivers       *DriverHandler
	Audit         *AuditHandler
	Gateway       *GatewayHandler
}

func NewRouter(h Handlers, tokens *auth.Manager, log logger.ILogger) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/healthz", func(c *gin.Context) { OK(c, gin.H{"status": "ok"}) })
	// Auth happens on the first frame, not the upgrade request.
	r.GET("/ws", h.Gateway.Serve)

	api := r.Group("/api/v1", auth.Middleware(tokens))
	{
		orders := api.Group("/orders")
		orders.POST("", h.Orders.Create)
		orders.GET("", h.Orders.List)
		orders.GET("/driverTasks", h.Orders.DriverTasks)
		orders.GET("/passengerOrder", h.Orders.PassengerOrder)
		orders.GET("/:id", h.Orders.Get)
		orders.PATCH("/:id/match", h.Orders.Match)
		orders.PATCH("/:id/confirm", h.Orders.Confirm)
		orders.PATCH("/:id/complete", h.Orders.Complete)
		orders.PATCH("/:id/payment", h.Orders.Payment)
		orders.DELETE("/:id/cancel", h.Orders.Cancel)
		orders.POST("/:id/rate", h.Reviews.Rate)
		if h.Audit != nil {
			orders.GET("/:id/audit", h.Audit.ListForOrder)
		}

		notifications := api.Group("/notifications")
		notifications.GET("", h.Notifications.List)
		notifications.PATCH("/readAll", h.Notifications.MarkAllRead)
		notifications.PATCH("/:id/read", h.Notifications.MarkRead)

		reviews := api.Group("/reviews")
		reviews.GET("/user/:id", h.Reviews.ListForUser)
		reviews.GET("/pending", h.Reviews.ListPending)
		reviews.PATCH("/:id/audit", h.Reviews.Resolve)

		if h.Drivers != nil {
			drivers := api.Group("/drivers")
			drivers.GET("/me", h.Drivers.Me)
			drivers.GET("/online", h.Drivers.Online)
		}
	}
	return r
}
