package transport

import (
	"net/http"
	"time"

	"github.com/ds124wfegd/studio-booking/config"
	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/ds124wfegd/studio-booking/internal/transport/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Booking *BookingHandler
	Payment *PaymentHandler
	// Tasks is nil when the notification queue is disabled.
	Tasks *TaskHandler
}

func InitRoutes(h Handlers, jwtCfg config.JWTConfig, timeout time.Duration) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(timeout))
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	})

	// Processor callbacks carry their own signature instead of a token
	router.POST("/webhooks/stripe", h.Payment.Webhook)

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(jwtCfg.Secret, jwtCfg.Issuer))
	{
		api.POST("/sessions/:id/bookings", h.Booking.CreateBooking)

		bookings := api.Group("/bookings")
		{
			bookings.GET("", h.Booking.GetUserBookings)
			bookings.GET("/:id", h.Booking.GetBooking)
			bookings.GET("/code/:code", h.Booking.GetBookingByCode)
			bookings.POST("/:id/cancel", h.Booking.CancelBooking)
			bookings.POST("/:id/check-in", h.Booking.CheckIn)
		}

		partner := api.Group("/partner", middleware.RequireRole(entity.RolePartner))
		{
			partner.POST("/sessions/:id/no-shows", h.Booking.MarkNoShows)
		}

		payments := api.Group("/payments")
		{
			payments.POST("/checkout", h.Payment.CreateCheckout)
			payments.GET("/checkout/:session_id", h.Payment.VerifySession)
			payments.GET("/balance", h.Payment.GetBalance)
			payments.GET("/purchases", h.Payment.GetUserPurchases)
		}

		admin := api.Group("/admin", middleware.RequireRole(entity.RoleAdmin))
		{
			admin.POST("/purchases/:id/refund", h.Payment.Refund)
			admin.GET("/payment-events/failed", h.Payment.ListFailedEvents)

			if h.Tasks != nil {
				admin.GET("/tasks/failed", h.Tasks.GetFailedTasks)
				admin.POST("/tasks/:id/requeue", h.Tasks.RequeueTask)
			}
		}
	}

	return router
}
