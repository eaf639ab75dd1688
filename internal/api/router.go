// Package api contains the HTTP handlers and routing for the payment
// reconciliation service.
package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter configures the Gin router with all routes and middleware.
func SetupRouter(handler *Handler, ginMode string) *gin.Engine {
	// Set Gin mode
	gin.SetMode(ginMode)

	// Create router with default middleware (logger and recovery)
	router := gin.New()

	// Apply middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(RequestIDMiddleware())

	// Health check endpoint (no auth required)
	router.GET("/health", handler.Health)

	// Gateway-facing endpoints. These are called by Mobbex, so there is no
	// session auth; security is the in-band mobbex_token on each request.
	v1 := router.Group("/mobbex/v1")
	{
		v1.POST("/webhook", handler.HandleWebhook)
		v1.GET("/return", handler.HandleReturn)
	}

	return router
}
