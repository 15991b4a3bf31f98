package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/soleahealth/insights-backend/internal/handlers"
	"github.com/soleahealth/insights-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware  *middleware.AuthMiddleware
	InsightsHandler *handlers.InsightsHandler
	SSEHandler      *handlers.SSEHandler
	AllowOrigins    []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	allowOrigins := cfg.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{
			"http://localhost:80",
			"http://localhost:3000",
		}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)

	// Protected
	protected := router.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	// SSE
	protected.GET("/sse/stream", cfg.SSEHandler.Stream)

	// Insights
	api := protected.Group("/api/insights")
	{
		api.GET("/issues", cfg.InsightsHandler.GetIssues)
		api.GET("/issues/:slug/sections/:section", cfg.InsightsHandler.GetSection)
		api.GET("/issues/:slug/sections/:section/status", cfg.InsightsHandler.GetSectionStatus)
		api.GET("/status", cfg.InsightsHandler.GetStatus)
		api.POST("/regenerate", cfg.InsightsHandler.RegenerateAll)
		api.POST("/issues/:slug/regenerate-all", cfg.InsightsHandler.RegenerateIssue)
		api.POST("/changes", cfg.InsightsHandler.NotifyChange)
	}

	return router
}
