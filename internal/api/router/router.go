package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/buddy-work/internal/api/handler"
	"github.com/cuongbtq/buddy-work/internal/metrics"
)

// AssignPath is the single inbound work endpoint
const AssignPath = "/assign_buddy_work/"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(metrics.Middleware())
	r.Use(CORSMiddleware(deps.AllowedOrigins))

	workHandler := handler.NewWorkHandler(deps)

	r.GET("/health", workHandler.Health)
	r.GET("/metrics", metrics.Handler())

	// Accept the path with and without the trailing slash
	limit := RateLimitMiddleware(deps.RateLimitRPS, deps.RateLimitBurst)
	r.POST(AssignPath, limit, workHandler.AssignWork)
	r.POST("/assign_buddy_work", limit, workHandler.AssignWork)

	return r
}
