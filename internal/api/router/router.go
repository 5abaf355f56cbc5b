package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/helix-jobs/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint, outside the authenticated group for probes
	r.GET("/health", handler.NewHealthHandler(deps).Health)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobHandler := handler.NewJobHandler(deps)
	storageHandler := handler.NewStorageHandler(deps)

	api := r.Group("/api")
	api.Use(AuthMiddleware(deps.AccessToken))
	{
		jobs := api.Group("/jobs")
		{
			// POST /api/jobs - Create a job from a work item manifest
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/jobs/:job_id/workitems - List the expanded work items
			jobs.GET("/:job_id/workitems", jobHandler.ListWorkItems)

			// POST /api/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			// DELETE /api/jobs/:job_id - Delete a job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		// POST /api/storage - Issue a container with SAS tokens
		api.POST("/storage", storageHandler.NewContainer)
	}

	return r
}
