package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"request-routing-api/controllers"
	"request-routing-api/middleware"
	"request-routing-api/services"
	"request-routing-api/workflow"
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	JWTSecret     string
	Identities    services.IdentityProvider
	Auth          *controllers.AuthController
	Submissions   *controllers.SubmissionController
	Notifications *controllers.NotificationController
	Health        *controllers.HealthController
	LogsToken     string
	LogPath       string
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	// Operational log access, outside /api/v1
	router.GET("/logs", controllers.LogsHandler(deps.LogsToken, deps.LogPath))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			// Authentication
			public.POST("/login", deps.Auth.Login)

			// Health check
			public.GET("/health", deps.Health.Health)
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(deps.JWTSecret, deps.Identities))
		{
			// User profile
			protected.GET("/profile", deps.Auth.GetProfile)
			protected.GET("/roles", controllers.ListRoles)

			// Submissions
			submissions := protected.Group("/submissions")
			{
				submissions.POST("", deps.Submissions.CreateSubmission)
				submissions.GET("/assigned", deps.Submissions.ListAssignedToMe)
				submissions.GET("/mine", deps.Submissions.ListMine)
				submissions.GET("/shared", deps.Submissions.ListSharedWithMe)

				submissions.GET("/:id", deps.Submissions.GetSubmission)
				submissions.POST("/:id/actions", deps.Submissions.ActOnSubmission)
				submissions.POST("/:id/share", deps.Submissions.ShareSubmission)
				submissions.GET("/:id/history", deps.Submissions.GetHistory)
				submissions.GET("/:id/attachment", deps.Submissions.DownloadAttachment)

				submissions.GET("/:id/audit", middleware.RequireRole(workflow.IntakeRole), deps.Submissions.AuditSubmission)

				// Superusers only
				submissions.PUT("/:id/content", middleware.RequirePrivileged(), deps.Submissions.CorrectContent)
			}

			// Dashboard
			protected.GET("/dashboard/stats", deps.Submissions.DashboardStats)

			// Notifications
			notifications := protected.Group("/notifications")
			{
				notifications.GET("", deps.Notifications.GetNotifications)
				notifications.GET("/counter", deps.Notifications.GetNotificationCounter)
				notifications.PATCH("/read-all", deps.Notifications.MarkAllNotificationsRead)
				notifications.PATCH("/:id/read", deps.Notifications.MarkNotificationRead)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found", "path": c.Request.URL.Path})
	})
}
