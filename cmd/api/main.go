package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"request-routing-api/config"
	"request-routing-api/controllers"
	"request-routing-api/middleware"
	"request-routing-api/models"
	"request-routing-api/routes"
	"request-routing-api/services"
	"request-routing-api/tracing"
)

const serviceVersion = "1.0.0"

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logFile, logWriter := config.InitLogging()
	if logFile != nil {
		defer logFile.Close()
	}
	gin.DefaultWriter = logWriter
	gin.DefaultErrorWriter = logWriter

	settings := config.LoadSettings()
	if settings.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// Initialize database
	config.InitDB()
	if os.Getenv("AUTO_MIGRATE") == "true" {
		if err := config.DB.AutoMigrate(models.All()...); err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("Database schema migrated")
	}

	if settings.TraceOutput != "" {
		if err := tracing.Init("request-routing-api", serviceVersion, settings.TraceOutput); err != nil {
			log.Printf("Warning: tracing disabled: %v", err)
		}
	}

	// Create upload directory if not exists
	if err := os.MkdirAll(settings.UploadPath, os.ModePerm); err != nil {
		log.Printf("Warning: Failed to create upload directory: %v", err)
	}

	identities := services.NewGormIdentityProvider(config.DB)
	notificationStore := services.NewGormNotificationStore(config.DB)

	sinks, err := services.BuildNotificationSinks(settings, notificationStore)
	if err != nil {
		log.Fatal("Failed to configure notification sinks:", err)
	}
	dispatcher := services.NewNotificationDispatcher(
		services.NewGormDeliveryStore(config.DB),
		identities,
		services.NewNotificationRenderer(services.NewGormTemplateSource(config.DB)),
		services.DispatcherOptionsFrom(settings),
		sinks...,
	)
	dispatcher.Start()
	if err := dispatcher.StartRedelivery(settings.NotifyRedeliveryCron); err != nil {
		log.Fatal("Failed to schedule notification redelivery:", err)
	}

	repo := services.NewGormSubmissionRepository(config.DB, settings.LockMode)
	workflowService := services.NewWorkflowService(
		repo,
		identities,
		services.NewFileAttachmentStore(settings.UploadPath),
		dispatcher,
		services.WorkflowOptions{RequestPrefix: settings.RequestPrefix, BaseURL: settings.BaseURL},
	)

	pingDB := func(ctx context.Context) error {
		sqlDB, err := config.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	// Set Gin mode
	if settings.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Add security headers middleware
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	})

	// Add CORS middleware
	router.Use(middleware.CORSMiddleware())

	routes.SetupRoutes(router, routes.Deps{
		JWTSecret:  settings.JWTSecret,
		Identities: identities,
		Auth:       controllers.NewAuthController(identities, settings.JWTSecret, settings.JWTExpiry(), nil),
		Submissions: controllers.NewSubmissionController(
			workflowService,
			services.NewHistoryService(repo, identities),
			services.NewProjectionService(repo, identities),
		),
		Notifications: controllers.NewNotificationController(services.NewNotificationService(notificationStore, nil)),
		Health:        controllers.NewHealthController(pingDB),
		LogsToken:     settings.LogsToken,
		LogPath:       config.LogFilePath(),
	})

	srv := &http.Server{
		Addr:              ":" + settings.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on port %s", settings.ServerPort)
		if settings.GinMode == "release" {
			log.Printf("Running in production mode")
		} else {
			log.Printf("Running in development mode")
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: server shutdown: %v", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Printf("Warning: notification dispatcher shutdown: %v", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: tracing shutdown: %v", err)
	}
}
