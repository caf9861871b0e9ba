package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/buildgrid/platform/shared/audit"
	"github.com/buildgrid/platform/shared/config"
	"github.com/buildgrid/platform/shared/events"
	"github.com/buildgrid/platform/shared/middleware"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/realtime"
	"github.com/buildgrid/platform/shared/storage"
	"github.com/buildgrid/platform/shared/store"
	"github.com/buildgrid/platform/shared/utils"
	"github.com/buildgrid/platform/shared/workflow"
)

// Column allow-lists for dynamically filterable entities. Fixed at startup,
// never derived from requests.
var (
	taskFields       = []string{"title", "description", "status", "priority", "assignee_id", "project_id", "created_by", "created_at"}
	projectFields    = []string{"name", "status", "created_at"}
	automationFields = []string{"name", "trigger_type", "action_type", "configuration", "enabled", "created_at"}
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	// Initialize Redis for the claims cache
	if err := utils.InitRedis(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer utils.CloseRedis()

	// Initialize database
	db, err := config.ConnectDatabase()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := db.AutoMigrate(
		&models.Tenant{}, &models.User{}, &models.Project{}, &models.Task{},
		&models.TenantStorage{}, &models.Notification{}, &models.Automation{},
		&models.AuditLog{}, &models.ActivityEvent{}, &models.ImpersonationSession{},
		&models.FailedDelivery{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Realtime hub with its heartbeat loop
	hub := realtime.NewHub(&gormProjectDirectory{db: db})
	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go hub.RunHeartbeat(stopHeartbeat)

	// Audit and activity trails
	trail := audit.NewTrail(db, hub)

	// Tenant-scoped stores
	tasks := store.NewScoped[models.Task](db, taskFields)
	projects := store.NewScoped[models.Project](db, projectFields)
	automations := store.NewScoped[models.Automation](db, automationFields)

	// File bucket over the configured backend
	bucket, err := buildBucket(db)
	if err != nil {
		log.Fatal("Failed to initialize file storage:", err)
	}

	// Automation engine
	engine := workflow.NewEngine(db, hub, logNotifier{}, &taskCreator{tasks: tasks}, tasks)

	// Domain event pipeline, with the Kafka stream when a broker is set
	var publisher events.Publisher
	if broker := os.Getenv("KAFKA_BROKER"); broker != "" {
		kp := events.NewKafkaPublisher(broker)
		defer kp.Close()
		publisher = kp
	} else {
		logrus.Warn("KAFKA_BROKER not set, domain event stream disabled")
	}
	dispatcher := events.NewDispatcher(trail, engine, hub, publisher)

	// Authentication middleware
	authMiddleware := middleware.NewAuthMiddleware(db, trail)

	notifications := &gormNotifications{db: db}

	// Initialize Gin router
	router := gin.Default()

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Platform service is healthy", nil)
	})

	// Live updates socket; handshake auth is optional by design
	router.GET("/live", realtime.ServeWS(hub, authMiddleware))

	// Signed file downloads carry their credential in the URL
	router.GET("/files/*path", handleSignedDownload(bucket))

	api := router.Group("/")
	api.Use(authMiddleware.RequireAuth())
	{
		files := api.Group("/storage")
		{
			files.POST("/", handleUploadFile(bucket, trail))
			files.GET("/", handleListFiles(bucket))
			files.GET("/download", handleDownloadFile(bucket))
			files.DELETE("/", handleDeleteFile(bucket, trail))
			files.POST("/sign", handleSignFile(bucket))
		}

		tasksGroup := api.Group("/tasks")
		{
			tasksGroup.GET("/", handleListTasks(tasks))
			tasksGroup.GET("/:id", handleGetTask(tasks))
			tasksGroup.POST("/", handleCreateTask(tasks, dispatcher))
			tasksGroup.PUT("/:id", handleUpdateTask(tasks, dispatcher))
			tasksGroup.DELETE("/:id", handleDeleteTask(tasks, dispatcher))
		}

		projectsGroup := api.Group("/projects")
		{
			projectsGroup.GET("/", handleListProjects(projects))
			projectsGroup.POST("/", handleCreateProject(projects, dispatcher))
		}

		automationsGroup := api.Group("/automations")
		automationsGroup.Use(authMiddleware.RequireAdmin())
		{
			automationsGroup.GET("/", handleListAutomations(automations))
			automationsGroup.POST("/", handleCreateAutomation(automations))
			automationsGroup.PUT("/:id", handleUpdateAutomation(automations))
			automationsGroup.DELETE("/:id", handleDeleteAutomation(automations))
		}

		auditGroup := api.Group("/audit")
		{
			auditGroup.GET("/", authMiddleware.RequireAdmin(), handleListAuditLog(trail))
			auditGroup.GET("/export", authMiddleware.RequireAdmin(), handleExportAuditLog(trail))
			auditGroup.POST("/cleanup", authMiddleware.RequireSuperadmin(), handleCleanupAuditLog(trail))
		}
		api.GET("/activity", handleListActivity(trail))

		api.GET("/notifications", handleListNotifications(notifications))
		api.PUT("/notifications/:id/read", handleMarkNotificationRead(notifications))

		platformGroup := api.Group("/platform")
		platformGroup.Use(authMiddleware.RequireSuperadmin())
		{
			platformGroup.POST("/impersonate", handleStartImpersonation(authMiddleware))
			platformGroup.DELETE("/impersonate", handleStopImpersonation(authMiddleware))
		}
	}

	// Start server
	port := os.Getenv("PLATFORM_SERVICE_PORT")
	if port == "" {
		port = "8080"
	}

	logrus.Infof("Platform service starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start platform service:", err)
	}
}

// buildBucket selects the storage backend from the environment: local disk
// by default, S3 when STORAGE_BACKEND=s3.
func buildBucket(db *gorm.DB) (*storage.Bucket, error) {
	secret := os.Getenv("FILE_URL_SECRET")
	if secret == "" {
		secret = "dev-file-url-secret"
	}
	quota := newQuotaChecker(db)

	var backend storage.Backend
	var err error
	switch os.Getenv("STORAGE_BACKEND") {
	case "s3":
		backend, err = storage.NewS3Backend(
			os.Getenv("AWS_REGION"),
			os.Getenv("S3_BUCKET"),
		)
	default:
		dir := os.Getenv("STORAGE_DIR")
		if dir == "" {
			dir = "./data/files"
		}
		backend, err = storage.NewLocalBackend(dir)
	}
	if err != nil {
		return nil, err
	}
	return storage.NewBucket(backend, secret, quota), nil
}
