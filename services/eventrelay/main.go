package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/buildgrid/platform/shared/config"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, using environment variables")
	}

	// Initialize database
	db, err := config.ConnectDatabase()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := db.AutoMigrate(&models.FailedDelivery{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	broker := os.Getenv("KAFKA_BROKER")
	if broker == "" {
		broker = "localhost:9092"
	}

	webhook := NewWebhookClient()
	consumer := NewEventConsumer(broker, db, webhook)
	defer consumer.Close()
	sweeper := NewRetrySweeper(db, webhook)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	stopSweeper := make(chan struct{})
	defer close(stopSweeper)
	go sweeper.Run(stopSweeper)

	// Initialize Gin router
	router := gin.Default()

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "Event relay is healthy", gin.H{
			"circuit_breaker": webhook.State(),
		})
	})

	// Retry statistics endpoint
	router.GET("/stats", func(c *gin.Context) {
		utils.OKResponse(c, "Relay statistics", sweeper.Stats())
	})

	// Start server
	port := os.Getenv("EVENT_RELAY_PORT")
	if port == "" {
		port = "8085"
	}

	logrus.Infof("Event relay starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start event relay:", err)
	}
}
