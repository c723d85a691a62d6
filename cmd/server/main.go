package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"omnichat-gateway/internal/api"
	"omnichat-gateway/internal/config"
	"omnichat-gateway/internal/database"
	"omnichat-gateway/internal/enrichment"
	"omnichat-gateway/internal/ingest"
	"omnichat-gateway/internal/platform"
	"omnichat-gateway/internal/realtime"
	"omnichat-gateway/internal/webhook"
	"omnichat-gateway/internal/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()
	db := database.InitGorm(cfg)

	if cfg.AllowUnsignedWebhooks {
		log.Println("WARNING: ALLOW_UNSIGNED_WEBHOOKS is set; webhook signatures are NOT verified")
	}

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	hub := ws.NewHub()
	go hub.Run()

	publishers := []realtime.Publisher{hub}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := realtime.NewAMQPPublisher(context.Background(), realtime.ConnectionOptions{
			URL:           cfg.AMQPURL,
			Exchange:      cfg.AMQPExchange,
			RetryAttempts: 5,
			Delay:         time.Second,
			Logger:        slog.New(slog.NewTextHandler(os.Stdout, nil)),
		})
		if err != nil {
			log.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		defer amqpPublisher.Close()
		publishers = append(publishers, amqpPublisher)
	}

	fetcher := enrichment.NewHTTPFetcher(time.Duration(cfg.EnrichmentTimeoutSecs) * time.Second)
	pipeline := &ingest.Pipeline{
		Tenants:       ingest.NewTenantResolver(db),
		Customers:     ingest.NewCustomerResolver(db, fetcher, time.Duration(cfg.EnrichmentTimeoutSecs)*time.Second),
		Conversations: ingest.NewConversationResolver(db),
		Messages:      ingest.NewMessageWriter(db),
		Statuses:      ingest.NewStatusPropagator(db),
		DeadLetters:   ingest.NewDeadLetterStore(db),
		Publisher:     realtime.NewFanout(publishers...),
	}

	registry := platform.NewRegistry(cfg)
	webhookHandler := webhook.NewHandler(cfg, registry, pipeline)
	conversationHandler := api.NewConversationHandler(db)

	// Webhook Routes
	r.GET("/webhook/:platform", webhookHandler.VerifyWebhook)
	r.POST("/webhook/:platform", webhookHandler.HandleWebhook)

	// Dashboard API Routes
	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/conversations", conversationHandler.GetConversations)
		apiGroup.GET("/conversations/:id/messages", conversationHandler.GetMessages)
		apiGroup.GET("/deadletters", conversationHandler.GetDeadLetters)
	}

	// Realtime fan-out for dashboards
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
