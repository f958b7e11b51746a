package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-orders/config"
	"marketplace-orders/internal/api"
	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/gateway"
	"marketplace-orders/internal/redisclient"
	"marketplace-orders/internal/service"
	"marketplace-orders/internal/store"
	"marketplace-orders/internal/util"
	"marketplace-orders/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const ledgerRetention = 90 * 24 * time.Hour

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace order service")

	tp, err := util.InitTracer("marketplace-orders", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	if cfg.Database.RunMigrations {
		m, err := migrate.New(cfg.Database.MigrationsPath, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to create migrate instance: %v", err)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Migrations applied")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrderEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	gatewayClient := gateway.NewClient(gateway.Config{
		AccessToken:    cfg.Gateway.AccessToken,
		BaseURL:        cfg.Gateway.BaseURL,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	})

	returnURLs := gateway.ReturnURLs{
		Success: cfg.Gateway.SuccessURL,
		Failure: cfg.Gateway.FailureURL,
		Pending: cfg.Gateway.PendingURL,
	}

	holdManager := service.NewHoldManager(db, gatewayClient)
	controller := service.NewOrderLifecycleController(db, gatewayClient, holdManager, redisClient, eventPublisher, returnURLs)
	reconciler := service.NewWebhookReconciler(db, gatewayClient, redisClient, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	fulfillmentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicFulfillment, cfg.Kafka.ConsumerGroup)
	fulfillmentWorker := worker.NewFulfillmentWorker(fulfillmentConsumer, controller)
	go func() {
		if err := fulfillmentWorker.Start(workerCtx); err != nil {
			log.Printf("Fulfillment worker error: %v", err)
		}
	}()

	// Prune idempotency markers past the processor redelivery window.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				pruneCtx, cancel := context.WithTimeout(workerCtx, time.Minute)
				n, err := db.PruneProcessedEvents(pruneCtx, time.Now().Add(-ledgerRetention))
				cancel()
				if err != nil {
					log.Printf("Failed to prune processed events: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("Pruned %d processed events", n)
				}
			}
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(controller, reconciler)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	fulfillmentWorker.Stop()

	log.Println("Server exited")
}
