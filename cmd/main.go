/**
 * @description
 * This is the main entry point for the billing service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the payment gateway client, the message broker producer, the plan
 * cache, the core application services, the lifecycle scheduler, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for the plan cache.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/gatewayclient: Client for the payment gateway API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/creative-sparx/skillswap-backend/internal/api"
	"github.com/creative-sparx/skillswap-backend/internal/app"
	"github.com/creative-sparx/skillswap-backend/internal/config"
	"github.com/creative-sparx/skillswap-backend/internal/store"
	"github.com/creative-sparx/skillswap-backend/pkg/gatewayclient"
	"github.com/creative-sparx/skillswap-backend/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if strings.TrimSpace(cfg.GatewayWebhookSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook secret must be configured\" env=GATEWAY_WEBHOOK_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting billing-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Pool sizing shared across the backend services.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. Event delivery is
	// best-effort, so a missing broker downgrades to the fallback producer.
	var producer rabbitmq.Publisher
	if eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = eventProducer
	}
	defer producer.Close()

	// Redis backs the plan cache; the catalog degrades to database reads
	// without it.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; plan cache disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; plan cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; plan cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the payment gateway client.
	gateway := gatewayclient.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, time.Duration(cfg.GatewayTimeoutSeconds)*time.Second)

	// Initialize the data access layer and the cached plan catalog.
	repository := store.NewPostgresRepository(dbpool)
	catalog := store.NewPlanCatalog(repository, redisClient, time.Duration(cfg.PlanCacheTTLSeconds)*time.Second)

	// Initialize the core application services.
	reconciler := app.NewReconciler(
		repository,
		catalog,
		producer,
		time.Duration(cfg.ReconcileRetryBaseDelayMS)*time.Millisecond,
		cfg.ReconcileRetryMaxAttempts,
	)
	walletService := app.NewWalletService(repository, gateway, producer, cfg.PaymentRedirectURL)
	subscriptionService := app.NewSubscriptionService(repository, catalog, gateway, producer, reconciler, cfg.PaymentRedirectURL)
	lifecycle := app.NewLifecycleManager(repository, catalog, gateway, producer, time.Duration(cfg.RenewalLookaheadDays)*24*time.Hour)

	// Start the lifecycle sweeps on their cron schedules.
	scheduler := app.NewScheduler(lifecycle, cfg.ExpirySweepSchedule, cfg.RenewalSweepSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers and the router.
	handlers := api.NewBillingHandlers(walletService, subscriptionService)
	webhookHandler := api.NewWebhookHandler(reconciler, cfg.GatewayWebhookSecret)
	router := api.BillingRoutes(handlers, webhookHandler, cfg.JWTSecret, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server failed\" err=%v", err)
		}
	}()

	// Wait for an interrupt signal, then shut down gracefully.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("level=info component=bootstrap msg=\"shutting down\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"graceful shutdown failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"stopped\"")
}
