/**
 * @description
 * This is the main entry point for the automation-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * external API clients, message brokers, repositories, the core application service,
 * the due-rule cron scheduler, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, log/slog, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/yieldclient: Client for the yield platform API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/yieldhive/automation-service/internal/api"
	"github.com/yieldhive/automation-service/internal/app"
	"github.com/yieldhive/automation-service/internal/config"
	"github.com/yieldhive/automation-service/internal/store"
	rmrabbit "github.com/yieldhive/automation-service/pkg/rabbitmq"
	"github.com/yieldhive/automation-service/pkg/yieldclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting automation-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
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

	// Initialize the RabbitMQ producer to publish execution events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the yield platform API.
	yieldClient := yieldclient.NewClient(cfg.YieldAPIBaseURL, cfg.YieldAPIKey)

	// Redis backs the manual-execute rate limiter; the service degrades
	// gracefully without it.
	var redisClient *redis.Client
	if cfg.ExecuteRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; execute rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; execute rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; execute rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	automationService := app.NewService(
		repository,
		yieldClient,
		producer,
		cfg.PlatformFeeBps,
		time.Duration(cfg.ExecutionLeaseTTLSeconds)*time.Second,
	)

	var executeThrottle *app.ExecuteThrottle
	if redisClient != nil {
		executeThrottle = app.NewExecuteThrottle(redisClient, cfg.RedisRateLimitPrefix, cfg.ExecuteRateLimitPerMinute, time.Minute)
	}

	// Initialize the API handlers.
	automationHandlers := api.NewAutomationHandlers(automationService, executeThrottle)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/automation", api.AutomationRoutes(automationHandlers, cfg.JWTSecret, cfg.CORSAllowedOrigins))

	// Wire up the settlement status consumer: transfer statuses inside
	// execution records track what the settlement collaborator reports.
	settlementConsumer := app.NewSettlementStatusConsumer(repository)
	rabbitConsumer, err := rmrabbit.NewSettlementConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; settlement status updates disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		if err := rabbitConsumer.Subscribe(cfg.SettlementEventQueue, settlementConsumer.HandleMessage); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"settlement consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"settlement status consumer started\"")
	}

	// The due-rule poller runs in-process on a cron schedule.
	jobLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, automationService, jobLogger, cfg)
	scheduler := app.NewScheduler(jobs, jobLogger, cfg)
	scheduler.Start()
	log.Printf("level=info component=bootstrap msg=\"due rule scheduler started\" schedule=%q", cfg.DueRuleJobSchedule)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done() // Wait for in-flight jobs to finish
	log.Println("level=info component=http msg=\"shutdown complete\"")
}
