package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gptstore-api/internal/config"
	"github.com/noah-isme/gptstore-api/internal/database"
	"github.com/noah-isme/gptstore-api/internal/handler"
	"github.com/noah-isme/gptstore-api/internal/middleware"
	"github.com/noah-isme/gptstore-api/internal/repository"
	"github.com/noah-isme/gptstore-api/internal/router"
	"github.com/noah-isme/gptstore-api/internal/service"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DatabaseMaxOpen,
		MaxIdleConns:    cfg.DatabaseMaxIdle,
		ConnMaxLifetime: cfg.DatabaseLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	probes := []handler.HealthProbe{{
		Name:  "database",
		Check: func(ctx context.Context) error { return database.PingDatabase(ctx, db) },
	}}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		probes = append(probes, handler.HealthProbe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return database.PingRedis(ctx, redisClient) },
		})
	} else {
		logger.Warn().Msg("redis not configured; validation lock and cross-instance events disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
		probes = append(probes, handler.HealthProbe{
			Name: "nats",
			Check: func(context.Context) error {
				if !natsConn.IsConnected() {
					return nats.ErrConnectionClosed
				}
				return nil
			},
		})
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewSubmissionRepository(db)
	runRepo := repository.NewValidationRunRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	events := service.NewValidationEventBus(redisClient, cfg.EventsChannel, natsConn, logger)
	if err := events.Start(ctx); err != nil {
		log.Fatalf("failed to start validation event bus: %v", err)
	}

	engine := validation.NewEngine(validation.NewRandomScoreProvider(cfg.ValidationSeed))
	activityService := service.NewActivityService(activityRepo, logger)
	validationService := service.NewValidationService(
		submissionRepo,
		runRepo,
		engine,
		activityService,
		events,
		redisClient,
		validate,
		logger,
		service.ValidationConfig{LockTTL: cfg.ValidationLockTTL, StaleAfter: cfg.ValidationStale},
	)
	submissionService := service.NewSubmissionService(submissionRepo, validationService, activityService, validate, logger)

	submissionHandler := handler.NewSubmissionHandler(submissionService, logger)
	validationHandler := handler.NewValidationHandler(
		validationService,
		events,
		middleware.RateLimit("validations", cfg.ValidationRate, cfg.ValidationWindow),
		logger,
	)
	activityHandler := handler.NewAdminActivityHandler(activityService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.AllowedCORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler:    submissionHandler,
		ValidationHandler:    validationHandler,
		AdminActivityHandler: activityHandler,
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:         probes,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancel)
}

func waitForShutdown(app *fiber.App, stopBackground context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
