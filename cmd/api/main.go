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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/internal/database"
	"github.com/ampapacek/SAGE/internal/handler"
	"github.com/ampapacek/SAGE/internal/middleware"
	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/queue"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/internal/router"
	"github.com/ampapacek/SAGE/internal/service"
	"github.com/ampapacek/SAGE/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Assignment{},
		&models.AssignmentGeneration{},
		&models.RubricVersion{},
		&models.Submission{},
		&models.SubmissionFile{},
		&models.GradingJob{},
		&models.GradeResult{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to prepare data directory: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, falling back to in-process queue")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	rubricRepo := repository.NewRubricRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	jobRepo := repository.NewJobRepository(db)
	resultRepo := repository.NewResultRepository(db)

	providers := service.NewProviderDirectory(cfg)

	gradingService := service.NewGradingService(service.GradingServiceDeps{
		Jobs:        jobRepo,
		Submissions: submissionRepo,
		Assignments: assignmentRepo,
		Rubrics:     rubricRepo,
		Results:     resultRepo,
		Store:       store,
		Providers:   providers,
		Config:      cfg,
		Logger:      logger,
	})
	rubricService := service.NewRubricService(rubricRepo, assignmentRepo, jobRepo, providers, nil, cfg, logger)
	assignmentService := service.NewAssignmentService(assignmentRepo, submissionRepo, resultRepo, store, providers, nil, cfg, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, resultRepo, store, logger)

	dispatcher := queue.NewDispatcher(map[queue.Kind]queue.Runner{
		queue.KindSubmissionGrading: gradingService.Process,
		queue.KindRubricDraft:       rubricService.Process,
		queue.KindAssignmentDraft:   assignmentService.Process,
	}, logger)

	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	backend := queue.New(queueCtx, redisClient, dispatcher, logger)
	gradingService.BindQueue(backend)
	rubricService.BindQueue(backend)
	assignmentService.BindQueue(backend)

	assignmentHandler := handler.NewAssignmentHandler(assignmentService, validate, logger)
	rubricHandler := handler.NewRubricHandler(rubricService, validate, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, validate, logger)
	jobHandler := handler.NewJobHandler(gradingService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    64 * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler: assignmentHandler,
		RubricHandler:     rubricHandler,
		SubmissionHandler: submissionHandler,
		JobHandler:        jobHandler,
		QueueMode:         backend.Mode(),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
