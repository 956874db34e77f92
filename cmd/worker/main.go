package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/internal/database"
	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/queue"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/internal/service"
	"github.com/ampapacek/SAGE/internal/storage"
)

// The worker drains the distributed Redis queue. It shares the database and
// data directory with the API; the API falls back to an in-process queue when
// Redis is absent, in which case this binary has nothing to do.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.RedisURL == "" {
		log.Fatal("SAGE_REDIS_URL must be set for the worker")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("process", "worker").Logger()

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

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to prepare data directory: %v", err)
	}

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

	dispatcher := queue.NewDispatcher(map[queue.Kind]queue.Runner{
		queue.KindSubmissionGrading: gradingService.Process,
		queue.KindRubricDraft:       rubricService.Process,
		queue.KindAssignmentDraft:   assignmentService.Process,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := queue.NewWorker(redisClient, dispatcher, logger)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker stopped: %v", err)
	}

	log.Println("worker stopped")
}
