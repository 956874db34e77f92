package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/internal/handler"
	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/queue"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/internal/router"
	"github.com/ampapacek/SAGE/internal/service"
	"github.com/ampapacek/SAGE/internal/storage"
	"github.com/ampapacek/SAGE/pkg/llm"
)

// stubGateway replaces the LLM client so handler tests never touch the
// network.
type stubGateway struct {
	result *llm.Result
	err    error
}

func (g *stubGateway) Complete(ctx context.Context, prompt string, imagePaths []string) (*llm.Result, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

// recordingQueue accepts work without executing it; tests drive the Process
// methods explicitly so flows stay deterministic.
type recordingQueue struct {
	ids []uint
	err error
}

func (q *recordingQueue) Enqueue(ctx context.Context, kind queue.Kind, entityID uint) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.ids = append(q.ids, entityID)
	return fmt.Sprintf("test-%s-%d", kind, entityID), nil
}

func (q *recordingQueue) Mode() string { return "test" }

type apiEnv struct {
	db          *gorm.DB
	gateway     *stubGateway
	queue       *recordingQueue
	assignments service.AssignmentService
	rubrics     service.RubricService
	grading     service.GradingService
}

func setupAPI(t *testing.T) (*fiber.App, *apiEnv) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Assignment{}, &models.AssignmentGeneration{}, &models.RubricVersion{},
		&models.Submission{}, &models.SubmissionFile{}, &models.GradingJob{}, &models.GradeResult{}))

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	cfg := config.Config{
		AppName:             "SAGE Test",
		LLMProvider:         "openai",
		LLMAPIKey:           "test-key",
		LLMModel:            "gpt-4o-mini",
		UseJSONMode:         true,
		MaxOutputTokens:     800,
		ImageTokensPerImage: 800,
		PDFDPI:              150,
		PDFTextMinChars:     200,
		PDFTextMinRatio:     0.5,
	}

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())
	providers := service.NewProviderDirectory(cfg)
	gateway := &stubGateway{result: &llm.Result{
		Data: map[string]interface{}{
			"total_points": 8.5,
			"parts": []interface{}{
				map[string]interface{}{"points_awarded": 5.0, "points_possible": 6.0},
				map[string]interface{}{"points_awarded": 3.5, "points_possible": 4.0},
			},
			"deductions":     []interface{}{},
			"final_feedback": "Solid work.",
		},
		RawText: `{"total_points": 8.5}`,
		Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}}
	factory := func(llm.Config) service.Gateway { return gateway }

	assignmentRepo := repository.NewAssignmentRepository(db)
	rubricRepo := repository.NewRubricRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	jobRepo := repository.NewJobRepository(db)
	resultRepo := repository.NewResultRepository(db)

	assignmentService := service.NewAssignmentService(assignmentRepo, submissionRepo, resultRepo,
		store, providers, factory, cfg, logger)
	rubricService := service.NewRubricService(rubricRepo, assignmentRepo, jobRepo, providers, factory, cfg, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, resultRepo, store, logger)
	gradingService := service.NewGradingService(service.GradingServiceDeps{
		Jobs:        jobRepo,
		Submissions: submissionRepo,
		Assignments: assignmentRepo,
		Rubrics:     rubricRepo,
		Results:     resultRepo,
		Store:       store,
		Providers:   providers,
		Gateway:     factory,
		Config:      cfg,
		Logger:      logger,
	})

	backend := &recordingQueue{}
	assignmentService.BindQueue(backend)
	rubricService.BindQueue(backend)
	gradingService.BindQueue(backend)

	app := fiber.New()
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, validate, logger),
		RubricHandler:     handler.NewRubricHandler(rubricService, validate, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, validate, logger),
		JobHandler:        handler.NewJobHandler(gradingService, logger),
		QueueMode:         backend.Mode(),
	})

	return app, &apiEnv{
		db:          db,
		gateway:     gateway,
		queue:       backend,
		assignments: assignmentService,
		rubrics:     rubricService,
		grading:     gradingService,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.Contains(resp.Header.Get(fiber.HeaderContentType), "json") {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp, env
}

func TestCreateAndGetAssignment(t *testing.T) {
	app, _ := setupAPI(t)

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/assignments", fiber.Map{
		"title":           "Recursion",
		"assignment_text": "Implement factorial recursively.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)

	var created struct {
		ID    uint   `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.Equal(t, "Recursion", created.Title)

	resp, env = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/assignments/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)
}

func TestCreateAssignmentValidation(t *testing.T) {
	app, _ := setupAPI(t)

	resp, env := doJSON(t, app, http.MethodPost, "/api/v1/assignments", fiber.Map{
		"title":           "ab",
		"assignment_text": "too short",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.False(t, env.Success)
}

func TestGetUnknownAssignment(t *testing.T) {
	app, _ := setupAPI(t)

	resp, env := doJSON(t, app, http.MethodGet, "/api/v1/assignments/999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "assignment not found", env.Message)
}

func TestUpdateAndDeleteAssignment(t *testing.T) {
	app, env := setupAPI(t)

	assignment, err := env.assignments.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)

	resp, body := doJSON(t, app, http.MethodPatch, fmt.Sprintf("/api/v1/assignments/%d", assignment.ID), fiber.Map{
		"title":           "Recursion II",
		"assignment_text": "Implement fibonacci instead.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Success)

	resp, _ = doJSON(t, app, http.MethodDelete, fmt.Sprintf("/api/v1/assignments/%d", assignment.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/assignments/%d", assignment.ID), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateAssignmentEndpoint(t *testing.T) {
	app, env := setupAPI(t)
	env.gateway.result = &llm.Result{
		Data: map[string]interface{}{
			"title":           "Recursive Factorial",
			"assignment_text": "Write a recursive factorial function.",
		},
		RawText: "{}",
		Usage:   llm.Usage{PromptTokens: 40, CompletionTokens: 60, TotalTokens: 100},
	}

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/assignments/generate", fiber.Map{
		"topic_text": "Recursion basics for first-year students.",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var generation struct {
		ID     uint             `json:"id"`
		Status models.JobStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &generation))
	require.Equal(t, models.JobStatusQueued, generation.Status)
	require.Equal(t, []uint{generation.ID}, env.queue.ids)

	require.NoError(t, env.assignments.Process(context.Background(), generation.ID))

	resp, body = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/assignments/generations/%d", generation.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var done struct {
		Status       models.JobStatus `json:"status"`
		AssignmentID *uint            `json:"assignment_id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &done))
	require.Equal(t, models.JobStatusSuccess, done.Status)
	require.NotNil(t, done.AssignmentID)
}

func TestExportCSVEndpoint(t *testing.T) {
	app, env := setupAPI(t)

	assignment, err := env.assignments.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)
	submission := models.Submission{AssignmentID: assignment.ID, StudentIdentifier: "alice"}
	require.NoError(t, env.db.Create(&submission).Error)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/assignments/%d/export.csv", assignment.ID), nil)
	require.NoError(t, err)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/csv")
	require.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition),
		fmt.Sprintf("assignment_%d_grades.csv", assignment.ID))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "student_identifier,total_points")
	require.Contains(t, string(raw), "alice")
}

func TestHealthEndpointReportsQueueMode(t *testing.T) {
	app, _ := setupAPI(t)

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status    string `json:"status"`
		QueueMode string `json:"queue_mode"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "test", health.QueueMode)
}
