package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/queue"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/internal/service"
	"github.com/ampapacek/SAGE/internal/storage"
	"github.com/ampapacek/SAGE/pkg/llm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Assignment{}, &models.AssignmentGeneration{}, &models.RubricVersion{},
		&models.Submission{}, &models.SubmissionFile{}, &models.GradingJob{}, &models.GradeResult{}))
	return db
}

func testConfig() config.Config {
	return config.Config{
		LLMProvider:         "openai",
		LLMAPIKey:           "test-key",
		LLMBaseURL:          "https://api.example.com/v1",
		LLMModel:            "gpt-4o-mini",
		UseJSONMode:         true,
		MaxOutputTokens:     800,
		ImageTokensPerImage: 800,
		PDFDPI:              150,
		PDFTextMinChars:     200,
		PDFTextMinRatio:     0.5,
	}
}

// stubGateway replaces the LLM client so runner tests never touch the network.
type stubGateway struct {
	result *llm.Result
	err    error
	calls  int
	onCall func()
}

func (g *stubGateway) Complete(ctx context.Context, prompt string, imagePaths []string) (*llm.Result, error) {
	g.calls++
	if g.onCall != nil {
		g.onCall()
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

// recordingQueue captures enqueued work instead of executing it, so tests
// drive Process explicitly.
type recordingQueue struct {
	kinds []queue.Kind
	ids   []uint
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, kind queue.Kind, entityID uint) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.kinds = append(q.kinds, kind)
	q.ids = append(q.ids, entityID)
	return fmt.Sprintf("test-%s-%d", kind, entityID), nil
}

func (q *recordingQueue) Mode() string { return "test" }

func gradingResultData() map[string]interface{} {
	return map[string]interface{}{
		"total_points": 8.5,
		"parts": []interface{}{
			map[string]interface{}{"points_awarded": 5.0, "points_possible": 6.0},
			map[string]interface{}{"points_awarded": 3.5, "points_possible": 4.0},
		},
		"deductions": []interface{}{
			map[string]interface{}{"reason": "Missing base case.", "hint": "Check n = 0."},
		},
		"final_feedback": "Solid work overall.",
	}
}

type gradingFixture struct {
	db          *gorm.DB
	jobs        repository.JobRepository
	rubrics     repository.RubricRepository
	results     repository.ResultRepository
	submissions repository.SubmissionRepository
	store       *storage.Store
	gateway     *stubGateway
	queue       *recordingQueue
	svc         service.GradingService
}

func setupGrading(t *testing.T) *gradingFixture {
	t.Helper()

	db := openTestDB(t)
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig()
	gateway := &stubGateway{result: &llm.Result{
		Data:    gradingResultData(),
		RawText: `{"total_points": 8.5}`,
		Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Meta:    llm.Meta{APIUsed: "chat"},
	}}
	backend := &recordingQueue{}

	f := &gradingFixture{
		db:          db,
		jobs:        repository.NewJobRepository(db),
		rubrics:     repository.NewRubricRepository(db),
		results:     repository.NewResultRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		store:       store,
		gateway:     gateway,
		queue:       backend,
	}
	f.svc = service.NewGradingService(service.GradingServiceDeps{
		Jobs:        f.jobs,
		Submissions: f.submissions,
		Assignments: repository.NewAssignmentRepository(db),
		Rubrics:     f.rubrics,
		Results:     f.results,
		Store:       store,
		Providers:   service.NewProviderDirectory(cfg),
		Gateway:     func(llm.Config) service.Gateway { return gateway },
		Config:      cfg,
		Logger:      zerolog.New(io.Discard),
	})
	f.svc.BindQueue(backend)
	return f
}

// seed creates an assignment with an approved grading guide and one submission
// containing the given free text.
func (f *gradingFixture) seed(t *testing.T, submittedText string) (models.Assignment, models.RubricVersion, models.Submission) {
	t.Helper()

	assignment := models.Assignment{Title: "Recursion", AssignmentText: "Implement factorial recursively."}
	require.NoError(t, f.db.Create(&assignment).Error)

	rubric := models.RubricVersion{
		AssignmentID:          assignment.ID,
		RubricText:            "6 points correctness, 4 points style.",
		ReferenceSolutionText: "func factorial(n int) int { ... }",
		Status:                models.RubricStatusApproved,
	}
	require.NoError(t, f.db.Create(&rubric).Error)

	submission := models.Submission{
		AssignmentID:      assignment.ID,
		StudentIdentifier: "student-1",
		SubmittedText:     submittedText,
	}
	require.NoError(t, f.db.Create(&submission).Error)
	return assignment, rubric, submission
}

func TestEnqueueCreatesQueuedJob(t *testing.T) {
	f := setupGrading(t)
	_, rubric, submission := f.seed(t, "my solution")

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)

	require.Equal(t, models.JobStatusQueued, job.Status)
	require.Equal(t, rubric.ID, job.RubricVersionID)
	require.Equal(t, "openai", job.LLMProvider)
	require.Equal(t, "gpt-4o-mini", job.LLMModel)
	require.NotEmpty(t, job.QueueJobID)
	require.Equal(t, []queue.Kind{queue.KindSubmissionGrading}, f.queue.kinds)
	require.Equal(t, []uint{job.ID}, f.queue.ids)
}

func TestEnqueueWithoutApprovedGuide(t *testing.T) {
	f := setupGrading(t)

	assignment := models.Assignment{Title: "Recursion", AssignmentText: "Implement factorial."}
	require.NoError(t, f.db.Create(&assignment).Error)
	submission := models.Submission{AssignmentID: assignment.ID, StudentIdentifier: "student-1"}
	require.NoError(t, f.db.Create(&submission).Error)

	_, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.ErrorIs(t, err, service.ErrNoApprovedRubric)
	require.Empty(t, f.queue.kinds)
}

func TestEnqueueFailureMarksJobError(t *testing.T) {
	f := setupGrading(t)
	_, _, submission := f.seed(t, "my solution")
	f.queue.err = errors.New("broker down")

	_, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.Error(t, err)

	jobs, err := f.jobs.ListBySubmission(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, models.JobStatusError, jobs[0].Status)
	require.Contains(t, jobs[0].Message, "Failed to enqueue")
	require.NotNil(t, jobs[0].FinishedAt)
}

func TestProcessGradesSubmission(t *testing.T) {
	f := setupGrading(t)
	_, rubric, submission := f.seed(t, "def factorial(n): return 1 if n == 0 else n * factorial(n - 1)")

	// A second text source exercises the file ingestion path.
	rel, safeName, err := f.store.SaveUpload(submission.AssignmentID, submission.ID, "notes.txt",
		strings.NewReader("I handled the base case separately."))
	require.NoError(t, err)
	require.NoError(t, f.db.Create(&models.SubmissionFile{
		SubmissionID:     submission.ID,
		FilePath:         rel,
		FileType:         models.FileTypeText,
		OriginalFilename: safeName,
	}).Error)

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(context.Background(), job.ID))

	done, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSuccess, done.Status)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)
	require.Equal(t, 100, done.PromptTokens)
	require.Equal(t, 50, done.CompletionTokens)
	require.Equal(t, 150, done.TotalTokens)

	require.NotNil(t, done.PriceEstimate)
	require.InDelta(t, 100.0/1000*0.00015+50.0/1000*0.0006, *done.PriceEstimate, 1e-9)

	for _, line := range []string{
		"Provider: openai",
		"Model: gpt-4o-mini",
		"JSON mode: true",
		"Images: 0 uploaded, 0 rendered",
		"from 2 sources",
		"LLM usage: prompt=100 (+0 image estimate), completion=50, total=150",
		"Duration:",
	} {
		require.Contains(t, done.Message, line)
	}

	result, err := f.results.Latest(context.Background(), submission.ID, rubric.ID)
	require.NoError(t, err)
	require.NotNil(t, result.TotalPoints)
	require.Equal(t, 8.5, *result.TotalPoints)
	require.Contains(t, result.RenderedText, "TOTAL: 8.5")
	require.Contains(t, result.RenderedText, "PARTS: 5/6, 3.5/4")
	require.Equal(t, `{"total_points": 8.5}`, result.RawResponse)
	require.Empty(t, result.ErrorMessage)
	require.Equal(t, 1, f.gateway.calls)
}

func TestProcessRerunOverwritesLatestResult(t *testing.T) {
	f := setupGrading(t)
	_, rubric, submission := f.seed(t, "first attempt")

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(context.Background(), job.ID))

	f.gateway.result.Data = gradingResultData()
	f.gateway.result.Data["total_points"] = 4.0

	rerun, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)
	require.NotEqual(t, job.ID, rerun.ID)
	require.NoError(t, f.svc.Process(context.Background(), rerun.ID))

	var count int64
	require.NoError(t, f.db.Model(&models.GradeResult{}).
		Where("submission_id = ?", submission.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	result, err := f.results.Latest(context.Background(), submission.ID, rubric.ID)
	require.NoError(t, err)
	require.NotNil(t, result.TotalPoints)
	require.Equal(t, 4.0, *result.TotalPoints)
}

func TestProcessWithoutGradableContent(t *testing.T) {
	f := setupGrading(t)
	_, rubric, submission := f.seed(t, "   ")

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)

	err = f.svc.Process(context.Background(), job.ID)
	require.ErrorIs(t, err, service.ErrNoGradableContent)
	require.Equal(t, 0, f.gateway.calls)

	done, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusError, done.Status)
	require.Contains(t, done.Message, "Error:")

	// Input failures never write a result row.
	_, err = f.results.Latest(context.Background(), submission.ID, rubric.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestProcessGatewayErrorRecordsResult(t *testing.T) {
	f := setupGrading(t)
	_, rubric, submission := f.seed(t, "my solution")
	f.gateway.err = &llm.ResponseError{Kind: llm.KindGateway, Message: "llm gateway error: HTTP 500", RawText: "upstream exploded"}

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)
	require.Error(t, f.svc.Process(context.Background(), job.ID))

	done, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusError, done.Status)
	require.Contains(t, done.Message, "HTTP 500")

	result, err := f.results.Latest(context.Background(), submission.ID, rubric.ID)
	require.NoError(t, err)
	require.Contains(t, result.ErrorMessage, "HTTP 500")
	require.Equal(t, "upstream exploded", result.RawResponse)
	require.JSONEq(t, "{}", string(result.JSONResult))
}

func TestProcessInvalidResultFailsValidation(t *testing.T) {
	f := setupGrading(t)
	_, _, submission := f.seed(t, "my solution")
	f.gateway.result.Data = map[string]interface{}{"total_points": 8.5}

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)

	err = f.svc.Process(context.Background(), job.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parts")

	done, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusError, done.Status)
}

func TestProcessCancelledWhileQueued(t *testing.T) {
	f := setupGrading(t)
	_, _, submission := f.seed(t, "my solution")

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(context.Background(), job.ID))

	require.NoError(t, f.svc.Process(context.Background(), job.ID))
	require.Equal(t, 0, f.gateway.calls)

	done, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, done.Status)
	require.NotNil(t, done.FinishedAt)
	require.Contains(t, done.Message, "Cancelled by user.")

	// Processing the same cancelled job again must not duplicate the note.
	require.NoError(t, f.svc.Process(context.Background(), job.ID))
	again, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(again.Message, "Cancelled by user."))
}

func TestProcessCancelledDuringGatewayCall(t *testing.T) {
	f := setupGrading(t)
	_, rubric, submission := f.seed(t, "my solution")

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)
	f.gateway.onCall = func() {
		require.NoError(t, f.jobs.Cancel(context.Background(), job.ID))
	}

	require.NoError(t, f.svc.Process(context.Background(), job.ID))

	done, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, done.Status)

	// The model output arrived after the cancellation and is discarded.
	_, err = f.results.Latest(context.Background(), submission.ID, rubric.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCancelIsNoopOnTerminalJob(t *testing.T) {
	f := setupGrading(t)
	_, _, submission := f.seed(t, "my solution")

	job, err := f.svc.Enqueue(context.Background(), submission.ID, service.EnqueueJobOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(context.Background(), job.ID))

	require.NoError(t, f.svc.Cancel(context.Background(), job.ID))

	done, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSuccess, done.Status)
}

func TestCancelUnknownJob(t *testing.T) {
	f := setupGrading(t)
	require.ErrorIs(t, f.svc.Cancel(context.Background(), 12345), service.ErrJobNotFound)
}
