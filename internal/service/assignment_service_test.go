package service_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/models"
	"github.com/ampapacek/SAGE/internal/queue"
	"github.com/ampapacek/SAGE/internal/repository"
	"github.com/ampapacek/SAGE/internal/service"
	"github.com/ampapacek/SAGE/internal/storage"
	"github.com/ampapacek/SAGE/pkg/llm"
)

type assignmentFixture struct {
	db          *gorm.DB
	assignments repository.AssignmentRepository
	store       *storage.Store
	gateway     *stubGateway
	queue       *recordingQueue
	svc         service.AssignmentService
}

func setupAssignments(t *testing.T) *assignmentFixture {
	t.Helper()

	db := openTestDB(t)
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	cfg := testConfig()
	gateway := &stubGateway{result: &llm.Result{
		Data: map[string]interface{}{
			"title":           "Recursive Factorial",
			"assignment_text": "Write a recursive factorial function and discuss its complexity.",
		},
		RawText: `{"title": "Recursive Factorial"}`,
		Usage:   llm.Usage{PromptTokens: 60, CompletionTokens: 90, TotalTokens: 150},
	}}
	backend := &recordingQueue{}

	f := &assignmentFixture{
		db:          db,
		assignments: repository.NewAssignmentRepository(db),
		store:       store,
		gateway:     gateway,
		queue:       backend,
	}
	f.svc = service.NewAssignmentService(f.assignments, repository.NewSubmissionRepository(db),
		repository.NewResultRepository(db), store, service.NewProviderDirectory(cfg),
		func(llm.Config) service.Gateway { return gateway }, cfg, zerolog.New(io.Discard))
	f.svc.BindQueue(backend)
	return f
}

func TestAssignmentCRUD(t *testing.T) {
	f := setupAssignments(t)

	created, err := f.svc.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	updated, err := f.svc.Update(context.Background(), created.ID, "Recursion II", "Implement fibonacci.")
	require.NoError(t, err)
	require.Equal(t, "Recursion II", updated.Title)

	listed, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, f.svc.Delete(context.Background(), created.ID))
	_, err = f.svc.Get(context.Background(), created.ID)
	require.ErrorIs(t, err, service.ErrAssignmentNotFound)
}

func TestDeleteRemovesAssignmentData(t *testing.T) {
	f := setupAssignments(t)

	assignment, err := f.svc.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)

	dir, err := f.store.UploadDir(assignment.ID, 1)
	require.NoError(t, err)
	require.DirExists(t, dir)

	require.NoError(t, f.svc.Delete(context.Background(), assignment.ID))
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
}

func TestGenerateDraftEnqueuesGeneration(t *testing.T) {
	f := setupAssignments(t)

	generation, err := f.svc.GenerateDraft(context.Background(), "Recursion basics for first-year students.",
		service.GenerateAssignmentOptions{})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusQueued, generation.Status)
	require.NotEmpty(t, generation.QueueJobID)
	require.Equal(t, []queue.Kind{queue.KindAssignmentDraft}, f.queue.kinds)
	require.Equal(t, []uint{generation.ID}, f.queue.ids)
}

func TestProcessCreatesAssignmentFromDraft(t *testing.T) {
	f := setupAssignments(t)

	generation, err := f.svc.GenerateDraft(context.Background(), "Recursion basics.",
		service.GenerateAssignmentOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(context.Background(), generation.ID))

	done, err := f.svc.GetGeneration(context.Background(), generation.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSuccess, done.Status)
	require.NotNil(t, done.AssignmentID)
	require.Equal(t, 150, done.TotalTokens)

	assignment, err := f.svc.Get(context.Background(), *done.AssignmentID)
	require.NoError(t, err)
	require.Equal(t, "Recursive Factorial", assignment.Title)
	require.Equal(t, "Write a recursive factorial function and discuss its complexity.", assignment.AssignmentText)
}

func TestProcessDraftWithoutTitleFails(t *testing.T) {
	f := setupAssignments(t)
	f.gateway.result.Data = map[string]interface{}{
		"title":           "   ",
		"assignment_text": "Some text.",
	}

	generation, err := f.svc.GenerateDraft(context.Background(), "Recursion basics.",
		service.GenerateAssignmentOptions{})
	require.NoError(t, err)
	require.Error(t, f.svc.Process(context.Background(), generation.ID))

	done, err := f.svc.GetGeneration(context.Background(), generation.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusError, done.Status)
	require.Contains(t, done.ErrorMessage, "title")
	require.Nil(t, done.AssignmentID)
}

func TestProcessDraftWithoutAssignmentTextFails(t *testing.T) {
	f := setupAssignments(t)
	f.gateway.result.Data = map[string]interface{}{
		"title": "Recursive Factorial",
	}

	generation, err := f.svc.GenerateDraft(context.Background(), "Recursion basics.",
		service.GenerateAssignmentOptions{})
	require.NoError(t, err)
	require.Error(t, f.svc.Process(context.Background(), generation.ID))

	done, err := f.svc.GetGeneration(context.Background(), generation.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusError, done.Status)
	require.Contains(t, done.ErrorMessage, "assignment_text")
	require.Nil(t, done.AssignmentID)
}

func TestProcessSkipsTerminalGeneration(t *testing.T) {
	f := setupAssignments(t)

	generation, err := f.svc.GenerateDraft(context.Background(), "Recursion basics.",
		service.GenerateAssignmentOptions{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(context.Background(), generation.ID))
	require.Equal(t, 1, f.gateway.calls)

	require.NoError(t, f.svc.Process(context.Background(), generation.ID))
	require.Equal(t, 1, f.gateway.calls)
}

func TestExportCSV(t *testing.T) {
	f := setupAssignments(t)

	assignment, err := f.svc.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)
	rubric := models.RubricVersion{AssignmentID: assignment.ID, Status: models.RubricStatusApproved}
	require.NoError(t, f.db.Create(&rubric).Error)

	graded := models.Submission{AssignmentID: assignment.ID, StudentIdentifier: "alice"}
	require.NoError(t, f.db.Create(&graded).Error)
	total := 8.5
	require.NoError(t, f.db.Create(&models.GradeResult{
		SubmissionID:    graded.ID,
		RubricVersionID: rubric.ID,
		TotalPoints:     &total,
		JSONResult: datatypes.JSON(`{"total_points": 8.5, "parts": [` +
			`{"points_awarded": 5, "points_possible": 6},` +
			`{"points_awarded": 3.5, "points_possible": 4}],` +
			`"deductions": [], "final_feedback": "Good."}`),
		RenderedText: "TOTAL: 8.5",
	}).Error)

	ungraded := models.Submission{AssignmentID: assignment.ID, StudentIdentifier: "bob"}
	require.NoError(t, f.db.Create(&ungraded).Error)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportCSV(context.Background(), assignment.ID, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Part columns are sized to the widest graded result.
	require.Equal(t, []string{"student_identifier", "total_points", "part1_points", "part2_points", "rendered_text"}, records[0])
	require.Equal(t, []string{"alice", "8.5", "5", "3.5", "TOTAL: 8.5"}, records[1])
	require.Equal(t, []string{"bob", "", "", "", ""}, records[2])
}

func TestExportCSVWithoutResults(t *testing.T) {
	f := setupAssignments(t)

	assignment, err := f.svc.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportCSV(context.Background(), assignment.ID, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"student_identifier", "total_points", "rendered_text"}}, records)
}
