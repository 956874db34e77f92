package handler_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/ampapacek/SAGE/internal/models"
)

// seedApprovedGuide creates an assignment with one approved grading guide and
// one submission, the minimum a grading job needs.
func seedApprovedGuide(t *testing.T, env *apiEnv) (models.Assignment, models.RubricVersion, models.Submission) {
	t.Helper()

	assignment, err := env.assignments.Create(context.Background(), "Recursion", "Implement factorial recursively.")
	require.NoError(t, err)

	rubric, err := env.rubrics.CreateManual(context.Background(), assignment.ID,
		"6 points correctness, 4 points style.", "factorial(n)")
	require.NoError(t, err)
	rubric, err = env.rubrics.Approve(context.Background(), rubric.ID)
	require.NoError(t, err)

	submission := models.Submission{
		AssignmentID:      assignment.ID,
		StudentIdentifier: "alice",
		SubmittedText:     "def factorial(n): return 1 if n == 0 else n * factorial(n - 1)",
	}
	require.NoError(t, env.db.Create(&submission).Error)
	return assignment, rubric, submission
}

func TestGradingFlowOverHTTP(t *testing.T) {
	app, env := setupAPI(t)
	_, rubric, submission := seedApprovedGuide(t, env)

	resp, body := doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v1/submissions/%d/grade", submission.ID), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job struct {
		ID     uint             `json:"id"`
		Status models.JobStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &job))
	require.Equal(t, models.JobStatusQueued, job.Status)

	// The recording queue does not execute work; drive the runner directly.
	require.NoError(t, env.grading.Process(context.Background(), job.ID))

	resp, body = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d", job.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var done struct {
		Status        models.JobStatus `json:"status"`
		Message       string           `json:"message"`
		TotalTokens   int              `json:"total_tokens"`
		PriceEstimate *float64         `json:"price_estimate"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &done))
	require.Equal(t, models.JobStatusSuccess, done.Status)
	require.Contains(t, done.Message, "Model: gpt-4o-mini")
	require.Equal(t, 150, done.TotalTokens)
	require.NotNil(t, done.PriceEstimate)

	resp, body = doJSON(t, app, http.MethodGet,
		fmt.Sprintf("/api/v1/submissions/%d/results/latest?rubric_version_id=%d", submission.ID, rubric.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		TotalPoints  *float64 `json:"total_points"`
		RenderedText string   `json:"rendered_text"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &result))
	require.NotNil(t, result.TotalPoints)
	require.Equal(t, 8.5, *result.TotalPoints)
	require.Contains(t, result.RenderedText, "TOTAL: 8.5")
}

func TestGradeWithoutApprovedGuideConflicts(t *testing.T) {
	app, env := setupAPI(t)

	assignment, err := env.assignments.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)
	submission := models.Submission{AssignmentID: assignment.ID, StudentIdentifier: "alice"}
	require.NoError(t, env.db.Create(&submission).Error)

	resp, body := doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v1/submissions/%d/grade", submission.ID), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, body.Message, "no approved grading guide")
}

func TestCancelJobOverHTTP(t *testing.T) {
	app, env := setupAPI(t)
	_, _, submission := seedApprovedGuide(t, env)

	resp, body := doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v1/submissions/%d/grade", submission.ID), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &job))

	resp, _ = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v1/jobs/%d/cancel", job.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, env.grading.Process(context.Background(), job.ID))

	resp, body = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/jobs/%d", job.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var done struct {
		Status  models.JobStatus `json:"status"`
		Message string           `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &done))
	require.Equal(t, models.JobStatusCancelled, done.Status)
	require.Contains(t, done.Message, "Cancelled by user.")
}

func TestRubricLifecycleOverHTTP(t *testing.T) {
	app, env := setupAPI(t)

	assignment, err := env.assignments.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)

	resp, body := doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v1/assignments/%d/rubrics", assignment.ID), fiber.Map{
		"rubric_text":             "6 points correctness, 4 points style.",
		"reference_solution_text": "factorial(n)",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var rubric struct {
		ID     uint                `json:"id"`
		Status models.RubricStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &rubric))
	require.Equal(t, models.RubricStatusDraft, rubric.Status)

	resp, body = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v1/rubrics/%d/approve", rubric.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var approved struct {
		Status models.RubricStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &approved))
	require.Equal(t, models.RubricStatusApproved, approved.Status)

	// Approved guides are immutable.
	resp, _ = doJSON(t, app, http.MethodPatch, fmt.Sprintf("/api/v1/rubrics/%d", rubric.ID), fiber.Map{
		"rubric_text":             "changed my mind entirely",
		"reference_solution_text": "factorial(n)",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, fmt.Sprintf("/api/v1/rubrics/%d/cancel", rubric.ID), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubmissionUploadOverHTTP(t *testing.T) {
	app, env := setupAPI(t)
	_, _, submission := seedApprovedGuide(t, env)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "solution.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("def factorial(n): ..."))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/submissions/%d/files", submission.ID), &buf)
	require.NoError(t, err)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var env2 envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env2))
	var uploaded struct {
		FileType         models.FileType `json:"file_type"`
		OriginalFilename string          `json:"original_filename"`
	}
	require.NoError(t, json.Unmarshal(env2.Data, &uploaded))
	require.Equal(t, models.FileTypeText, uploaded.FileType)
	require.Equal(t, "solution.txt", uploaded.OriginalFilename)
}

func TestImportZIPOverHTTP(t *testing.T) {
	app, env := setupAPI(t)

	assignment, err := env.assignments.Create(context.Background(), "Recursion", "Implement factorial.")
	require.NoError(t, err)

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for name, content := range map[string]string{
		"alice/solution.txt": "alice's code",
		"bob/essay.txt":      "bob's essay",
	} {
		entry, err := zw.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("archive", "submissions.zip")
	require.NoError(t, err)
	_, err = part.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/assignments/%d/submissions/import", assignment.ID), &buf)
	require.NoError(t, err)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var env2 envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env2))
	var created []struct {
		StudentIdentifier string `json:"student_identifier"`
	}
	require.NoError(t, json.Unmarshal(env2.Data, &created))
	require.Len(t, created, 2)
	require.Equal(t, "alice", created[0].StudentIdentifier)
	require.Equal(t, "bob", created[1].StudentIdentifier)
}

func TestEditResultOverHTTP(t *testing.T) {
	app, env := setupAPI(t)
	_, rubric, submission := seedApprovedGuide(t, env)

	result := models.GradeResult{
		SubmissionID:    submission.ID,
		RubricVersionID: rubric.ID,
		JSONResult:      []byte("{}"),
		ErrorMessage:    "llm request: HTTP 500",
	}
	require.NoError(t, env.db.Create(&result).Error)

	resp, body := doJSON(t, app, http.MethodPatch, fmt.Sprintf("/api/v1/results/%d", result.ID), fiber.Map{
		"data": map[string]interface{}{
			"total_points":   7.0,
			"parts":          []interface{}{},
			"deductions":     []interface{}{},
			"final_feedback": "Adjusted by hand.",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var edited struct {
		TotalPoints  *float64 `json:"total_points"`
		ErrorMessage string   `json:"error_message"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &edited))
	require.NotNil(t, edited.TotalPoints)
	require.Equal(t, 7.0, *edited.TotalPoints)
	require.Empty(t, edited.ErrorMessage)

	// Edits must satisfy the same schema as model output.
	resp, body = doJSON(t, app, http.MethodPatch, fmt.Sprintf("/api/v1/results/%d", result.ID), fiber.Map{
		"data": map[string]interface{}{"total_points": 7.0},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body.Message, "parts")
}
