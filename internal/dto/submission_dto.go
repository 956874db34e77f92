package dto

import (
	"encoding/json"
	"time"

	"github.com/ampapacek/SAGE/internal/models"
)

// SubmissionCreateRequest describes the payload for creating a submission.
type SubmissionCreateRequest struct {
	StudentIdentifier string `json:"student_identifier" validate:"required,min=1,max=255"`
	SubmittedText     string `json:"submitted_text"`
}

// ResultEditRequest replaces a result's grading JSON with instructor edits.
type ResultEditRequest struct {
	Data map[string]interface{} `json:"data" validate:"required"`
}

// FileResponse is the serialized representation of one uploaded file.
type FileResponse struct {
	ID               uint            `json:"id"`
	FileType         models.FileType `json:"file_type"`
	OriginalFilename string          `json:"original_filename"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SubmissionResponse is the serialized representation of a submission.
type SubmissionResponse struct {
	ID                uint           `json:"id"`
	AssignmentID      uint           `json:"assignment_id"`
	StudentIdentifier string         `json:"student_identifier"`
	SubmittedText     string         `json:"submitted_text"`
	Files             []FileResponse `json:"files"`
	CreatedAt         time.Time      `json:"created_at"`
}

// NewSubmissionResponse converts a model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	files := make([]FileResponse, 0, len(model.Files))
	for _, file := range model.Files {
		files = append(files, FileResponse{
			ID:               file.ID,
			FileType:         file.FileType,
			OriginalFilename: file.OriginalFilename,
			CreatedAt:        file.CreatedAt,
		})
	}
	return SubmissionResponse{
		ID:                model.ID,
		AssignmentID:      model.AssignmentID,
		StudentIdentifier: model.StudentIdentifier,
		SubmittedText:     model.SubmittedText,
		Files:             files,
		CreatedAt:         model.CreatedAt,
	}
}

// NewSubmissionResponseSlice converts a slice of models into DTOs.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}
	return responses
}

// ResultResponse is the serialized representation of a grade result.
type ResultResponse struct {
	ID              uint            `json:"id"`
	SubmissionID    uint            `json:"submission_id"`
	RubricVersionID uint            `json:"rubric_version_id"`
	TotalPoints     *float64        `json:"total_points"`
	JSONResult      json.RawMessage `json:"json_result"`
	RenderedText    string          `json:"rendered_text"`
	RawResponse     string          `json:"raw_response"`
	ErrorMessage    string          `json:"error_message"`
	CreatedAt       time.Time       `json:"created_at"`
}

// NewResultResponse converts a model into a DTO.
func NewResultResponse(model models.GradeResult) ResultResponse {
	return ResultResponse{
		ID:              model.ID,
		SubmissionID:    model.SubmissionID,
		RubricVersionID: model.RubricVersionID,
		TotalPoints:     model.TotalPoints,
		JSONResult:      json.RawMessage(model.JSONResult),
		RenderedText:    model.RenderedText,
		RawResponse:     model.RawResponse,
		ErrorMessage:    model.ErrorMessage,
		CreatedAt:       model.CreatedAt,
	}
}
