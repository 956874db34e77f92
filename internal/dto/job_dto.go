package dto

import (
	"time"

	"github.com/ampapacek/SAGE/internal/models"
)

// JobCreateRequest enqueues a grading job for a submission.
type JobCreateRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// JobResponse is the serialized representation of a grading job.
type JobResponse struct {
	ID               uint             `json:"id"`
	AssignmentID     uint             `json:"assignment_id"`
	SubmissionID     uint             `json:"submission_id"`
	RubricVersionID  uint             `json:"rubric_version_id"`
	Status           models.JobStatus `json:"status"`
	Message          string           `json:"message"`
	LLMProvider      string           `json:"llm_provider"`
	LLMModel         string           `json:"llm_model"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	TotalTokens      int              `json:"total_tokens"`
	PriceEstimate    *float64         `json:"price_estimate"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at"`
	FinishedAt       *time.Time       `json:"finished_at"`
}

// NewJobResponse converts a model into a DTO.
func NewJobResponse(model models.GradingJob) JobResponse {
	return JobResponse{
		ID:               model.ID,
		AssignmentID:     model.AssignmentID,
		SubmissionID:     model.SubmissionID,
		RubricVersionID:  model.RubricVersionID,
		Status:           model.Status,
		Message:          model.Message,
		LLMProvider:      model.LLMProvider,
		LLMModel:         model.LLMModel,
		PromptTokens:     model.PromptTokens,
		CompletionTokens: model.CompletionTokens,
		TotalTokens:      model.TotalTokens,
		PriceEstimate:    model.PriceEstimate,
		CreatedAt:        model.CreatedAt,
		StartedAt:        model.StartedAt,
		FinishedAt:       model.FinishedAt,
	}
}

// NewJobResponseSlice converts a slice of models into DTOs.
func NewJobResponseSlice(jobs []models.GradingJob) []JobResponse {
	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, NewJobResponse(job))
	}
	return responses
}
