package dto

import (
	"time"

	"github.com/ampapacek/SAGE/internal/models"
)

// RubricCreateRequest describes a manually authored grading guide version.
type RubricCreateRequest struct {
	RubricText            string `json:"rubric_text" validate:"required,min=10"`
	ReferenceSolutionText string `json:"reference_solution_text" validate:"required,min=5"`
}

// RubricUpdateRequest edits a DRAFT grading guide version.
type RubricUpdateRequest struct {
	RubricText            string `json:"rubric_text" validate:"required,min=10"`
	ReferenceSolutionText string `json:"reference_solution_text" validate:"required,min=5"`
}

// RubricGenerateRequest asks for an LLM-drafted grading guide.
type RubricGenerateRequest struct {
	Provider          string `json:"provider"`
	Model             string `json:"model"`
	ExtraInstructions string `json:"extra_instructions"`
}

// RubricResponse is the serialized representation of a guide version.
type RubricResponse struct {
	ID                    uint                `json:"id"`
	AssignmentID          uint                `json:"assignment_id"`
	RubricText            string              `json:"rubric_text"`
	ReferenceSolutionText string              `json:"reference_solution_text"`
	Status                models.RubricStatus `json:"status"`
	LLMProvider           string              `json:"llm_provider"`
	LLMModel              string              `json:"llm_model"`
	ErrorMessage          string              `json:"error_message"`
	PromptTokens          int                 `json:"prompt_tokens"`
	CompletionTokens      int                 `json:"completion_tokens"`
	TotalTokens           int                 `json:"total_tokens"`
	PriceEstimate         *float64            `json:"price_estimate"`
	CreatedAt             time.Time           `json:"created_at"`
	FinishedAt            *time.Time          `json:"finished_at"`
}

// NewRubricResponse converts a model into a DTO.
func NewRubricResponse(model models.RubricVersion) RubricResponse {
	return RubricResponse{
		ID:                    model.ID,
		AssignmentID:          model.AssignmentID,
		RubricText:            model.RubricText,
		ReferenceSolutionText: model.ReferenceSolutionText,
		Status:                model.Status,
		LLMProvider:           model.LLMProvider,
		LLMModel:              model.LLMModel,
		ErrorMessage:          model.ErrorMessage,
		PromptTokens:          model.PromptTokens,
		CompletionTokens:      model.CompletionTokens,
		TotalTokens:           model.TotalTokens,
		PriceEstimate:         model.PriceEstimate,
		CreatedAt:             model.CreatedAt,
		FinishedAt:            model.FinishedAt,
	}
}

// NewRubricResponseSlice converts a slice of models into DTOs.
func NewRubricResponseSlice(rubrics []models.RubricVersion) []RubricResponse {
	responses := make([]RubricResponse, 0, len(rubrics))
	for _, rubric := range rubrics {
		responses = append(responses, NewRubricResponse(rubric))
	}
	return responses
}
