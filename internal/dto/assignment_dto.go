package dto

import (
	"time"

	"github.com/ampapacek/SAGE/internal/models"
)

// AssignmentCreateRequest describes the payload for creating an assignment.
type AssignmentCreateRequest struct {
	Title          string `json:"title" validate:"required,min=3"`
	AssignmentText string `json:"assignment_text" validate:"required,min=10"`
}

// AssignmentUpdateRequest describes the payload for updating an assignment.
type AssignmentUpdateRequest struct {
	Title          string `json:"title" validate:"required,min=3"`
	AssignmentText string `json:"assignment_text" validate:"required,min=10"`
}

// AssignmentGenerateRequest asks for an LLM-drafted assignment from a topic.
type AssignmentGenerateRequest struct {
	TopicText         string `json:"topic_text" validate:"required,min=10"`
	Provider          string `json:"provider"`
	Model             string `json:"model"`
	ExtraInstructions string `json:"extra_instructions"`
}

// AssignmentResponse is the serialized representation returned to API clients.
type AssignmentResponse struct {
	ID             uint      `json:"id"`
	Title          string    `json:"title"`
	AssignmentText string    `json:"assignment_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewAssignmentResponse converts a model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:             model.ID,
		Title:          model.Title,
		AssignmentText: model.AssignmentText,
		CreatedAt:      model.CreatedAt,
	}
}

// NewAssignmentResponseSlice converts a slice of models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment) []AssignmentResponse {
	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, NewAssignmentResponse(assignment))
	}
	return responses
}

// GenerationResponse is the serialized state of one assignment draft
// generation.
type GenerationResponse struct {
	ID               uint             `json:"id"`
	TopicText        string           `json:"topic_text"`
	Status           models.JobStatus `json:"status"`
	AssignmentID     *uint            `json:"assignment_id"`
	LLMProvider      string           `json:"llm_provider"`
	LLMModel         string           `json:"llm_model"`
	ErrorMessage     string           `json:"error_message"`
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	TotalTokens      int              `json:"total_tokens"`
	PriceEstimate    *float64         `json:"price_estimate"`
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at"`
	FinishedAt       *time.Time       `json:"finished_at"`
}

// NewGenerationResponse converts a model into a DTO.
func NewGenerationResponse(model models.AssignmentGeneration) GenerationResponse {
	return GenerationResponse{
		ID:               model.ID,
		TopicText:        model.TopicText,
		Status:           model.Status,
		AssignmentID:     model.AssignmentID,
		LLMProvider:      model.LLMProvider,
		LLMModel:         model.LLMModel,
		ErrorMessage:     model.ErrorMessage,
		PromptTokens:     model.PromptTokens,
		CompletionTokens: model.CompletionTokens,
		TotalTokens:      model.TotalTokens,
		PriceEstimate:    model.PriceEstimate,
		CreatedAt:        model.CreatedAt,
		StartedAt:        model.StartedAt,
		FinishedAt:       model.FinishedAt,
	}
}
