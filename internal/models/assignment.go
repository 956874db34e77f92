package models

import "time"

// Assignment is the root entity: it owns its grading guides, submissions,
// jobs and results, and deleting it cascades to all of them.
type Assignment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Title          string    `gorm:"size:255;not null" json:"title"`
	AssignmentText string    `gorm:"type:text;not null" json:"assignment_text"`
	CreatedAt      time.Time `json:"created_at"`

	Rubrics     []RubricVersion `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"rubrics,omitempty"`
	Submissions []Submission    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"submissions,omitempty"`
}

// AssignmentGeneration tracks one LLM-backed attempt to draft a whole
// assignment from a topic description. On success it points at the created
// Assignment row.
type AssignmentGeneration struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	TopicText         string     `gorm:"type:text;not null" json:"topic_text"`
	Status            JobStatus  `gorm:"size:20;not null;default:QUEUED" json:"status"`
	AssignmentID      *uint      `json:"assignment_id"`
	LLMProvider       string     `gorm:"size:64" json:"llm_provider"`
	LLMModel          string     `gorm:"size:128" json:"llm_model"`
	ExtraInstructions string     `gorm:"type:text" json:"extra_instructions"`
	ErrorMessage      string     `gorm:"type:text;not null;default:''" json:"error_message"`
	RawResponse       string     `gorm:"type:text;not null;default:''" json:"raw_response"`
	QueueJobID        string     `gorm:"size:128;not null;default:''" json:"queue_job_id"`
	PromptTokens      int        `json:"prompt_tokens"`
	CompletionTokens  int        `json:"completion_tokens"`
	TotalTokens       int        `json:"total_tokens"`
	PriceEstimate     *float64   `json:"price_estimate"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at"`
}
