package models

import "time"

// RubricStatus enumerates the grading guide lifecycle.
type RubricStatus string

const (
	RubricStatusDraft      RubricStatus = "DRAFT"
	RubricStatusGenerating RubricStatus = "GENERATING"
	RubricStatusApproved   RubricStatus = "APPROVED"
	RubricStatusArchived   RubricStatus = "ARCHIVED"
	RubricStatusCancelled  RubricStatus = "CANCELLED"
	RubricStatusError      RubricStatus = "ERROR"
)

// RubricVersion is one version of an assignment's grading guide: scoring
// criteria plus a reference solution. At most one version per assignment is
// APPROVED at a time; approving a new one archives the old.
type RubricVersion struct {
	ID                    uint         `gorm:"primaryKey" json:"id"`
	AssignmentID          uint         `gorm:"not null;index" json:"assignment_id"`
	RubricText            string       `gorm:"type:text;not null" json:"rubric_text"`
	ReferenceSolutionText string       `gorm:"type:text;not null" json:"reference_solution_text"`
	Status                RubricStatus `gorm:"size:20;not null;default:DRAFT" json:"status"`
	LLMProvider           string       `gorm:"size:64" json:"llm_provider"`
	LLMModel              string       `gorm:"size:128" json:"llm_model"`
	ExtraInstructions     string       `gorm:"type:text" json:"extra_instructions"`
	ErrorMessage          string       `gorm:"type:text;not null;default:''" json:"error_message"`
	RawResponse           string       `gorm:"type:text;not null;default:''" json:"raw_response"`
	PromptTokens          int          `json:"prompt_tokens"`
	CompletionTokens      int          `json:"completion_tokens"`
	TotalTokens           int          `json:"total_tokens"`
	PriceEstimate         *float64     `json:"price_estimate"`
	CreatedAt             time.Time    `json:"created_at"`
	FinishedAt            *time.Time   `json:"finished_at"`
}

// IsApproved reports whether this version is the one jobs may grade against.
func (r RubricVersion) IsApproved() bool {
	return r.Status == RubricStatusApproved
}

// ManuallyAuthored reports whether the guide was written by hand rather than
// drafted by a model.
func (r RubricVersion) ManuallyAuthored() bool {
	return r.LLMProvider == "" && r.LLMModel == ""
}
