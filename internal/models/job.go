package models

import "time"

// JobStatus enumerates the asynchronous job lifecycle. The sequence is always
// a subsequence of QUEUED -> RUNNING -> {SUCCESS, ERROR, CANCELLED} and never
// regresses.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSuccess   JobStatus = "SUCCESS"
	JobStatusError     JobStatus = "ERROR"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusError || s == JobStatusCancelled
}

// GradingJob drives at most one LLM grading call for a submission against an
// approved grading guide. Reruns create a new row; finished jobs are never
// mutated back into flight.
type GradingJob struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AssignmentID     uint       `gorm:"not null;index" json:"assignment_id"`
	SubmissionID     uint       `gorm:"not null;index" json:"submission_id"`
	RubricVersionID  uint       `gorm:"not null" json:"rubric_version_id"`
	Status           JobStatus  `gorm:"size:20;not null;default:QUEUED" json:"status"`
	Message          string     `gorm:"type:text;not null;default:''" json:"message"`
	QueueJobID       string     `gorm:"size:128;not null;default:''" json:"queue_job_id"`
	LLMProvider      string     `gorm:"size:64" json:"llm_provider"`
	LLMModel         string     `gorm:"size:128" json:"llm_model"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	PriceEstimate    *float64   `json:"price_estimate"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
}
