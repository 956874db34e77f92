package models

import (
	"time"

	"gorm.io/datatypes"
)

// GradeResult stores the validated grading JSON for one (submission, grading
// guide) pair, together with a human-readable rendering and the verbatim
// model output. The latest row per pair is the one shown to instructors.
type GradeResult struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	SubmissionID    uint           `gorm:"not null;index" json:"submission_id"`
	RubricVersionID uint           `gorm:"not null;index" json:"rubric_version_id"`
	TotalPoints     *float64       `json:"total_points"`
	JSONResult      datatypes.JSON `gorm:"not null" json:"json_result"`
	RenderedText    string         `gorm:"type:text;not null;default:''" json:"rendered_text"`
	RawResponse     string         `gorm:"type:text;not null;default:''" json:"raw_response"`
	ErrorMessage    string         `gorm:"type:text;not null;default:''" json:"error_message"`
	CreatedAt       time.Time      `json:"created_at"`
}
