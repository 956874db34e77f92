package models

import "time"

// FileType drives the preprocessing branch a submission file takes.
type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeImage FileType = "image"
	FileTypeText  FileType = "text"
	FileTypeOther FileType = "other"
)

// Submission is one student's work for an assignment: optional free text plus
// uploaded files.
type Submission struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	AssignmentID      uint      `gorm:"not null;index" json:"assignment_id"`
	StudentIdentifier string    `gorm:"size:255;not null" json:"student_identifier"`
	SubmittedText     string    `gorm:"type:text;not null;default:''" json:"submitted_text"`
	CreatedAt         time.Time `json:"created_at"`

	Files   []SubmissionFile `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"files,omitempty"`
	Results []GradeResult    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"results,omitempty"`
}

// SubmissionFile records one uploaded file, stored relative to the data root.
// Immutable once created.
type SubmissionFile struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	SubmissionID     uint      `gorm:"not null;index" json:"submission_id"`
	FilePath         string    `gorm:"type:text;not null" json:"file_path"`
	FileType         FileType  `gorm:"size:20;not null" json:"file_type"`
	OriginalFilename string    `gorm:"size:255;not null" json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}
