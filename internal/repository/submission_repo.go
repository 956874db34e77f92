package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/models"
)

// SubmissionRepository defines data operations for submissions and their
// files.
type SubmissionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	Delete(ctx context.Context, id uint) error
	AddFile(ctx context.Context, file *models.SubmissionFile) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).Preload("Files")
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Save(submission).Error
}

func (r *submissionRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", id).Delete(&models.SubmissionFile{}).Error; err != nil {
			return err
		}
		if err := tx.Where("submission_id = ?", id).Delete(&models.GradeResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("submission_id = ?", id).Delete(&models.GradingJob{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Submission{}, id).Error
	})
}

func (r *submissionRepository) AddFile(ctx context.Context, file *models.SubmissionFile) error {
	return r.db.WithContext(ctx).Create(file).Error
}
