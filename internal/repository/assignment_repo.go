package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/models"
)

// AssignmentRepository defines data operations for assignments and their
// draft generations.
type AssignmentRepository interface {
	List(ctx context.Context) ([]models.Assignment, error)
	GetByID(ctx context.Context, id uint) (models.Assignment, error)
	Create(ctx context.Context, assignment *models.Assignment) error
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id uint) error

	CreateGeneration(ctx context.Context, generation *models.AssignmentGeneration) error
	GetGeneration(ctx context.Context, id uint) (models.AssignmentGeneration, error)
	UpdateGeneration(ctx context.Context, generation *models.AssignmentGeneration) error
}

type assignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository instantiates the repository.
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &assignmentRepository{db: db}
}

func (r *assignmentRepository) List(ctx context.Context) ([]models.Assignment, error) {
	var assignments []models.Assignment
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&assignments).Error; err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *assignmentRepository) GetByID(ctx context.Context, id uint) (models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.WithContext(ctx).First(&assignment, id).Error; err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (r *assignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *assignmentRepository) Update(ctx context.Context, assignment *models.Assignment) error {
	return r.db.WithContext(ctx).Save(assignment).Error
}

// Delete removes the assignment and everything it owns. Children are removed
// explicitly so SQLite deployments without foreign-key enforcement behave the
// same as PostgreSQL.
func (r *assignmentRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var submissionIDs []uint
		if err := tx.Model(&models.Submission{}).Where("assignment_id = ?", id).
			Pluck("id", &submissionIDs).Error; err != nil {
			return err
		}
		if len(submissionIDs) > 0 {
			if err := tx.Where("submission_id IN ?", submissionIDs).Delete(&models.SubmissionFile{}).Error; err != nil {
				return err
			}
			if err := tx.Where("submission_id IN ?", submissionIDs).Delete(&models.GradeResult{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("assignment_id = ?", id).Delete(&models.GradingJob{}).Error; err != nil {
			return err
		}
		if err := tx.Where("assignment_id = ?", id).Delete(&models.Submission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("assignment_id = ?", id).Delete(&models.RubricVersion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Assignment{}, id).Error
	})
}

func (r *assignmentRepository) CreateGeneration(ctx context.Context, generation *models.AssignmentGeneration) error {
	return r.db.WithContext(ctx).Create(generation).Error
}

func (r *assignmentRepository) GetGeneration(ctx context.Context, id uint) (models.AssignmentGeneration, error) {
	var generation models.AssignmentGeneration
	if err := r.db.WithContext(ctx).First(&generation, id).Error; err != nil {
		return models.AssignmentGeneration{}, err
	}
	return generation, nil
}

func (r *assignmentRepository) UpdateGeneration(ctx context.Context, generation *models.AssignmentGeneration) error {
	return r.db.WithContext(ctx).Save(generation).Error
}
