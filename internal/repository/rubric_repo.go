package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/models"
)

// RubricRepository defines data operations for grading guide versions.
type RubricRepository interface {
	GetByID(ctx context.Context, id uint) (models.RubricVersion, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.RubricVersion, error)
	ApprovedForAssignment(ctx context.Context, assignmentID uint) (models.RubricVersion, error)
	Create(ctx context.Context, rubric *models.RubricVersion) error
	Update(ctx context.Context, rubric *models.RubricVersion) error
	Approve(ctx context.Context, id uint) error
	Delete(ctx context.Context, id uint) error
}

type rubricRepository struct {
	db *gorm.DB
}

// NewRubricRepository instantiates the repository.
func NewRubricRepository(db *gorm.DB) RubricRepository {
	return &rubricRepository{db: db}
}

func (r *rubricRepository) GetByID(ctx context.Context, id uint) (models.RubricVersion, error) {
	var rubric models.RubricVersion
	if err := r.db.WithContext(ctx).First(&rubric, id).Error; err != nil {
		return models.RubricVersion{}, err
	}
	return rubric, nil
}

func (r *rubricRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.RubricVersion, error) {
	var rubrics []models.RubricVersion
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at DESC").
		Find(&rubrics).Error; err != nil {
		return nil, err
	}
	return rubrics, nil
}

func (r *rubricRepository) ApprovedForAssignment(ctx context.Context, assignmentID uint) (models.RubricVersion, error) {
	var rubric models.RubricVersion
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND status = ?", assignmentID, models.RubricStatusApproved).
		First(&rubric).Error; err != nil {
		return models.RubricVersion{}, err
	}
	return rubric, nil
}

func (r *rubricRepository) Create(ctx context.Context, rubric *models.RubricVersion) error {
	return r.db.WithContext(ctx).Create(rubric).Error
}

func (r *rubricRepository) Update(ctx context.Context, rubric *models.RubricVersion) error {
	return r.db.WithContext(ctx).Save(rubric).Error
}

// Approve promotes one version to APPROVED and archives only the previously
// approved version(s) for the same assignment, keeping the at-most-one-
// approved invariant without disturbing drafts or failed generations.
func (r *rubricRepository) Approve(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rubric models.RubricVersion
		if err := tx.First(&rubric, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.RubricVersion{}).
			Where("assignment_id = ? AND id <> ? AND status = ?",
				rubric.AssignmentID, id, models.RubricStatusApproved).
			Update("status", models.RubricStatusArchived).Error; err != nil {
			return err
		}
		return tx.Model(&models.RubricVersion{}).
			Where("id = ?", id).
			Update("status", models.RubricStatusApproved).Error
	})
}

func (r *rubricRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.RubricVersion{}, id).Error
}
