package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/models"
)

// ResultRepository defines data operations for grade results.
type ResultRepository interface {
	GetByID(ctx context.Context, id uint) (models.GradeResult, error)
	Latest(ctx context.Context, submissionID, rubricVersionID uint) (models.GradeResult, error)
	LatestForSubmissions(ctx context.Context, submissionIDs []uint) (map[uint]models.GradeResult, error)
	Create(ctx context.Context, result *models.GradeResult) error
	Update(ctx context.Context, result *models.GradeResult) error
}

type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository instantiates the repository.
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

func (r *resultRepository) GetByID(ctx context.Context, id uint) (models.GradeResult, error) {
	var result models.GradeResult
	if err := r.db.WithContext(ctx).First(&result, id).Error; err != nil {
		return models.GradeResult{}, err
	}
	return result, nil
}

func (r *resultRepository) Latest(ctx context.Context, submissionID, rubricVersionID uint) (models.GradeResult, error) {
	var result models.GradeResult
	if err := r.db.WithContext(ctx).
		Where("submission_id = ? AND rubric_version_id = ?", submissionID, rubricVersionID).
		Order("created_at DESC").
		First(&result).Error; err != nil {
		return models.GradeResult{}, err
	}
	return result, nil
}

// LatestForSubmissions returns the newest result per submission, for the CSV
// export.
func (r *resultRepository) LatestForSubmissions(ctx context.Context, submissionIDs []uint) (map[uint]models.GradeResult, error) {
	if len(submissionIDs) == 0 {
		return map[uint]models.GradeResult{}, nil
	}

	var results []models.GradeResult
	if err := r.db.WithContext(ctx).
		Where("submission_id IN ?", submissionIDs).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}

	latest := make(map[uint]models.GradeResult, len(results))
	for _, result := range results {
		latest[result.SubmissionID] = result
	}
	return latest, nil
}

func (r *resultRepository) Create(ctx context.Context, result *models.GradeResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

func (r *resultRepository) Update(ctx context.Context, result *models.GradeResult) error {
	return r.db.WithContext(ctx).Save(result).Error
}
