package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ampapacek/SAGE/internal/models"
)

// JobRepository defines data operations for grading jobs. Status reads back
// the persisted row so a cancellation written by another process is visible
// at the runner's checkpoints.
type JobRepository interface {
	GetByID(ctx context.Context, id uint) (models.GradingJob, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GradingJob, error)
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradingJob, error)
	ActiveCountForRubric(ctx context.Context, rubricVersionID uint) (int64, error)
	Create(ctx context.Context, job *models.GradingJob) error
	Update(ctx context.Context, job *models.GradingJob) error
	Status(ctx context.Context, id uint) (models.JobStatus, error)
	Cancel(ctx context.Context, id uint) error
}

type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository instantiates the repository.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) GetByID(ctx context.Context, id uint) (models.GradingJob, error) {
	var job models.GradingJob
	if err := r.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return models.GradingJob{}, err
	}
	return job, nil
}

func (r *jobRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.GradingJob, error) {
	var jobs []models.GradingJob
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradingJob, error) {
	var jobs []models.GradingJob
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ActiveCountForRubric counts jobs still QUEUED or RUNNING against a grading
// guide, used to block guide deletion while work is in flight.
func (r *jobRepository) ActiveCountForRubric(ctx context.Context, rubricVersionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GradingJob{}).
		Where("rubric_version_id = ? AND status IN ?", rubricVersionID,
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}).
		Count(&count).Error
	return count, err
}

func (r *jobRepository) Create(ctx context.Context, job *models.GradingJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *jobRepository) Update(ctx context.Context, job *models.GradingJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

func (r *jobRepository) Status(ctx context.Context, id uint) (models.JobStatus, error) {
	var job models.GradingJob
	if err := r.db.WithContext(ctx).Select("status").First(&job, id).Error; err != nil {
		return "", err
	}
	return job.Status, nil
}

// Cancel flips a job to CANCELLED unless it already reached a terminal state.
// The runner observes the flag cooperatively at its checkpoints.
func (r *jobRepository) Cancel(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.GradingJob{}).
		Where("id = ? AND status IN ?", id,
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}).
		Updates(map[string]interface{}{"status": models.JobStatusCancelled, "finished_at": &now}).Error
}
