package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

// ErrSubmissionBusy indicates a validation cycle already holds the submission.
var ErrSubmissionBusy = errors.New("submission validation already in progress")

// SubmissionFilter narrows marketplace listing queries.
type SubmissionFilter struct {
	Page     int
	PageSize int
	Category string
	Status   string
	Tag      string
	Search   string
}

// SubmissionRepository defines data operations for GPT submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (models.Submission, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
	BeginValidation(ctx context.Context, id string, staleBefore time.Time) error
	CompleteValidation(ctx context.Context, id string, status validation.SubmissionStatus, accuracy float64) error
	RestoreStatus(ctx context.Context, id string, status validation.SubmissionStatus) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

// Update persists the editable fields and status of a submission. It refuses
// while a validation cycle holds the row and keeps the last known accuracy score.
func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	result := r.db.WithContext(ctx).
		Model(submission).
		Where("status <> ?", validation.StatusValidating).
		Select("*").
		Omit("id", "publisher_id", "accuracy_score", "created_at").
		Updates(submission)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	exists, err := r.Exists(ctx, submission.ID)
	if err != nil {
		return err
	}
	if !exists {
		return gorm.ErrRecordNotFound
	}
	return ErrSubmissionBusy
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, "id = ?", id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if category := strings.TrimSpace(filter.Category); category != "" {
		query = query.Where("LOWER(category) = ?", strings.ToLower(category))
	}

	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}

	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		query = query.Where("tags LIKE ?", fmt.Sprintf("%%|%s|%%", strings.ToLower(tag)))
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := fmt.Sprintf("%%%s%%", strings.ToLower(search))
		query = query.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var submissions []models.Submission
	if err := query.Order("created_at DESC").Find(&submissions).Error; err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

// BeginValidation moves the submission into validating unless another cycle
// holds it. A cycle that has not touched the row since staleBefore is taken over.
func (r *submissionRepository) BeginValidation(ctx context.Context, id string, staleBefore time.Time) error {
	result := r.statusQuery(ctx).
		Where("id = ?", id).
		Where("status <> ? OR updated_at < ?", validation.StatusValidating, staleBefore).
		Updates(map[string]interface{}{
			"status":     validation.StatusValidating,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	exists, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return gorm.ErrRecordNotFound
	}
	return ErrSubmissionBusy
}

func (r *submissionRepository) CompleteValidation(ctx context.Context, id string, status validation.SubmissionStatus, accuracy float64) error {
	result := r.statusQuery(ctx).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         status,
			"accuracy_score": accuracy,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RestoreStatus hands a submission back from validating to the given status.
// It is a no-op when the submission has already left validating.
func (r *submissionRepository) RestoreStatus(ctx context.Context, id string, status validation.SubmissionStatus) error {
	return r.statusQuery(ctx).
		Where("id = ? AND status = ?", id, validation.StatusValidating).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// statusQuery skips model hooks so lifecycle updates never rewrite tag data.
func (r *submissionRepository) statusQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Session(&gorm.Session{SkipHooks: true}).Model(&models.Submission{})
}
