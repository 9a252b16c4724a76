package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

// SupersededRunMessage is recorded on open runs replaced by a newer run.
const SupersededRunMessage = "superseded by a newer validation run"

// ValidationRunRepository persists the append-only validation history.
type ValidationRunRepository interface {
	Create(ctx context.Context, run *models.ValidationRun) error
	Finalize(ctx context.Context, run *models.ValidationRun) error
	SupersedeOpen(ctx context.Context, submissionID string, mode validation.Mode, at time.Time) (int64, error)
	ListBySubmission(ctx context.Context, submissionID string) ([]models.ValidationRun, error)
}

type validationRunRepository struct {
	db *gorm.DB
}

// NewValidationRunRepository constructs the validation run repository.
func NewValidationRunRepository(db *gorm.DB) ValidationRunRepository {
	return &validationRunRepository{db: db}
}

func (r *validationRunRepository) Create(ctx context.Context, run *models.ValidationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Finalize moves a pending run to its terminal state. Finalizing a run that is
// already terminal succeeds without changes so the write can be retried.
func (r *validationRunRepository) Finalize(ctx context.Context, run *models.ValidationRun) error {
	result := r.db.WithContext(ctx).
		Model(&models.ValidationRun{}).
		Where("id = ? AND status = ?", run.ID, validation.VerdictPending).
		Updates(map[string]interface{}{
			"status":            run.Status,
			"test_cases_total":  run.TestCasesTotal,
			"test_cases_passed": run.TestCasesPassed,
			"test_cases_failed": run.TestCasesFailed,
			"avg_response_time": run.AvgResponseTime,
			"accuracy_score":    run.AccuracyScore,
			"consistency_score": run.ConsistencyScore,
			"safety_score":      run.SafetyScore,
			"results":           run.Results,
			"completed_at":      run.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ValidationRun{}).Where("id = ?", run.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SupersedeOpen fails every pending run for the submission and mode so a new
// run becomes the only open one.
func (r *validationRunRepository) SupersedeOpen(ctx context.Context, submissionID string, mode validation.Mode, at time.Time) (int64, error) {
	results := datatypes.NewJSONType(models.ValidationResults{
		Recommendations: []string{},
		Errors:          []string{SupersededRunMessage},
	})

	result := r.db.WithContext(ctx).
		Model(&models.ValidationRun{}).
		Where("submission_id = ? AND mode = ? AND status = ?", submissionID, mode, validation.VerdictPending).
		Updates(map[string]interface{}{
			"status":       validation.VerdictFailed,
			"results":      results,
			"completed_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *validationRunRepository) ListBySubmission(ctx context.Context, submissionID string) ([]models.ValidationRun, error) {
	var runs []models.ValidationRun
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
