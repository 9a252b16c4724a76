package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gptstore-api/internal/validation"
)

// ValidationResults is the free-form payload stored alongside a run.
type ValidationResults struct {
	Score           float64  `json:"score"`
	Recommendations []string `json:"recommendations"`
	Errors          []string `json:"errors"`
}

// ValidationRun records one execution of the validator against a submission.
// Rows are append-only; only a pending run is ever updated.
type ValidationRun struct {
	ID               uint                                  `gorm:"primaryKey" json:"id"`
	SubmissionID     string                                `gorm:"size:36;not null;index:idx_validation_runs_submission_mode" json:"submission_id"`
	Mode             validation.Mode                       `gorm:"size:32;not null;index:idx_validation_runs_submission_mode" json:"validation_type"`
	Status           validation.Verdict                    `gorm:"size:32;not null" json:"status"`
	TestCasesTotal   int                                   `gorm:"not null" json:"test_cases_total"`
	TestCasesPassed  int                                   `gorm:"not null;default:0" json:"test_cases_passed"`
	TestCasesFailed  int                                   `gorm:"not null;default:0" json:"test_cases_failed"`
	AvgResponseTime  float64                               `json:"avg_response_time"`
	AccuracyScore    float64                               `json:"accuracy_score"`
	ConsistencyScore float64                               `json:"consistency_score"`
	SafetyScore      float64                               `json:"safety_score"`
	Results          datatypes.JSONType[ValidationResults] `json:"results"`
	StartedAt        time.Time                             `gorm:"not null" json:"started_at"`
	CompletedAt      *time.Time                            `json:"completed_at"`
	CreatedAt        time.Time                             `gorm:"index" json:"created_at"`
}

// IsOpen reports whether the run is still executing.
func (r ValidationRun) IsOpen() bool {
	return r.Status == validation.VerdictPending
}
