package dto

import (
	"time"

	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

// ValidationTestCase is a caller-supplied probe. It is accepted and checked for
// shape but the scoring procedure does not read it yet.
type ValidationTestCase struct {
	Input          string `json:"input" validate:"required"`
	ExpectedOutput string `json:"expectedOutput,omitempty"`
	Description    string `json:"description,omitempty"`
}

// ValidationRequest triggers a validation run for a submission.
type ValidationRequest struct {
	ModelID        string               `json:"modelId" validate:"required,max=64"`
	ValidationType string               `json:"validationType" validate:"required,oneof=automated manual performance safety"`
	TestCases      []ValidationTestCase `json:"testCases" validate:"omitempty,max=100,dive"`
}

// ValidationDetails breaks down a verdict into its measured components.
type ValidationDetails struct {
	TestCasesPassed  int     `json:"testCasesPassed"`
	TestCasesTotal   int     `json:"testCasesTotal"`
	AvgResponseTime  float64 `json:"avgResponseTime"`
	AccuracyScore    float64 `json:"accuracyScore"`
	ConsistencyScore float64 `json:"consistencyScore"`
	SafetyScore      float64 `json:"safetyScore"`
}

// ValidationVerdict is the scoring outcome of a single run.
type ValidationVerdict struct {
	Status          string            `json:"status"`
	Score           float64           `json:"score"`
	Details         ValidationDetails `json:"details"`
	Recommendations []string          `json:"recommendations"`
	Errors          []string          `json:"errors"`
}

// ValidationResponse is returned when a validation completes. The envelope
// carries the success flag.
type ValidationResponse struct {
	Validation  ValidationVerdict `json:"validation"`
	ModelStatus string            `json:"modelStatus"`
}

// ValidationRunResponse serializes a stored validation run.
type ValidationRunResponse struct {
	ID               uint                     `json:"id"`
	SubmissionID     string                   `json:"model_id"`
	ValidationType   string                   `json:"validation_type"`
	Status           string                   `json:"status"`
	TestCasesTotal   int                      `json:"test_cases_total"`
	TestCasesPassed  int                      `json:"test_cases_passed"`
	TestCasesFailed  int                      `json:"test_cases_failed"`
	AvgResponseTime  float64                  `json:"avg_response_time"`
	AccuracyScore    float64                  `json:"accuracy_score"`
	ConsistencyScore float64                  `json:"consistency_score"`
	SafetyScore      float64                  `json:"safety_score"`
	Results          models.ValidationResults `json:"results"`
	StartedAt        time.Time                `json:"started_at"`
	CompletedAt      *time.Time               `json:"completed_at"`
}

// ValidationHistoryResponse lists validation runs newest first.
type ValidationHistoryResponse struct {
	Validations []ValidationRunResponse `json:"validations"`
}

// ValidationEvent is broadcast when a validation run completes.
type ValidationEvent struct {
	RunID          uint      `json:"run_id"`
	SubmissionID   string    `json:"model_id"`
	ValidationType string    `json:"validation_type"`
	Status         string    `json:"status"`
	Score          float64   `json:"score"`
	ModelStatus    string    `json:"model_status"`
	CompletedAt    time.Time `json:"completed_at"`
}

// NewValidationResponse builds the trigger response from an engine result.
func NewValidationResponse(result validation.Result) ValidationResponse {
	return ValidationResponse{
		Validation: ValidationVerdict{
			Status: string(result.Verdict),
			Score:  result.Score,
			Details: ValidationDetails{
				TestCasesPassed:  result.TestCasesPassed,
				TestCasesTotal:   result.TestCasesTotal,
				AvgResponseTime:  result.AvgResponseTime,
				AccuracyScore:    result.AccuracyScore,
				ConsistencyScore: result.ConsistencyScore,
				SafetyScore:      result.SafetyScore,
			},
			Recommendations: nonNilStrings(result.Recommendations),
			Errors:          nonNilStrings(result.Errors),
		},
		ModelStatus: string(result.SubmissionStatus()),
	}
}

// NewValidationRunResponse converts a stored run into a DTO.
func NewValidationRunResponse(run models.ValidationRun) ValidationRunResponse {
	results := run.Results.Data()
	results.Recommendations = nonNilStrings(results.Recommendations)
	results.Errors = nonNilStrings(results.Errors)

	return ValidationRunResponse{
		ID:               run.ID,
		SubmissionID:     run.SubmissionID,
		ValidationType:   string(run.Mode),
		Status:           string(run.Status),
		TestCasesTotal:   run.TestCasesTotal,
		TestCasesPassed:  run.TestCasesPassed,
		TestCasesFailed:  run.TestCasesFailed,
		AvgResponseTime:  run.AvgResponseTime,
		AccuracyScore:    run.AccuracyScore,
		ConsistencyScore: run.ConsistencyScore,
		SafetyScore:      run.SafetyScore,
		Results:          results,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
	}
}

// NewValidationHistoryResponse converts runs into the history payload.
func NewValidationHistoryResponse(runs []models.ValidationRun) ValidationHistoryResponse {
	items := make([]ValidationRunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, NewValidationRunResponse(run))
	}
	return ValidationHistoryResponse{Validations: items}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
