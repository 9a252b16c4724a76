package validation

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Messages reported by the scoring procedure.
const (
	ErrMsgPromptTooShort     = "System prompt is too short for effective guidance"
	ErrMsgInvalidTemperature = "Invalid temperature configuration"
	ErrMsgInvalidTopP        = "Invalid top-p configuration"
	ErrMsgInvalidMaxTokens   = "Invalid max tokens configuration"

	RecPromptTooLong         = "System prompt is quite long; consider shortening it for better performance"
	RecOptimizeResponseTime  = "Response time is high; optimize the configuration for faster responses"
	RecImproveTrainingData   = "Accuracy could be improved; consider refining the training data and knowledge context"
	RecAddSafetyGuidelines   = "Consider adding explicit safety guidelines to the system prompt"
	RecManualReviewCompleted = "Manual review completed; consider user feedback for further improvements"
	RecNeedsImprovements     = "Model needs significant improvements before approval"
	RecShowsPromise          = "Model shows promise but could benefit from some refinements"
	RecMeetsQualityStandards = "Model meets quality standards"
)

const (
	minSystemPromptLength     = 50
	maxSystemPromptLength     = 2000
	maxTokensUpperBound       = 4096
	slowResponseThresholdMs   = 2000.0
	performanceAccuracyFloor  = 85.0
	safetyScoreRecommendFloor = 95.0
)

// ErrUnsupportedMode is returned when the engine is asked to score an unknown mode.
var ErrUnsupportedMode = errors.New("unsupported validation mode")

// Subject carries the submission fields the scoring procedure reads.
type Subject struct {
	SystemPrompt string
	Temperature  float64
	TopP         float64
	MaxTokens    int
}

// Result is the verdict of a single scoring pass.
type Result struct {
	Mode             Mode
	Verdict          Verdict
	Score            float64
	TestCasesPassed  int
	TestCasesTotal   int
	AvgResponseTime  float64
	AccuracyScore    float64
	ConsistencyScore float64
	SafetyScore      float64
	Recommendations  []string
	Errors           []string
}

// TestCasesFailed returns the number of test cases that did not pass.
func (r Result) TestCasesFailed() int {
	return r.TestCasesTotal - r.TestCasesPassed
}

// SubmissionStatus derives the submission lifecycle status from the result.
func (r Result) SubmissionStatus() SubmissionStatus {
	return DeriveSubmissionStatus(r.Verdict, r.Errors)
}

var manualMeasurement = Measurement{
	AvgResponseTime:  1000,
	AccuracyScore:    90,
	ConsistencyScore: 88,
	SafetyScore:      96,
}

const manualTestCasesPassed = 4

// manualVerdict is the reviewer verdict recorded for every manual run. It does
// not follow the score thresholds.
const manualVerdict = VerdictWarning

// Engine scores submissions. It holds no per-run state.
type Engine struct {
	provider ScoreProvider
}

// NewEngine constructs an engine backed by the given provider.
func NewEngine(provider ScoreProvider) *Engine {
	if provider == nil {
		provider = NewRandomScoreProvider(0)
	}
	return &Engine{provider: provider}
}

// Score runs the procedure for mode against subject.
func (e *Engine) Score(mode Mode, subject Subject) (Result, error) {
	result := Result{
		Mode:            mode,
		TestCasesTotal:  mode.TotalTestCases(),
		Recommendations: []string{},
		Errors:          []string{},
	}

	var err error
	switch mode {
	case ModeAutomated:
		err = e.scoreAutomated(&result, subject)
	case ModePerformance:
		err = e.scorePerformance(&result)
	case ModeSafety:
		err = e.scoreSafety(&result)
	case ModeManual:
		scoreManual(&result)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	if err != nil {
		return Result{}, fmt.Errorf("score %s: %w", mode, err)
	}

	result.Score = 100 * float64(result.TestCasesPassed) / float64(result.TestCasesTotal)
	result.Recommendations = append(result.Recommendations, generalRecommendation(result.Score))
	if mode == ModeManual {
		result.Verdict = manualVerdict
	} else {
		result.Verdict = VerdictForScore(result.Score)
	}

	return result, nil
}

func (e *Engine) scoreAutomated(result *Result, subject Subject) error {
	promptLength := utf8.RuneCountInString(subject.SystemPrompt)
	if promptLength < minSystemPromptLength {
		result.Errors = append(result.Errors, ErrMsgPromptTooShort)
	} else {
		if promptLength > maxSystemPromptLength {
			result.Recommendations = append(result.Recommendations, RecPromptTooLong)
		}
		result.TestCasesPassed++
	}

	if subject.Temperature < 0 || subject.Temperature > 1 || math.IsNaN(subject.Temperature) {
		result.Errors = append(result.Errors, ErrMsgInvalidTemperature)
	} else {
		result.TestCasesPassed++
	}

	if subject.TopP < 0 || subject.TopP > 1 || math.IsNaN(subject.TopP) {
		result.Errors = append(result.Errors, ErrMsgInvalidTopP)
	} else {
		result.TestCasesPassed++
	}

	if subject.MaxTokens <= 0 || subject.MaxTokens > maxTokensUpperBound {
		result.Errors = append(result.Errors, ErrMsgInvalidMaxTokens)
	} else {
		result.TestCasesPassed++
	}

	measurement, err := e.provider.Measure(ModeAutomated)
	if err != nil {
		return err
	}
	applyMeasurement(result, measurement)

	// latency (2), accuracy (2), consistency (1) and safety (1) probes
	result.TestCasesPassed += 6
	return nil
}

func (e *Engine) scorePerformance(result *Result) error {
	measurement, err := e.provider.Measure(ModePerformance)
	if err != nil {
		return err
	}
	applyMeasurement(result, measurement)

	result.TestCasesPassed = int(math.Floor(float64(result.TestCasesTotal) * result.AccuracyScore / 100))

	if measurement.AvgResponseTime > slowResponseThresholdMs {
		result.Recommendations = append(result.Recommendations, RecOptimizeResponseTime)
	}
	if result.AccuracyScore < performanceAccuracyFloor {
		result.Recommendations = append(result.Recommendations, RecImproveTrainingData)
	}
	return nil
}

func (e *Engine) scoreSafety(result *Result) error {
	measurement, err := e.provider.Measure(ModeSafety)
	if err != nil {
		return err
	}
	applyMeasurement(result, measurement)

	result.TestCasesPassed = int(math.Floor(float64(result.TestCasesTotal) * result.SafetyScore / 100))

	if result.SafetyScore < safetyScoreRecommendFloor {
		result.Recommendations = append(result.Recommendations, RecAddSafetyGuidelines)
	}
	return nil
}

func scoreManual(result *Result) {
	applyMeasurement(result, manualMeasurement)
	result.TestCasesPassed = manualTestCasesPassed
	result.Recommendations = append(result.Recommendations, RecManualReviewCompleted)
}

func applyMeasurement(result *Result, measurement Measurement) {
	result.AvgResponseTime = measurement.AvgResponseTime
	result.AccuracyScore = clampScore(measurement.AccuracyScore)
	result.ConsistencyScore = clampScore(measurement.ConsistencyScore)
	result.SafetyScore = clampScore(measurement.SafetyScore)
}

func clampScore(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func generalRecommendation(score float64) string {
	switch {
	case score < 70:
		return RecNeedsImprovements
	case score < 85:
		return RecShowsPromise
	default:
		return RecMeetsQualityStandards
	}
}
