package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gptstore-api/internal/dto"
	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/observability"
	"github.com/noah-isme/gptstore-api/internal/repository"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

var (
	// ErrValidationInProgress indicates a validation cycle already holds the submission.
	ErrValidationInProgress = errors.New("validation already in progress")
	// ErrInvalidValidationMode indicates an unsupported validation type.
	ErrInvalidValidationMode = errors.New("invalid validation type")
	// ErrModelIDRequired indicates the submission identifier was omitted.
	ErrModelIDRequired = errors.New("modelId is required")
	// ErrValidationFailed indicates the cycle could not produce or store a verdict.
	ErrValidationFailed = errors.New("validation failed")
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ValidationConfig tunes the in-flight guard.
type ValidationConfig struct {
	LockTTL    time.Duration
	StaleAfter time.Duration
}

// ValidationService runs validation cycles and serves their history.
type ValidationService interface {
	RequestValidation(ctx context.Context, actor ActivityActor, req dto.ValidationRequest) (dto.ValidationResponse, error)
	History(ctx context.Context, submissionID string) (dto.ValidationHistoryResponse, error)
}

type validationService struct {
	submissions repository.SubmissionRepository
	runs        repository.ValidationRunRepository
	engine      *validation.Engine
	activity    ActivityRecorder
	events      ValidationEventBus
	redis       *redis.Client
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	config      ValidationConfig
	now         func() time.Time
}

// NewValidationService constructs the validation service. Activity, events and
// redis are optional.
func NewValidationService(
	submissions repository.SubmissionRepository,
	runs repository.ValidationRunRepository,
	engine *validation.Engine,
	activity ActivityRecorder,
	events ValidationEventBus,
	redisClient *redis.Client,
	validate *validator.Validate,
	logger zerolog.Logger,
	cfg ValidationConfig,
) ValidationService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if engine == nil {
		engine = validation.NewEngine(nil)
	}

	return &validationService{
		submissions: submissions,
		runs:        runs,
		engine:      engine,
		activity:    activity,
		events:      events,
		redis:       redisClient,
		validator:   validate,
		logger:      logger.With().Str("component", "validation_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gptstore-api/internal/service/validation"),
		config:      cfg,
		now:         time.Now,
	}
}

func (s *validationService) RequestValidation(ctx context.Context, actor ActivityActor, req dto.ValidationRequest) (dto.ValidationResponse, error) {
	req.ModelID = strings.TrimSpace(req.ModelID)
	req.ValidationType = strings.ToLower(strings.TrimSpace(req.ValidationType))

	if req.ModelID == "" {
		return dto.ValidationResponse{}, ErrModelIDRequired
	}
	mode, ok := validation.ParseMode(req.ValidationType)
	if !ok {
		return dto.ValidationResponse{}, ErrInvalidValidationMode
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.ValidationResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "validations.request", trace.WithAttributes(
		attribute.String("validation.submission_id", req.ModelID),
		attribute.String("validation.mode", string(mode)),
		attribute.Int("validation.test_cases_supplied", len(req.TestCases)),
	))
	defer span.End()

	response, err := s.runCycle(spanCtx, actor, req.ModelID, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.ValidationResponse{}, err
	}
	span.SetAttributes(attribute.String("validation.verdict", response.Validation.Status))
	return response, nil
}

func (s *validationService) runCycle(ctx context.Context, actor ActivityActor, submissionID string, mode validation.Mode) (dto.ValidationResponse, error) {
	logger := s.logger.With().Str("submission_id", submissionID).Str("mode", string(mode)).Logger()

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ValidationResponse{}, ErrSubmissionNotFound
		}
		return dto.ValidationResponse{}, fmt.Errorf("load submission: %w", err)
	}

	release, err := s.acquireLock(ctx, submissionID, mode)
	if err != nil {
		return dto.ValidationResponse{}, err
	}
	defer release()

	now := s.now()
	if err := s.submissions.BeginValidation(ctx, submissionID, now.Add(-s.config.StaleAfter)); err != nil {
		switch {
		case errors.Is(err, repository.ErrSubmissionBusy):
			observability.ValidationConflicts().WithLabelValues(string(mode)).Inc()
			return dto.ValidationResponse{}, ErrValidationInProgress
		case errors.Is(err, gorm.ErrRecordNotFound):
			return dto.ValidationResponse{}, ErrSubmissionNotFound
		default:
			return dto.ValidationResponse{}, fmt.Errorf("begin validation: %w", err)
		}
	}

	prior := submission.Status
	if prior == validation.StatusValidating {
		logger.Warn().Msg("taking over stale validation cycle")
		prior = validation.StatusPending
	}

	superseded, err := s.runs.SupersedeOpen(ctx, submissionID, mode, now)
	if err != nil {
		s.restoreStatus(ctx, logger, submissionID, prior)
		return dto.ValidationResponse{}, fmt.Errorf("supersede open runs: %w", err)
	}
	if superseded > 0 {
		logger.Info().Int64("superseded", superseded).Msg("closed open validation runs")
	}

	run := models.ValidationRun{
		SubmissionID:   submissionID,
		Mode:           mode,
		Status:         validation.VerdictPending,
		TestCasesTotal: mode.TotalTestCases(),
		StartedAt:      now,
	}
	if err := s.runs.Create(ctx, &run); err != nil {
		s.restoreStatus(ctx, logger, submissionID, prior)
		observability.ValidationFailures().WithLabelValues(string(mode), "create_run").Inc()
		return dto.ValidationResponse{}, fmt.Errorf("create validation run: %w", err)
	}

	result, err := s.engine.Score(mode, submission.ScoringSubject())
	if err != nil {
		// The run stays pending so the failed attempt remains visible in history.
		s.restoreStatus(ctx, logger, submissionID, prior)
		observability.ValidationFailures().WithLabelValues(string(mode), "scoring").Inc()
		logger.Error().Err(err).Uint("run_id", run.ID).Msg("scoring failed")
		return dto.ValidationResponse{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	status := result.SubmissionStatus()
	if err := s.submissions.CompleteValidation(ctx, submissionID, status, result.AccuracyScore); err != nil {
		s.restoreStatus(ctx, logger, submissionID, prior)
		observability.ValidationFailures().WithLabelValues(string(mode), "submission_update").Inc()
		logger.Error().Err(err).Uint("run_id", run.ID).Msg("failed to store submission status")
		return dto.ValidationResponse{}, fmt.Errorf("%w: update submission: %v", ErrValidationFailed, err)
	}

	completedAt := s.now()
	applyResult(&run, result, completedAt)
	if err := s.runs.Finalize(ctx, &run); err != nil {
		// Submission status is already committed; the run row stays pending until retried.
		observability.ValidationFailures().WithLabelValues(string(mode), "finalize_run").Inc()
		logger.Error().Err(err).Uint("run_id", run.ID).Str("model_status", string(status)).Msg("failed to finalize validation run")
		return dto.ValidationResponse{}, fmt.Errorf("%w: finalize run: %v", ErrValidationFailed, err)
	}

	observability.ValidationRuns().WithLabelValues(string(mode), string(result.Verdict)).Inc()
	observability.ValidationScore().WithLabelValues(string(mode)).Observe(result.Score)

	s.recordCompletion(ctx, logger, actor, run, result)

	if s.events != nil {
		s.events.Publish(ctx, dto.ValidationEvent{
			RunID:          run.ID,
			SubmissionID:   submissionID,
			ValidationType: string(mode),
			Status:         string(result.Verdict),
			Score:          result.Score,
			ModelStatus:    string(status),
			CompletedAt:    completedAt,
		})
	}

	logger.Info().
		Uint("run_id", run.ID).
		Str("verdict", string(result.Verdict)).
		Float64("score", result.Score).
		Str("model_status", string(status)).
		Msg("validation completed")

	return dto.NewValidationResponse(result), nil
}

func (s *validationService) History(ctx context.Context, submissionID string) (dto.ValidationHistoryResponse, error) {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return dto.ValidationHistoryResponse{}, ErrModelIDRequired
	}

	exists, err := s.submissions.Exists(ctx, submissionID)
	if err != nil {
		return dto.ValidationHistoryResponse{}, err
	}
	if !exists {
		return dto.ValidationHistoryResponse{}, ErrSubmissionNotFound
	}

	runs, err := s.runs.ListBySubmission(ctx, submissionID)
	if err != nil {
		return dto.ValidationHistoryResponse{}, err
	}

	return dto.NewValidationHistoryResponse(runs), nil
}

// acquireLock takes the cross-instance lock for a submission and mode. The
// store guard still applies when redis is absent or unreachable.
func (s *validationService) acquireLock(ctx context.Context, submissionID string, mode validation.Mode) (func(), error) {
	noop := func() {}
	if s.redis == nil {
		return noop, nil
	}

	key := fmt.Sprintf("validation:lock:%s:%s", submissionID, mode)
	token := uuid.NewString()

	acquired, err := s.redis.SetNX(ctx, key, token, s.config.LockTTL).Result()
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("validation lock unavailable")
		return noop, nil
	}
	if !acquired {
		observability.ValidationConflicts().WithLabelValues(string(mode)).Inc()
		return nil, ErrValidationInProgress
	}

	return func() {
		releaseCtx := context.WithoutCancel(ctx)
		if err := releaseLockScript.Run(releaseCtx, s.redis, []string{key}, token).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to release validation lock")
		}
	}, nil
}

func (s *validationService) restoreStatus(ctx context.Context, logger zerolog.Logger, submissionID string, status validation.SubmissionStatus) {
	if err := s.submissions.RestoreStatus(context.WithoutCancel(ctx), submissionID, status); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("failed to restore submission status")
	}
}

func (s *validationService) recordCompletion(ctx context.Context, logger zerolog.Logger, actor ActivityActor, run models.ValidationRun, result validation.Result) {
	if s.activity == nil {
		return
	}

	_, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     ActionValidationCompleted,
		EntityType: "submission",
		EntityID:   run.SubmissionID,
		Metadata: map[string]interface{}{
			"run_id":       run.ID,
			"mode":         string(result.Mode),
			"verdict":      string(result.Verdict),
			"score":        result.Score,
			"model_status": string(result.SubmissionStatus()),
		},
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record validation activity")
	}
}

func applyResult(run *models.ValidationRun, result validation.Result, completedAt time.Time) {
	run.Status = result.Verdict
	run.TestCasesTotal = result.TestCasesTotal
	run.TestCasesPassed = result.TestCasesPassed
	run.TestCasesFailed = result.TestCasesFailed()
	run.AvgResponseTime = result.AvgResponseTime
	run.AccuracyScore = result.AccuracyScore
	run.ConsistencyScore = result.ConsistencyScore
	run.SafetyScore = result.SafetyScore
	run.Results = datatypes.NewJSONType(models.ValidationResults{
		Score:           result.Score,
		Recommendations: result.Recommendations,
		Errors:          result.Errors,
	})
	run.CompletedAt = &completedAt
}
