package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gptstore-api/internal/dto"
	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/repository"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

// ErrSubmissionNotFound indicates a submission could not be found.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrSubmissionForbidden indicates the actor does not own the submission.
var ErrSubmissionForbidden = errors.New("forbidden")

// ErrSubmissionContentEmpty indicates a display field held nothing but markup.
var ErrSubmissionContentEmpty = errors.New("submission content empty after sanitization")

// SubmissionService orchestrates the publish workflow and marketplace reads.
type SubmissionService interface {
	Publish(ctx context.Context, actor ActivityActor, payload dto.SubmissionRequest) (dto.SubmissionPublishResponse, error)
	Get(ctx context.Context, id string) (dto.SubmissionResponse, error)
	List(ctx context.Context, req dto.SubmissionListRequest) (dto.SubmissionListResponse, error)
	Resubmit(ctx context.Context, actor ActivityActor, id string, payload dto.SubmissionRequest) (dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	validations ValidationService
	activity    ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(repo repository.SubmissionRepository, validations ValidationService, activity ActivityRecorder, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: repo,
		validations: validations,
		activity:    activity,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gptstore-api/internal/service/submission"),
	}
}

func (s *submissionService) Publish(ctx context.Context, actor ActivityActor, payload dto.SubmissionRequest) (dto.SubmissionPublishResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionPublishResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "submissions.publish", trace.WithAttributes(
		attribute.Int64("submission.publisher_id", int64(actor.ID)),
		attribute.Bool("submission.auto_validate", payload.AutoValidate),
	))
	defer span.End()

	submission := models.Submission{PublisherID: actor.ID}
	if err := s.apply(&submission, payload); err != nil {
		return dto.SubmissionPublishResponse{}, err
	}
	submission.Status = validation.StatusPending

	if err := s.submissions.Create(spanCtx, &submission); err != nil {
		span.RecordError(err)
		return dto.SubmissionPublishResponse{}, err
	}
	span.SetAttributes(attribute.String("submission.id", submission.ID))

	s.record(spanCtx, actor, ActionSubmissionPublished, submission)

	response := dto.SubmissionPublishResponse{Submission: dto.NewSubmissionResponse(submission)}
	if !payload.AutoValidate || s.validations == nil {
		return response, nil
	}

	verdict, err := s.validations.RequestValidation(spanCtx, actor, dto.ValidationRequest{
		ModelID:        submission.ID,
		ValidationType: string(validation.ModeAutomated),
	})
	if err != nil {
		// Publishing already succeeded; the submission stays pending for a manual re-run.
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("submission_id", submission.ID).Msg("auto validation failed")
		return response, nil
	}
	response.Validation = &verdict

	if refreshed, err := s.submissions.GetByID(spanCtx, submission.ID); err == nil {
		response.Submission = dto.NewSubmissionResponse(refreshed)
	} else {
		response.Submission.Status = verdict.ModelStatus
	}

	return response, nil
}

func (s *submissionService) Get(ctx context.Context, id string) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) List(ctx context.Context, req dto.SubmissionListRequest) (dto.SubmissionListResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionListResponse{}, err
	}

	page := maxInt(req.Page, 1)
	pageSize := clampPageSize(req.PageSize)

	submissions, total, err := s.submissions.List(ctx, repository.SubmissionFilter{
		Page:     page,
		PageSize: pageSize,
		Category: req.Category,
		Status:   req.Status,
		Tag:      req.Tag,
		Search:   req.Search,
	})
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	return dto.SubmissionListResponse{
		Items:      dto.NewSubmissionResponseSlice(submissions),
		Pagination: paginationMeta(page, pageSize, total),
	}, nil
}

func (s *submissionService) Resubmit(ctx context.Context, actor ActivityActor, id string, payload dto.SubmissionRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	if actor.Role != "admin" && submission.PublisherID != actor.ID {
		return dto.SubmissionResponse{}, ErrSubmissionForbidden
	}
	if submission.IsValidating() {
		return dto.SubmissionResponse{}, ErrValidationInProgress
	}

	if err := s.apply(&submission, payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	submission.Status = validation.StatusPending

	if err := s.submissions.Update(ctx, &submission); err != nil {
		switch {
		case errors.Is(err, repository.ErrSubmissionBusy):
			return dto.SubmissionResponse{}, ErrValidationInProgress
		case errors.Is(err, gorm.ErrRecordNotFound):
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		default:
			return dto.SubmissionResponse{}, err
		}
	}

	s.record(ctx, actor, ActionSubmissionResubmitted, submission)

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) apply(submission *models.Submission, payload dto.SubmissionRequest) error {
	name := s.clean(payload.Name)
	if name == "" {
		return fmt.Errorf("%w: name", ErrSubmissionContentEmpty)
	}
	description := s.clean(payload.Description)
	if description == "" {
		return fmt.Errorf("%w: description", ErrSubmissionContentEmpty)
	}

	files := make([]models.KnowledgeFile, 0, len(payload.KnowledgeFiles))
	for _, file := range payload.KnowledgeFiles {
		files = append(files, models.KnowledgeFile{
			Name:      s.clean(file.Name),
			MimeType:  strings.TrimSpace(file.MimeType),
			SizeBytes: file.SizeBytes,
			URL:       strings.TrimSpace(file.URL),
		})
	}

	submission.Name = name
	submission.Version = strings.TrimSpace(payload.Version)
	submission.Description = description
	submission.Category = strings.ToLower(strings.TrimSpace(payload.Category))
	submission.Tags = payload.Tags
	submission.LicenseType = payload.LicenseType
	submission.LicenseText = s.clean(payload.LicenseText)
	submission.SystemPrompt = payload.SystemPrompt
	submission.Temperature = *payload.Temperature
	submission.TopP = *payload.TopP
	submission.MaxTokens = payload.MaxTokens
	submission.KnowledgeContext = payload.KnowledgeContext
	submission.KnowledgeFiles = datatypes.JSONSlice[models.KnowledgeFile](files)
	return nil
}

func (s *submissionService) clean(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func (s *submissionService) record(ctx context.Context, actor ActivityActor, action string, submission models.Submission) {
	if s.activity == nil {
		return
	}
	_, err := s.activity.Record(ctx, ActivityEntry{
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: "submission",
		EntityID:   submission.ID,
		Metadata: map[string]interface{}{
			"name":    submission.Name,
			"version": submission.Version,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("failed to record submission activity")
	}
}
