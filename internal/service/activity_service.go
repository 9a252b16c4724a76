package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gptstore-api/internal/dto"
	"github.com/noah-isme/gptstore-api/internal/middleware"
	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/repository"
)

// Activity actions recorded across the submission lifecycle.
const (
	ActionSubmissionPublished   = "submission.published"
	ActionSubmissionResubmitted = "submission.resubmitted"
	ActionValidationCompleted   = "validation.completed"
)

// ErrInvalidActivityWindow indicates a listing window whose start is not before its end.
var ErrInvalidActivityWindow = errors.New("since must be before until")

// ActivityActor represents the authenticated actor performing an action.
type ActivityActor struct {
	ID   uint
	Role string
}

// ActivityEntry captures the details required to persist an audit entry.
type ActivityEntry struct {
	ActorID    uint
	ActorRole  string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]interface{}
}

// ActivityRecorder defines behaviour for recording activity logs.
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry) (dto.ActivityResponse, error)
}

// ActivityService exposes methods to query and persist activity logs.
type ActivityService interface {
	ActivityRecorder
	List(ctx context.Context, req dto.ActivityListRequest) (dto.ActivityListResponse, error)
}

type activityService struct {
	repo   repository.ActivityLogRepository
	logger zerolog.Logger
}

// NewActivityService constructs the activity log service.
func NewActivityService(repo repository.ActivityLogRepository, logger zerolog.Logger) ActivityService {
	return &activityService{
		repo:   repo,
		logger: logger.With().Str("component", "activity_service").Logger(),
	}
}

func (s *activityService) Record(ctx context.Context, entry ActivityEntry) (dto.ActivityResponse, error) {
	if strings.TrimSpace(entry.Action) == "" {
		return dto.ActivityResponse{}, fmt.Errorf("action is required")
	}
	if strings.TrimSpace(entry.EntityType) == "" {
		return dto.ActivityResponse{}, fmt.Errorf("entity type is required")
	}

	model := models.ActivityLog{
		ActorID:       entry.ActorID,
		ActorRole:     normalizeRole(entry.ActorRole),
		Action:        strings.ToLower(strings.TrimSpace(entry.Action)),
		EntityType:    strings.ToLower(strings.TrimSpace(entry.EntityType)),
		EntityID:      strings.TrimSpace(entry.EntityID),
		CorrelationID: middleware.CorrelationIDFromContext(ctx),
		Metadata:      sanitizeMetadata(entry.Metadata),
	}

	if err := s.repo.Create(ctx, &model); err != nil {
		s.logger.Error().Err(err).Str("action", model.Action).Msg("failed to persist activity log")
		return dto.ActivityResponse{}, err
	}

	return dto.NewActivityResponse(model), nil
}

func (s *activityService) List(ctx context.Context, req dto.ActivityListRequest) (dto.ActivityListResponse, error) {
	pageSize := clampPageSize(req.PageSize)
	filter := repository.ActivityLogFilter{
		Page:       maxInt(req.Page, 1),
		PageSize:   pageSize,
		Action:     strings.ToLower(strings.TrimSpace(req.Action)),
		EntityType: strings.ToLower(strings.TrimSpace(req.EntityType)),
		EntityID:   strings.TrimSpace(req.EntityID),
		Since:      req.Since,
		Until:      req.Until,
	}
	if req.Since != nil && req.Until != nil && !req.Since.Before(*req.Until) {
		return dto.ActivityListResponse{}, ErrInvalidActivityWindow
	}
	if req.ActorID > 0 {
		filter.ActorID = &req.ActorID
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.ActivityListResponse{}, err
	}

	responses := make([]dto.ActivityResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, dto.NewActivityResponse(entry))
	}

	return dto.ActivityListResponse{Items: responses, Pagination: paginationMeta(filter.Page, pageSize, total)}, nil
}

func sanitizeMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	if metadata == nil {
		return datatypes.JSONMap{}
	}

	sanitized := datatypes.JSONMap{}
	for key, value := range metadata {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "email") || strings.Contains(lower, "token") {
			sanitized[key] = "***"
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}

func normalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	if r == "" {
		return "system"
	}
	return r
}

func paginationMeta(page, pageSize int, total int64) dto.PaginationMeta {
	meta := dto.PaginationMeta{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
	}
	if pageSize > 0 {
		meta.TotalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	} else {
		meta.TotalPages = 1
	}
	return meta
}

func clampPageSize(size int) int {
	if size <= 0 {
		return 20
	}
	if size > 100 {
		return 100
	}
	return size
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
