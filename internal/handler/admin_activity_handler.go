package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gptstore-api/internal/dto"
	"github.com/noah-isme/gptstore-api/internal/service"
	"github.com/noah-isme/gptstore-api/internal/utils"
)

// AdminActivityHandler lets admins and reviewers audit the submission lifecycle.
type AdminActivityHandler struct {
	service service.ActivityService
	logger  zerolog.Logger
}

// NewAdminActivityHandler constructs the handler.
func NewAdminActivityHandler(service service.ActivityService, logger zerolog.Logger) *AdminActivityHandler {
	return &AdminActivityHandler{
		service: service,
		logger:  logger.With().Str("component", "admin_activity_handler").Logger(),
	}
}

// Register attaches activity log routes to the router group.
func (h *AdminActivityHandler) Register(router fiber.Router) {
	router.Get("", h.list)
}

func (h *AdminActivityHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	if page <= 0 {
		page = 1
	}

	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page size")
	}

	actorIDInt, err := parseQueryInt(c, "actor_id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid actor id")
	}

	req := dto.ActivityListRequest{
		Page:       page,
		PageSize:   pageSize,
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
	}
	if actorIDInt > 0 {
		req.ActorID = uint(actorIDInt)
	}
	if req.Since, err = parseQueryTime(c, "since"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid since timestamp")
	}
	if req.Until, err = parseQueryTime(c, "until"); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid until timestamp")
	}

	response, err := h.service.List(requestContext(c), req)
	if errors.Is(err, service.ErrInvalidActivityWindow) {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list activity logs")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list activity logs")
	}

	return utils.OK(c, response.Items, "activity logs", response.Pagination)
}
