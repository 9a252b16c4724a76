package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gptstore-api/internal/dto"
	"github.com/noah-isme/gptstore-api/internal/middleware"
	"github.com/noah-isme/gptstore-api/internal/service"
	"github.com/noah-isme/gptstore-api/internal/utils"
)

// SubmissionHandler manages the publish workflow and marketplace endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	publisherOnly := middleware.AuthOptions{Role: middleware.AuthRolePublisher}

	router.Get("", h.list)
	router.Post("", middleware.WithAuth(h.publish, publisherOnly))
	router.Get("/:id", h.get)
	router.Put("/:id", middleware.WithAuth(h.resubmit, publisherOnly))
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	pageSize, err := parseQueryInt(c, "page_size")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page size")
	}

	req := dto.SubmissionListRequest{
		Page:     page,
		PageSize: pageSize,
		Category: c.Query("category"),
		Status:   c.Query("status"),
		Tag:      c.Query("tag"),
		Search:   c.Query("search"),
	}

	response, err := h.service.List(requestContext(c), req)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", response)
}

func (h *SubmissionHandler) publish(c *fiber.Ctx) error {
	var payload dto.SubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.Publish(requestContext(c), activityActorFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission published", response)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	response, err := h.service.Get(requestContext(c), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", response)
}

func (h *SubmissionHandler) resubmit(c *fiber.Ctx) error {
	var payload dto.SubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.Resubmit(requestContext(c), activityActorFromContext(c), c.Params("id"), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission resubmitted", response)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return sendValidationError(c, err)
	case errors.Is(err, service.ErrSubmissionContentEmpty):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrSubmissionForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
	case errors.Is(err, service.ErrValidationInProgress):
		return utils.SendError(c, fiber.StatusConflict, "validation in progress")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
