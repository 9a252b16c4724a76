package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gptstore-api/internal/dto"
	"github.com/noah-isme/gptstore-api/internal/middleware"
	"github.com/noah-isme/gptstore-api/internal/service"
	"github.com/noah-isme/gptstore-api/internal/utils"
)

// ValidationHandler exposes the validation trigger, history and event stream.
type ValidationHandler struct {
	service service.ValidationService
	events  service.ValidationEventBus
	limiter fiber.Handler
	logger  zerolog.Logger
}

// NewValidationHandler builds a validation handler. The limiter guards the
// trigger endpoint and events enables the websocket stream; both are optional.
func NewValidationHandler(service service.ValidationService, events service.ValidationEventBus, limiter fiber.Handler, logger zerolog.Logger) *ValidationHandler {
	return &ValidationHandler{
		service: service,
		events:  events,
		limiter: limiter,
		logger:  logger.With().Str("component", "validation_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *ValidationHandler) Register(router fiber.Router) {
	if h.events != nil {
		router.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("request_ctx", requestContext(c))
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		router.Get("/ws", websocket.New(h.stream))
	}

	trigger := []fiber.Handler{middleware.WithAuth(h.trigger, middleware.AuthOptions{Role: middleware.AuthRoleAny, RequireUser: true})}
	if h.limiter != nil {
		trigger = append([]fiber.Handler{h.limiter}, trigger...)
	}
	router.Post("", trigger...)
	router.Get("", h.history)
}

func (h *ValidationHandler) trigger(c *fiber.Ctx) error {
	var payload dto.ValidationRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.service.RequestValidation(requestContext(c), activityActorFromContext(c), payload)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "validation completed", response)
}

func (h *ValidationHandler) history(c *fiber.Ctx) error {
	modelID := strings.TrimSpace(c.Query("modelId"))
	if modelID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, service.ErrModelIDRequired.Error())
	}

	response, err := h.service.History(requestContext(c), modelID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "validation history", response)
}

func (h *ValidationHandler) stream(conn *websocket.Conn) {
	submissionID := strings.TrimSpace(conn.Query("submission_id"))
	logger := h.logger.With().Str("submission_id", submissionID).Logger()
	if ctx, ok := conn.Locals("request_ctx").(context.Context); ok {
		if correlation := middleware.CorrelationIDFromContext(ctx); correlation != "" {
			logger = logger.With().Str("correlation_id", correlation).Logger()
		}
	}

	events, cancel := h.events.Subscribe(submissionID)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger.Info().Msg("validation stream connected")
	defer logger.Info().Msg("validation stream disconnected")

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Warn().Err(err).Msg("failed to write validation event")
				return
			}
		}
	}
}

func (h *ValidationHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrModelIDRequired), errors.Is(err, service.ErrInvalidValidationMode):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case isValidationError(err):
		return sendValidationError(c, err)
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "model not found")
	case errors.Is(err, service.ErrValidationInProgress):
		return utils.SendError(c, fiber.StatusConflict, "validation already in progress")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("validation request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "validation failed")
	}
}
