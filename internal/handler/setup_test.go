package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gptstore-api/internal/config"
	"github.com/noah-isme/gptstore-api/internal/handler"
	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/repository"
	"github.com/noah-isme/gptstore-api/internal/router"
	"github.com/noah-isme/gptstore-api/internal/service"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

type testApp struct {
	app *fiber.App
	db  *gorm.DB
}

var handlerMeasurement = validation.Measurement{
	AvgResponseTime:  950,
	AccuracyScore:    92,
	ConsistencyScore: 88,
	SafetyScore:      97,
}

// setupMarketplaceApp wires the full stack on sqlite. Requests authenticate
// through X-Test-User and X-Test-Role headers instead of JWTs.
func setupMarketplaceApp(t *testing.T, provider validation.ScoreProvider) testApp {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Submission{}, &models.ValidationRun{}, &models.ActivityLog{}))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	submissionRepo := repository.NewSubmissionRepository(db)
	activity := service.NewActivityService(repository.NewActivityLogRepository(db), logger)
	events := service.NewValidationEventBus(nil, "", nil, logger)
	validations := service.NewValidationService(
		submissionRepo,
		repository.NewValidationRunRepository(db),
		validation.NewEngine(provider),
		activity,
		events,
		nil,
		validate,
		logger,
		service.ValidationConfig{},
	)
	submissions := service.NewSubmissionService(submissionRepo, validations, activity, validate, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test", JWTSecret: "secret"}, router.Dependencies{
		SubmissionHandler:    handler.NewSubmissionHandler(submissions, logger),
		ValidationHandler:    handler.NewValidationHandler(validations, events, nil, logger),
		AdminActivityHandler: handler.NewAdminActivityHandler(activity, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			if raw := c.Get("X-Test-User"); raw != "" {
				id, err := strconv.Atoi(raw)
				if err != nil {
					return fiber.ErrUnauthorized
				}
				c.Locals("user_id", uint(id))
			}
			if role := c.Get("X-Test-Role"); role != "" {
				c.Locals("user_role", role)
			}
			return c.Next()
		},
	})

	return testApp{app: app, db: db}
}

func (a testApp) do(t *testing.T, method, path string, body interface{}, userID uint, role string) (int, apiEnvelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("X-Test-User", strconv.Itoa(int(userID)))
	}
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope apiEnvelope
	if resp.StatusCode != http.StatusUpgradeRequired {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	}
	return resp.StatusCode, envelope
}

func (a testApp) seedSubmission(t *testing.T, id string, promptLength int) {
	t.Helper()
	submission := models.Submission{
		ID:           id,
		PublisherID:  1,
		Name:         "Travel Planner",
		Version:      "1.0.0",
		Description:  "Plans trips",
		Category:     "travel",
		LicenseType:  "mit",
		SystemPrompt: strings.Repeat("p", promptLength),
		Temperature:  0.5,
		TopP:         0.9,
		MaxTokens:    1024,
		Status:       validation.StatusPending,
	}
	require.NoError(t, a.db.Create(&submission).Error)
}

func floatPtr(v float64) *float64 {
	return &v
}
