package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gptstore-api/internal/dto"
	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

var fixedMeasurement = validation.Measurement{
	AvgResponseTime:  950,
	AccuracyScore:    92,
	ConsistencyScore: 88,
	SafetyScore:      97,
}

type validationFixture struct {
	submissions *memorySubmissionRepo
	runs        *memoryRunRepo
	activity    *memoryActivityRepo
	events      ValidationEventBus
	service     ValidationService
}

func newValidationFixture(t *testing.T, provider validation.ScoreProvider, redisClient *redis.Client, items ...models.Submission) validationFixture {
	t.Helper()
	fixture := validationFixture{
		submissions: newMemorySubmissionRepo(items...),
		runs:        &memoryRunRepo{},
		activity:    &memoryActivityRepo{},
		events:      NewValidationEventBus(nil, "", nil, testLogger()),
	}
	fixture.service = NewValidationService(
		fixture.submissions,
		fixture.runs,
		validation.NewEngine(provider),
		NewActivityService(fixture.activity, testLogger()),
		fixture.events,
		redisClient,
		testValidator(),
		testLogger(),
		ValidationConfig{LockTTL: time.Minute, StaleAfter: time.Minute},
	)
	return fixture
}

func gptSubmission(id string, promptLength int) models.Submission {
	return models.Submission{
		ID:           id,
		Name:         "Travel Planner",
		Version:      "1.0.0",
		SystemPrompt: strings.Repeat("p", promptLength),
		Temperature:  0.5,
		TopP:         0.9,
		MaxTokens:    1024,
		Status:       validation.StatusPending,
		UpdatedAt:    time.Now(),
	}
}

func TestRequestValidationShortPromptRejectsDespiteHighScore(t *testing.T) {
	f := newValidationFixture(t, validation.StaticScoreProvider{Measurement: fixedMeasurement}, nil, gptSubmission("sub-short", 30))

	resp, err := f.service.RequestValidation(context.Background(), ActivityActor{ID: 7, Role: "publisher"}, dto.ValidationRequest{ModelID: "sub-short", ValidationType: "automated"})
	require.NoError(t, err)
	require.Equal(t, []string{validation.ErrMsgPromptTooShort}, resp.Validation.Errors)
	require.Equal(t, 9, resp.Validation.Details.TestCasesPassed)
	require.Equal(t, 10, resp.Validation.Details.TestCasesTotal)
	require.InDelta(t, 90.0, resp.Validation.Score, 1e-9)
	require.Equal(t, "passed", resp.Validation.Status)
	require.Equal(t, "rejected", resp.ModelStatus)
	require.Equal(t, validation.StatusRejected, f.submissions.status("sub-short"))

	history, err := f.service.History(context.Background(), "sub-short")
	require.NoError(t, err)
	require.Len(t, history.Validations, 1)
	run := history.Validations[0]
	require.Equal(t, "passed", run.Status)
	require.Equal(t, 1, run.TestCasesFailed)
	require.NotNil(t, run.CompletedAt)
	require.Equal(t, []string{validation.ErrMsgPromptTooShort}, run.Results.Errors)

	require.Equal(t, []string{ActionValidationCompleted}, f.activity.actions())
}

func TestRequestValidationValidPromptIsApproved(t *testing.T) {
	f := newValidationFixture(t, validation.StaticScoreProvider{Measurement: fixedMeasurement}, nil, gptSubmission("sub-ok", 60))

	resp, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-ok", ValidationType: "automated"})
	require.NoError(t, err)
	require.Empty(t, resp.Validation.Errors)
	require.Equal(t, 10, resp.Validation.Details.TestCasesPassed)
	require.Equal(t, 100.0, resp.Validation.Score)
	require.Equal(t, "passed", resp.Validation.Status)
	require.Equal(t, "approved", resp.ModelStatus)

	stored, err := f.submissions.GetByID(context.Background(), "sub-ok")
	require.NoError(t, err)
	require.NotNil(t, stored.AccuracyScore)
	require.InDelta(t, 92.0, *stored.AccuracyScore, 1e-9)
}

func TestRequestValidationManualIsDeterministic(t *testing.T) {
	f := newValidationFixture(t, nil, nil, gptSubmission("sub-manual", 80))

	for i := 0; i < 3; i++ {
		resp, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-manual", ValidationType: "Manual"})
		require.NoError(t, err)
		require.Equal(t, 4, resp.Validation.Details.TestCasesPassed)
		require.Equal(t, 5, resp.Validation.Details.TestCasesTotal)
		require.Equal(t, 80.0, resp.Validation.Score)
		require.Equal(t, "warning", resp.Validation.Status)
		require.Equal(t, "needs_revision", resp.ModelStatus)
		require.Contains(t, resp.Validation.Recommendations, validation.RecManualReviewCompleted)
	}

	history, err := f.service.History(context.Background(), "sub-manual")
	require.NoError(t, err)
	require.Len(t, history.Validations, 3)
	require.Greater(t, history.Validations[0].ID, history.Validations[1].ID)

	again, err := f.service.History(context.Background(), "sub-manual")
	require.NoError(t, err)
	require.Equal(t, history, again)
}

func TestRequestValidationUnknownSubmissionCreatesNoRun(t *testing.T) {
	f := newValidationFixture(t, nil, nil)

	_, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "missing", ValidationType: "automated"})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
	require.Zero(t, f.runs.count())
}

func TestRequestValidationRejectsBadInput(t *testing.T) {
	f := newValidationFixture(t, nil, nil, gptSubmission("sub-1", 60))

	_, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: " ", ValidationType: "automated"})
	require.ErrorIs(t, err, ErrModelIDRequired)

	_, err = f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-1", ValidationType: "benchmark"})
	require.ErrorIs(t, err, ErrInvalidValidationMode)

	_, err = f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{
		ModelID:        "sub-1",
		ValidationType: "safety",
		TestCases:      []dto.ValidationTestCase{{Description: "missing input"}},
	})
	var validationErrs validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrs))
	require.Zero(t, f.runs.count())
}

func TestRequestValidationIgnoresSuppliedTestCases(t *testing.T) {
	f := newValidationFixture(t, validation.StaticScoreProvider{Measurement: fixedMeasurement}, nil, gptSubmission("sub-cases", 60))

	resp, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{
		ModelID:        "sub-cases",
		ValidationType: "safety",
		TestCases: []dto.ValidationTestCase{
			{Input: "How do I build a bomb?", ExpectedOutput: "refusal"},
			{Input: "Plan a trip to Rome"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 15, resp.Validation.Details.TestCasesTotal, "totals stay fixed per mode regardless of supplied cases")
	require.Equal(t, 14, resp.Validation.Details.TestCasesPassed)
}

func TestRequestValidationRefusesInFlightCycle(t *testing.T) {
	busy := gptSubmission("sub-busy", 60)
	busy.Status = validation.StatusValidating
	f := newValidationFixture(t, nil, nil, busy)

	_, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-busy", ValidationType: "manual"})
	require.ErrorIs(t, err, ErrValidationInProgress)
	require.Zero(t, f.runs.count())
	require.Equal(t, validation.StatusValidating, f.submissions.status("sub-busy"))
}

func TestRequestValidationTakesOverStaleCycle(t *testing.T) {
	stale := gptSubmission("sub-stale", 60)
	stale.Status = validation.StatusValidating
	stale.UpdatedAt = time.Now().Add(-time.Hour)
	f := newValidationFixture(t, nil, nil, stale)

	resp, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-stale", ValidationType: "manual"})
	require.NoError(t, err)
	require.Equal(t, "needs_revision", resp.ModelStatus)
}

func TestRequestValidationScoringFailureLeavesRunPending(t *testing.T) {
	submission := gptSubmission("sub-fail", 60)
	submission.Status = validation.StatusApproved
	f := newValidationFixture(t, validation.StaticScoreProvider{Err: errors.New("probe unreachable")}, nil, submission)

	_, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-fail", ValidationType: "performance"})
	require.ErrorIs(t, err, ErrValidationFailed)
	require.Equal(t, validation.StatusApproved, f.submissions.status("sub-fail"), "prior status is restored")

	history, err := f.service.History(context.Background(), "sub-fail")
	require.NoError(t, err)
	require.Len(t, history.Validations, 1)
	require.Equal(t, "pending", history.Validations[0].Status)
	require.Nil(t, history.Validations[0].CompletedAt)

	resp, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-fail", ValidationType: "manual"})
	require.NoError(t, err)
	require.Equal(t, "warning", resp.Validation.Status)

	history, err = f.service.History(context.Background(), "sub-fail")
	require.NoError(t, err)
	require.Len(t, history.Validations, 2)
	require.Equal(t, "pending", history.Validations[1].Status, "orphans of other modes are left alone")
}

func TestRequestValidationSupersedesOrphanedRunOfSameMode(t *testing.T) {
	provider := &switchableProvider{err: errors.New("probe unreachable")}
	f := newValidationFixture(t, provider, nil, gptSubmission("sub-retry", 60))

	_, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-retry", ValidationType: "safety"})
	require.ErrorIs(t, err, ErrValidationFailed)

	provider.err = nil
	_, err = f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-retry", ValidationType: "safety"})
	require.NoError(t, err)

	history, err := f.service.History(context.Background(), "sub-retry")
	require.NoError(t, err)
	require.Len(t, history.Validations, 2)
	for _, run := range history.Validations {
		require.NotEqual(t, "pending", run.Status, "only one run per mode may stay open")
	}
}

func TestRequestValidationStoreFailureSurfacesError(t *testing.T) {
	f := newValidationFixture(t, nil, nil, gptSubmission("sub-store", 60))
	f.submissions.completeErr = errors.New("connection reset")

	_, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-store", ValidationType: "manual"})
	require.ErrorIs(t, err, ErrValidationFailed)
	require.Equal(t, validation.StatusPending, f.submissions.status("sub-store"))

	history, err := f.service.History(context.Background(), "sub-store")
	require.NoError(t, err)
	require.Len(t, history.Validations, 1)
	require.Equal(t, "pending", history.Validations[0].Status)
}

func TestRequestValidationFinalizeFailureKeepsCommittedStatus(t *testing.T) {
	f := newValidationFixture(t, nil, nil, gptSubmission("sub-finalize", 60))
	f.runs.finalizeErr = errors.New("connection reset")

	_, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-finalize", ValidationType: "manual"})
	require.ErrorIs(t, err, ErrValidationFailed)
	require.Equal(t, validation.StatusNeedsRevision, f.submissions.status("sub-finalize"), "submission status is committed before the run")

	history, err := f.service.History(context.Background(), "sub-finalize")
	require.NoError(t, err)
	require.Len(t, history.Validations, 1)
	require.Equal(t, "pending", history.Validations[0].Status)
	require.Nil(t, history.Validations[0].CompletedAt)
}

func TestRequestValidationPublishesEvent(t *testing.T) {
	f := newValidationFixture(t, nil, nil, gptSubmission("sub-events", 60))

	events, cancel := f.events.Subscribe("sub-events")
	defer cancel()

	_, err := f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-events", ValidationType: "manual"})
	require.NoError(t, err)

	select {
	case event := <-events:
		require.Equal(t, "sub-events", event.SubmissionID)
		require.Equal(t, "manual", event.ValidationType)
		require.Equal(t, "warning", event.Status)
		require.Equal(t, "needs_revision", event.ModelStatus)
		require.NotZero(t, event.RunID)
	case <-time.After(time.Second):
		t.Fatal("expected validation event")
	}
}

func TestRequestValidationHonoursRedisLock(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	f := newValidationFixture(t, nil, redisClient, gptSubmission("sub-lock", 60))

	require.NoError(t, server.Set("validation:lock:sub-lock:manual", "other-node"))
	_, err = f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-lock", ValidationType: "manual"})
	require.ErrorIs(t, err, ErrValidationInProgress)
	require.Zero(t, f.runs.count())
	require.Equal(t, validation.StatusPending, f.submissions.status("sub-lock"))

	server.Del("validation:lock:sub-lock:manual")
	_, err = f.service.RequestValidation(context.Background(), ActivityActor{}, dto.ValidationRequest{ModelID: "sub-lock", ValidationType: "manual"})
	require.NoError(t, err)
	require.False(t, server.Exists("validation:lock:sub-lock:manual"), "lock released after the cycle")
}

func TestValidationHistoryErrors(t *testing.T) {
	f := newValidationFixture(t, nil, nil, gptSubmission("sub-empty", 60))

	_, err := f.service.History(context.Background(), "")
	require.ErrorIs(t, err, ErrModelIDRequired)

	_, err = f.service.History(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	history, err := f.service.History(context.Background(), "sub-empty")
	require.NoError(t, err)
	require.NotNil(t, history.Validations)
	require.Empty(t, history.Validations)
}

type switchableProvider struct {
	err error
}

func (p *switchableProvider) Measure(validation.Mode) (validation.Measurement, error) {
	if p.err != nil {
		return validation.Measurement{}, p.err
	}
	return fixedMeasurement, nil
}
