package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gptstore-api/internal/models"
	"github.com/noah-isme/gptstore-api/internal/repository"
	"github.com/noah-isme/gptstore-api/internal/validation"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

type memorySubmissionRepo struct {
	mu          sync.Mutex
	items       map[string]models.Submission
	seq         int
	completeErr error
}

func newMemorySubmissionRepo(items ...models.Submission) *memorySubmissionRepo {
	repo := &memorySubmissionRepo{items: make(map[string]models.Submission)}
	for _, item := range items {
		repo.items[item.ID] = item
	}
	return repo
}

func (m *memorySubmissionRepo) Create(ctx context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if submission.ID == "" {
		m.seq++
		submission.ID = fmt.Sprintf("sub-%03d", m.seq)
	}
	if submission.Status == "" {
		submission.Status = validation.StatusPending
	}
	now := time.Now()
	submission.CreatedAt = now
	submission.UpdatedAt = now
	m.items[submission.ID] = *submission
	return nil
}

func (m *memorySubmissionRepo) Update(ctx context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[submission.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if current.IsValidating() {
		return repository.ErrSubmissionBusy
	}
	submission.AccuracyScore = current.AccuracyScore
	submission.UpdatedAt = time.Now()
	m.items[submission.ID] = *submission
	return nil
}

func (m *memorySubmissionRepo) GetByID(ctx context.Context, id string) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return item, nil
}

func (m *memorySubmissionRepo) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok, nil
}

func (m *memorySubmissionRepo) List(ctx context.Context, filter repository.SubmissionFilter) ([]models.Submission, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]models.Submission, 0, len(m.items))
	for _, item := range m.items {
		if filter.Category != "" && item.Category != strings.ToLower(filter.Category) {
			continue
		}
		if filter.Status != "" && string(item.Status) != filter.Status {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, int64(len(items)), nil
}

func (m *memorySubmissionRepo) BeginValidation(ctx context.Context, id string, staleBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if item.IsValidating() && !item.UpdatedAt.Before(staleBefore) {
		return repository.ErrSubmissionBusy
	}
	item.Status = validation.StatusValidating
	item.UpdatedAt = time.Now()
	m.items[id] = item
	return nil
}

func (m *memorySubmissionRepo) CompleteValidation(ctx context.Context, id string, status validation.SubmissionStatus, accuracy float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	item, ok := m.items[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	item.Status = status
	item.AccuracyScore = &accuracy
	item.UpdatedAt = time.Now()
	m.items[id] = item
	return nil
}

func (m *memorySubmissionRepo) RestoreStatus(ctx context.Context, id string, status validation.SubmissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || !item.IsValidating() {
		return nil
	}
	item.Status = status
	m.items[id] = item
	return nil
}

func (m *memorySubmissionRepo) status(id string) validation.SubmissionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Status
}

type memoryRunRepo struct {
	mu          sync.Mutex
	runs        []models.ValidationRun
	finalizeErr error
}

func (m *memoryRunRepo) Create(ctx context.Context, run *models.ValidationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = uint(len(m.runs) + 1)
	run.CreatedAt = time.Now()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memoryRunRepo) Finalize(ctx context.Context, run *models.ValidationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	for i := range m.runs {
		if m.runs[i].ID != run.ID {
			continue
		}
		if m.runs[i].IsOpen() {
			m.runs[i] = *run
		}
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (m *memoryRunRepo) SupersedeOpen(ctx context.Context, submissionID string, mode validation.Mode, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for i := range m.runs {
		run := &m.runs[i]
		if run.SubmissionID == submissionID && run.Mode == mode && run.IsOpen() {
			run.Status = validation.VerdictFailed
			completed := at
			run.CompletedAt = &completed
			affected++
		}
	}
	return affected, nil
}

func (m *memoryRunRepo) ListBySubmission(ctx context.Context, submissionID string) ([]models.ValidationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]models.ValidationRun, 0)
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].SubmissionID == submissionID {
			runs = append(runs, m.runs[i])
		}
	}
	return runs, nil
}

func (m *memoryRunRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}
