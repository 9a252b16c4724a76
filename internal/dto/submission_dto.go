package dto

import (
	"time"

	"github.com/noah-isme/gptstore-api/internal/models"
)

// KnowledgeFileRequest describes metadata for an attached knowledge file.
type KnowledgeFileRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	MimeType  string `json:"mime_type" validate:"omitempty,max=128"`
	SizeBytes int64  `json:"size_bytes" validate:"gte=0"`
	URL       string `json:"url" validate:"omitempty,url,max=512"`
}

// SubmissionRequest is the publish and re-submit payload for a GPT configuration.
type SubmissionRequest struct {
	Name             string                 `json:"name" validate:"required,min=3,max=100"`
	Version          string                 `json:"version" validate:"required,semver"`
	Description      string                 `json:"description" validate:"required,max=1000"`
	Category         string                 `json:"category" validate:"required,max=64"`
	Tags             []string               `json:"tags" validate:"omitempty,max=10,dive,required,max=32"`
	LicenseType      string                 `json:"license_type" validate:"required,oneof=mit apache-2.0 gpl-3.0 cc-by-4.0 cc-by-nc-4.0 proprietary custom"`
	LicenseText      string                 `json:"license_text" validate:"required_if=LicenseType custom,max=20000"`
	SystemPrompt     string                 `json:"system_prompt" validate:"required"`
	Temperature      *float64               `json:"temperature" validate:"required,gte=0,lte=1"`
	TopP             *float64               `json:"top_p" validate:"required,gte=0,lte=1"`
	MaxTokens        int                    `json:"max_tokens" validate:"required,gte=1,lte=4096"`
	KnowledgeContext string                 `json:"knowledge_context" validate:"omitempty,max=50000"`
	KnowledgeFiles   []KnowledgeFileRequest `json:"knowledge_files" validate:"omitempty,max=10,dive"`
	AutoValidate     bool                   `json:"auto_validate"`
}

// SubmissionListRequest defines marketplace listing filters.
type SubmissionListRequest struct {
	Page     int
	PageSize int
	Category string
	Status   string `validate:"omitempty,oneof=pending validating approved needs_revision rejected"`
	Tag      string
	Search   string
}

// SubmissionResponse represents a submission to API consumers.
type SubmissionResponse struct {
	ID               string                 `json:"id"`
	PublisherID      uint                   `json:"publisher_id"`
	Name             string                 `json:"name"`
	Version          string                 `json:"version"`
	Description      string                 `json:"description"`
	Category         string                 `json:"category"`
	Tags             []string               `json:"tags"`
	LicenseType      string                 `json:"license_type"`
	LicenseText      string                 `json:"license_text,omitempty"`
	SystemPrompt     string                 `json:"system_prompt"`
	Temperature      float64                `json:"temperature"`
	TopP             float64                `json:"top_p"`
	MaxTokens        int                    `json:"max_tokens"`
	KnowledgeContext string                 `json:"knowledge_context,omitempty"`
	KnowledgeFiles   []models.KnowledgeFile `json:"knowledge_files"`
	Status           string                 `json:"status"`
	AccuracyScore    *float64               `json:"accuracy_score"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// SubmissionListResponse wraps a paginated marketplace listing.
type SubmissionListResponse struct {
	Items      []SubmissionResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// SubmissionPublishResponse is returned after publishing, with the optional auto-validation verdict.
type SubmissionPublishResponse struct {
	Submission SubmissionResponse  `json:"submission"`
	Validation *ValidationResponse `json:"validation,omitempty"`
}

// NewSubmissionResponse converts a submission model into a DTO.
func NewSubmissionResponse(submission models.Submission) SubmissionResponse {
	tags := submission.Tags
	if tags == nil {
		tags = []string{}
	}
	files := []models.KnowledgeFile(submission.KnowledgeFiles)
	if files == nil {
		files = []models.KnowledgeFile{}
	}

	return SubmissionResponse{
		ID:               submission.ID,
		PublisherID:      submission.PublisherID,
		Name:             submission.Name,
		Version:          submission.Version,
		Description:      submission.Description,
		Category:         submission.Category,
		Tags:             tags,
		LicenseType:      submission.LicenseType,
		LicenseText:      submission.LicenseText,
		SystemPrompt:     submission.SystemPrompt,
		Temperature:      submission.Temperature,
		TopP:             submission.TopP,
		MaxTokens:        submission.MaxTokens,
		KnowledgeContext: submission.KnowledgeContext,
		KnowledgeFiles:   files,
		Status:           string(submission.Status),
		AccuracyScore:    submission.AccuracyScore,
		CreatedAt:        submission.CreatedAt,
		UpdatedAt:        submission.UpdatedAt,
	}
}

// NewSubmissionResponseSlice converts a slice of submissions.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}
	return responses
}
