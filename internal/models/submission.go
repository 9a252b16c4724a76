package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gptstore-api/internal/validation"
)

// KnowledgeFile describes a file attached to a submission's knowledge base.
type KnowledgeFile struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	URL       string `json:"url,omitempty"`
}

// Submission is a published GPT configuration awaiting or having undergone validation.
type Submission struct {
	ID               string                             `gorm:"primaryKey;size:36" json:"id"`
	PublisherID      uint                               `gorm:"index" json:"publisher_id"`
	Name             string                             `gorm:"size:100;not null" json:"name"`
	Version          string                             `gorm:"size:32;not null" json:"version"`
	Description      string                             `gorm:"type:text" json:"description"`
	Category         string                             `gorm:"size:64;index" json:"category"`
	TagsRaw          string                             `gorm:"column:tags;type:text" json:"-"`
	LicenseType      string                             `gorm:"size:32;not null" json:"license_type"`
	LicenseText      string                             `gorm:"type:text" json:"license_text"`
	SystemPrompt     string                             `gorm:"type:text;not null" json:"system_prompt"`
	Temperature      float64                            `gorm:"not null" json:"temperature"`
	TopP             float64                            `gorm:"not null" json:"top_p"`
	MaxTokens        int                                `gorm:"not null" json:"max_tokens"`
	KnowledgeContext string                             `gorm:"type:text" json:"knowledge_context"`
	KnowledgeFiles   datatypes.JSONSlice[KnowledgeFile] `json:"knowledge_files"`
	Status           validation.SubmissionStatus        `gorm:"size:32;not null;index" json:"status"`
	AccuracyScore    *float64                           `json:"accuracy_score"`
	CreatedAt        time.Time                          `json:"created_at"`
	UpdatedAt        time.Time                          `json:"updated_at"`
	Tags             []string                           `gorm:"-" json:"tags"`
}

// BeforeCreate assigns an identifier and default status.
func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = validation.StatusPending
	}
	return nil
}

// BeforeSave normalises tag data before persisting.
func (s *Submission) BeforeSave(tx *gorm.DB) error {
	s.TagsRaw = encodeTags(s.Tags)
	return nil
}

// AfterFind hydrates the tag list after retrieval.
func (s *Submission) AfterFind(tx *gorm.DB) error {
	s.Tags = decodeTags(s.TagsRaw)
	return nil
}

// IsValidating reports whether a validation cycle is in flight.
func (s Submission) IsValidating() bool {
	return s.Status == validation.StatusValidating
}

// ScoringSubject extracts the fields the validation engine reads.
func (s Submission) ScoringSubject() validation.Subject {
	return validation.Subject{
		SystemPrompt: s.SystemPrompt,
		Temperature:  s.Temperature,
		TopP:         s.TopP,
		MaxTokens:    s.MaxTokens,
	}
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	cleaned := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(strings.ToLower(tag))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	if len(cleaned) == 0 {
		return ""
	}
	return "|" + strings.Join(cleaned, "|") + "|"
}

func decodeTags(raw string) []string {
	trimmed := strings.Trim(raw, "|")
	if trimmed == "" {
		return []string{}
	}
	parts := strings.Split(trimmed, "|")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			tags = append(tags, part)
		}
	}
	return tags
}
