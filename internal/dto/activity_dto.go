package dto

import (
	"time"

	"gorm.io/datatypes"

	"github.com/noah-isme/gptstore-api/internal/models"
)

// ActivityListRequest defines filters for retrieving activity logs.
type ActivityListRequest struct {
	Page       int
	PageSize   int
	ActorID    uint
	Action     string
	EntityType string
	EntityID   string
	Since      *time.Time
	Until      *time.Time
}

// ActivityResponse serializes activity log entries.
type ActivityResponse struct {
	ID            uint                   `json:"id"`
	ActorID       uint                   `json:"actor_id"`
	ActorRole     string                 `json:"actor_role"`
	Action        string                 `json:"action"`
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Metadata      map[string]interface{} `json:"metadata"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ActivityListResponse wraps paginated activity logs.
type ActivityListResponse struct {
	Items      []ActivityResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// NewActivityResponse converts a model into an activity DTO.
func NewActivityResponse(entry models.ActivityLog) ActivityResponse {
	return ActivityResponse{
		ID:            entry.ID,
		ActorID:       entry.ActorID,
		ActorRole:     entry.ActorRole,
		Action:        entry.Action,
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		CorrelationID: entry.CorrelationID,
		Metadata:      metadataFromJSON(entry.Metadata),
		CreatedAt:     entry.CreatedAt,
	}
}

func metadataFromJSON(data datatypes.JSONMap) map[string]interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	result := make(map[string]interface{}, len(data))
	for key, value := range data {
		result[key] = value
	}
	return result
}
