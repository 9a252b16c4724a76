package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog is one audit entry in a submission's lifecycle: a publish, a
// re-submission or a completed validation run.
type ActivityLog struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	ActorID       uint              `gorm:"not null;index" json:"actor_id"`
	ActorRole     string            `gorm:"size:32;not null" json:"actor_role"`
	Action        string            `gorm:"size:64;not null;index" json:"action"`
	EntityType    string            `gorm:"size:64;not null;index:idx_activity_entity" json:"entity_type"`
	EntityID      string            `gorm:"size:64;index:idx_activity_entity" json:"entity_id"`
	CorrelationID string            `gorm:"size:128" json:"correlation_id,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time         `gorm:"index" json:"created_at"`
}
