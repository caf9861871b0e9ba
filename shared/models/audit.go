package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is the machine-oriented compliance trail: who did what, when and
// from where. Rows are append-only; only the retention job deletes them.
type AuditLog struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	UserID     uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	UserName   string    `json:"user_name"`
	Action     string    `json:"action" gorm:"not null;index"`
	Resource   string    `json:"resource" gorm:"not null"`
	ResourceID string    `json:"resource_id" gorm:"index"`
	Metadata   string    `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// ActivityEvent is the human-facing timeline entry. It is persisted first
// and then broadcast live to the tenant channel.
type ActivityEvent struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID  `json:"tenant_id" gorm:"type:uuid;not null;index"`
	ProjectID  *uuid.UUID `json:"project_id,omitempty" gorm:"type:uuid;index"`
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;index"`
	UserName   string     `json:"user_name"`
	Action     string     `json:"action" gorm:"not null"`
	EntityType string     `json:"entity_type" gorm:"not null;index"`
	EntityID   string     `json:"entity_id" gorm:"index"`
	Metadata   string     `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	CreatedAt  time.Time  `json:"created_at" gorm:"index"`
}

// TableName returns the table name for the ActivityEvent model
func (ActivityEvent) TableName() string {
	return "activity_events"
}
