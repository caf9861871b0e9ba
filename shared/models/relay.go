package models

import (
	"time"

	"github.com/google/uuid"
)

// FailedDelivery records a domain event that could not be forwarded to the
// third-party webhook. The relay sweeps these for retry with a capped count.
type FailedDelivery struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	EventID      string     `json:"event_id" gorm:"not null;index"`
	TenantID     uuid.UUID  `json:"tenant_id" gorm:"type:uuid;not null;index"`
	EventType    string     `json:"event_type" gorm:"not null"`
	Payload      string     `json:"payload" gorm:"type:jsonb;not null"`
	ErrorMessage string     `json:"error_message" gorm:"not null"`
	RetryCount   int        `json:"retry_count" gorm:"default:0"`
	Status       string     `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty" gorm:"index"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// TableName returns the table name for the FailedDelivery model
func (FailedDelivery) TableName() string {
	return "failed_deliveries"
}
