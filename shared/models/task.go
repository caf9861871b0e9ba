package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task is the reference tenant-scoped entity used by the automation engine
// and the dispatcher. Business validation rules live with the callers.
type Task struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID      `json:"tenant_id" gorm:"type:uuid;not null;index"`
	ProjectID   *uuid.UUID     `json:"project_id,omitempty" gorm:"type:uuid;index"`
	Title       string         `json:"title" gorm:"not null"`
	Description string         `json:"description"`
	Status      string         `json:"status" gorm:"type:varchar(20);default:'open'"`
	Priority    string         `json:"priority" gorm:"type:varchar(20);default:'medium'"`
	AssigneeID  *uuid.UUID     `json:"assignee_id,omitempty" gorm:"type:uuid;index"`
	CreatedBy   uuid.UUID      `json:"created_by" gorm:"type:uuid"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at" gorm:"index"`
}

// TableName returns the table name for the Task model
func (Task) TableName() string {
	return "tasks"
}

// Notification is an in-app notification row fanned out by the automation
// engine, paired with a realtime "notification" message.
type Notification struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Title     string    `json:"title"`
	Message   string    `json:"message" gorm:"not null"`
	Read      bool      `json:"read" gorm:"default:false;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for the Notification model
func (Notification) TableName() string {
	return "notifications"
}
