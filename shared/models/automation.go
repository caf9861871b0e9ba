package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TriggerType names the domain event an automation reacts to, e.g.
// "rfi_created" or "task_updated".
type TriggerType string

// ActionType names what an automation does when it fires.
type ActionType string

const (
	ActionSendNotification  ActionType = "send_notification"
	ActionUpdateEntityField ActionType = "update_entity_field"
	ActionSendEmail         ActionType = "send_email"
	ActionCreateEntity      ActionType = "create_entity"
)

// Automation is a stored (trigger type -> action type) rule owned by a
// tenant. The engine evaluates enabled rules at trigger time only.
type Automation struct {
	ID            uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID      `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Name          string         `json:"name" gorm:"not null"`
	TriggerType   TriggerType    `json:"trigger_type" gorm:"type:varchar(60);not null;index"`
	ActionType    ActionType     `json:"action_type" gorm:"type:varchar(40);not null"`
	Configuration string         `json:"configuration" gorm:"type:jsonb;default:'{}'"`
	Enabled       bool           `json:"enabled" gorm:"default:true;index"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"deleted_at" gorm:"index"`
}

// TableName returns the table name for the Automation model
func (Automation) TableName() string {
	return "automations"
}

// NotificationConfig configures a send_notification action.
type NotificationConfig struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// FieldUpdateConfig configures an update_entity_field action. Field must be
// in the target entity's allow-list; the engine rejects it otherwise.
type FieldUpdateConfig struct {
	EntityType string `json:"entity_type"`
	Field      string `json:"field"`
	Value      string `json:"value"`
}

// EmailConfig configures a send_email action.
type EmailConfig struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// CreateEntityConfig configures a create_entity action. Creation goes
// through the owning domain service so its invariants are respected.
type CreateEntityConfig struct {
	EntityType string            `json:"entity_type"`
	Fields     map[string]string `json:"fields"`
}

// ActionConfig is the decoded, typed form of the Configuration column.
// Exactly one member is set, matching the automation's ActionType.
type ActionConfig struct {
	Notification *NotificationConfig
	FieldUpdate  *FieldUpdateConfig
	Email        *EmailConfig
	CreateEntity *CreateEntityConfig
}

// DecodeConfig parses the JSON configuration blob once, into the variant
// matching the action type. Malformed blobs fail here, not at dispatch.
func (a *Automation) DecodeConfig() (*ActionConfig, error) {
	raw := a.Configuration
	if raw == "" {
		raw = "{}"
	}

	cfg := &ActionConfig{}
	var err error
	switch a.ActionType {
	case ActionSendNotification:
		cfg.Notification = &NotificationConfig{}
		err = json.Unmarshal([]byte(raw), cfg.Notification)
	case ActionUpdateEntityField:
		cfg.FieldUpdate = &FieldUpdateConfig{}
		err = json.Unmarshal([]byte(raw), cfg.FieldUpdate)
	case ActionSendEmail:
		cfg.Email = &EmailConfig{}
		err = json.Unmarshal([]byte(raw), cfg.Email)
	case ActionCreateEntity:
		cfg.CreateEntity = &CreateEntityConfig{}
		err = json.Unmarshal([]byte(raw), cfg.CreateEntity)
	default:
		return nil, fmt.Errorf("unsupported action type %q", a.ActionType)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", a.ActionType, err)
	}
	return cfg, nil
}
