package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tenant represents an isolated customer organization. All data, files and
// realtime events are scoped to exactly one tenant.
type Tenant struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string         `json:"name" gorm:"not null"`
	Slug      string         `json:"slug" gorm:"uniqueIndex"`
	Plan      string         `json:"plan" gorm:"type:varchar(20);default:'free'"`
	IsActive  bool           `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	// Relationships
	Users    []User    `json:"users,omitempty" gorm:"foreignKey:TenantID"`
	Projects []Project `json:"projects,omitempty" gorm:"foreignKey:TenantID"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// Project groups work inside a tenant and doubles as the realtime room key.
type Project struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID      `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Name      string         `json:"name" gorm:"not null"`
	Status    string         `json:"status" gorm:"type:varchar(20);default:'active'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}

// TableName returns the table name for the Project model
func (Project) TableName() string {
	return "projects"
}

// TenantStorage tracks the storage quota for a tenant. UsedBytes is owned by
// the billing/provisioning process; the file bucket only reads it.
type TenantStorage struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;uniqueIndex"`
	MaxBytes  int64     `json:"max_bytes" gorm:"not null"`
	UsedBytes int64     `json:"used_bytes" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for the TenantStorage model
func (TenantStorage) TableName() string {
	return "tenant_storage"
}

// HasRoomFor reports whether an upload of the given size fits in the quota.
func (ts *TenantStorage) HasRoomFor(bytes int64) bool {
	return ts.UsedBytes+bytes <= ts.MaxBytes
}
