package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a tenant user record
type User struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID  `json:"tenant_id" gorm:"type:uuid;index"`
	Name        string     `json:"name" gorm:"not null"`
	Email       string     `json:"email" gorm:"uniqueIndex;not null"`
	Role        UserRole   `json:"role" gorm:"type:varchar(30);default:'user'"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	Tenant *Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}

func (User) TableName() string {
	return "users"
}

type UserRole string

const (
	RoleSuperadmin UserRole = "superadmin"
	RoleAdmin      UserRole = "admin"
	RoleUser       UserRole = "user"
)

// legacyRoles maps historical role spellings onto the canonical enumeration.
// Rows written by older releases still carry these values.
var legacyRoles = map[string]UserRole{
	"super_admin":   RoleSuperadmin,
	"SUPERADMIN":    RoleSuperadmin,
	"superadmin":    RoleSuperadmin,
	"company_admin": RoleAdmin,
	"tenant_owner":  RoleAdmin,
	"admin":         RoleAdmin,
	"user":          RoleUser,
	"operative":     RoleUser,
}

// CanonicalRole normalizes any stored role spelling to the fixed enumeration.
// Unknown spellings fall back to the least-privileged role.
func CanonicalRole(raw string) UserRole {
	if role, ok := legacyRoles[raw]; ok {
		return role
	}
	return RoleUser
}

// IsSuperadmin reports whether the raw role resolves to the platform
// superadmin role under canonicalization.
func IsSuperadmin(raw string) bool {
	return CanonicalRole(raw) == RoleSuperadmin
}

// TenantContext is the immutable identity attached to every request and
// socket connection after resolution. It is never persisted.
type TenantContext struct {
	UserID         uuid.UUID  `json:"user_id"`
	UserName       string     `json:"user_name"`
	TenantID       *uuid.UUID `json:"tenant_id,omitempty"`
	Role           UserRole   `json:"role"`
	IsSuperadmin   bool       `json:"is_superadmin"`
	ImpersonatorID *uuid.UUID `json:"impersonator_id,omitempty"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent,omitempty"`
}

// CanAccessTenant reports whether the context may touch data of the given
// tenant. Superadmin bypass is allowed but must be audited by the caller.
func (tc *TenantContext) CanAccessTenant(tenantID uuid.UUID) bool {
	if tc.IsSuperadmin {
		return true
	}
	return tc.TenantID != nil && *tc.TenantID == tenantID
}
