package models

import (
	"time"

	"github.com/google/uuid"
)

// ImpersonationSessionStatus tracks the lifecycle of an impersonation grant.
type ImpersonationSessionStatus string

const (
	ImpersonationActive  ImpersonationSessionStatus = "active"
	ImpersonationExpired ImpersonationSessionStatus = "expired"
	ImpersonationRevoked ImpersonationSessionStatus = "revoked"
)

// ImpersonationSession is a revocable, time-boxed grant allowing an admin to
// act as another user. A signature-valid token is useless without a matching
// active session row.
type ImpersonationSession struct {
	ID           uuid.UUID                  `json:"id" gorm:"type:uuid;primaryKey"`
	AdminID      uuid.UUID                  `json:"admin_id" gorm:"type:uuid;not null;index"`
	TargetUserID uuid.UUID                  `json:"target_user_id" gorm:"type:uuid;not null;index"`
	TenantID     uuid.UUID                  `json:"tenant_id" gorm:"type:uuid;index"`
	Reason       string                     `json:"reason"`
	Token        string                     `json:"-" gorm:"uniqueIndex;not null"`
	Status       ImpersonationSessionStatus `json:"status" gorm:"type:varchar(20);default:'active';index"`
	CreatedAt    time.Time                  `json:"created_at"`
	ExpiresAt    time.Time                  `json:"expires_at" gorm:"not null"`
}

// TableName returns the table name for the ImpersonationSession model
func (ImpersonationSession) TableName() string {
	return "impersonation_sessions"
}

// IsExpired reports whether the session has passed its expiry timestamp.
func (s *ImpersonationSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
