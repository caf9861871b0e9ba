package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalRole(t *testing.T) {
	cases := map[string]UserRole{
		"superadmin":    RoleSuperadmin,
		"super_admin":   RoleSuperadmin,
		"SUPERADMIN":    RoleSuperadmin,
		"admin":         RoleAdmin,
		"company_admin": RoleAdmin,
		"tenant_owner":  RoleAdmin,
		"user":          RoleUser,
		"operative":     RoleUser,
		"":              RoleUser,
		"janitor":       RoleUser,
	}
	for raw, want := range cases {
		assert.Equal(t, want, CanonicalRole(raw), "raw role %q", raw)
	}

	assert.True(t, IsSuperadmin("super_admin"))
	assert.False(t, IsSuperadmin("admin"))
}

func TestCanAccessTenant(t *testing.T) {
	tenantID := uuid.New()

	member := &TenantContext{UserID: uuid.New(), TenantID: &tenantID, Role: RoleUser}
	assert.True(t, member.CanAccessTenant(tenantID))
	assert.False(t, member.CanAccessTenant(uuid.New()))

	super := &TenantContext{UserID: uuid.New(), IsSuperadmin: true}
	assert.True(t, super.CanAccessTenant(tenantID))

	roleless := &TenantContext{UserID: uuid.New()}
	assert.False(t, roleless.CanAccessTenant(tenantID))
}

func TestDecodeConfigMatchesActionType(t *testing.T) {
	a := Automation{
		ActionType:    ActionSendNotification,
		Configuration: `{"title":"hi","message":"there"}`,
	}
	cfg, err := a.DecodeConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.Notification)
	assert.Equal(t, "hi", cfg.Notification.Title)
	assert.Nil(t, cfg.Email)

	a = Automation{
		ActionType:    ActionUpdateEntityField,
		Configuration: `{"entity_type":"task","field":"status","value":"done"}`,
	}
	cfg, err = a.DecodeConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.FieldUpdate)
	assert.Equal(t, "status", cfg.FieldUpdate.Field)
}

func TestDecodeConfigEmptyAndInvalid(t *testing.T) {
	a := Automation{ActionType: ActionSendEmail}
	cfg, err := a.DecodeConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg.Email)

	a = Automation{ActionType: ActionSendEmail, Configuration: `{"to":`}
	_, err = a.DecodeConfig()
	assert.Error(t, err)

	a = Automation{ActionType: ActionType("unknown"), Configuration: `{}`}
	_, err = a.DecodeConfig()
	assert.Error(t, err)
}

func TestStorageQuota(t *testing.T) {
	ts := TenantStorage{MaxBytes: 100, UsedBytes: 90}
	assert.True(t, ts.HasRoomFor(10))
	assert.False(t, ts.HasRoomFor(11))
}

func TestImpersonationSessionExpiry(t *testing.T) {
	s := ImpersonationSession{}
	assert.True(t, s.IsExpired()) // zero expiry is in the past

	s.ExpiresAt = time.Now().Add(time.Hour)
	assert.False(t, s.IsExpired())
}
