// Package middleware resolves every incoming credential into a tenant
// context before any handler runs. Session tokens and impersonation tokens
// both land in the same models.TenantContext shape, so downstream code
// never branches on how the caller authenticated.
package middleware

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/buildgrid/platform/shared/apperrors"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/utils"
)

// ContextKey is the single gin context key holding the resolved identity.
const ContextKey = "tenant_context"

const (
	impersonationPrefix = "imp_v1"
	claimsCacheTTL      = 15 * time.Minute
)

// Routes that operate at platform level and therefore carry no tenant.
var platformRoutePrefixes = []string{"/auth", "/platform", "/company", "/system-settings"}

// AuditSink receives resolver-originated audit entries.
type AuditSink interface {
	Log(entry models.AuditLog)
}

// AuthMiddleware resolves bearer credentials into tenant contexts.
type AuthMiddleware struct {
	db        *gorm.DB
	audit     AuditSink
	jwtSecret []byte
	impSecret []byte
}

// SessionClaims are the claims carried by a platform session token.
type SessionClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware creates the resolver. Secrets come from the
// environment so every replica verifies the same tokens.
func NewAuthMiddleware(db *gorm.DB, sink AuditSink) *AuthMiddleware {
	return &AuthMiddleware{
		db:        db,
		audit:     sink,
		jwtSecret: []byte(getEnv("JWT_SECRET", "dev-jwt-secret")),
		impSecret: []byte(getEnv("IMPERSONATION_SECRET", "dev-impersonation-secret")),
	}
}

// RequireAuth validates the bearer credential, attaches the resolved
// tenant context, and enforces the tenant requirement on tenant-scoped
// routes. Platform-level routes are exempt from the tenant requirement but
// still require a valid credential.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			utils.UnauthorizedResponse(c, "authorization token required")
			c.Abort()
			return
		}

		tc, err := am.Resolve(tokenString, c.ClientIP(), c.GetHeader("x-company-id"))
		if err != nil {
			utils.AppErrorResponse(c, err)
			c.Abort()
			return
		}
		// Request-scoped like the IP; never taken from the claims cache.
		tc.UserAgent = c.Request.UserAgent()

		if tc.TenantID == nil && !tc.IsSuperadmin && !isPlatformRoute(c.Request.URL.Path) {
			utils.ForbiddenResponse(c, "tenant context required")
			c.Abort()
			return
		}

		// Superadmins acting inside a tenant they do not belong to leave a
		// trace every single time.
		if tc.IsSuperadmin && tc.TenantID != nil {
			am.logSuperadminAccess(tc, c.Request.Method, c.Request.URL.Path)
		}

		c.Set(ContextKey, tc)
		c.Next()
	}
}

// RequireSuperadmin gates platform-level administration endpoints.
func (am *AuthMiddleware) RequireSuperadmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := GetTenantContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, "authentication required")
			c.Abort()
			return
		}
		if !tc.IsSuperadmin {
			utils.ForbiddenResponse(c, "superadmin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin gates tenant administration endpoints. Superadmins pass.
func (am *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := GetTenantContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, "authentication required")
			c.Abort()
			return
		}
		if !tc.IsSuperadmin && tc.Role != models.RoleAdmin {
			utils.ForbiddenResponse(c, "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Resolve turns a bearer credential into a tenant context. Impersonation
// tokens take the revocable-session path and are never cached; session
// tokens go through the Redis claims cache.
func (am *AuthMiddleware) Resolve(token, ipAddress, headerTenantID string) (*models.TenantContext, error) {
	if strings.HasPrefix(token, impersonationPrefix+":") {
		return am.resolveImpersonation(token, ipAddress)
	}

	if cached, err := utils.GetCachedTenantContext(token); err == nil {
		cached.IPAddress = ipAddress
		return cached, nil
	}

	claims, err := am.parseSessionToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthenticated, err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed user id claim", apperrors.ErrUnauthenticated)
	}

	// The tenant claim wins; the x-company-id header is only a fallback for
	// tokens minted before the tenant claim existed.
	tenantClaim := claims.TenantID
	if tenantClaim == "" {
		tenantClaim = headerTenantID
	}
	var tenantID *uuid.UUID
	if tenantClaim != "" {
		id, err := uuid.Parse(tenantClaim)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed tenant id", apperrors.ErrUnauthenticated)
		}
		tenantID = &id
	}

	tc := &models.TenantContext{
		UserID:       userID,
		UserName:     claims.Name,
		TenantID:     tenantID,
		Role:         models.CanonicalRole(claims.Role),
		IsSuperadmin: models.IsSuperadmin(claims.Role),
		IPAddress:    ipAddress,
	}

	// Cache only when the tenant came from the token itself. A context
	// derived from the per-request header must not outlive the request.
	if claims.TenantID != "" || headerTenantID == "" {
		if ttl := cacheTTL(claims); ttl > 0 {
			if err := utils.CacheTenantContext(token, tc, ttl); err != nil {
				logrus.Debugf("claims cache write failed: %v", err)
			}
		}
	}
	return tc, nil
}

// cacheTTL caps the claims-cache lifetime at the token's remaining
// validity, so a token expiring inside the cache window cannot keep
// authenticating out of the cache past its exp.
func cacheTTL(claims *SessionClaims) time.Duration {
	ttl := claimsCacheTTL
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

// VerifySocketToken resolves the websocket handshake credential. Sockets
// carry no headers, so there is no tenant fallback.
func (am *AuthMiddleware) VerifySocketToken(token, ipAddress string) (*models.TenantContext, error) {
	return am.Resolve(token, ipAddress, "")
}

func (am *AuthMiddleware) parseSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return am.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// resolveImpersonation validates an impersonation token. The signature
// alone is never enough: the matching session row must exist, be active and
// be unexpired. Expired sessions are marked on first sight.
func (am *AuthMiddleware) resolveImpersonation(token, ipAddress string) (*models.TenantContext, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 || parts[0] != impersonationPrefix {
		return nil, fmt.Errorf("%w: malformed impersonation token", apperrors.ErrUnauthenticated)
	}

	payload := strings.Join(parts[:3], ":")
	if !utils.VerifyHMAC(payload, parts[3], string(am.impSecret)) {
		return nil, fmt.Errorf("%w: impersonation signature mismatch", apperrors.ErrUnauthenticated)
	}

	targetUserID, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed impersonation subject", apperrors.ErrUnauthenticated)
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: malformed impersonation timestamp", apperrors.ErrUnauthenticated)
	}

	var session models.ImpersonationSession
	if err := am.db.Where("token = ?", token).First(&session).Error; err != nil {
		return nil, fmt.Errorf("%w: no impersonation session", apperrors.ErrUnauthenticated)
	}
	if session.Status != models.ImpersonationActive {
		return nil, fmt.Errorf("%w: impersonation session %s", apperrors.ErrUnauthenticated, session.Status)
	}
	if session.IsExpired() {
		if err := am.db.Model(&session).Update("status", models.ImpersonationExpired).Error; err != nil {
			logrus.Errorf("failed to mark impersonation session %s expired: %v", session.ID, err)
		}
		return nil, fmt.Errorf("%w: impersonation session expired", apperrors.ErrUnauthenticated)
	}
	if session.TargetUserID != targetUserID {
		return nil, fmt.Errorf("%w: impersonation subject mismatch", apperrors.ErrUnauthenticated)
	}

	var target models.User
	if err := am.db.Where("id = ?", targetUserID).First(&target).Error; err != nil {
		return nil, fmt.Errorf("%w: impersonated user missing", apperrors.ErrUnauthenticated)
	}

	adminID := session.AdminID
	tenantID := target.TenantID
	return &models.TenantContext{
		UserID:         target.ID,
		UserName:       target.Name,
		TenantID:       &tenantID,
		Role:           models.CanonicalRole(string(target.Role)),
		IsSuperadmin:   false,
		ImpersonatorID: &adminID,
		IPAddress:      ipAddress,
	}, nil
}

// IssueSessionToken mints a session JWT for a user. Used by the auth
// endpoints and by tests.
func (am *AuthMiddleware) IssueSessionToken(user *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	tenantClaim := ""
	if user.TenantID != uuid.Nil {
		tenantClaim = user.TenantID.String()
	}
	claims := SessionClaims{
		UserID:   user.ID.String(),
		TenantID: tenantClaim,
		Role:     string(user.Role),
		Name:     user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   user.ID.String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(am.jwtSecret)
}

// CreateImpersonationSession opens a time-boxed impersonation grant and
// returns the session with its token. The admin's identity, the reason and
// the grant itself all land in the audit trail.
func (am *AuthMiddleware) CreateImpersonationSession(admin *models.TenantContext, targetUserID uuid.UUID, reason string, ttl time.Duration) (*models.ImpersonationSession, error) {
	var target models.User
	if err := am.db.Where("id = ?", targetUserID).First(&target).Error; err != nil {
		return nil, fmt.Errorf("%w: target user", apperrors.ErrNotFound)
	}

	now := time.Now()
	payload := fmt.Sprintf("%s:%s:%d", impersonationPrefix, targetUserID, now.UnixMilli())
	token := payload + ":" + utils.SignHMAC(payload, string(am.impSecret))

	session := models.ImpersonationSession{
		ID:           uuid.New(),
		AdminID:      admin.UserID,
		TargetUserID: targetUserID,
		TenantID:     target.TenantID,
		Reason:       reason,
		Token:        token,
		Status:       models.ImpersonationActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := am.db.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create impersonation session: %w", err)
	}

	if am.audit != nil {
		am.audit.Log(models.AuditLog{
			TenantID:   target.TenantID,
			UserID:     admin.UserID,
			UserName:   admin.UserName,
			Action:     "IMPERSONATION_START",
			Resource:   "user",
			ResourceID: targetUserID.String(),
			Metadata:   fmt.Sprintf(`{"reason":%q,"expires_at":%q}`, reason, session.ExpiresAt.Format(time.RFC3339)),
			IPAddress:  admin.IPAddress,
			UserAgent:  admin.UserAgent,
		})
	}
	return &session, nil
}

// RevokeImpersonationSession ends a grant immediately. Idempotent.
func (am *AuthMiddleware) RevokeImpersonationSession(token string, actor *models.TenantContext) error {
	var session models.ImpersonationSession
	if err := am.db.Where("token = ?", token).First(&session).Error; err != nil {
		return apperrors.ErrNotFound
	}
	if session.Status == models.ImpersonationRevoked {
		return nil
	}
	if err := am.db.Model(&session).Update("status", models.ImpersonationRevoked).Error; err != nil {
		return fmt.Errorf("failed to revoke impersonation session: %w", err)
	}

	if am.audit != nil && actor != nil {
		am.audit.Log(models.AuditLog{
			TenantID:   session.TenantID,
			UserID:     actor.UserID,
			UserName:   actor.UserName,
			Action:     "IMPERSONATION_STOP",
			Resource:   "user",
			ResourceID: session.TargetUserID.String(),
			Metadata:   "{}",
			IPAddress:  actor.IPAddress,
			UserAgent:  actor.UserAgent,
		})
	}
	return nil
}

func (am *AuthMiddleware) logSuperadminAccess(tc *models.TenantContext, method, path string) {
	logrus.Warnf("superadmin %s accessing tenant %s: %s %s", tc.UserID, tc.TenantID, method, path)
	if am.audit != nil {
		am.audit.Log(models.AuditLog{
			TenantID:  *tc.TenantID,
			UserID:    tc.UserID,
			UserName:  tc.UserName,
			Action:    "SUPERADMIN_ACCESS",
			Resource:  "route",
			Metadata:  fmt.Sprintf(`{"method":%q,"path":%q}`, method, path),
			IPAddress: tc.IPAddress,
			UserAgent: tc.UserAgent,
		})
	}
}

// GetTenantContext extracts the resolved identity from the gin context.
func GetTenantContext(c *gin.Context) (*models.TenantContext, bool) {
	v, exists := c.Get(ContextKey)
	if !exists {
		return nil, false
	}
	tc, ok := v.(*models.TenantContext)
	return tc, ok
}

func isPlatformRoute(path string) bool {
	for _, prefix := range platformRoutePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// extractToken pulls the bearer token from the Authorization header.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return authHeader
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
