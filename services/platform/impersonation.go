package main

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/buildgrid/platform/shared/middleware"
	"github.com/buildgrid/platform/shared/utils"
)

// ImpersonateRequest opens an impersonation session against one user.
type ImpersonateRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required"`
	Reason       string `json:"reason" binding:"required"`
	TTLMinutes   int    `json:"ttl_minutes"`
}

// StopImpersonationRequest revokes a session by its token.
type StopImpersonationRequest struct {
	Token string `json:"token" binding:"required"`
}

// handleStartImpersonation opens a time-boxed impersonation grant.
// Superadmin only; the grant and its reason land in the audit trail.
func handleStartImpersonation(am *middleware.AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := middleware.GetTenantContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, "authentication required")
			return
		}

		var req ImpersonateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		targetID, err := uuid.Parse(req.TargetUserID)
		if err != nil {
			utils.BadRequestResponse(c, "invalid target_user_id")
			return
		}
		if req.TTLMinutes <= 0 {
			req.TTLMinutes = 60
		}

		session, err := am.CreateImpersonationSession(tc, targetID, req.Reason, time.Duration(req.TTLMinutes)*time.Minute)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}

		utils.CreatedResponse(c, "Impersonation session created", gin.H{
			"session_id": session.ID,
			"token":      session.Token,
			"expires_at": session.ExpiresAt,
		})
	}
}

// handleStopImpersonation revokes an impersonation grant immediately.
func handleStopImpersonation(am *middleware.AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := middleware.GetTenantContext(c)
		if !ok {
			utils.UnauthorizedResponse(c, "authentication required")
			return
		}

		var req StopImpersonationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		if err := am.RevokeImpersonationSession(req.Token, tc); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Impersonation session revoked", nil)
	}
}
