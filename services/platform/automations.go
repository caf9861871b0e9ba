package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/store"
	"github.com/buildgrid/platform/shared/utils"
)

// CreateAutomationRequest represents the create automation request
type CreateAutomationRequest struct {
	Name          string `json:"name" binding:"required"`
	TriggerType   string `json:"trigger_type" binding:"required"`
	ActionType    string `json:"action_type" binding:"required"`
	Configuration string `json:"configuration"`
	Enabled       *bool  `json:"enabled"`
}

// UpdateAutomationRequest represents the update automation request
type UpdateAutomationRequest struct {
	Name          *string `json:"name"`
	TriggerType   *string `json:"trigger_type"`
	ActionType    *string `json:"action_type"`
	Configuration *string `json:"configuration"`
	Enabled       *bool   `json:"enabled"`
}

// handleListAutomations returns the tenant's automations.
func handleListAutomations(automations *store.Scoped[models.Automation, *models.Automation]) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		filters := map[string]interface{}{}
		if trigger := c.Query("trigger_type"); trigger != "" {
			filters["trigger_type"] = trigger
		}

		rows, err := automations.Query(tenantID, filters, store.QueryOptions{OrderBy: "created_at", Desc: true})
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Automations retrieved successfully", rows)
	}
}

// handleCreateAutomation stores a new rule. The configuration blob must
// decode for the declared action type before anything is persisted.
func handleCreateAutomation(automations *store.Scoped[models.Automation, *models.Automation]) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		var req CreateAutomationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		automation := models.Automation{
			ID:            uuid.New(),
			Name:          req.Name,
			TriggerType:   models.TriggerType(req.TriggerType),
			ActionType:    models.ActionType(req.ActionType),
			Configuration: req.Configuration,
			Enabled:       req.Enabled == nil || *req.Enabled,
		}
		if _, err := automation.DecodeConfig(); err != nil {
			utils.BadRequestResponse(c, err.Error())
			return
		}

		if err := automations.Create(tenantID, &automation); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.CreatedResponse(c, "Automation created successfully", automation)
	}
}

// handleUpdateAutomation applies a partial update to one rule.
func handleUpdateAutomation(automations *store.Scoped[models.Automation, *models.Automation]) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "invalid automation id")
			return
		}

		var req UpdateAutomationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		changes := map[string]interface{}{}
		if req.Name != nil {
			changes["name"] = *req.Name
		}
		if req.TriggerType != nil {
			changes["trigger_type"] = *req.TriggerType
		}
		if req.ActionType != nil {
			changes["action_type"] = *req.ActionType
		}
		if req.Configuration != nil {
			changes["configuration"] = *req.Configuration
		}
		if req.Enabled != nil {
			changes["enabled"] = *req.Enabled
		}
		if len(changes) == 0 {
			utils.BadRequestResponse(c, "no fields to update")
			return
		}

		// The merged rule must still decode before anything is persisted.
		current, err := automations.GetByID(tenantID, id)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		if current == nil {
			utils.NotFoundResponse(c, "Automation not found")
			return
		}
		merged := *current
		if req.ActionType != nil {
			merged.ActionType = models.ActionType(*req.ActionType)
		}
		if req.Configuration != nil {
			merged.Configuration = *req.Configuration
		}
		if _, err := merged.DecodeConfig(); err != nil {
			utils.BadRequestResponse(c, err.Error())
			return
		}

		updated, err := automations.Update(tenantID, id, changes)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Automation updated successfully", updated)
	}
}

// handleDeleteAutomation removes one rule.
func handleDeleteAutomation(automations *store.Scoped[models.Automation, *models.Automation]) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "invalid automation id")
			return
		}

		if err := automations.Delete(tenantID, id); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Automation deleted successfully", nil)
	}
}
