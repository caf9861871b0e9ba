package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/buildgrid/platform/shared/events"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/store"
	"github.com/buildgrid/platform/shared/utils"
)

// CreateProjectRequest represents the create project request
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleListProjects returns the tenant's projects.
func handleListProjects(projects *store.Scoped[models.Project, *models.Project]) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		rows, err := projects.Query(tenantID, nil, store.QueryOptions{OrderBy: "created_at", Desc: true})
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Projects retrieved successfully", rows)
	}
}

// handleCreateProject creates a project and dispatches project_created.
func handleCreateProject(projects *store.Scoped[models.Project, *models.Project], dispatcher *events.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		var req CreateProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		project := models.Project{
			ID:   uuid.New(),
			Name: req.Name,
		}
		if err := projects.Create(tenantID, &project); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}

		ev := events.NewDomainEvent("project_created", events.ActionCreate, tenantID, tc)
		ev.EntityType = "project"
		ev.EntityID = project.ID
		ev.ProjectID = &project.ID
		ev.Payload = map[string]interface{}{"name": project.Name}
		dispatcher.Dispatch(ev)

		utils.CreatedResponse(c, "Project created successfully", project)
	}
}

// handleListNotifications returns the caller's unread-first notifications.
func handleListNotifications(db notificationQuerier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		rows, err := db.NotificationsFor(tenantID, tc.UserID)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Notifications retrieved successfully", rows)
	}
}

// handleMarkNotificationRead marks one of the caller's notifications read.
func handleMarkNotificationRead(db notificationQuerier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "invalid notification id")
			return
		}

		if err := db.MarkNotificationRead(tenantID, tc.UserID, id); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Notification marked read", nil)
	}
}
