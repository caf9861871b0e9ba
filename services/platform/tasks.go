package main

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/buildgrid/platform/shared/events"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/store"
	"github.com/buildgrid/platform/shared/utils"
)

// CreateTaskRequest represents the create task request
type CreateTaskRequest struct {
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	ProjectID   *string `json:"project_id"`
	AssigneeID  *string `json:"assignee_id"`
}

// UpdateTaskRequest represents the update task request
type UpdateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	AssigneeID  *string `json:"assignee_id"`
}

// handleListTasks returns the tenant's tasks with optional filters.
func handleListTasks(tasks *store.Scoped[models.Task, *models.Task]) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		filters := map[string]interface{}{}
		if status := c.Query("status"); status != "" {
			filters["status"] = status
		}
		if raw := c.Query("project_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				utils.BadRequestResponse(c, "invalid project_id")
				return
			}
			filters["project_id"] = id
		}

		rows, err := tasks.Query(tenantID, filters, store.QueryOptions{OrderBy: "created_at", Desc: true})
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Tasks retrieved successfully", rows)
	}
}

// handleGetTask returns one task of the tenant.
func handleGetTask(tasks *store.Scoped[models.Task, *models.Task]) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "invalid task id")
			return
		}

		task, err := tasks.GetByID(tenantID, id)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		if task == nil {
			utils.NotFoundResponse(c, "Task not found")
			return
		}
		utils.OKResponse(c, "Task retrieved successfully", task)
	}
}

// handleCreateTask creates a task and dispatches task_created.
func handleCreateTask(tasks *store.Scoped[models.Task, *models.Task], dispatcher *events.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		var req CreateTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		task := models.Task{
			ID:          uuid.New(),
			Title:       req.Title,
			Description: req.Description,
			CreatedBy:   tc.UserID,
		}
		if req.Priority != "" {
			task.Priority = req.Priority
		}
		if req.ProjectID != nil {
			id, err := uuid.Parse(*req.ProjectID)
			if err != nil {
				utils.BadRequestResponse(c, "invalid project_id")
				return
			}
			task.ProjectID = &id
		}
		if req.AssigneeID != nil {
			id, err := uuid.Parse(*req.AssigneeID)
			if err != nil {
				utils.BadRequestResponse(c, "invalid assignee_id")
				return
			}
			task.AssigneeID = &id
		}

		if err := tasks.Create(tenantID, &task); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}

		ev := events.NewDomainEvent("task_created", events.ActionCreate, tenantID, tc)
		ev.EntityType = "task"
		ev.EntityID = task.ID
		ev.ProjectID = task.ProjectID
		ev.Payload = map[string]interface{}{"title": task.Title, "priority": task.Priority}
		dispatcher.Dispatch(ev)

		utils.CreatedResponse(c, "Task created successfully", task)
	}
}

// handleUpdateTask applies a partial update and dispatches task_updated.
func handleUpdateTask(tasks *store.Scoped[models.Task, *models.Task], dispatcher *events.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "invalid task id")
			return
		}

		var req UpdateTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}

		changes := map[string]interface{}{}
		if req.Title != nil {
			changes["title"] = *req.Title
		}
		if req.Description != nil {
			changes["description"] = *req.Description
		}
		if req.Status != nil {
			changes["status"] = *req.Status
		}
		if req.Priority != nil {
			changes["priority"] = *req.Priority
		}
		if req.AssigneeID != nil {
			assigneeID, err := uuid.Parse(*req.AssigneeID)
			if err != nil {
				utils.BadRequestResponse(c, "invalid assignee_id")
				return
			}
			changes["assignee_id"] = assigneeID
		}
		if len(changes) == 0 {
			utils.BadRequestResponse(c, "no fields to update")
			return
		}

		updated, err := tasks.Update(tenantID, id, changes)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}

		ev := events.NewDomainEvent("task_updated", events.ActionUpdate, tenantID, tc)
		ev.EntityType = "task"
		ev.EntityID = updated.ID
		ev.ProjectID = updated.ProjectID
		ev.Payload = map[string]interface{}{"changes": changes}
		dispatcher.Dispatch(ev)

		utils.OKResponse(c, "Task updated successfully", updated)
	}
}

// handleDeleteTask removes one task and dispatches task_deleted.
func handleDeleteTask(tasks *store.Scoped[models.Task, *models.Task], dispatcher *events.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			utils.BadRequestResponse(c, "invalid task id")
			return
		}

		existing, err := tasks.GetByID(tenantID, id)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		if existing == nil {
			utils.NotFoundResponse(c, "Task not found")
			return
		}

		if err := tasks.Delete(tenantID, id); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}

		ev := events.NewDomainEvent("task_deleted", events.ActionDelete, tenantID, tc)
		ev.EntityType = "task"
		ev.EntityID = id
		ev.ProjectID = existing.ProjectID
		dispatcher.Dispatch(ev)

		utils.OKResponse(c, "Task deleted successfully", nil)
	}
}
