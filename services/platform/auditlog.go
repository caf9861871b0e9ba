package main

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/buildgrid/platform/shared/audit"
	"github.com/buildgrid/platform/shared/utils"
)

// handleListAuditLog returns the tenant's most recent audit entries.
func handleListAuditLog(trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		entries, err := trail.Query(tenantID, limit)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Audit log retrieved successfully", entries)
	}
}

// handleExportAuditLog exports the tenant's trail as JSON or CSV.
func handleExportAuditLog(trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		switch c.DefaultQuery("format", "json") {
		case "csv":
			data, err := trail.ExportCSV(tenantID)
			if err != nil {
				utils.AppErrorResponse(c, err)
				return
			}
			c.Header("Content-Disposition", `attachment; filename="audit-log.csv"`)
			c.Data(200, "text/csv", data)
		case "json":
			data, err := trail.ExportJSON(tenantID)
			if err != nil {
				utils.AppErrorResponse(c, err)
				return
			}
			c.Header("Content-Disposition", `attachment; filename="audit-log.json"`)
			c.Data(200, "application/json", data)
		default:
			utils.BadRequestResponse(c, "format must be json or csv")
		}
	}
}

// handleListActivity returns the tenant activity feed, optionally narrowed
// to one project.
func handleListActivity(trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		var projectID *uuid.UUID
		if raw := c.Query("project_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				utils.BadRequestResponse(c, "invalid project_id")
				return
			}
			projectID = &id
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		events, err := trail.Activities(tenantID, projectID, limit)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Activity retrieved successfully", events)
	}
}

// handleCleanupAuditLog deletes entries older than the retention window.
// Platform-level operation; age is the only criterion.
func handleCleanupAuditLog(trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		days, err := strconv.Atoi(c.DefaultQuery("older_than_days", "365"))
		if err != nil || days <= 0 {
			utils.BadRequestResponse(c, "older_than_days must be a positive integer")
			return
		}

		removed, err := trail.Cleanup(time.Now().AddDate(0, 0, -days))
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Audit log cleaned up", gin.H{"removed": removed})
	}
}
