package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/buildgrid/platform/shared/audit"
	"github.com/buildgrid/platform/shared/middleware"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/storage"
	"github.com/buildgrid/platform/shared/utils"
)

// fileOptions reads the optional project/category scoping from the request.
func fileOptions(c *gin.Context) (storage.Options, error) {
	var opts storage.Options
	raw := c.Query("project_id")
	if raw == "" {
		raw = c.PostForm("project_id")
	}
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid project_id")
		}
		opts.ProjectID = &id
	}
	opts.Category = c.Query("category")
	if opts.Category == "" {
		opts.Category = c.PostForm("category")
	}
	return opts, nil
}

// requireTenant resolves the acting tenant for a request. Superadmins act
// on whichever tenant the resolver attached.
func requireTenant(c *gin.Context) (*models.TenantContext, uuid.UUID, bool) {
	tc, ok := middleware.GetTenantContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "authentication required")
		return nil, uuid.Nil, false
	}
	if tc.TenantID == nil {
		utils.ForbiddenResponse(c, "tenant context required")
		return nil, uuid.Nil, false
	}
	return tc, *tc.TenantID, true
}

// handleUploadFile stores a multipart upload in the tenant bucket.
func handleUploadFile(bucket *storage.Bucket, trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		opts, err := fileOptions(c)
		if err != nil {
			utils.BadRequestResponse(c, err.Error())
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			utils.BadRequestResponse(c, "file field required")
			return
		}

		f, err := fileHeader.Open()
		if err != nil {
			utils.InternalServerErrorResponse(c, "failed to read upload")
			return
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			utils.InternalServerErrorResponse(c, "failed to read upload")
			return
		}

		result, err := bucket.Upload(tenantID, fileHeader.Filename, content, opts)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}

		trail.Log(models.AuditLog{
			TenantID:   tenantID,
			UserID:     tc.UserID,
			UserName:   tc.UserName,
			Action:     "FILE_UPLOAD",
			Resource:   "file",
			ResourceID: result.Path,
			Metadata:   fmt.Sprintf(`{"size":%d}`, len(content)),
			IPAddress:  tc.IPAddress,
			UserAgent:  tc.UserAgent,
		})

		utils.CreatedResponse(c, "File uploaded successfully", result)
	}
}

// handleListFiles lists the tenant's files, optionally narrowed by
// project and category.
func handleListFiles(bucket *storage.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		opts, err := fileOptions(c)
		if err != nil {
			utils.BadRequestResponse(c, err.Error())
			return
		}

		paths, err := bucket.List(tenantID, opts)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Files retrieved successfully", gin.H{"files": paths})
	}
}

// handleDownloadFile streams one file back to an authenticated caller.
func handleDownloadFile(bucket *storage.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		name := c.Query("name")
		if name == "" {
			utils.BadRequestResponse(c, "name query parameter required")
			return
		}
		opts, err := fileOptions(c)
		if err != nil {
			utils.BadRequestResponse(c, err.Error())
			return
		}

		content, err := bucket.Download(tenantID, name, opts)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", storage.SanitizeFilename(name)))
		c.Data(200, "application/octet-stream", content)
	}
}

// handleDeleteFile removes one file from the tenant bucket.
func handleDeleteFile(bucket *storage.Bucket, trail *audit.Trail) gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		name := c.Query("name")
		if name == "" {
			utils.BadRequestResponse(c, "name query parameter required")
			return
		}
		opts, err := fileOptions(c)
		if err != nil {
			utils.BadRequestResponse(c, err.Error())
			return
		}

		if err := bucket.Delete(tenantID, name, opts); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}

		trail.Log(models.AuditLog{
			TenantID:   tenantID,
			UserID:     tc.UserID,
			UserName:   tc.UserName,
			Action:     "FILE_DELETE",
			Resource:   "file",
			ResourceID: name,
			IPAddress:  tc.IPAddress,
			UserAgent:  tc.UserAgent,
		})
		utils.OKResponse(c, "File deleted successfully", nil)
	}
}

// SignFileRequest asks for a time-limited URL for one stored file.
type SignFileRequest struct {
	Filename  string `json:"filename" binding:"required"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

// handleSignFile issues a signed, expiring download URL.
func handleSignFile(bucket *storage.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, tenantID, ok := requireTenant(c)
		if !ok {
			return
		}

		var req SignFileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request format")
			return
		}
		if req.ExpiresIn <= 0 {
			req.ExpiresIn = 900
		}
		opts, err := fileOptions(c)
		if err != nil {
			utils.BadRequestResponse(c, err.Error())
			return
		}

		url, err := bucket.SignURL(tenantID, req.Filename, time.Duration(req.ExpiresIn)*time.Second, opts)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		utils.OKResponse(c, "Signed URL issued", gin.H{"url": url})
	}
}

// handleSignedDownload serves a file from a signed URL without any other
// credential. The tenant comes from the path itself and the signature binds
// tenant, path and expiry together.
func handleSignedDownload(bucket *storage.Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		relPath := strings.TrimPrefix(c.Param("path"), "/")

		// Paths look like tenants/{tenantId}/...; anything else cannot
		// verify.
		parts := strings.SplitN(relPath, "/", 3)
		if len(parts) < 3 || parts[0] != "tenants" {
			utils.NotFoundResponse(c, "File not found")
			return
		}
		tenantID, err := uuid.Parse(parts[1])
		if err != nil {
			utils.NotFoundResponse(c, "File not found")
			return
		}

		if err := bucket.VerifySignedURL(tenantID, relPath, c.Query("expires"), c.Query("sig")); err != nil {
			utils.AppErrorResponse(c, err)
			return
		}

		content, err := bucket.DownloadPath(tenantID, relPath)
		if err != nil {
			utils.AppErrorResponse(c, err)
			return
		}
		c.Data(200, "application/octet-stream", content)
	}
}
