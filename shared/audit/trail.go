// Package audit provides the two append-only trails: the machine-oriented
// audit log for compliance and the human-facing activity timeline. Both are
// fire-and-forget for callers; a logging failure never fails the business
// operation that triggered it.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/realtime"
)

// Broadcaster is the slice of the realtime hub the trail needs.
type Broadcaster interface {
	BroadcastToTenant(tenantID uuid.UUID, msg realtime.Message, excludeUserID *uuid.UUID)
}

// Trail writes audit and activity entries and publishes activity live.
type Trail struct {
	db  *gorm.DB
	hub Broadcaster
}

// NewTrail creates a trail over the given database and hub.
func NewTrail(db *gorm.DB, hub Broadcaster) *Trail {
	return &Trail{db: db, hub: hub}
}

// Log appends one audit entry. Errors are contained: logged to the
// operator console, never returned, so logging can neither roll back nor
// block the mutation it describes.
func (t *Trail) Log(entry models.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}

	if err := t.db.Create(&entry).Error; err != nil {
		logrus.Errorf("audit write failed for tenant %s action %s: %v", entry.TenantID, entry.Action, err)
	}
}

// LogActivity appends one timeline entry and, only after the row is
// durable, broadcasts it to the tenant channel. No broadcast-before-commit.
func (t *Trail) LogActivity(event models.ActivityEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Metadata == "" {
		event.Metadata = "{}"
	}

	if err := t.db.Create(&event).Error; err != nil {
		logrus.Errorf("activity write failed for tenant %s action %s: %v", event.TenantID, event.Action, err)
		return
	}

	t.hub.BroadcastToTenant(event.TenantID, realtime.NewMessage(realtime.MessageActivityNew, event), nil)
}

// Query returns the most recent audit entries for a tenant.
func (t *Trail) Query(tenantID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []models.AuditLog
	err := t.db.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Activities returns the most recent timeline entries, optionally narrowed
// to one project.
func (t *Trail) Activities(tenantID uuid.UUID, projectID *uuid.UUID, limit int) ([]models.ActivityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := t.db.Where("tenant_id = ?", tenantID)
	if projectID != nil {
		q = q.Where("project_id = ?", *projectID)
	}
	var events []models.ActivityEvent
	err := q.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

// ExportJSON exports the tenant's audit trail as structured JSON.
func (t *Trail) ExportJSON(tenantID uuid.UUID) ([]byte, error) {
	var entries []models.AuditLog
	if err := t.db.Where("tenant_id = ?", tenantID).Order("created_at").Find(&entries).Error; err != nil {
		return nil, err
	}
	return json.MarshalIndent(entries, "", "  ")
}

var csvHeader = []string{
	"id", "tenant_id", "user_id", "user_name", "action",
	"resource", "resource_id", "metadata", "ip_address", "user_agent", "created_at",
}

// csvQuote wraps a field in double quotes unconditionally, doubling any
// embedded quotes, so embedded delimiters and newlines survive.
func csvQuote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// ExportCSV exports the tenant's audit trail as CSV with every field
// quoted.
func (t *Trail) ExportCSV(tenantID uuid.UUID) ([]byte, error) {
	var entries []models.AuditLog
	if err := t.db.Where("tenant_id = ?", tenantID).Order("created_at").Find(&entries).Error; err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	quoted := make([]string, len(csvHeader))
	for i, h := range csvHeader {
		quoted[i] = csvQuote(h)
	}
	buf.WriteString(strings.Join(quoted, ",") + "\n")

	for _, e := range entries {
		fields := []string{
			e.ID.String(), e.TenantID.String(), e.UserID.String(), e.UserName, e.Action,
			e.Resource, e.ResourceID, e.Metadata, e.IPAddress, e.UserAgent,
			e.CreatedAt.Format(time.RFC3339),
		}
		for i, f := range fields {
			fields[i] = csvQuote(f)
		}
		buf.WriteString(strings.Join(fields, ",") + "\n")
	}
	return buf.Bytes(), nil
}

// Cleanup deletes audit and activity rows strictly older than the cutoff
// and returns how many were removed. Age is the only criterion; content
// never influences retention.
func (t *Trail) Cleanup(olderThan time.Time) (int64, error) {
	var total int64

	res := t.db.Where("created_at < ?", olderThan).Delete(&models.AuditLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("audit cleanup failed: %w", res.Error)
	}
	total += res.RowsAffected

	res = t.db.Where("created_at < ?", olderThan).Delete(&models.ActivityEvent{})
	if res.Error != nil {
		return total, fmt.Errorf("activity cleanup failed: %w", res.Error)
	}
	total += res.RowsAffected

	return total, nil
}
