package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/buildgrid/platform/shared/apperrors"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/store"
)

// gormProjectDirectory answers room-join validation queries from the
// projects table.
type gormProjectDirectory struct {
	db *gorm.DB
}

func (d *gormProjectDirectory) ProjectBelongsToTenant(projectID, tenantID uuid.UUID) (bool, error) {
	var n int64
	err := d.db.Model(&models.Project{}).
		Where("id = ? AND tenant_id = ?", projectID, tenantID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// newQuotaChecker returns the upload pre-check. Tenants without a storage
// row are treated as unmetered.
func newQuotaChecker(db *gorm.DB) func(tenantID uuid.UUID, size int64) error {
	return func(tenantID uuid.UUID, size int64) error {
		var ts models.TenantStorage
		err := db.Where("tenant_id = ?", tenantID).First(&ts).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load storage quota: %w", err)
		}
		if !ts.HasRoomFor(size) {
			return fmt.Errorf("%w: %d bytes over a %d byte quota", apperrors.ErrQuotaExceeded, ts.UsedBytes+size, ts.MaxBytes)
		}
		return nil
	}
}

// notificationQuerier covers the per-user notification reads and the
// mark-read update.
type notificationQuerier interface {
	NotificationsFor(tenantID, userID uuid.UUID) ([]models.Notification, error)
	MarkNotificationRead(tenantID, userID, id uuid.UUID) error
}

type gormNotifications struct {
	db *gorm.DB
}

func (g *gormNotifications) NotificationsFor(tenantID, userID uuid.UUID) ([]models.Notification, error) {
	var rows []models.Notification
	err := g.db.Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("read ASC, created_at DESC").
		Limit(200).
		Find(&rows).Error
	return rows, err
}

func (g *gormNotifications) MarkNotificationRead(tenantID, userID, id uuid.UUID) error {
	res := g.db.Model(&models.Notification{}).
		Where("id = ? AND tenant_id = ? AND user_id = ?", id, tenantID, userID).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// logNotifier is the development email transport: it records the mail on
// the operator console instead of sending it.
type logNotifier struct{}

func (logNotifier) SendEmail(to, subject, body string) error {
	logrus.Infof("email to=%s subject=%q (%d bytes)", to, subject, len(body))
	return nil
}

// taskCreator backs the create_entity automation action. Only tasks are
// creatable through automations for now.
type taskCreator struct {
	tasks *store.Scoped[models.Task, *models.Task]
}

func (tc *taskCreator) CreateEntity(tenantID uuid.UUID, entityType string, fields map[string]string) (uuid.UUID, error) {
	if entityType != "task" {
		return uuid.Nil, fmt.Errorf("%w: unsupported entity type %q", apperrors.ErrValidation, entityType)
	}

	task := models.Task{
		ID:          uuid.New(),
		Title:       fields["title"],
		Description: fields["description"],
	}
	if task.Title == "" {
		return uuid.Nil, fmt.Errorf("%w: task requires a title", apperrors.ErrValidation)
	}
	if s, ok := fields["status"]; ok {
		task.Status = s
	}
	if p, ok := fields["priority"]; ok {
		task.Priority = p
	}
	if raw, ok := fields["project_id"]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			task.ProjectID = &id
		}
	}

	if err := tc.tasks.Create(tenantID, &task); err != nil {
		return uuid.Nil, err
	}
	return task.ID, nil
}
