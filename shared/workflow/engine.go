// Package workflow implements the tenant automation engine. Automations are
// stored (trigger -> action) rules evaluated at trigger time only; one
// misconfigured rule never stops its siblings from running.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/buildgrid/platform/shared/apperrors"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/realtime"
	"github.com/buildgrid/platform/shared/store"
)

// Notifier delivers automation emails. Failures are contained per rule.
type Notifier interface {
	SendEmail(to, subject, body string) error
}

// EntityCreator creates domain entities on behalf of a create_entity action.
// Creation goes through the owning service so its invariants hold.
type EntityCreator interface {
	CreateEntity(tenantID uuid.UUID, entityType string, fields map[string]string) (uuid.UUID, error)
}

// Broadcaster is the slice of the realtime hub the engine needs.
type Broadcaster interface {
	BroadcastToTenant(tenantID uuid.UUID, msg realtime.Message, excludeUserID *uuid.UUID)
	SendToUser(userID uuid.UUID, msg realtime.Message)
}

// TriggerContext carries the facts of the domain event that fired.
type TriggerContext struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    uuid.UUID
	Payload    map[string]interface{}
}

// Result records the outcome of one automation run.
type Result struct {
	AutomationID uuid.UUID
	Name         string
	ActionType   models.ActionType
	Err          error
}

// ActionFunc executes one action kind for one automation.
type ActionFunc func(tenantID uuid.UUID, cfg *models.ActionConfig, tctx TriggerContext) error

// Engine evaluates a tenant's enabled automations when a trigger fires.
type Engine struct {
	db       *gorm.DB
	hub      Broadcaster
	notifier Notifier
	creator  EntityCreator
	tasks    *store.Scoped[models.Task, *models.Task]

	actions map[models.ActionType]ActionFunc
}

// NewEngine wires the engine. notifier and creator may be nil; the
// corresponding actions then fail per-rule without affecting others.
func NewEngine(db *gorm.DB, hub Broadcaster, notifier Notifier, creator EntityCreator, tasks *store.Scoped[models.Task, *models.Task]) *Engine {
	e := &Engine{
		db:       db,
		hub:      hub,
		notifier: notifier,
		creator:  creator,
		tasks:    tasks,
	}
	e.actions = map[models.ActionType]ActionFunc{
		models.ActionSendNotification:  e.runSendNotification,
		models.ActionUpdateEntityField: e.runUpdateEntityField,
		models.ActionSendEmail:         e.runSendEmail,
		models.ActionCreateEntity:      e.runCreateEntity,
	}
	return e
}

// Trigger runs every enabled automation of the tenant matching the trigger
// type, in isolation: a panic or error in one rule is captured into its
// Result and the loop continues. The returned error covers only the rule
// load itself.
func (e *Engine) Trigger(tenantID uuid.UUID, trigger models.TriggerType, tctx TriggerContext) ([]Result, error) {
	var automations []models.Automation
	err := e.db.
		Where("tenant_id = ? AND trigger_type = ? AND enabled = ?", tenantID, trigger, true).
		Find(&automations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load automations for %s: %w", trigger, err)
	}

	results := make([]Result, 0, len(automations))
	for i := range automations {
		a := &automations[i]
		res := Result{AutomationID: a.ID, Name: a.Name, ActionType: a.ActionType}
		res.Err = e.runOne(tenantID, a, tctx)

		if res.Err != nil {
			logrus.Errorf("automation %s (%s) failed on %s: %v", a.Name, a.ID, trigger, res.Err)
		} else {
			e.hub.BroadcastToTenant(tenantID, realtime.NewMessage(realtime.MessageAutomationExecuted, map[string]interface{}{
				"automation_id": a.ID,
				"name":          a.Name,
				"trigger_type":  trigger,
				"timestamp":     time.Now().UnixMilli(),
			}), nil)
		}
		results = append(results, res)
	}
	return results, nil
}

// runOne executes a single automation with panic containment.
func (e *Engine) runOne(tenantID uuid.UUID, a *models.Automation, tctx TriggerContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("automation panicked: %v", r)
		}
	}()

	cfg, err := a.DecodeConfig()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	action, ok := e.actions[a.ActionType]
	if !ok {
		return fmt.Errorf("%w: no handler for action %q", apperrors.ErrValidation, a.ActionType)
	}
	return action(tenantID, cfg, tctx)
}

// runSendNotification fans a notification row out to every tenant user and
// mirrors each row with a realtime notification message.
func (e *Engine) runSendNotification(tenantID uuid.UUID, cfg *models.ActionConfig, tctx TriggerContext) error {
	nc := cfg.Notification
	if nc == nil || nc.Message == "" {
		return fmt.Errorf("%w: notification config requires a message", apperrors.ErrValidation)
	}

	var users []models.User
	if err := e.db.Where("tenant_id = ?", tenantID).Find(&users).Error; err != nil {
		return fmt.Errorf("failed to load tenant users: %w", err)
	}

	for _, u := range users {
		n := models.Notification{
			ID:       uuid.New(),
			TenantID: tenantID,
			UserID:   u.ID,
			Title:    nc.Title,
			Message:  nc.Message,
		}
		if err := e.db.Create(&n).Error; err != nil {
			return fmt.Errorf("failed to create notification for user %s: %w", u.ID, err)
		}
		e.hub.SendToUser(u.ID, realtime.NewMessage(realtime.MessageNotification, n))
	}
	return nil
}

// runUpdateEntityField applies one allow-listed field change to the entity
// that fired the trigger, then broadcasts the update.
func (e *Engine) runUpdateEntityField(tenantID uuid.UUID, cfg *models.ActionConfig, tctx TriggerContext) error {
	fc := cfg.FieldUpdate
	if fc == nil || fc.Field == "" {
		return fmt.Errorf("%w: field update config requires a field", apperrors.ErrValidation)
	}
	if fc.EntityType != "task" {
		return fmt.Errorf("%w: unsupported entity type %q", apperrors.ErrValidation, fc.EntityType)
	}
	if tctx.EntityID == uuid.Nil {
		return fmt.Errorf("%w: trigger carries no entity id", apperrors.ErrValidation)
	}

	updated, err := e.tasks.Update(tenantID, tctx.EntityID, map[string]interface{}{fc.Field: fc.Value})
	if err != nil {
		return err
	}

	e.hub.BroadcastToTenant(tenantID, realtime.NewMessage(realtime.MessageEntityUpdate, map[string]interface{}{
		"entity_type": fc.EntityType,
		"entity":      updated,
	}), nil)
	return nil
}

func (e *Engine) runSendEmail(tenantID uuid.UUID, cfg *models.ActionConfig, tctx TriggerContext) error {
	ec := cfg.Email
	if ec == nil || ec.To == "" {
		return fmt.Errorf("%w: email config requires a recipient", apperrors.ErrValidation)
	}
	if e.notifier == nil {
		return fmt.Errorf("%w: no email notifier configured", apperrors.ErrDependency)
	}
	if err := e.notifier.SendEmail(ec.To, ec.Subject, ec.Body); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDependency, err)
	}
	return nil
}

func (e *Engine) runCreateEntity(tenantID uuid.UUID, cfg *models.ActionConfig, tctx TriggerContext) error {
	cc := cfg.CreateEntity
	if cc == nil || cc.EntityType == "" {
		return fmt.Errorf("%w: create config requires an entity type", apperrors.ErrValidation)
	}
	if e.creator == nil {
		return fmt.Errorf("%w: no entity creator configured", apperrors.ErrDependency)
	}

	entityID, err := e.creator.CreateEntity(tenantID, cc.EntityType, cc.Fields)
	if err != nil {
		return err
	}

	e.hub.BroadcastToTenant(tenantID, realtime.NewMessage(realtime.MessageEntityCreate, map[string]interface{}{
		"entity_type": cc.EntityType,
		"entity_id":   entityID,
	}), nil)
	return nil
}
