// Package events defines the domain event value and the dispatcher that
// fans each event out to the audit trail, the activity timeline, the
// automation engine, the realtime hub and the Kafka stream. Stage order is
// fixed and every stage is contained: one failing consumer never stops the
// rest of the pipeline.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/realtime"
	"github.com/buildgrid/platform/shared/workflow"
)

// Event actions, mirrored onto realtime message types.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// DomainEvent is the immutable record of one domain mutation.
type DomainEvent struct {
	ID         uuid.UUID              `json:"id"`
	Type       models.TriggerType     `json:"type"`
	Action     string                 `json:"action"`
	TenantID   uuid.UUID              `json:"tenant_id"`
	ProjectID  *uuid.UUID             `json:"project_id,omitempty"`
	EntityType string                 `json:"entity_type"`
	EntityID   uuid.UUID              `json:"entity_id"`
	ActorID    uuid.UUID              `json:"actor_id"`
	ActorName  string                 `json:"actor_name"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewDomainEvent stamps identity and time onto an event.
func NewDomainEvent(eventType models.TriggerType, action string, tenantID uuid.UUID, actor *models.TenantContext) DomainEvent {
	ev := DomainEvent{
		ID:         uuid.New(),
		Type:       eventType,
		Action:     action,
		TenantID:   tenantID,
		OccurredAt: time.Now(),
	}
	if actor != nil {
		ev.ActorID = actor.UserID
		ev.ActorName = actor.UserName
		ev.IPAddress = actor.IPAddress
		ev.UserAgent = actor.UserAgent
	}
	return ev
}

// AuditRecorder is the slice of the audit trail the dispatcher needs.
type AuditRecorder interface {
	Log(entry models.AuditLog)
	LogActivity(event models.ActivityEvent)
}

// Triggerer is the slice of the automation engine the dispatcher needs.
type Triggerer interface {
	Trigger(tenantID uuid.UUID, trigger models.TriggerType, tctx workflow.TriggerContext) ([]workflow.Result, error)
}

// Broadcaster is the slice of the realtime hub the dispatcher needs.
type Broadcaster interface {
	BroadcastToTenant(tenantID uuid.UUID, msg realtime.Message, excludeUserID *uuid.UUID)
}

// Publisher ships events to the external stream.
type Publisher interface {
	Publish(event DomainEvent) error
}

// Dispatcher fans domain events out in fixed order: audit, activity,
// automations, realtime broadcast, stream publish.
type Dispatcher struct {
	trail     AuditRecorder
	engine    Triggerer
	hub       Broadcaster
	publisher Publisher
}

// NewDispatcher wires the pipeline. publisher may be nil when the stream
// is disabled; the other stages still run.
func NewDispatcher(trail AuditRecorder, engine Triggerer, hub Broadcaster, publisher Publisher) *Dispatcher {
	return &Dispatcher{trail: trail, engine: engine, hub: hub, publisher: publisher}
}

// Dispatch runs the pipeline for one event. Each stage is contained; a
// panic or error in one stage is logged and the next stage still runs.
func (d *Dispatcher) Dispatch(event DomainEvent) {
	metadata := marshalPayload(event.Payload)

	d.contain("audit", event, func() {
		d.trail.Log(models.AuditLog{
			TenantID:   event.TenantID,
			UserID:     event.ActorID,
			UserName:   event.ActorName,
			Action:     string(event.Type),
			Resource:   event.EntityType,
			ResourceID: event.EntityID.String(),
			Metadata:   metadata,
			IPAddress:  event.IPAddress,
			UserAgent:  event.UserAgent,
			CreatedAt:  event.OccurredAt,
		})
	})

	d.contain("activity", event, func() {
		d.trail.LogActivity(models.ActivityEvent{
			TenantID:   event.TenantID,
			ProjectID:  event.ProjectID,
			UserID:     event.ActorID,
			UserName:   event.ActorName,
			Action:     string(event.Type),
			EntityType: event.EntityType,
			EntityID:   event.EntityID.String(),
			Metadata:   metadata,
			CreatedAt:  event.OccurredAt,
		})
	})

	d.contain("automations", event, func() {
		_, err := d.engine.Trigger(event.TenantID, event.Type, workflow.TriggerContext{
			EntityType: event.EntityType,
			EntityID:   event.EntityID,
			ActorID:    event.ActorID,
			Payload:    event.Payload,
		})
		if err != nil {
			logrus.Errorf("automation stage failed for %s: %v", event.Type, err)
		}
	})

	d.contain("broadcast", event, func() {
		msgType, ok := broadcastType(event.Action)
		if !ok {
			return
		}
		actorID := event.ActorID
		d.hub.BroadcastToTenant(event.TenantID, realtime.NewMessage(msgType, map[string]interface{}{
			"entity_type": event.EntityType,
			"entity_id":   event.EntityID,
			"payload":     event.Payload,
		}), &actorID)
	})

	if d.publisher != nil {
		d.contain("stream", event, func() {
			if err := d.publisher.Publish(event); err != nil {
				logrus.Errorf("stream publish failed for %s: %v", event.Type, err)
			}
		})
	}
}

func (d *Dispatcher) contain(stage string, event DomainEvent, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("dispatch stage %s panicked for event %s (%s): %v", stage, event.ID, event.Type, r)
		}
	}()
	fn()
}

func broadcastType(action string) (string, bool) {
	switch action {
	case ActionCreate:
		return realtime.MessageEntityCreate, true
	case ActionUpdate:
		return realtime.MessageEntityUpdate, true
	case ActionDelete:
		return realtime.MessageEntityDelete, true
	default:
		return "", false
	}
}

func marshalPayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return "{}"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.Warnf("failed to marshal event payload: %v", err)
		return "{}"
	}
	return string(data)
}
