package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/realtime"
	"github.com/buildgrid/platform/shared/workflow"
)

// callRecorder collects the order in which pipeline stages fire.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

type fakeTrail struct {
	rec        *callRecorder
	audits     []models.AuditLog
	activities []models.ActivityEvent
	panicOn    string
}

func (f *fakeTrail) Log(entry models.AuditLog) {
	if f.panicOn == "audit" {
		panic("audit store down")
	}
	f.rec.record("audit")
	f.audits = append(f.audits, entry)
}

func (f *fakeTrail) LogActivity(event models.ActivityEvent) {
	if f.panicOn == "activity" {
		panic("activity store down")
	}
	f.rec.record("activity")
	f.activities = append(f.activities, event)
}

type fakeEngine struct {
	rec      *callRecorder
	triggers []models.TriggerType
	err      error
}

func (f *fakeEngine) Trigger(tenantID uuid.UUID, trigger models.TriggerType, tctx workflow.TriggerContext) ([]workflow.Result, error) {
	f.rec.record("automations")
	f.triggers = append(f.triggers, trigger)
	return nil, f.err
}

type fakeHub struct {
	rec      *callRecorder
	messages []realtime.Message
	excludes []*uuid.UUID
}

func (f *fakeHub) BroadcastToTenant(tenantID uuid.UUID, msg realtime.Message, excludeUserID *uuid.UUID) {
	f.rec.record("broadcast")
	f.messages = append(f.messages, msg)
	f.excludes = append(f.excludes, excludeUserID)
}

type fakePublisher struct {
	rec    *callRecorder
	events []DomainEvent
	err    error
}

func (f *fakePublisher) Publish(event DomainEvent) error {
	f.rec.record("stream")
	f.events = append(f.events, event)
	return f.err
}

func newTestEvent() DomainEvent {
	actor := &models.TenantContext{UserID: uuid.New(), UserName: "Dana", IPAddress: "10.0.0.1", UserAgent: "Mozilla/5.0 (site-tablet)"}
	ev := NewDomainEvent("task_created", ActionCreate, uuid.New(), actor)
	ev.EntityType = "task"
	ev.EntityID = uuid.New()
	ev.Payload = map[string]interface{}{"title": "pour slab"}
	return ev
}

func TestDispatchRunsStagesInOrder(t *testing.T) {
	rec := &callRecorder{}
	trail := &fakeTrail{rec: rec}
	engine := &fakeEngine{rec: rec}
	hub := &fakeHub{rec: rec}
	publisher := &fakePublisher{rec: rec}

	d := NewDispatcher(trail, engine, hub, publisher)
	ev := newTestEvent()
	d.Dispatch(ev)

	assert.Equal(t, []string{"audit", "activity", "automations", "broadcast", "stream"}, rec.calls)

	require.Len(t, trail.audits, 1)
	assert.Equal(t, "task_created", trail.audits[0].Action)
	assert.Equal(t, ev.EntityID.String(), trail.audits[0].ResourceID)
	assert.Equal(t, "10.0.0.1", trail.audits[0].IPAddress)
	assert.Equal(t, "Mozilla/5.0 (site-tablet)", trail.audits[0].UserAgent)

	require.Len(t, trail.activities, 1)
	assert.Equal(t, "task", trail.activities[0].EntityType)

	require.Len(t, engine.triggers, 1)
	assert.Equal(t, models.TriggerType("task_created"), engine.triggers[0])

	require.Len(t, hub.messages, 1)
	assert.Equal(t, realtime.MessageEntityCreate, hub.messages[0].Type)
	require.NotNil(t, hub.excludes[0])
	assert.Equal(t, ev.ActorID, *hub.excludes[0])

	require.Len(t, publisher.events, 1)
	assert.Equal(t, ev.ID, publisher.events[0].ID)
}

func TestDispatchContainsPanickingStage(t *testing.T) {
	rec := &callRecorder{}
	trail := &fakeTrail{rec: rec, panicOn: "audit"}
	engine := &fakeEngine{rec: rec}
	hub := &fakeHub{rec: rec}
	publisher := &fakePublisher{rec: rec}

	d := NewDispatcher(trail, engine, hub, publisher)
	require.NotPanics(t, func() { d.Dispatch(newTestEvent()) })

	// The failed stage is skipped, the rest still ran.
	assert.Equal(t, []string{"activity", "automations", "broadcast", "stream"}, rec.calls)
}

func TestDispatchContinuesPastStageErrors(t *testing.T) {
	rec := &callRecorder{}
	trail := &fakeTrail{rec: rec}
	engine := &fakeEngine{rec: rec, err: errors.New("rules unavailable")}
	hub := &fakeHub{rec: rec}
	publisher := &fakePublisher{rec: rec, err: errors.New("broker down")}

	d := NewDispatcher(trail, engine, hub, publisher)
	d.Dispatch(newTestEvent())

	assert.Equal(t, []string{"audit", "activity", "automations", "broadcast", "stream"}, rec.calls)
}

func TestDispatchWithoutPublisher(t *testing.T) {
	rec := &callRecorder{}
	d := NewDispatcher(&fakeTrail{rec: rec}, &fakeEngine{rec: rec}, &fakeHub{rec: rec}, nil)

	d.Dispatch(newTestEvent())
	assert.Equal(t, []string{"audit", "activity", "automations", "broadcast"}, rec.calls)
}

func TestBroadcastTypeMapping(t *testing.T) {
	rec := &callRecorder{}
	hub := &fakeHub{rec: rec}
	d := NewDispatcher(&fakeTrail{rec: rec}, &fakeEngine{rec: rec}, hub, nil)

	for action, want := range map[string]string{
		ActionCreate: realtime.MessageEntityCreate,
		ActionUpdate: realtime.MessageEntityUpdate,
		ActionDelete: realtime.MessageEntityDelete,
	} {
		ev := newTestEvent()
		ev.Action = action
		d.Dispatch(ev)
		assert.Equal(t, want, hub.messages[len(hub.messages)-1].Type)
	}

	// Unknown actions skip the broadcast stage silently.
	before := len(hub.messages)
	ev := newTestEvent()
	ev.Action = "NOOP"
	d.Dispatch(ev)
	assert.Len(t, hub.messages, before)
}
