package workflow

import (
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/buildgrid/platform/shared/apperrors"
	"github.com/buildgrid/platform/shared/models"
	"github.com/buildgrid/platform/shared/realtime"
	"github.com/buildgrid/platform/shared/store"
)

type recordingHub struct {
	mu        sync.Mutex
	broadcast []realtime.Message
	direct    map[uuid.UUID][]realtime.Message
}

func newRecordingHub() *recordingHub {
	return &recordingHub{direct: make(map[uuid.UUID][]realtime.Message)}
}

func (r *recordingHub) BroadcastToTenant(tenantID uuid.UUID, msg realtime.Message, excludeUserID *uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcast = append(r.broadcast, msg)
}

func (r *recordingHub) SendToUser(userID uuid.UUID, msg realtime.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[userID] = append(r.direct[userID], msg)
}

func (r *recordingHub) broadcastTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.broadcast))
	for i, m := range r.broadcast {
		out[i] = m.Type
	}
	return out
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) SendEmail(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Task{}, &models.Notification{}, &models.Automation{},
	))
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB, hub *recordingHub, notifier Notifier) *Engine {
	t.Helper()
	tasks := store.NewScoped[models.Task](db, []string{"title", "status", "priority", "created_at"})
	return NewEngine(db, hub, notifier, nil, tasks)
}

func seedAutomation(t *testing.T, db *gorm.DB, tenantID uuid.UUID, trigger models.TriggerType, action models.ActionType, config string, enabled bool) models.Automation {
	t.Helper()
	a := models.Automation{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Name:          string(trigger) + "/" + string(action),
		TriggerType:   trigger,
		ActionType:    action,
		Configuration: config,
		Enabled:       enabled,
	}
	require.NoError(t, db.Create(&a).Error)
	return a
}

func TestTriggerRunsOnlyEnabledMatchingRules(t *testing.T) {
	db := openTestDB(t)
	hub := newRecordingHub()
	engine := newTestEngine(t, db, hub, &fakeNotifier{})
	tenantID := uuid.New()

	user := models.User{ID: uuid.New(), TenantID: tenantID, Name: "Dana", Email: "dana@example.com"}
	require.NoError(t, db.Create(&user).Error)

	enabled := seedAutomation(t, db, tenantID, "rfi_created", models.ActionSendNotification,
		`{"title":"New RFI","message":"An RFI was opened"}`, true)
	seedAutomation(t, db, tenantID, "rfi_created", models.ActionSendNotification,
		`{"title":"disabled","message":"never"}`, false)
	seedAutomation(t, db, tenantID, "task_created", models.ActionSendNotification,
		`{"title":"other trigger","message":"never"}`, true)

	results, err := engine.Trigger(tenantID, "rfi_created", TriggerContext{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, enabled.ID, results[0].AutomationID)
	assert.NoError(t, results[0].Err)

	// One notification row per tenant user, mirrored on the socket.
	var rows []models.Notification
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "New RFI", rows[0].Title)
	assert.Len(t, hub.direct[user.ID], 1)

	// Tenant-wide automation_executed announcement.
	assert.Contains(t, hub.broadcastTypes(), realtime.MessageAutomationExecuted)
}

func TestTriggerIsolatesFailures(t *testing.T) {
	db := openTestDB(t)
	hub := newRecordingHub()
	engine := newTestEngine(t, db, hub, &fakeNotifier{})
	tenantID := uuid.New()

	user := models.User{ID: uuid.New(), TenantID: tenantID, Name: "Dana", Email: "dana2@example.com"}
	require.NoError(t, db.Create(&user).Error)

	seedAutomation(t, db, tenantID, "task_updated", models.ActionSendNotification,
		`{"title":"broken`, true) // malformed JSON
	seedAutomation(t, db, tenantID, "task_updated", models.ActionSendNotification,
		`{"title":"ok","message":"still works"}`, true)

	results, err := engine.Trigger(tenantID, "task_updated", TriggerContext{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var failed, succeeded int
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, succeeded)

	var rows []models.Notification
	require.NoError(t, db.Find(&rows).Error)
	assert.Len(t, rows, 1)
}

func TestUpdateEntityFieldRespectsAllowList(t *testing.T) {
	db := openTestDB(t)
	hub := newRecordingHub()
	engine := newTestEngine(t, db, hub, nil)
	tenantID := uuid.New()

	task := models.Task{ID: uuid.New(), TenantID: tenantID, Title: "close out", Status: "open"}
	require.NoError(t, db.Create(&task).Error)

	seedAutomation(t, db, tenantID, "inspection_passed", models.ActionUpdateEntityField,
		`{"entity_type":"task","field":"status","value":"done"}`, true)

	results, err := engine.Trigger(tenantID, "inspection_passed", TriggerContext{
		EntityType: "task",
		EntityID:   task.ID,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	var updated models.Task
	require.NoError(t, db.First(&updated, "id = ?", task.ID).Error)
	assert.Equal(t, "done", updated.Status)
	assert.Contains(t, hub.broadcastTypes(), realtime.MessageEntityUpdate)

	// A field outside the allow-list fails the rule, not the trigger.
	seedAutomation(t, db, tenantID, "inspection_failed", models.ActionUpdateEntityField,
		`{"entity_type":"task","field":"tenant_id","value":"hijack"}`, true)

	results, err = engine.Trigger(tenantID, "inspection_failed", TriggerContext{
		EntityType: "task",
		EntityID:   task.ID,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, apperrors.ErrUnknownField)
}

func TestSendEmailFailureIsContained(t *testing.T) {
	db := openTestDB(t)
	hub := newRecordingHub()
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	engine := newTestEngine(t, db, hub, notifier)
	tenantID := uuid.New()

	seedAutomation(t, db, tenantID, "invoice_overdue", models.ActionSendEmail,
		`{"to":"billing@example.com","subject":"overdue","body":"pay up"}`, true)

	results, err := engine.Trigger(tenantID, "invoice_overdue", TriggerContext{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, apperrors.ErrDependency)

	// No automation_executed for a failed rule.
	assert.NotContains(t, hub.broadcastTypes(), realtime.MessageAutomationExecuted)
}

func TestTriggerScopedToTenant(t *testing.T) {
	db := openTestDB(t)
	hub := newRecordingHub()
	engine := newTestEngine(t, db, hub, &fakeNotifier{})
	tenantA := uuid.New()
	tenantB := uuid.New()

	seedAutomation(t, db, tenantB, "task_created", models.ActionSendNotification,
		`{"title":"b","message":"b"}`, true)

	results, err := engine.Trigger(tenantA, "task_created", TriggerContext{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUnknownActionTypeFailsValidation(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db, newRecordingHub(), nil)
	tenantID := uuid.New()

	seedAutomation(t, db, tenantID, "task_created", models.ActionType("launch_rocket"), `{}`, true)

	results, err := engine.Trigger(tenantID, "task_created", TriggerContext{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, apperrors.ErrValidation)
}
