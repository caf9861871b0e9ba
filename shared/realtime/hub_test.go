package realtime

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildgrid/platform/shared/models"
)

// fakeDirectory validates joins against a fixed project->tenant mapping.
type fakeDirectory struct {
	projects map[uuid.UUID]uuid.UUID
}

func (f *fakeDirectory) ProjectBelongsToTenant(projectID, tenantID uuid.UUID) (bool, error) {
	owner, ok := f.projects[projectID]
	return ok && owner == tenantID, nil
}

func newTestClient(hub *Hub, tenantID *uuid.UUID) *Client {
	var tc *models.TenantContext
	if tenantID != nil {
		tc = &models.TenantContext{
			UserID:   uuid.New(),
			UserName: "tester",
			TenantID: tenantID,
			Role:     models.RoleUser,
		}
	}
	return NewClient(hub, nil, tc)
}

func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func messageTypes(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestBroadcastToTenantFiltersByTenant(t *testing.T) {
	hub := NewHub(&fakeDirectory{})
	tenantA := uuid.New()
	tenantB := uuid.New()

	a1 := newTestClient(hub, &tenantA)
	a2 := newTestClient(hub, &tenantA)
	b1 := newTestClient(hub, &tenantB)
	anon := newTestClient(hub, nil)
	for _, c := range []*Client{a1, a2, b1, anon} {
		hub.Register(c)
	}
	// Clear the presence messages emitted on register.
	for _, c := range []*Client{a1, a2, b1, anon} {
		drain(c)
	}

	hub.BroadcastToTenant(tenantA, NewMessage(MessageEntityCreate, nil), nil)

	assert.Len(t, drain(a1), 1)
	assert.Len(t, drain(a2), 1)
	assert.Empty(t, drain(b1))
	assert.Empty(t, drain(anon))
}

func TestBroadcastExcludesUser(t *testing.T) {
	hub := NewHub(&fakeDirectory{})
	tenantID := uuid.New()

	actor := newTestClient(hub, &tenantID)
	other := newTestClient(hub, &tenantID)
	hub.Register(actor)
	hub.Register(other)
	drain(actor)
	drain(other)

	hub.BroadcastToTenant(tenantID, NewMessage(MessageEntityUpdate, nil), actor.UserID)

	assert.Empty(t, drain(actor))
	assert.Len(t, drain(other), 1)
}

func TestJoinProjectValidatesOwnership(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	projectA := uuid.New()
	projectB := uuid.New()
	hub := NewHub(&fakeDirectory{projects: map[uuid.UUID]uuid.UUID{
		projectA: tenantA,
		projectB: tenantB,
	}})

	c := newTestClient(hub, &tenantA)
	hub.Register(c)

	// Joining another tenant's project is rejected silently; the
	// connection survives and stays roomless.
	hub.JoinProject(c.SocketID, projectB)
	assert.Nil(t, c.projectID())
	assert.Equal(t, 1, hub.ClientCount())

	hub.JoinProject(c.SocketID, projectA)
	require.NotNil(t, c.projectID())
	assert.Equal(t, projectA, *c.projectID())
}

func TestJoinProjectRejectsAnonymous(t *testing.T) {
	projectID := uuid.New()
	tenantID := uuid.New()
	hub := NewHub(&fakeDirectory{projects: map[uuid.UUID]uuid.UUID{projectID: tenantID}})

	anon := newTestClient(hub, nil)
	hub.Register(anon)

	hub.JoinProject(anon.SocketID, projectID)
	assert.Nil(t, anon.projectID())
}

func TestJoinProjectIdempotentAndSwitching(t *testing.T) {
	tenantID := uuid.New()
	p1 := uuid.New()
	p2 := uuid.New()
	hub := NewHub(&fakeDirectory{projects: map[uuid.UUID]uuid.UUID{p1: tenantID, p2: tenantID}})

	c := newTestClient(hub, &tenantID)
	observer := newTestClient(hub, &tenantID)
	hub.Register(c)
	hub.Register(observer)

	hub.JoinProject(c.SocketID, p1)
	hub.JoinProject(observer.SocketID, p1)
	drain(c)
	drain(observer)

	// Re-joining the same room emits nothing.
	hub.JoinProject(c.SocketID, p1)
	assert.Empty(t, drain(observer))

	// Switching rooms leaves the old one, visible as a presence-offline
	// event in the old room.
	hub.JoinProject(c.SocketID, p2)
	msgs := drain(observer)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessagePresenceUpdate, msgs[0].Type)
	require.NotNil(t, c.projectID())
	assert.Equal(t, p2, *c.projectID())
}

func TestBroadcastToRoom(t *testing.T) {
	tenantID := uuid.New()
	projectID := uuid.New()
	hub := NewHub(&fakeDirectory{projects: map[uuid.UUID]uuid.UUID{projectID: tenantID}})

	inRoom := newTestClient(hub, &tenantID)
	outside := newTestClient(hub, &tenantID)
	hub.Register(inRoom)
	hub.Register(outside)
	hub.JoinProject(inRoom.SocketID, projectID)
	drain(inRoom)
	drain(outside)

	hub.BroadcastToRoom(projectID, NewMessage(MessageChatTyping, nil), nil)

	assert.Len(t, drain(inRoom), 1)
	assert.Empty(t, drain(outside))
}

func TestUnregisterRecomputesPresence(t *testing.T) {
	hub := NewHub(&fakeDirectory{})
	tenantID := uuid.New()

	leaving := newTestClient(hub, &tenantID)
	staying := newTestClient(hub, &tenantID)
	hub.Register(leaving)
	hub.Register(staying)
	drain(staying)

	hub.Unregister(leaving.SocketID)

	assert.Equal(t, 1, hub.ClientCount())
	msgs := drain(staying)
	require.NotEmpty(t, msgs)
	assert.Contains(t, messageTypes(msgs), MessageCompanyPresence)

	// Unregistering twice is harmless.
	hub.Unregister(leaving.SocketID)
}

func TestConnectedUserIDsDeduplicates(t *testing.T) {
	hub := NewHub(&fakeDirectory{})
	tenantID := uuid.New()
	userID := uuid.New()

	// Same user on two sockets.
	tc := &models.TenantContext{UserID: userID, TenantID: &tenantID, Role: models.RoleUser}
	c1 := NewClient(hub, nil, tc)
	c2 := NewClient(hub, nil, tc)
	other := newTestClient(hub, &tenantID)
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(other)

	ids := hub.ConnectedUserIDs(tenantID)
	assert.Len(t, ids, 2)
}

func TestSweepPrunesAfterTwoMissedHeartbeats(t *testing.T) {
	hub := NewHub(&fakeDirectory{})
	tenantID := uuid.New()

	c := newTestClient(hub, &tenantID)
	hub.Register(c)

	// First sweep marks the connection dead and pings it.
	hub.Sweep()
	assert.Equal(t, 1, hub.ClientCount())
	assert.False(t, c.alive())

	// A pong in between keeps it alive.
	hub.MarkAlive(c.SocketID)
	hub.Sweep()
	assert.Equal(t, 1, hub.ClientCount())

	// No pong before the next sweep: pruned.
	hub.Sweep()
	assert.Equal(t, 0, hub.ClientCount())
}

func TestSendToDisconnectedClientIsDropped(t *testing.T) {
	hub := NewHub(&fakeDirectory{})
	tenantID := uuid.New()
	c := newTestClient(hub, &tenantID)
	hub.Register(c)

	// A broadcast snapshots its targets before sending; the client can
	// unregister in between. The late send must be a silent drop.
	targets := hub.snapshot(func(*Client) bool { return true })
	require.Len(t, targets, 1)
	hub.Unregister(c.SocketID)

	require.NotPanics(t, func() {
		targets[0].Send(NewMessage(MessageEntityCreate, nil))
	})
}

func TestBroadcastConcurrentWithDisconnect(t *testing.T) {
	hub := NewHub(&fakeDirectory{})
	tenantID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		c := newTestClient(hub, &tenantID)
		hub.Register(c)

		wg.Add(2)
		go func(socketID string) {
			defer wg.Done()
			hub.Unregister(socketID)
		}(c.SocketID)
		go func() {
			defer wg.Done()
			hub.BroadcastToTenant(tenantID, NewMessage(MessageEntityUpdate, nil), nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.ClientCount())
}

func TestSendDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(&fakeDirectory{})
	tenantID := uuid.New()
	c := newTestClient(hub, &tenantID)
	hub.Register(c)
	drain(c)

	for i := 0; i < sendQueueSize+10; i++ {
		c.Send(NewMessage(MessageNotification, i))
	}
	// The queue holds exactly its capacity; the overflow was dropped, not
	// blocked on.
	assert.Len(t, drain(c), sendQueueSize)
}
