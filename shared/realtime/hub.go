// Package realtime manages long-lived WebSocket connections grouped by
// tenant and by project room. The Hub owns the connection registry behind a
// single mutex and is injected into every component that broadcasts;
// nothing reaches it through global state.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/buildgrid/platform/shared/models"
)

// Server to client message types.
const (
	MessageEntityCreate       = "entity_create"
	MessageEntityUpdate       = "entity_update"
	MessageEntityDelete       = "entity_delete"
	MessageActivityNew        = "activity_new"
	MessagePresenceUpdate     = "presence_update"
	MessageCompanyPresence    = "company_presence"
	MessageAutomationExecuted = "automation_executed"
	MessageNotification       = "notification"
	MessageChatTyping         = "chat_typing"
)

// Client to server message types.
const (
	MessageJoinProject  = "join_project"
	MessageLeaveProject = "leave_project"
	MessagePresencePing = "presence_ping"
)

// Message is the wire envelope for server-to-client traffic.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewMessage stamps a message with the current time.
func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()}
}

// ClientMessage is the envelope for client-to-server traffic.
type ClientMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	Field     string `json:"field,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
}

// TokenVerifier resolves a handshake credential into a tenant context.
// Failure leaves the connection anonymous rather than rejecting it; some
// platform-level sockets operate without a tenant.
type TokenVerifier interface {
	VerifySocketToken(token, ipAddress string) (*models.TenantContext, error)
}

// ProjectDirectory answers whether a project belongs to a tenant. Joins are
// validated server-side against it; the client's claim is never trusted.
type ProjectDirectory interface {
	ProjectBelongsToTenant(projectID, tenantID uuid.UUID) (bool, error)
}

// Hub owns the connection registry. All mutation paths (connect,
// disconnect, join/leave, heartbeat sweep) go through its mutex, and every
// broadcast snapshots its target set before sending.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	directory ProjectDirectory

	heartbeatInterval time.Duration
}

// NewHub creates a hub with the standard 30s heartbeat interval.
func NewHub(directory ProjectDirectory) *Hub {
	return &Hub{
		clients:           make(map[string]*Client),
		directory:         directory,
		heartbeatInterval: 30 * time.Second,
	}
}

// Register adds a connection to the registry and, for authenticated
// tenant connections, publishes a presence recompute.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.SocketID] = c
	h.mu.Unlock()

	logrus.Infof("socket %s connected (clients=%d)", c.SocketID, h.ClientCount())

	if c.TenantID != nil {
		h.PublishPresence(*c.TenantID)
	}
}

// Unregister removes a connection, emits a presence-offline event for its
// room, and recomputes tenant presence.
func (h *Hub) Unregister(socketID string) {
	h.mu.Lock()
	c, ok := h.clients[socketID]
	if ok {
		delete(h.clients, socketID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	c.close()
	logrus.Infof("socket %s disconnected (clients=%d)", socketID, h.ClientCount())

	if c.projectID() != nil && c.TenantID != nil {
		h.emitPresenceOffline(c, *c.projectID())
	}
	if c.TenantID != nil {
		h.PublishPresence(*c.TenantID)
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// JoinProject admits a connection into a project room after verifying the
// project belongs to the connection's tenant. Mismatches are rejected
// silently with a security warning; the connection stays up. Re-joining the
// current room is a no-op; switching rooms first leaves the old one.
func (h *Hub) JoinProject(socketID string, projectID uuid.UUID) {
	h.mu.RLock()
	c, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if c.TenantID == nil {
		logrus.Warnf("socket %s: anonymous join_project rejected", socketID)
		return
	}

	belongs, err := h.directory.ProjectBelongsToTenant(projectID, *c.TenantID)
	if err != nil {
		logrus.Errorf("socket %s: project lookup failed: %v", socketID, err)
		return
	}
	if !belongs {
		logrus.Warnf("security: socket %s (tenant %s) attempted to join project %s of another tenant",
			socketID, c.TenantID, projectID)
		return
	}

	prev := c.projectID()
	if prev != nil && *prev == projectID {
		return
	}
	if prev != nil {
		h.emitPresenceOffline(c, *prev)
	}
	c.setProjectID(&projectID)
}

// LeaveProject removes the connection from its room and always emits a
// presence-offline event for that room.
func (h *Hub) LeaveProject(socketID string) {
	h.mu.RLock()
	c, ok := h.clients[socketID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	prev := c.projectID()
	if prev == nil {
		return
	}
	c.setProjectID(nil)
	h.emitPresenceOffline(c, *prev)
}

func (h *Hub) emitPresenceOffline(c *Client, projectID uuid.UUID) {
	h.BroadcastToRoom(projectID, NewMessage(MessagePresenceUpdate, map[string]interface{}{
		"user_id":    c.UserID,
		"project_id": projectID,
		"status":     "offline",
	}), nil)
}

// snapshot collects matching clients under the read lock so sends never
// iterate the live map.
func (h *Hub) snapshot(match func(*Client) bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}

// BroadcastToTenant delivers a message to every connection of the tenant,
// optionally excluding one user. The registry is always filtered by tenant;
// anonymous connections never receive tenant traffic.
func (h *Hub) BroadcastToTenant(tenantID uuid.UUID, msg Message, excludeUserID *uuid.UUID) {
	targets := h.snapshot(func(c *Client) bool {
		if c.TenantID == nil || *c.TenantID != tenantID {
			return false
		}
		return excludeUserID == nil || c.UserID == nil || *c.UserID != *excludeUserID
	})
	for _, c := range targets {
		c.Send(msg)
	}
}

// BroadcastToRoom delivers a message to every connection joined to the
// project room.
func (h *Hub) BroadcastToRoom(projectID uuid.UUID, msg Message, excludeUserID *uuid.UUID) {
	targets := h.snapshot(func(c *Client) bool {
		p := c.projectID()
		if p == nil || *p != projectID {
			return false
		}
		return excludeUserID == nil || c.UserID == nil || *c.UserID != *excludeUserID
	})
	for _, c := range targets {
		c.Send(msg)
	}
}

// SendToUser delivers a message to every connection of one user.
func (h *Hub) SendToUser(userID uuid.UUID, msg Message) {
	targets := h.snapshot(func(c *Client) bool {
		return c.UserID != nil && *c.UserID == userID
	})
	for _, c := range targets {
		c.Send(msg)
	}
}

// BroadcastToAll delivers a platform-wide message. Used sparingly.
func (h *Hub) BroadcastToAll(msg Message) {
	for _, c := range h.snapshot(func(*Client) bool { return true }) {
		c.Send(msg)
	}
}

// ConnectedUserIDs returns the de-duplicated set of user ids currently
// connected for a tenant.
func (h *Hub) ConnectedUserIDs(tenantID uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, c := range h.snapshot(func(c *Client) bool {
		return c.TenantID != nil && *c.TenantID == tenantID && c.UserID != nil
	}) {
		if !seen[*c.UserID] {
			seen[*c.UserID] = true
			out = append(out, *c.UserID)
		}
	}
	return out
}

// PublishPresence recomputes and broadcasts the tenant's presence set.
// Called whenever a tenant connection opens, closes or is pruned.
func (h *Hub) PublishPresence(tenantID uuid.UUID) {
	h.BroadcastToTenant(tenantID, NewMessage(MessageCompanyPresence, map[string]interface{}{
		"user_ids": h.ConnectedUserIDs(tenantID),
	}), nil)
}

// MarkAlive records a pong from the connection.
func (h *Hub) MarkAlive(socketID string) {
	h.mu.RLock()
	c, ok := h.clients[socketID]
	h.mu.RUnlock()
	if ok {
		c.markAlive()
	}
}

// Sweep is one heartbeat pass: connections still marked dead from the
// previous pass are terminated and pruned, everything else is marked dead
// and pinged. Tenants of pruned connections get a presence recompute.
func (h *Hub) Sweep() {
	h.mu.Lock()
	var pruned []*Client
	for id, c := range h.clients {
		if !c.alive() {
			delete(h.clients, id)
			pruned = append(pruned, c)
			continue
		}
		c.markDead()
	}
	remaining := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		remaining = append(remaining, c)
	}
	h.mu.Unlock()

	for _, c := range pruned {
		logrus.Warnf("socket %s pruned by heartbeat sweep", c.SocketID)
		c.terminate()
		if c.TenantID != nil {
			h.PublishPresence(*c.TenantID)
		}
	}
	for _, c := range remaining {
		c.ping()
	}
}

// RunHeartbeat sweeps the registry at the hub's interval until stop is
// closed. Broadcast delivery never blocks this loop: sends go through
// bounded per-connection queues.
func (h *Hub) RunHeartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep()
		case <-stop:
			return
		}
	}
}
