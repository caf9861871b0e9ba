package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/buildgrid/platform/shared/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendQueueSize  = 256
)

// Client is one registered connection. Identity fields are fixed at
// handshake time; room assignment and liveness change under the client's
// own lock.
type Client struct {
	SocketID string
	UserID   *uuid.UUID
	UserName string
	TenantID *uuid.UUID
	Role     models.UserRole

	hub  *Hub
	conn *websocket.Conn

	mu       sync.Mutex
	project  *uuid.UUID
	isAlive  bool
	lastSeen time.Time

	send   chan Message
	closed bool
}

// NewClient builds a registered-but-unstarted client. conn may be nil in
// tests; Send then only fills the queue.
func NewClient(hub *Hub, conn *websocket.Conn, tc *models.TenantContext) *Client {
	c := &Client{
		SocketID: uuid.New().String(),
		hub:      hub,
		conn:     conn,
		isAlive:  true,
		lastSeen: time.Now(),
		send:     make(chan Message, sendQueueSize),
	}
	if tc != nil {
		userID := tc.UserID
		c.UserID = &userID
		c.UserName = tc.UserName
		c.TenantID = tc.TenantID
		c.Role = tc.Role
	}
	return c
}

// Send queues a message without blocking. A full queue drops the message
// so one slow socket cannot delay delivery to others. The closed flag and
// the channel send happen under the same lock as close, so a broadcast
// racing a disconnect drops the message instead of hitting a closed
// channel.
func (c *Client) Send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		logrus.Warnf("socket %s send queue full, dropping %s", c.SocketID, msg.Type)
	}
}

func (c *Client) projectID() *uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

func (c *Client) setProjectID(id *uuid.UUID) {
	c.mu.Lock()
	c.project = id
	c.mu.Unlock()
}

func (c *Client) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isAlive
}

func (c *Client) markAlive() {
	c.mu.Lock()
	c.isAlive = true
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) markDead() {
	c.mu.Lock()
	c.isAlive = false
	c.mu.Unlock()
}

// close shuts down the send queue. The closed flag flips under the client
// lock before the channel closes; an in-flight Send either finished its
// channel send while holding that lock or sees the flag.
func (c *Client) close() {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !alreadyClosed {
		close(c.send)
	}
}

// terminate force-closes the underlying socket after a failed heartbeat.
func (c *Client) terminate() {
	c.close()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) ping() {
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		logrus.Debugf("socket %s ping failed: %v", c.SocketID, err)
	}
}

// readPump reads client messages until the socket closes, then unregisters.
func (c *Client) readPump() {
	defer c.hub.Unregister(c.SocketID)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.hub.MarkAlive(c.SocketID)
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Warnf("socket %s closed unexpectedly: %v", c.SocketID, err)
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	c.markAlive()

	switch msg.Type {
	case MessageJoinProject:
		projectID, err := uuid.Parse(msg.ProjectID)
		if err != nil {
			logrus.Warnf("socket %s: malformed project id in join_project", c.SocketID)
			return
		}
		c.hub.JoinProject(c.SocketID, projectID)

	case MessageLeaveProject:
		c.hub.LeaveProject(c.SocketID)

	case MessagePresencePing:
		if c.TenantID != nil {
			c.hub.PublishPresence(*c.TenantID)
		}

	case MessageChatTyping:
		project := c.projectID()
		if project == nil {
			return
		}
		c.hub.BroadcastToRoom(*project, NewMessage(MessageChatTyping, map[string]interface{}{
			"user_id":   c.UserID,
			"user_name": c.UserName,
			"field":     msg.Field,
			"is_typing": msg.IsTyping,
		}), c.UserID)

	default:
		logrus.Debugf("socket %s: unknown message type %q", c.SocketID, msg.Type)
	}
}

// writePump drains the send queue onto the socket.
func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS returns the gin handler for the live-updates endpoint. The
// credential comes from the token query parameter; verification failure
// leaves the connection anonymous rather than rejecting it.
func ServeWS(hub *Hub, verifier TokenVerifier) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			logrus.Errorf("websocket upgrade failed: %v", err)
			return
		}

		var tc *models.TenantContext
		if token := ctx.Query("token"); token != "" {
			tc, err = verifier.VerifySocketToken(token, ctx.ClientIP())
			if err != nil {
				logrus.Warnf("socket handshake auth failed, connection stays anonymous: %v", err)
				tc = nil
			}
		}

		client := NewClient(hub, conn, tc)
		hub.Register(client)

		go client.writePump()
		go client.readPump()
	}
}
