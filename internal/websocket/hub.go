package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The UI is served from localhost by the same process or a dev server.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Controller is the command surface the hub forwards UI commands to.
// *usecase.LiveService satisfies it.
type Controller interface {
	Start(ctx context.Context, userName string) (entities.LiveSnapshot, error)
	Stop() entities.LiveSnapshot
	ToggleMute() (bool, error)
	SelectCredential(ctx context.Context, key string) (entities.LiveSnapshot, error)
	SetVoice(voice string) (entities.Profile, error)
	Snapshot() entities.LiveSnapshot
}

// Hub maintains the set of active UI clients and pushes every live snapshot
// to them.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	controller Controller
	validator  *MessageValidator
	logger     *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(controller Controller, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		controller: controller,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done, after
// closing every client's outbound channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientID", client.id), zap.String("userName", client.userName))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.id]
			if ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			remaining := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

			// Nobody is left to hear or control the session.
			if ok && remaining == 0 && h.controller.Snapshot().Active() {
				h.logger.Info("Last client left, stopping live session")
				h.controller.Stop()
			}

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes snap to every client. It never blocks: a client whose
// buffer is full misses this snapshot and catches up on the next one.
func (h *Hub) Broadcast(snap entities.LiveSnapshot) {
	payload, err := json.Marshal(CreateSnapshotMessage(snap))
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		default:
			h.logger.Warn("Client send buffer full, dropping snapshot", zap.String("clientID", client.id))
		}
	}
}

// send queues v for one client if it is still registered.
func (h *Hub) send(client *Client, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.id]; !ok {
		return
	}
	select {
	case client.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		h.logger.Warn("Client send buffer full, dropping reply", zap.String("clientID", client.id))
	}
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	id       string
	userName string

	logger *zap.Logger
}

// HandleWebSocket upgrades the request and registers a client for userName.
// The client first receives the current snapshot.
func HandleWebSocket(hub *Hub, c echo.Context, userName string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, sendBuffer),
		id:       uuid.New().String(),
		userName: userName,
		logger:   logger,
	}

	if payload, err := json.Marshal(CreateSnapshotMessage(hub.controller.Snapshot())); err == nil {
		client.send <- WriteData{Type: websocket.TextMessage, Payload: payload}
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps commands from the websocket connection to the controller.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			continue
		}
		c.processMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage dispatches one UI command. Commands that set up a session
// run on their own goroutine so a stop can arrive while they block.
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.String("clientID", c.id), zap.Error(err))
		c.hub.send(c, CreateErrorMessage("invalid_message", err.Error(), ""))
		return
	}

	ctrl := c.hub.controller
	switch m := msg.(type) {
	case *StartSessionMessage:
		name := m.UserName
		if name == "" {
			name = c.userName
		}
		go func() {
			if _, err := ctrl.Start(context.Background(), name); err != nil {
				c.replyError(err)
			}
		}()

	case *StopSessionMessage:
		ctrl.Stop()

	case *ToggleMuteMessage:
		muted, err := ctrl.ToggleMute()
		if err != nil {
			c.replyError(err)
			return
		}
		c.hub.send(c, CreateMuteMessage(muted))

	case *SelectCredentialMessage:
		go func() {
			if _, err := ctrl.SelectCredential(context.Background(), m.APIKey); err != nil {
				c.replyError(err)
			}
		}()

	case *SetVoiceMessage:
		if _, err := ctrl.SetVoice(m.Voice); err != nil {
			c.replyError(err)
			return
		}
		c.hub.send(c, CreateSnapshotMessage(ctrl.Snapshot()))

	case *PingMessage:
		c.hub.send(c, CreatePongMessage(m.Data))
	}
}

func (c *Client) replyError(err error) {
	c.hub.send(c, CreateErrorMessage(ErrorCode(err), errorText(err), err.Error()))
}

// ErrorCode maps a command error to a stable code for the UI.
func ErrorCode(err error) string {
	var se *domain.SessionError
	switch {
	case errors.Is(err, domain.ErrSessionCanceled):
		return "session_canceled"
	case errors.Is(err, domain.ErrNotConnected):
		return "not_connected"
	case errors.As(err, &se):
		return domain.KindName(se.Kind)
	default:
		return "invalid_request"
	}
}

func errorText(err error) string {
	var se *domain.SessionError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
