package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
	"github.com/noah-isme/demande-api/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

type sessionValidator interface {
	ValidateToken(token string) (*models.Session, error)
}

// Client is one authenticated websocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *models.Session
	send    chan []byte
}

// Hub fans status-change events out to the connected sessions allowed to see them.
type Hub struct {
	auth       sessionValidator
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.StatusChangedEvent
	done       chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub builds a hub. allowedOrigins empty accepts any origin.
func NewHub(auth sessionValidator, logger *zap.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[origin] = struct{}{}
	}
	return &Hub{
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.StatusChangedEvent, sendBufferSize),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Run dispatches registrations and events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.String("user_id", client.session.UserID))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			h.dispatch(event)
		}
	}
}

// Broadcast queues an event for delivery. It never blocks the caller; when
// the hub is saturated the event is dropped since clients poll the feed anyway.
func (h *Hub) Broadcast(event models.StatusChangedEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("realtime broadcast dropped", zap.String("demande_id", event.DemandeID))
	}
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle upgrades GET /ws?token=... after validating the access token.
func (h *Hub) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing token"))
		return
	}
	session, err := h.auth.ValidateToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, session: session, send: make(chan []byte, sendBufferSize)}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) dispatch(event models.StatusChangedEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode realtime event", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !interested(client.session, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// interested mirrors request visibility: authors, the chef of the
// request's department and the roles that see every request.
func interested(session *models.Session, event models.StatusChangedEvent) bool {
	if session == nil {
		return false
	}
	if session.UserID == event.RequesterID {
		return true
	}
	switch session.Role {
	case workflow.RoleChefDepartement:
		return session.Department == event.Department
	case workflow.RoleDoyen, workflow.RoleSecretaireGeneral, workflow.RoleAdmin:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; clients have nothing to say.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}
