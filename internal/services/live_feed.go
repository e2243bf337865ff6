package services

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// FeedMessage is one frame pushed to connected operator dashboards.
type FeedMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type feedClient struct {
	id   string
	org  string
	conn *websocket.Conn
	send chan FeedMessage
	hub  *LiveFeed
}

// LiveFeed streams flow run summaries to operator dashboards over
// websockets. The engine publishes through the RunPublisher interface;
// publishing never blocks on slow consumers.
type LiveFeed struct {
	clients    map[string]*feedClient
	broadcast  chan FeedMessage
	register   chan *feedClient
	unregister chan *feedClient
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the fronting proxy
	},
}

func NewLiveFeed(logger *logrus.Logger) *LiveFeed {
	if logger == nil {
		logger = logrus.New()
	}
	return &LiveFeed{
		clients:    make(map[string]*feedClient),
		broadcast:  make(chan FeedMessage, 64),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		logger:     logger,
	}
}

// PublishRun implements RunPublisher. Drops the frame if the hub is
// backed up rather than stalling the engine.
func (h *LiveFeed) PublishRun(summary RunSummary) {
	msg := FeedMessage{Type: "flow_run", Data: summary, Timestamp: time.Now()}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Run owns the client set until the broadcast channel is closed.
func (h *LiveFeed) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			h.logger.Infof("feed: client %s connected", client.id)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				h.logger.Infof("feed: client %s disconnected", client.id)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				if !feedMessageFor(client, message) {
					continue
				}
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// feedMessageFor scopes frames to the client's organization when it
// connected with one.
func feedMessageFor(client *feedClient, msg FeedMessage) bool {
	if client.org == "" {
		return true
	}
	if summary, ok := msg.Data.(RunSummary); ok {
		return summary.OrganizationID == client.org
	}
	return true
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (h *LiveFeed) HandleWebSocket(c *gin.Context) {
	conn, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("feed: upgrade failed: %v", err)
		return
	}

	client := &feedClient{
		id:   fmt.Sprintf("feed_%d", time.Now().UnixNano()),
		org:  c.Query("organization_id"),
		conn: conn,
		send: make(chan FeedMessage, 64),
		hub:  h,
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// ClientCount reports connected dashboards.
func (h *LiveFeed) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (c *feedClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Dashboards are read-only consumers; inbound frames are drained and
	// discarded until the connection closes.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorf("feed: read error: %v", err)
			}
			break
		}
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
