package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kubilitics/resourcemap/internal/models"
	"github.com/kubilitics/resourcemap/internal/service"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send view changes
	maxMessageSize = 8 * 1024

	sendBuffer = 8
)

// Message types written to subscribers.
const (
	MessageResourceMap = "resourcemap"
	MessageError       = "error"
)

// Message is the envelope of every frame written to a subscriber.
type Message struct {
	Type      string              `json:"type"`
	Map       *models.ResourceMap `json:"map,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// viewRequest replaces the view of a subscription. View is an encoded
// query string such as "group=none&hasErrors=true".
type viewRequest struct {
	Type string `json:"type"` // view
	View string `json:"view"`
}

// Client is one map subscription over a WebSocket connection.
type Client struct {
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; writers stop on ctx.
	send chan []byte

	hub  *Hub
	maps service.ResourceMapService
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	id        string
	clusterID string

	// latest view requested by the peer
	views chan service.ViewState
}

// NewClient creates a client for clusterID. cancel must cancel ctx.
func NewClient(ctx context.Context, cancel context.CancelFunc, hub *Hub, conn *websocket.Conn, maps service.ResourceMapService, id, clusterID string, log *slog.Logger) *Client {
	return &Client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		hub:       hub,
		maps:      maps,
		log:       log.With("client", id, "cluster", clusterID),
		ctx:       ctx,
		cancel:    cancel,
		id:        id,
		clusterID: clusterID,
		views:     make(chan service.ViewState, 1),
	}
}

// ReadPump reads view changes from the peer until the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump writes queued messages and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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

// flush writes what is already queued, without waiting for more.
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// StreamPump forwards maps from updates until the client closes. A view
// change restarts the subscription; stop cancels the current one.
func (c *Client) StreamPump(updates <-chan *models.ResourceMap, stop context.CancelFunc) {
	defer func() { stop() }()

	for {
		select {
		case <-c.ctx.Done():
			return

		case view := <-c.views:
			stop()
			watchCtx, cancel := context.WithCancel(c.ctx)
			next, err := c.maps.Watch(watchCtx, c.clusterID, view)
			if err != nil {
				cancel()
				c.enqueue(Message{Type: MessageError, Error: err.Error()})
				c.Close()
				return
			}
			updates, stop = next, cancel
			c.log.Debug("view changed", "view", view.Encode())

		case m, ok := <-updates:
			if !ok {
				// the cluster was removed
				c.Close()
				return
			}
			c.enqueue(Message{Type: MessageResourceMap, Map: m})
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) enqueue(msg Message) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to encode websocket message", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

// handleMessage applies a view change sent by the peer.
func (c *Client) handleMessage(message []byte) {
	var req viewRequest
	if err := json.Unmarshal(message, &req); err != nil || req.Type != "view" {
		c.enqueue(Message{Type: MessageError, Error: "unsupported message"})
		return
	}
	q, err := url.ParseQuery(req.View)
	if err != nil {
		c.enqueue(Message{Type: MessageError, Error: "invalid view query"})
		return
	}
	view, err := service.ParseViewState(q)
	if err != nil {
		c.enqueue(Message{Type: MessageError, Error: err.Error()})
		return
	}
	// latest wins; only ReadPump writes to views
	select {
	case <-c.views:
	default:
	}
	c.views <- view
}
