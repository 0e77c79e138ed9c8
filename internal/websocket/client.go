package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/observe"
	"dockwave-backend/internal/reconciler"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 2048 // Sized for location_update messages

	// Close code telling the client to reconnect for a fresh snapshot
	closeResync = 4000
)

// LocationIngestor accepts location samples from drivers
type LocationIngestor interface {
	Ingest(ctx context.Context, sample models.LocationSample) ([]reconciler.Result, error)
}

// Client represents a WebSocket client connection
type Client struct {
	ID       string
	UserID   string
	UserRole string // "driver" or "dispatcher"
	ShiftID  string
	conn     *websocket.Conn
	hub      *Hub
	send     chan []byte
	closed   chan struct{} // Closed once the hub drops the client; send is never closed
	once     sync.Once
	sub      *observe.Subscription
	broker   *observe.Broker
	ingestor LocationIngestor
}

// IncomingMessage represents a message from the client
type IncomingMessage struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"` // For location_update data
}

// NewClient creates a new WebSocket client
func NewClient(userID, userRole, shiftID string, conn *websocket.Conn, hub *Hub, broker *observe.Broker, sub *observe.Subscription, ingestor LocationIngestor) *Client {
	return &Client{
		ID:       uuid.New().String(),
		UserID:   userID,
		UserRole: userRole,
		ShiftID:  shiftID,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, 256),
		closed:   make(chan struct{}),
		sub:      sub,
		broker:   broker,
		ingestor: ingestor,
	}
}

// ReadPump pumps messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.broker.Unsubscribe(c.sub)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Invalid message format: %v", err)
			continue
		}

		switch msg.Type {
		case "ping":
			c.reply(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().Format(time.RFC3339),
			})

		case "location_update":
			c.handleLocationUpdate(msg.Data)
		}
	}
}

// WritePump writes stream messages, hub notices and pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	stream := c.sub.C()
	for {
		select {
		case msg, ok := <-stream:
			if !ok {
				c.closeStream(c.sub.Reason())
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("❌ Failed to marshal stream message: %v", err)
				continue
			}
			if err := c.write(data); err != nil {
				return
			}

		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) closeStream(reason string) {
	code := websocket.CloseNormalClosure
	if reason == observe.ReasonResync {
		code = closeResync
		log.Printf("⚠️ [WEBSOCKET] %s fell behind on shift %s, asking for resync", c.UserID, c.ShiftID)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		log.Printf("⚠️ Client buffer full, dropping reply for %s", c.UserID)
	}
}

// disconnect tells WritePump to close the connection
func (c *Client) disconnect() {
	c.once.Do(func() { close(c.closed) })
}

// handleLocationUpdate feeds a driver's sample into the geofence pipeline
func (c *Client) handleLocationUpdate(data json.RawMessage) {
	if c.UserRole != "driver" {
		return
	}

	var sample models.LocationSample
	if err := json.Unmarshal(data, &sample); err != nil {
		log.Printf("❌ Invalid location_update from %s: %v", c.UserID, err)
		return
	}
	sample.DriverID = c.UserID
	if sample.ShiftID == "" {
		sample.ShiftID = c.ShiftID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := c.ingestor.Ingest(ctx, sample)
	ack := map[string]interface{}{
		"type":      "location_ack",
		"timestamp": sample.Timestamp,
		"events":    results,
	}
	if err != nil {
		ack["error"] = err.Error()
		if kind := errs.KindOf(err); kind != "" {
			ack["kind"] = kind
		}
	}
	c.reply(ack)
}
