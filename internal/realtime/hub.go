// Package realtime pushes report status updates to connected dashboard
// clients over WebSocket.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flowsight/internal/metrics"
	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/logging"
)

// Channel names clients can subscribe to
const (
	ChannelReports = "reports"
	ChannelSystem  = "system"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is a realtime event sent to subscribed clients.
type Message struct {
	Type      string                 `json:"type"`
	Channel   string                 `json:"channel"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	TenantID  string                 `json:"tenant_id,omitempty"`
}

// SubscriptionMessage is a subscribe/unsubscribe request from a client.
type SubscriptionMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Hub maintains the set of active clients and fans out messages.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	logger     logging.Logger
	metrics    *metrics.Metrics
	mutex      sync.RWMutex
}

// Client is one WebSocket connection with its subscriptions. channels is
// mutated from the connection's read goroutine while broadcasts read it,
// so it is guarded by its own mutex.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	mu       sync.Mutex
	channels []string
	tenantID string
	logger   logging.Logger
}

// NewHub creates a WebSocket hub. serviceMetrics may be nil.
func NewHub(logger logging.Logger, serviceMetrics *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		metrics:    serviceMetrics,
	}
}

// Run drives the hub's register/unregister/broadcast loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mutex.Unlock()

	h.setClientGauge(count)
	h.logger.WithFields(logging.Fields{
		"client_count": count,
		"tenant_id":    client.tenantID,
	}).Info("realtime client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mutex.Unlock()

	h.setClientGauge(count)
	h.logger.WithFields(logging.Fields{
		"client_count": count,
	}).Info("realtime client disconnected")
}

func (h *Hub) setClientGauge(count int) {
	if h.metrics != nil {
		h.metrics.RealtimeClients.WithLabelValues().Set(float64(count))
	}
}

func (h *Hub) fanOut(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("failed to marshal realtime message")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for client := range h.clients {
		if !client.receives(msg) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer, drop the message rather than block the hub
			h.logger.WithField("tenant_id", client.tenantID).Warn("dropping realtime message for slow client")
		}
	}
}

// receives applies the delivery rules under the client's subscription lock.
func (c *Client) receives(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return shouldReceive(c.channels, c.tenantID, msg)
}

// shouldReceive applies channel subscription and tenant isolation rules.
func shouldReceive(channels []string, clientTenant string, msg Message) bool {
	subscribed := false
	for _, channel := range channels {
		if channel == msg.Channel {
			subscribed = true
			break
		}
	}
	if !subscribed {
		return false
	}

	if msg.TenantID != "" {
		return clientTenant == msg.TenantID
	}
	// Untenanted messages only flow on the system channel
	return msg.Channel == ChannelSystem
}

// BroadcastReportStatus pushes a report lifecycle update to the tenant's
// subscribed clients. Satisfies the generator's broadcaster dependency.
func (h *Hub) BroadcastReportStatus(tenantID string, record api.ReportRecord) {
	msg := Message{
		Type:      "report_status",
		Channel:   ChannelReports,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		Data: map[string]interface{}{
			"id":             record.ID,
			"status":         record.Status,
			"title":          record.Title,
			"risk_level":     record.RiskLevel,
			"flows_analyzed": record.FlowsAnalyzed,
		},
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("realtime broadcast buffer full, dropping report status")
	}
}

// BroadcastSystem pushes an untenanted system notice to all clients
// subscribed to the system channel.
func (h *Hub) BroadcastSystem(msgType string, data map[string]interface{}) {
	select {
	case h.broadcast <- Message{
		Type:      msgType,
		Channel:   ChannelSystem,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}:
	default:
		h.logger.Warn("realtime broadcast buffer full, dropping system message")
	}
}

// Stats reports hub occupancy for health endpoints.
func (h *Hub) Stats() map[string]interface{} {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return map[string]interface{}{
		"connected_clients": len(h.clients),
	}
}

// ServeWS upgrades an HTTP request into a hub client. The tenant ID must
// already be authenticated by middleware.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, tenantID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithField("error", err.Error()).Error("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 64),
		channels: []string{ChannelReports},
		tenantID: tenantID,
		logger:   h.logger,
	}

	h.register <- client
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithField("error", err.Error()).Warn("websocket read error")
			}
			return
		}

		var sub SubscriptionMessage
		if err := json.Unmarshal(data, &sub); err != nil {
			continue
		}
		c.handleSubscription(&sub)
	}
}

func (c *Client) handleSubscription(msg *SubscriptionMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, channel := range msg.Channels {
			if channel != ChannelReports && channel != ChannelSystem {
				continue
			}
			exists := false
			for _, existing := range c.channels {
				if existing == channel {
					exists = true
					break
				}
			}
			if !exists {
				c.channels = append(c.channels, channel)
			}
		}
	case "unsubscribe":
		var kept []string
		for _, existing := range c.channels {
			remove := false
			for _, channel := range msg.Channels {
				if existing == channel {
					remove = true
					break
				}
			}
			if !remove {
				kept = append(kept, existing)
			}
		}
		c.channels = kept
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
