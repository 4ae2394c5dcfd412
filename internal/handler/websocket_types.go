// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ticket-service/internal/model"
)

// Client represents a WebSocket client following the redemption feed
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	mutex    sync.RWMutex
	outcomes map[model.RedemptionOutcome]bool
}

// Subscribe limits the feed to the given outcomes; an empty list means all
func (c *Client) Subscribe(outcomes []model.RedemptionOutcome) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(outcomes) == 0 {
		c.outcomes = nil
		return
	}
	c.outcomes = make(map[model.RedemptionOutcome]bool, len(outcomes))
	for _, outcome := range outcomes {
		c.outcomes[outcome] = true
	}
}

// Wants reports whether the client follows the outcome
func (c *Client) Wants(outcome model.RedemptionOutcome) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.outcomes == nil || c.outcomes[outcome]
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConnectionManager manages WebSocket connections
type ConnectionManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	manager := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}

	go manager.run()
	return manager
}

// run starts the connection manager
func (cm *ConnectionManager) run() {
	for {
		select {
		case client := <-cm.register:
			cm.mutex.Lock()
			cm.clients[client.ID] = client
			cm.mutex.Unlock()

		case client := <-cm.unregister:
			cm.mutex.Lock()
			if _, ok := cm.clients[client.ID]; ok {
				delete(cm.clients, client.ID)
				close(client.Send)
			}
			cm.mutex.Unlock()

		case <-cm.done:
			cm.mutex.Lock()
			for id, client := range cm.clients {
				delete(cm.clients, id)
				close(client.Send)
			}
			cm.mutex.Unlock()
			return
		}
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	select {
	case cm.register <- client:
	case <-cm.done:
		close(client.Send)
	}
}

// Unregister unregisters a client
func (cm *ConnectionManager) Unregister(client *Client) {
	select {
	case cm.unregister <- client:
	case <-cm.done:
	}
}

// Close disconnects every client and stops the manager
func (cm *ConnectionManager) Close() {
	cm.closeOnce.Do(func() { close(cm.done) })
}

// Broadcast queues payload for every client following outcome and returns
// the number of clients whose send buffer was full
func (cm *ConnectionManager) Broadcast(outcome model.RedemptionOutcome, payload []byte) (dropped int) {
	// run closes Send channels under the write lock
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	for _, client := range cm.clients {
		if !client.Wants(outcome) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			dropped++
		}
	}
	return dropped
}

// SendTo queues payload for one client. It returns false when the client is
// gone or its buffer is full.
func (cm *ConnectionManager) SendTo(client *Client, payload []byte) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- payload:
		return true
	default:
		return false
	}
}

// Clients returns the connected clients
func (cm *ConnectionManager) Clients() []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	clients := make([]*Client, 0, len(cm.clients))
	for _, client := range cm.clients {
		clients = append(clients, client)
	}
	return clients
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	clients := cm.Clients()
	return &ConnectionStats{
		TotalConnections: len(clients),
		Clients:          clients,
	}
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int       `json:"total_connections"`
	Clients          []*Client `json:"clients"`
}
