package gateway

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Conn represents a single WebSocket connection.
type Conn struct {
	ID          string
	Role        string // "peer" | "source"
	Device      string
	WS          *websocket.Conn
	writeMu     sync.Mutex
	ConnectedAt time.Time
}

// Send writes a frame to the WebSocket connection (thread-safe).
func (c *Conn) Send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.WS.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WS.WriteJSON(frame)
}

// ConnInfo is the status view of a connection.
type ConnInfo struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Device      string    `json:"device,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ConnManager tracks all active WebSocket connections.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*Conn // connID → conn
	seq   atomic.Int64
}

func NewConnManager() *ConnManager {
	return &ConnManager{conns: make(map[string]*Conn)}
}

// Add registers a new connection.
func (m *ConnManager) Add(conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[conn.ID] = conn
}

// Remove unregisters a connection.
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, connID)
}

// Get returns a connection by ID.
func (m *ConnManager) Get(connID string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[connID]
}

// BroadcastToRole sends an event only to connections with a specific role and
// returns how many connections took it.
func (m *ConnManager) BroadcastToRole(role, event string, payload any) int {
	frame := EventFrame(event, m.seq.Add(1), payload)

	m.mu.RLock()
	targets := make([]*Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		if conn.Role == role {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	sent := 0
	for _, conn := range targets {
		if err := conn.Send(frame); err != nil {
			slog.Warn("broadcast failed", "conn", conn.ID, "event", event, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Count returns the number of connections with role.
func (m *ConnManager) Count(role string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, conn := range m.conns {
		if conn.Role == role {
			count++
		}
	}
	return count
}

// List returns every connection, oldest first.
func (m *ConnManager) List() []ConnInfo {
	m.mu.RLock()
	out := make([]ConnInfo, 0, len(m.conns))
	for _, conn := range m.conns {
		out = append(out, ConnInfo{ID: conn.ID, Role: conn.Role, Device: conn.Device, ConnectedAt: conn.ConnectedAt})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// ReadFrame reads and parses a WebSocket message into a Frame.
func ReadFrame(ws *websocket.Conn) (Frame, error) {
	var frame Frame
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return frame, err
	}
	err = json.Unmarshal(msg, &frame)
	return frame, err
}
