package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsforge/opsforge/control_plane/observability"
	"github.com/opsforge/opsforge/control_plane/store"
)

const (
	maxWSConnections = 200
	// Buffer absorbs bursts from the dispatcher; frames are dropped
	// rather than blocking command execution when the hub falls behind.
	broadcastBuffer = 256
)

// CommandHub manages console WebSocket connections and pushes command
// status frames to clients of the owning tenant. Single broadcaster
// pattern prevents N duplicate fan-out loops.
type CommandHub struct {
	clients    map[*websocket.Conn]*hubClient
	register   chan registration
	unregister chan *websocket.Conn
	frames     chan consoleFrame
	mu         sync.RWMutex
}

// hubClient serializes writes to one connection. gorilla/websocket allows a
// single concurrent writer per connection, and both the hub loop and the
// per-connection ping goroutine write to it.
type hubClient struct {
	tenantID string
	writeMu  sync.Mutex
}

type registration struct {
	conn     *websocket.Conn
	tenantID string
}

// consoleFrame is the wire shape pushed to console clients. Exactly one
// of Command and Agent is set, matching the Type discriminator.
type consoleFrame struct {
	Type    string         `json:"type"`
	Command *store.Command `json:"command,omitempty"`
	Agent   *agentFrame    `json:"agent,omitempty"`

	// tenantID routes the frame; never serialized.
	tenantID string
}

type agentFrame struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// NewCommandHub creates a new WebSocket hub.
func NewCommandHub() *CommandHub {
	return &CommandHub{
		clients:    make(map[*websocket.Conn]*hubClient),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		frames:     make(chan consoleFrame, broadcastBuffer),
	}
}

// Run starts the hub's main loop.
func (h *CommandHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			// Connection cap to prevent overload
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("WebSocket connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[reg.conn] = &hubClient{tenantID: reg.tenantID}
			total := len(h.clients)
			h.mu.Unlock()
			observability.ConnectedConsoleClients.Set(float64(total))
			log.Printf("WebSocket client registered for tenant %s. Total: %d", reg.tenantID, total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			observability.ConnectedConsoleClients.Set(float64(total))
			log.Printf("WebSocket client unregistered. Total: %d", total)

		case frame := <-h.frames:
			h.deliver(frame)
		}
	}
}

// BroadcastCommand queues a status frame for the command's tenant.
// Non-blocking: the dispatcher must never stall on slow consoles.
func (h *CommandHub) BroadcastCommand(cmd *store.Command) {
	if cmd == nil {
		return
	}
	select {
	case h.frames <- consoleFrame{Type: "command_update", Command: cmd, tenantID: cmd.TenantID}:
	default:
		log.Printf("WebSocket broadcast buffer full, dropping frame for command %s", cmd.CommandID)
	}
}

// BroadcastAgentStatus queues an activation change frame for the tenant's
// console clients. Same non-blocking contract as BroadcastCommand.
func (h *CommandHub) BroadcastAgentStatus(tenantID, agentID, status string) {
	select {
	case h.frames <- consoleFrame{
		Type:     "agent_update",
		Agent:    &agentFrame{AgentID: agentID, Status: status},
		tenantID: tenantID,
	}:
	default:
		log.Printf("WebSocket broadcast buffer full, dropping frame for agent %s", agentID)
	}
}

// deliver sends a frame to every client of the frame's tenant.
func (h *CommandHub) deliver(frame consoleFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, client := range h.clients {
		if client.tenantID != frame.tenantID {
			continue
		}
		client.writeMu.Lock()
		// Set write deadline to prevent blocking on dead connections
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := conn.WriteJSON(frame)
		client.writeMu.Unlock()
		if err != nil {
			log.Printf("WebSocket write error: %v", err)
			// Unregister will be handled by read pump or next ping
			go h.Unregister(conn)
		}
	}
}

// Ping writes a control ping under the connection's write lock. The stream
// handler's keepalive goroutine must go through here rather than writing to
// the connection directly, so pings never race a broadcast frame.
func (h *CommandHub) Ping(conn *websocket.Conn) error {
	h.mu.RLock()
	client, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return websocket.ErrCloseSent
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// shutdown gracefully closes all client connections.
func (h *CommandHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("Shutting down WebSocket hub with %d clients", len(h.clients))

	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*hubClient)
	observability.ConnectedConsoleClients.Set(0)
}

// Register adds a new client connection.
func (h *CommandHub) Register(conn *websocket.Conn, tenantID string) {
	h.register <- registration{conn: conn, tenantID: tenantID}
}

// Unregister removes a client connection.
func (h *CommandHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *CommandHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
