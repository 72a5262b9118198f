package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsforge/opsforge/control_plane/middleware"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for local dev (CORS)
		return true
	},
}

// handleCommandStream upgrades to WebSocket and registers with the hub.
// Clients receive a frame each time one of their tenant's commands changes status.
func (a *API) handleCommandStream(w http.ResponseWriter, r *http.Request) {
	tenantID, err := middleware.GetTenantFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Register with hub
	a.wsHub.Register(conn, tenantID)
	defer a.wsHub.Unregister(conn)

	log.Println("Command stream client connected")

	// Configure ping/pong for dead client detection
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Start ping routine
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				// The hub serializes this with broadcast writes.
				if err := a.wsHub.Ping(conn); err != nil {
					return
				}
			}
		}
	}()

	// Read pump to detect disconnections
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}
