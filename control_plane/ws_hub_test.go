package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsforge/opsforge/control_plane/store"
)

// hubFixture runs a hub with one real websocket client registered for the
// given tenant and returns the server-side connection the hub writes to.
type hubFixture struct {
	hub        *CommandHub
	client     *websocket.Conn
	serverConn *websocket.Conn
}

func newHubFixture(t *testing.T, tenantID string) *hubFixture {
	t.Helper()

	hub := NewCommandHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		hub.Register(conn, tenantID)
		serverConns <- conn
		// Read pump holds the connection until the client disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				hub.Unregister(conn)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("Server connection never arrived")
	}

	// Registration goes through the hub loop
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 1 registered client, got %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	return &hubFixture{hub: hub, client: client, serverConn: serverConn}
}

func TestHubSerializesBroadcastsAndPings(t *testing.T) {
	fx := newHubFixture(t, "tenant-1")
	const frames = 50

	// Broadcasts and keepalive pings race on the same connection; the
	// per-client write lock must keep them from interleaving.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < frames; i++ {
			fx.hub.BroadcastCommand(&store.Command{
				CommandID: "cmd-1",
				TenantID:  "tenant-1",
				Status:    store.StatusSuccess,
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < frames; i++ {
			if err := fx.hub.Ping(fx.serverConn); err != nil {
				t.Errorf("Ping failed: %v", err)
				return
			}
		}
	}()

	// Control frames are consumed transparently by the client read loop
	fx.client.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < frames; i++ {
		var frame struct {
			Type    string         `json:"type"`
			Command *store.Command `json:"command"`
		}
		if err := fx.client.ReadJSON(&frame); err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if frame.Type != "command_update" {
			t.Fatalf("Expected command_update frame, got %q", frame.Type)
		}
		if frame.Command == nil || frame.Command.TenantID != "tenant-1" {
			t.Fatalf("Unexpected frame payload at %d: %+v", i, frame.Command)
		}
	}
	wg.Wait()
}

func TestHubDoesNotDeliverAcrossTenants(t *testing.T) {
	fx := newHubFixture(t, "tenant-1")

	fx.hub.BroadcastCommand(&store.Command{CommandID: "cmd-other", TenantID: "tenant-2"})
	fx.hub.BroadcastAgentStatus("tenant-1", "agent-1", "active")

	// The tenant-2 frame is filtered; the first delivery is the agent frame
	fx.client.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame struct {
		Type  string      `json:"type"`
		Agent *agentFrame `json:"agent"`
	}
	if err := fx.client.ReadJSON(&frame); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if frame.Type != "agent_update" {
		t.Fatalf("Expected agent_update frame, got %q", frame.Type)
	}
	if frame.Agent == nil || frame.Agent.AgentID != "agent-1" || frame.Agent.Status != "active" {
		t.Errorf("Unexpected agent payload: %+v", frame.Agent)
	}
}

func TestHubPingRequiresRegisteredConn(t *testing.T) {
	hub := NewCommandHub()
	if err := hub.Ping(nil); err == nil {
		t.Error("Expected an error for an unregistered connection")
	}
}
