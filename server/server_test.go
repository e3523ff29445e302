package server

import (
	"fmt"
	"testing"
	"time"
)

func TestHandleConnRegister_AddsConnection(t *testing.T) {
	s := newTestGateway(t)
	conn := newTestConnection("c1", ModeClient)

	s.handleConnRegister(conn)

	s.mu.RLock()
	_, ok := s.connections["c1"]
	count := len(s.connections)
	s.mu.RUnlock()

	if !ok {
		t.Error("connection was not registered")
	}
	if count != 1 {
		t.Errorf("expected 1 connection, got %d", count)
	}
}

func TestHandleConnRegister_RejectsOverCapacity(t *testing.T) {
	s := newTestGateway(t)
	for i := 0; i < MaxClients; i++ {
		id := fmt.Sprintf("c%d", i)
		s.connections[id] = newTestConnection(id, ModeClient)
	}

	conn := newTestConnection("overflow", ModeClient)
	s.handleConnRegister(conn)

	s.mu.RLock()
	_, ok := s.connections["overflow"]
	s.mu.RUnlock()
	if ok {
		t.Error("connection should have been rejected once at capacity")
	}
	if !conn.closed {
		t.Error("rejected connection should be closed")
	}
}

func TestReplaceNodeLocked_ReplacesOnReconnect(t *testing.T) {
	s := newTestGateway(t)
	first := newTestConnection("n1", ModeNode)
	first.NodeID = "node-1"
	first.Tools = []ToolDefinition{{Name: "alpha"}}
	s.mu.Lock()
	s.connections[first.ID] = first
	s.replaceNodeLocked(first)
	s.mu.Unlock()

	second := newTestConnection("n2", ModeNode)
	second.NodeID = "node-1"
	second.Tools = nil
	s.mu.Lock()
	s.connections[second.ID] = second
	s.replaceNodeLocked(second)
	info := s.nodes["node-1"]
	s.mu.Unlock()

	if info.ConnID != "n2" {
		t.Errorf("expected node registry to point at the new connection, got %s", info.ConnID)
	}
	if len(info.Tools) != 0 {
		t.Error("reconnect should replace the tool list wholesale, not merge it")
	}
}

func TestHandleConnUnregister_RemovesConnectionAndQueuesClose(t *testing.T) {
	s := newTestGateway(t)
	conn := newTestConnection("c1", ModeClient)
	s.handleConnRegister(conn)

	s.handleConnUnregister(conn)

	s.mu.RLock()
	_, ok := s.connections["c1"]
	s.mu.RUnlock()
	if ok {
		t.Error("connection should have been removed from the registry")
	}

	select {
	case req := <-s.frameReq:
		if req.reqType != reqClose {
			t.Errorf("expected a reqClose broadcast request, got %v", req.reqType)
		}
	case <-time.After(time.Second):
		t.Fatal("expected unregister to queue a close request")
	}
}

func TestRun_ProcessesRegisterAndUnregister(t *testing.T) {
	s := newTestGateway(t)
	go s.Run()
	defer s.cancel()

	conn := newTestConnection("c1", ModeClient)
	s.register <- conn

	deadline := time.After(time.Second)
	for {
		s.mu.RLock()
		_, ok := s.connections["c1"]
		s.mu.RUnlock()
		if ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("connection was never registered by Run")
		case <-time.After(time.Millisecond):
		}
	}

	s.unregister <- conn
	for {
		s.mu.RLock()
		_, ok := s.connections["c1"]
		s.mu.RUnlock()
		if !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("connection was never unregistered by Run")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMetrics_ReflectsConnectionsAndPendingOps(t *testing.T) {
	s := newTestGateway(t)
	s.connections["c1"] = newTestConnection("c1", ModeClient)
	s.connections["n1"] = newTestConnection("n1", ModeNode)
	s.pendingToolCalls["t1"] = &PendingToolCall{}
	s.transfers["x1"] = &Transfer{}

	m := s.Metrics()

	if m.ConnectionsByMode["client"] != 1 || m.ConnectionsByMode["node"] != 1 {
		t.Errorf("unexpected ConnectionsByMode: %+v", m.ConnectionsByMode)
	}
	if m.PendingOpsCount != 1 {
		t.Errorf("expected 1 pending op, got %d", m.PendingOpsCount)
	}
	if m.TransferCount != 1 {
		t.Errorf("expected 1 transfer, got %d", m.TransferCount)
	}
}

func TestDefaultGateway_SetAndGet(t *testing.T) {
	s := newTestGateway(t)
	SetDefaultGateway(s)
	defer SetDefaultGateway(nil)

	if GetDefaultGateway() != s {
		t.Error("GetDefaultGateway did not return the gateway set via SetDefaultGateway")
	}
}

func TestIsPortAvailable(t *testing.T) {
	if !isPortAvailable(0) {
		t.Error("port 0 should always be available (OS picks)")
	}
}

func TestFindAvailablePort(t *testing.T) {
	port, err := findAvailablePort(50000)
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	if port < 50000 || port > 50010 {
		t.Errorf("port %d is outside expected range 50000-50010", port)
	}
}
