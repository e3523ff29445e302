package server

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Gateway{
		connections: make(map[string]*Connection),
		nodes:       make(map[string]*NodeRuntimeInfo),
		nodeCatalog: make(map[string]*NodeCatalogEntry),
		sessions:    make(map[string]*SessionRegistryEntry),
		channels:    make(map[string]*ChannelRegistryEntry),
		lastActive:  make(map[string]*LastActiveContext),

		pendingToolCalls: make(map[string]*PendingToolCall),
		pendingLogCalls:  make(map[string]*PendingLogCall),
		transfers:        make(map[string]*Transfer),
		probes:           make(map[string]*ProbeState),

		register:   make(chan *Connection, 8),
		unregister: make(chan *Connection, 8),
		frameReq:   make(chan *broadcastRequest, 8),

		logger:    zap.NewNop().Sugar(),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	t.Cleanup(cancel)
	return s
}

func newTestConnection(id string, mode ConnectionMode) *Connection {
	return &Connection{
		ID:          id,
		Mode:        mode,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, 1),
	}
}

func TestDeliverFrame_DeliversToOpenConnection(t *testing.T) {
	s := newTestGateway(t)
	conn := newTestConnection("c1", ModeClient)

	s.deliverFrame(conn, []byte("hello"))

	select {
	case got := <-conn.send:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	default:
		t.Fatal("expected a frame on the connection's send channel")
	}
}

func TestDeliverFrame_EvictsOnFullQueue(t *testing.T) {
	s := newTestGateway(t)
	conn := newTestConnection("c1", ModeClient)
	s.connections[conn.ID] = conn

	conn.send <- []byte("first") // fill the buffered channel
	s.deliverFrame(conn, []byte("second"))

	s.mu.RLock()
	_, stillRegistered := s.connections[conn.ID]
	s.mu.RUnlock()

	if stillRegistered {
		t.Fatal("expected slow connection to be evicted from the registry")
	}
	if s.broadcastDrops.Load() != 1 {
		t.Fatalf("expected broadcastDrops == 1, got %d", s.broadcastDrops.Load())
	}
}

func TestFanoutFrame_OnlyReachesClientConnections(t *testing.T) {
	s := newTestGateway(t)
	client := newTestConnection("client1", ModeClient)
	node := newTestConnection("node1", ModeNode)
	s.connections[client.ID] = client
	s.connections[node.ID] = node

	s.fanoutFrame([]byte("ping"))

	select {
	case <-client.send:
	default:
		t.Fatal("expected client connection to receive the fanout frame")
	}
	select {
	case <-node.send:
		t.Fatal("did not expect node connection to receive the fanout frame")
	default:
	}
}

func TestRunBroadcastWorker_HandlesSendRequest(t *testing.T) {
	s := newTestGateway(t)
	conn := newTestConnection("c1", ModeClient)
	s.connections[conn.ID] = conn

	go s.runBroadcastWorker()

	s.SendFrame(conn, []byte("hi"))

	select {
	case got := <-conn.send:
		if string(got) != "hi" {
			t.Fatalf("got %q, want %q", got, "hi")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame delivery")
	}
}
