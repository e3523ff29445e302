package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	qntxtest "github.com/meshgate/gateway/internal/testing"
	"go.uber.org/zap"
)

// mockSessionBridge is a controllable SessionBridge double for async-exec
// pipeline tests: IngestAsyncExecCompletion can be scripted to fail N
// times before succeeding, to exercise the retry path.
type mockSessionBridge struct {
	mu          sync.Mutex
	failCount   int
	completions []*AsyncExecCompletion
}

func (m *mockSessionBridge) Get(string) (interface{}, error)                          { return nil, nil }
func (m *mockSessionBridge) Patch(string, map[string]interface{}) error               { return nil }
func (m *mockSessionBridge) Stats(string) (interface{}, error)                        { return nil, nil }
func (m *mockSessionBridge) Reset(string) error                                       { return nil }
func (m *mockSessionBridge) History(string, int) (interface{}, error)                 { return nil, nil }
func (m *mockSessionBridge) Preview(string) (interface{}, error)                       { return nil, nil }
func (m *mockSessionBridge) Compact(string) error                                      { return nil }
func (m *mockSessionBridge) List() ([]SessionRegistryEntry, error)                     { return nil, nil }
func (m *mockSessionBridge) ToolResult(string, interface{}, error) error               { return nil }
func (m *mockSessionBridge) Dispatch(string, CronSpecKind, string) (string, error)     { return "", nil }
func (m *mockSessionBridge) ChatSend(UserMessage, string, []ToolDefinition, []NodeRuntimeInfo, string, map[string]interface{}, string, *ChannelContext) (bool, error) {
	return false, nil
}
func (m *mockSessionBridge) Abort(string) error { return nil }

func (m *mockSessionBridge) IngestAsyncExecCompletion(sessionKey string, c *AsyncExecCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCount > 0 {
		m.failCount--
		return errTestDeliveryFailed
	}
	m.completions = append(m.completions, c)
	return nil
}

func (m *mockSessionBridge) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completions)
}

var errTestDeliveryFailed = &GatewayError{Code: CodeInternal, Message: "delivery failed"}

func newTestGatewayWithDB(t *testing.T) *Gateway {
	t.Helper()
	db := qntxtest.CreateTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		db:          db,
		connections: make(map[string]*Connection),
		nodes:       make(map[string]*NodeRuntimeInfo),
		nodeCatalog: make(map[string]*NodeCatalogEntry),
		sessions:    make(map[string]*SessionRegistryEntry),
		channels:    make(map[string]*ChannelRegistryEntry),
		lastActive:  make(map[string]*LastActiveContext),

		pendingToolCalls: make(map[string]*PendingToolCall),
		pendingLogCalls:  make(map[string]*PendingLogCall),
		transfers:        make(map[string]*Transfer),
		cronJobs:         make(map[string]*CronJob),
		heartbeats:       make(map[string]*HeartbeatState),
		surfaces:         make(map[string]*Surface),
		probes:           make(map[string]*ProbeState),

		register:   make(chan *Connection, 8),
		unregister: make(chan *Connection, 8),
		frameReq:   make(chan *broadcastRequest, 8),

		logger: zap.NewNop().Sugar(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func TestParseToolResultRunning(t *testing.T) {
	running, _ := json.Marshal(map[string]string{"status": "running", "sessionId": "s1"})
	if sessionID, ok := parseToolResultRunning(running); !ok || sessionID != "s1" {
		t.Fatalf("expected running=true sessionId=s1, got ok=%v sessionId=%s", ok, sessionID)
	}

	done, _ := json.Marshal(map[string]string{"status": "ok"})
	if _, ok := parseToolResultRunning(done); ok {
		t.Error("expected ok=false for a non-running result")
	}

	if _, ok := parseToolResultRunning(nil); ok {
		t.Error("expected ok=false for empty result")
	}
}

func TestComputeExecEventID_UsesProvidedID(t *testing.T) {
	p := nodeExecEventParams{EventID: "explicit-id", SessionID: "s1", Event: "finished"}
	if got := computeExecEventID(p, "node-1"); got != "explicit-id" {
		t.Errorf("expected explicit eventId to be used verbatim, got %q", got)
	}
}

func TestComputeExecEventID_StableHashWithoutID(t *testing.T) {
	p := nodeExecEventParams{SessionID: "s1", Event: "finished", CallID: "c1"}
	a := computeExecEventID(p, "node-1")
	b := computeExecEventID(p, "node-1")
	if a != b {
		t.Error("expected computeExecEventID to be deterministic for identical inputs")
	}
	if a == "" {
		t.Error("expected a non-empty computed eventId")
	}
}

func TestRegisterPendingAsyncExecSession_AndLookup(t *testing.T) {
	s := newTestGatewayWithDB(t)
	s.registerPendingAsyncExecSession("node-1", "sess-1", "agent:a1", "call-1")

	store := s.asyncExecStoreHandle()
	got, err := store.GetPendingSession("node-1", "sess-1")
	if err != nil {
		t.Fatalf("GetPendingSession returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a pending session to be registered")
	}
	if got.SessionKey != "agent:a1" || got.CallID != "call-1" {
		t.Errorf("unexpected pending session: %+v", got)
	}
}

func TestHandleNodeExecEventPipeline_DeliversAndConsumes(t *testing.T) {
	s := newTestGatewayWithDB(t)
	bridge := &mockSessionBridge{}
	s.sessionBridge = bridge

	s.registerPendingAsyncExecSession("node-1", "sess-1", "agent:a1", "call-1")

	exitCode := 0
	err := s.handleNodeExecEventPipeline("node-1", nodeExecEventParams{
		SessionID: "sess-1", Event: "finished", ExitCode: &exitCode,
	})
	if err != nil {
		t.Fatalf("handleNodeExecEventPipeline returned error: %v", err)
	}

	if bridge.callCount() != 1 {
		t.Fatalf("expected exactly 1 delivered completion, got %d", bridge.callCount())
	}

	store := s.asyncExecStoreHandle()
	session, _ := store.GetPendingSession("node-1", "sess-1")
	if session != nil {
		t.Error("pending session should be consumed after successful delivery")
	}
}

func TestHandleNodeExecEventPipeline_DedupsDuplicateEventID(t *testing.T) {
	s := newTestGatewayWithDB(t)
	bridge := &mockSessionBridge{}
	s.sessionBridge = bridge

	s.registerPendingAsyncExecSession("node-1", "sess-1", "agent:a1", "call-1")

	params := nodeExecEventParams{SessionID: "sess-1", Event: "finished", EventID: "fixed-id"}
	if err := s.handleNodeExecEventPipeline("node-1", params); err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}
	if err := s.handleNodeExecEventPipeline("node-1", params); err != nil {
		t.Fatalf("duplicate delivery returned error: %v", err)
	}

	if bridge.callCount() != 1 {
		t.Errorf("expected duplicate eventId to be deduped, got %d deliveries", bridge.callCount())
	}
}

func TestHandleNodeExecEventPipeline_RetriesOnFailureThenDelivers(t *testing.T) {
	s := newTestGatewayWithDB(t)
	bridge := &mockSessionBridge{failCount: 1}
	s.sessionBridge = bridge

	s.registerPendingAsyncExecSession("node-1", "sess-1", "agent:a1", "call-1")

	params := nodeExecEventParams{SessionID: "sess-1", Event: "finished", EventID: "retry-id"}
	if err := s.handleNodeExecEventPipeline("node-1", params); err != nil {
		t.Fatalf("handleNodeExecEventPipeline returned error: %v", err)
	}

	store := s.asyncExecStoreHandle()
	due, err := store.ListDueDeliveries(time.Now().Add(2*time.Second), 10)
	if err != nil {
		t.Fatalf("ListDueDeliveries returned error: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 envelope still pending retry, got %d", len(due))
	}
	if due[0].Attempts != 1 {
		t.Errorf("expected attempts=1 after one failed delivery, got %d", due[0].Attempts)
	}

	time.Sleep(1100 * time.Millisecond) // first retry backoff is 1s
	s.retryDueDeliveries(store)
	if bridge.callCount() != 1 {
		t.Fatalf("expected the retried delivery to succeed, got %d completions", bridge.callCount())
	}
	remaining, _ := store.ListDueDeliveries(time.Now().Add(2*time.Second), 10)
	if len(remaining) != 0 {
		t.Error("expected no pending deliveries left after a successful retry")
	}
}

func TestHandleNodeExecEventPipeline_NonTerminalEventTouchesSession(t *testing.T) {
	s := newTestGatewayWithDB(t)
	s.registerPendingAsyncExecSession("node-1", "sess-1", "agent:a1", "call-1")

	store := s.asyncExecStoreHandle()
	before, _ := store.GetPendingSession("node-1", "sess-1")

	time.Sleep(10 * time.Millisecond)
	if err := s.handleNodeExecEventPipeline("node-1", nodeExecEventParams{SessionID: "sess-1", Event: "started"}); err != nil {
		t.Fatalf("non-terminal event returned error: %v", err)
	}

	after, _ := store.GetPendingSession("node-1", "sess-1")
	if after == nil {
		t.Fatal("expected pending session to still exist after a non-terminal event")
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Error("expected updated_at to advance on a non-terminal touch")
	}
}

func TestAsyncExecStore_CleanupExpired(t *testing.T) {
	db := qntxtest.CreateTestDB(t)
	store := newAsyncExecStore(db)

	past := time.Now().Add(-time.Hour)
	if err := store.UpsertPendingSession(&PendingAsyncExecSession{
		NodeID: "n1", SessionID: "s1", SessionKey: "k1", CallID: "c1",
		CreatedAt: past, UpdatedAt: past, ExpiresAt: past,
	}); err != nil {
		t.Fatalf("UpsertPendingSession returned error: %v", err)
	}

	n, err := store.CleanupExpired(time.Now())
	if err != nil {
		t.Fatalf("CleanupExpired returned error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired row removed, got %d", n)
	}

	got, _ := store.GetPendingSession("n1", "s1")
	if got != nil {
		t.Error("expected expired pending session to be removed")
	}
}
