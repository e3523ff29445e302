package server

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meshgate/gateway/am"
)

// Native gsv__ tools are generated from this built-in list and invoked
// inside the gateway process; they're never routed to a node.
var nativeTools = []ToolDefinition{
	{Name: "gsv__log", Description: "Append a line to the gateway's own log stream"},
}

// handleToolsList lists every tool the gateway can currently route a call
// to, plus every tool advertised by a node that's in the catalog but
// disconnected (spec §3 "Tool registry entry": inventory survives a
// disconnect until node.forget, even though invocation obviously can't).
func handleToolsList(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type toolEntry struct {
		NodeID string         `json:"nodeId"`
		Tool   ToolDefinition `json:"tool"`
		Online bool           `json:"online"`
	}
	entries := make([]toolEntry, 0)
	for _, t := range nativeTools {
		entries = append(entries, toolEntry{NodeID: "gsv", Tool: t, Online: true})
	}
	nodeIDs := make([]string, 0, len(s.nodeCatalog))
	for id := range s.nodeCatalog {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	for _, id := range nodeIDs {
		entry := s.nodeCatalog[id]
		for _, t := range entry.Tools {
			entries = append(entries, toolEntry{NodeID: id, Tool: t, Online: entry.Online})
		}
	}
	return map[string]interface{}{"tools": entries}, nil
}

// resolveTool splits a namespaced tool reference "nodeId__toolName" at the
// first "__" and confirms the node is connected and advertises it.
func (s *Gateway) resolveTool(ref string) (nodeID, toolName string, err error) {
	idx := indexSep(ref)
	if idx < 0 {
		return "", "", NewGatewayError(CodeNotFound, "no node provides tool: "+ref)
	}
	nodeID, toolName = ref[:idx], ref[idx+2:]

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.nodes[nodeID]
	if !ok {
		return "", "", NewGatewayError(CodeDownstreamOffline, "node not connected: "+nodeID)
	}
	for _, t := range info.Tools {
		if t.Name == toolName {
			return nodeID, toolName, nil
		}
	}
	return "", "", NewGatewayError(CodeNotFound, "no node provides tool: "+ref)
}

func indexSep(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '_' && s[i+1] == '_' {
			return i
		}
	}
	return -1
}

type toolInvokeParams struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// handleToolInvoke implements the client-originated tool dispatch path
// (spec §4.3): resolve, register a pending call routed back to this
// client socket, send the invoke event to the node, and defer the
// response until tool.result arrives.
func handleToolInvoke(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p toolInvokeParams
	if err := json.Unmarshal(params, &p); err != nil || p.Tool == "" {
		return nil, ErrInvalidRequest
	}

	nodeID, toolName, err := s.resolveTool(p.Tool)
	if err != nil {
		return nil, err
	}

	callID := uuid.NewString()
	toolTimeout := s.toolCallTimeout()

	s.mu.Lock()
	info, ok := s.nodes[nodeID]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeDownstreamOffline, "node not connected: "+nodeID)
	}
	nodeConnID := info.ConnID
	nodeConn := s.connections[nodeConnID]
	s.pendingToolCalls[callID] = &PendingToolCall{
		CallID:      callID,
		NodeID:      nodeID,
		ToolName:    toolName,
		RouteKind:   RouteClient,
		RouteTarget: conn.ID,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(toolTimeout),
	}
	s.mu.Unlock()

	if nodeConn == nil {
		s.mu.Lock()
		delete(s.pendingToolCalls, callID)
		s.mu.Unlock()
		return nil, NewGatewayError(CodeDownstreamOffline, "node not connected: "+nodeID)
	}

	s.writeEvt(nodeConn, "tool.invoke", map[string]interface{}{
		"callId": callID,
		"tool":   toolName,
		"args":   p.Args,
	})

	return DeferResponse, nil
}

// toolCallTimeout reads timeouts.tool_ms from config, clamped to a 1s floor.
func (s *Gateway) toolCallTimeout() time.Duration {
	ms := am.GetInt("timeouts.tool_ms")
	if ms < 1000 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

type toolRequestParams struct {
	SessionKey string          `json:"sessionKey"`
	Tool       string          `json:"tool"`
	Args       json.RawMessage `json:"args,omitempty"`
}

// handleToolRequest is the session-originated equivalent of tool.invoke:
// the eventual tool.result is delivered to the external session bridge
// rather than back over this socket.
func handleToolRequest(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p toolRequestParams
	if err := json.Unmarshal(params, &p); err != nil || p.Tool == "" || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}

	nodeID, toolName, err := s.resolveTool(p.Tool)
	if err != nil {
		return nil, err
	}

	callID := uuid.NewString()
	s.mu.Lock()
	info, ok := s.nodes[nodeID]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeDownstreamOffline, "node not connected: "+nodeID)
	}
	nodeConn := s.connections[info.ConnID]
	s.pendingToolCalls[callID] = &PendingToolCall{
		CallID:      callID,
		NodeID:      nodeID,
		ToolName:    toolName,
		RouteKind:   RouteSession,
		RouteTarget: p.SessionKey,
		CreatedAt:   time.Now(),
	}
	s.mu.Unlock()

	if nodeConn == nil {
		s.mu.Lock()
		delete(s.pendingToolCalls, callID)
		s.mu.Unlock()
		return nil, NewGatewayError(CodeDownstreamOffline, "node not connected: "+nodeID)
	}

	s.writeEvt(nodeConn, "tool.invoke", map[string]interface{}{
		"callId": callID,
		"tool":   toolName,
		"args":   p.Args,
	})

	return map[string]interface{}{"status": "sent"}, nil
}

type toolResultParams struct {
	CallID string          `json:"callId"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// handleToolResult consumes a pending tool call at most once, rejecting a
// node that isn't the one the call was routed to (spec invariant P2).
func handleToolResult(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p toolResultParams
	if err := json.Unmarshal(params, &p); err != nil || p.CallID == "" {
		return nil, ErrInvalidRequest
	}

	s.mu.Lock()
	pending, ok := s.pendingToolCalls[p.CallID]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeNotFound, "unknown callId")
	}
	if pending.NodeID != conn.NodeID {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeForbidden, "callId not authorized for this node")
	}
	delete(s.pendingToolCalls, p.CallID)
	s.mu.Unlock()

	var toolErr error
	if p.Error != "" {
		toolErr = NewGatewayError(CodeInternal, p.Error)
	}

	switch pending.RouteKind {
	case RouteClient:
		target, ok := s.lookupConn(pending.RouteTarget)
		if ok {
			if toolErr != nil {
				s.writeRes(target, p.CallID, nil, ToGatewayError(toolErr))
			} else {
				s.writeRes(target, p.CallID, p.Result, nil)
			}
		}
	case RouteSession:
		if s.sessionBridge != nil {
			s.sessionBridge.ToolResult(p.CallID, p.Result, toolErr)
		}
	}

	// If a session-routed result reports a long-running exec session, its
	// actual completion arrives later via node.exec.event (spec §4.5 step
	// 8); client-routed calls have no session to later notify.
	if toolErr == nil && pending.RouteKind == RouteSession {
		if sessionID, ok := parseToolResultRunning(p.Result); ok {
			s.registerPendingAsyncExecSession(pending.NodeID, sessionID, pending.RouteTarget, p.CallID)
		}
	}

	return map[string]interface{}{"ok": true}, nil
}

func (s *Gateway) lookupConn(connID string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[connID]
	return c, ok
}

type nodeExecEventParams struct {
	SessionID string `json:"sessionId"`
	EventID   string `json:"eventId,omitempty"`
	Event     string `json:"event"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Signal    string `json:"signal,omitempty"`
	Output    string `json:"outputTail,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
	EndedAt   string `json:"endedAt,omitempty"`
	CallID    string `json:"callId,omitempty"`
}

// handleNodeExecEvent processes a long-running exec session's lifecycle
// event, deduping on eventId and delivering terminal events to the
// owning session via the async-exec completion pipeline (spec §4.7).
func handleNodeExecEvent(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p nodeExecEventParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionID == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.handleNodeExecEventPipeline(conn.NodeID, p); err != nil {
		return nil, NewGatewayError(CodeInternal, err.Error())
	}
	return map[string]interface{}{"ok": true}, nil
}

type nodeForgetParams struct {
	NodeID string `json:"nodeId"`
}

// handleNodeForget removes a node's catalog entry, dropping its inventory
// out of tools.list for good. Refuses (409) if the node is still
// connected — forgetting a live node is a conflict, not a disconnect; the
// caller must disconnect it (or wait for it to drop) first.
func handleNodeForget(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p nodeForgetParams
	if err := json.Unmarshal(params, &p); err != nil || p.NodeID == "" {
		return nil, ErrInvalidRequest
	}
	s.mu.Lock()
	entry, ok := s.nodeCatalog[p.NodeID]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeNotFound, "unknown node: "+p.NodeID)
	}
	if entry.Online {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeConflict, "cannot forget a connected node")
	}
	delete(s.nodeCatalog, p.NodeID)
	s.mu.Unlock()

	s.forgetNodeCatalogEntry(p.NodeID)
	return map[string]interface{}{"ok": true}, nil
}

type logsGetParams struct {
	NodeID string `json:"nodeId,omitempty"`
	Lines  int    `json:"lines,omitempty"`
}

// handleLogsGet resolves the target node (the unambiguous-singleton rule
// applies when nodeId is omitted), registers a pending log call, and
// defers the reply until logs.result arrives.
func handleLogsGet(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p logsGetParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidRequest
		}
	}
	lines := p.Lines
	if lines <= 0 {
		lines = 100
	}
	if lines > 5000 {
		lines = 5000
	}

	s.mu.Lock()
	nodeID := p.NodeID
	if nodeID == "" {
		if len(s.nodes) != 1 {
			s.mu.Unlock()
			return nil, NewGatewayError(CodeBadParams, "nodeId required when more than one node is connected")
		}
		for id := range s.nodes {
			nodeID = id
		}
	}
	info, ok := s.nodes[nodeID]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeDownstreamOffline, "node not connected: "+nodeID)
	}
	nodeConn := s.connections[info.ConnID]
	callID := uuid.NewString()
	s.pendingLogCalls[callID] = &PendingLogCall{
		CallID:      callID,
		RouteKind:   RouteClient,
		RouteTarget: conn.ID,
		CreatedAt:   time.Now(),
	}
	s.mu.Unlock()

	s.writeEvt(nodeConn, "logs.get", map[string]interface{}{"callId": callID, "lines": lines})
	return DeferResponse, nil
}

type logsResultParams struct {
	CallID string `json:"callId"`
	Lines  string `json:"lines,omitempty"`
	Error  string `json:"error,omitempty"`
}

func handleLogsResult(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p logsResultParams
	if err := json.Unmarshal(params, &p); err != nil || p.CallID == "" {
		return nil, ErrInvalidRequest
	}

	s.mu.Lock()
	pending, ok := s.pendingLogCalls[p.CallID]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeNotFound, "unknown callId")
	}
	delete(s.pendingLogCalls, p.CallID)
	s.mu.Unlock()

	target, ok := s.lookupConn(pending.RouteTarget)
	if ok {
		if p.Error != "" {
			s.writeRes(target, p.CallID, nil, NewGatewayError(CodeInternal, p.Error))
		} else {
			s.writeRes(target, p.CallID, map[string]interface{}{"lines": p.Lines}, nil)
		}
	}
	return map[string]interface{}{"ok": true}, nil
}
