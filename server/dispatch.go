package server

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meshgate/gateway/version"
)

// DeferResponse is returned by a handler that has arranged its own
// asynchronous reply via another code path (e.g. a client-routed tool
// call waits for tool.result); dispatch must send nothing for it.
var DeferResponse = struct{}{}

// methodSpec is one entry in the dispatcher's method registry.
type methodSpec struct {
	handler          func(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error)
	allowDisconnected bool // callable before the connect handshake completes
	allowedModes      []ConnectionMode // empty means "any connected mode"
}

var methodRegistry map[string]methodSpec

func init() {
	methodRegistry = map[string]methodSpec{
		"connect": {handler: handleConnect, allowDisconnected: true},

		"tools.list":          {handler: handleToolsList, allowedModes: []ConnectionMode{ModeClient}},
		"tool.request":        {handler: handleToolRequest, allowedModes: []ConnectionMode{ModeClient}},
		"tool.invoke":         {handler: handleToolInvoke, allowedModes: []ConnectionMode{ModeClient}},
		"tool.result":         {handler: handleToolResult, allowedModes: []ConnectionMode{ModeNode}},
		"node.probe":          {handler: handleNodeProbe, allowedModes: []ConnectionMode{ModeClient}},
		"node.probe.result":   {handler: handleNodeProbeResult, allowedModes: []ConnectionMode{ModeNode}},
		"node.exec.event":     {handler: handleNodeExecEvent, allowedModes: []ConnectionMode{ModeNode}},
		"node.forget":         {handler: handleNodeForget, allowedModes: []ConnectionMode{ModeClient}},

		"logs.get":    {handler: handleLogsGet, allowedModes: []ConnectionMode{ModeClient}},
		"logs.result": {handler: handleLogsResult, allowedModes: []ConnectionMode{ModeNode}},

		"chat.send": {handler: handleChatSend},

		"config.get": {handler: handleConfigGet},
		"config.set": {handler: handleConfigSet},

		"session.get":     {handler: handleSessionGet},
		"session.patch":   {handler: handleSessionPatch},
		"session.stats":   {handler: handleSessionStats},
		"session.reset":   {handler: handleSessionReset},
		"session.history": {handler: handleSessionHistory},
		"session.preview": {handler: handleSessionPreview},
		"session.compact": {handler: handleSessionCompact},
		"session.abort":   {handler: handleSessionAbort},
		"sessions.list":   {handler: handleSessionsList},

		"heartbeat.status":  {handler: handleHeartbeatStatus},
		"heartbeat.start":   {handler: handleHeartbeatStart},
		"heartbeat.trigger": {handler: handleHeartbeatTrigger},

		"cron.status": {handler: handleCronStatus},
		"cron.list":   {handler: handleCronList},
		"cron.add":    {handler: handleCronAdd},
		"cron.update": {handler: handleCronUpdate},
		"cron.remove": {handler: handleCronRemove},
		"cron.run":    {handler: handleCronRun},
		"cron.runs":   {handler: handleCronRuns},

		"surface.open":   {handler: handleSurfaceOpen},
		"surface.close":  {handler: handleSurfaceClose},
		"surface.update": {handler: handleSurfaceUpdate},
		"surface.focus":  {handler: handleSurfaceFocus},
		"surface.list":   {handler: handleSurfaceList},

		"transfer.request":  {handler: handleTransferRequest, allowedModes: []ConnectionMode{ModeClient}},
		"transfer.meta":     {handler: handleTransferMeta, allowedModes: []ConnectionMode{ModeNode}},
		"transfer.accept":   {handler: handleTransferAccept, allowedModes: []ConnectionMode{ModeNode}},
		"transfer.complete": {handler: handleTransferComplete, allowedModes: []ConnectionMode{ModeNode}},
		"transfer.done":     {handler: handleTransferDone, allowedModes: []ConnectionMode{ModeNode}},

		"channel.inbound": {handler: handleChannelInbound, allowedModes: []ConnectionMode{ModeChannel}},
		"channel.start":   {handler: handleChannelStart},
		"channel.stop":    {handler: handleChannelStop},
		"channel.status":  {handler: handleChannelStatus},
		"channel.login":   {handler: handleChannelLogin},
		"channel.logout":  {handler: handleChannelLogout},
		"channels.list":   {handler: handleChannelsList},

		"skills.status": {handler: handleSkillsStatus},
		"skills.update": {handler: handleSkillsUpdate},

		"workspace.list":   {handler: handleWorkspaceList},
		"workspace.read":   {handler: handleWorkspaceRead},
		"workspace.write":  {handler: handleWorkspaceWrite},
		"workspace.delete": {handler: handleWorkspaceDelete},

		"fs.authorize": {handler: handleFSAuthorize, allowedModes: []ConnectionMode{ModeClient}},

		"canvas.list":   {handler: handleCanvasNotImplemented},
		"canvas.get":    {handler: handleCanvasNotImplemented},
		"canvas.create": {handler: handleCanvasNotImplemented},
		"canvas.upsert": {handler: handleCanvasNotImplemented},
		"canvas.patch":  {handler: handleCanvasNotImplemented},
		"canvas.delete": {handler: handleCanvasNotImplemented},
		"canvas.open":   {handler: handleCanvasNotImplemented},
		"canvas.close":  {handler: handleCanvasNotImplemented},
		"canvas.action": {handler: handleCanvasNotImplemented},
	}
}

// dispatch implements the RPC dispatch algorithm (spec §4.2): validate
// connection state, look up the method, enforce mode restrictions, invoke
// the handler, and send exactly one res frame (unless the handler
// deferred its own reply).
func (s *Gateway) dispatch(conn *Connection, ws interface{}, frame *ReqFrame) {
	if frame.ID == "" {
		frame.ID = uuid.NewString()
	}

	s.mu.RLock()
	connected := conn.connected
	s.mu.RUnlock()

	if !connected && frame.Method != "connect" {
		s.writeRes(conn, frame.ID, nil, NewGatewayError(CodeNotConnected, "connection has not completed the connect handshake"))
		return
	}

	spec, ok := methodRegistry[frame.Method]
	if !ok {
		s.writeRes(conn, frame.ID, nil, NewGatewayError(CodeNotFound, "unknown method: "+frame.Method))
		return
	}

	if len(spec.allowedModes) > 0 && frame.Method != "connect" {
		allowed := false
		for _, m := range spec.allowedModes {
			if m == conn.Mode {
				allowed = true
				break
			}
		}
		if !allowed {
			s.writeRes(conn, frame.ID, nil, NewGatewayError(CodeForbidden, "method not allowed for this connection mode"))
			return
		}
	}

	payload, err := spec.handler(s, conn, frame.Params)
	if err != nil {
		s.writeRes(conn, frame.ID, nil, ToGatewayError(err))
		return
	}
	if payload == DeferResponse {
		return
	}
	s.writeRes(conn, frame.ID, payload, nil)
}

// connectParams is the body of a `connect` req. Mode selects which of
// the three connection kinds this socket becomes; node/channel connects
// must supply the corresponding identity fields.
type connectParams struct {
	Protocol      int                  `json:"protocol"`
	Mode          string               `json:"mode"`
	NodeID        string               `json:"nodeId,omitempty"`
	NodeName      string               `json:"nodeName,omitempty"`
	Tools         []ToolDefinition     `json:"tools,omitempty"`
	NodeRuntime   *nodeRuntimeParams   `json:"nodeRuntime,omitempty"`
	ChannelID     string               `json:"channelId,omitempty"`
	ChannelKind   string               `json:"channelKind,omitempty"`
	ClientVersion string               `json:"clientVersion,omitempty"`
}

// nodeRuntimeParams is the node-reported capability envelope of a connect
// (spec §3/§6): what the host can do, which capabilities back each tool,
// and (optionally) what binaries are known to be present from a prior
// probe round.
type nodeRuntimeParams struct {
	HostRole         string              `json:"hostRole,omitempty"`
	HostCapabilities []string            `json:"hostCapabilities,omitempty"`
	ToolCapabilities map[string][]string `json:"toolCapabilities,omitempty"`
	HostOS           string              `json:"hostOs,omitempty"`
	HostEnv          map[string]string   `json:"hostEnv,omitempty"`
}

const protocolVersion = 1

func handleConnect(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p connectParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidRequest
		}
	}
	if p.Protocol != 0 && p.Protocol != protocolVersion {
		return nil, NewGatewayError(CodeUnsupportedProto, "unsupported protocol version")
	}

	var persistNode *NodeCatalogEntry
	var persistChannel *ChannelRegistryEntry

	s.mu.Lock()
	conn.connected = true
	conn.protocolVersion = protocolVersion
	switch p.Mode {
	case "node":
		if p.NodeID == "" {
			s.mu.Unlock()
			return nil, NewGatewayError(CodeInvalidMode, "node connect requires nodeId")
		}
		conn.Mode = ModeNode
		conn.NodeID = p.NodeID
		conn.NodeName = p.NodeName
		conn.Tools = p.Tools
		conn.ClientVersion = p.ClientVersion
		if p.NodeRuntime != nil {
			conn.NodeRuntime = &NodeRuntimeInfo{
				HostRole:         p.NodeRuntime.HostRole,
				HostCapabilities: p.NodeRuntime.HostCapabilities,
				ToolCapabilities: p.NodeRuntime.ToolCapabilities,
				HostOS:           p.NodeRuntime.HostOS,
				HostEnv:          p.NodeRuntime.HostEnv,
			}
		}
		s.replaceNodeLocked(conn)
		entryCopy := *s.nodeCatalog[conn.NodeID]
		persistNode = &entryCopy
	case "channel":
		if p.ChannelID == "" {
			s.mu.Unlock()
			return nil, NewGatewayError(CodeInvalidMode, "channel connect requires channelId")
		}
		conn.Mode = ModeChannel
		conn.ChannelID = p.ChannelID
		conn.ChannelKind = p.ChannelKind
		entry := &ChannelRegistryEntry{ChannelID: p.ChannelID, Kind: p.ChannelKind, ConnID: conn.ID, Connected: true}
		s.channels[p.ChannelID] = entry
		entryCopy := *entry
		persistChannel = &entryCopy
	case "", "client":
		conn.Mode = ModeClient
	default:
		s.mu.Unlock()
		return nil, NewGatewayError(CodeInvalidMode, "unknown connect mode: "+p.Mode)
	}
	s.mu.Unlock()

	if persistNode != nil {
		s.persistNodeCatalogEntry(persistNode.NodeID, persistNode)
	}
	if persistChannel != nil {
		s.persistChannelEntry(persistChannel.ChannelID, persistChannel)
	}

	methods := make([]string, 0, len(methodRegistry))
	for m := range methodRegistry {
		methods = append(methods, m)
	}

	return map[string]interface{}{
		"type":     "hello-ok",
		"protocol": protocolVersion,
		"server": map[string]interface{}{
			"version":      version.Get().Short(),
			"connectionId": conn.ID,
		},
		"features": map[string]interface{}{
			"methods": methods,
			"events":  []string{"tool.invoke", "logs.get", "transfer.send", "transfer.receive", "transfer.start", "transfer.end"},
		},
	}, nil
}
