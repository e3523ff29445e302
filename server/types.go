package server

import "time"

const (
	// MaxClients is the maximum number of concurrent WebSocket client connections
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-connection outbound queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout is how long Stop waits for the hub's goroutines to
	// exit (connections are already closed by then) before giving up.
	ShutdownTimeout = 60 * time.Second
)

// ConnectionMode distinguishes the three kinds of WebSocket peer the hub
// multiplexes: end-user clients, tool-bearing nodes, and channel adapters
// relaying external chat platforms.
type ConnectionMode int

const (
	ModeClient ConnectionMode = iota
	ModeNode
	ModeChannel
)

func (m ConnectionMode) String() string {
	switch m {
	case ModeClient:
		return "client"
	case ModeNode:
		return "node"
	case ModeChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// ServerState represents the gateway's lifecycle state.
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Connection is one live WebSocket peer, keyed by connId. Every mode
// shares this shape; mode-specific state (tool registry, channel
// identity) lives in the Node/Channel/Client-specific fields below.
type Connection struct {
	ID         string
	Mode       ConnectionMode
	RemoteAddr string
	ConnectedAt time.Time

	// ModeNode fields
	NodeID        string
	NodeName      string
	Tools         []ToolDefinition
	NodeRuntime   *NodeRuntimeInfo
	ClientVersion string

	// ModeChannel fields
	ChannelID   string
	ChannelKind string // e.g. "slack", "discord", "cli"

	// handshake state: a connection accepts only `connect` until this is true
	connected       bool
	protocolVersion int

	send   chan []byte
	closed bool
}

// close marks the connection closed and releases its outbound queue.
// Safe to call more than once; only the first call has any effect.
func (c *Connection) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// broadcastRequestType discriminates the work items the broadcast
// worker goroutine drains from frameReq.
type broadcastRequestType string

const (
	reqSend   broadcastRequestType = "send"   // deliver a frame to one connection
	reqFanout broadcastRequestType = "fanout" // deliver a frame to every ModeClient connection
	reqClose  broadcastRequestType = "close"  // flush and drop a connection's queue
)

// broadcastRequest is the broadcast worker's unit of work: every send to
// a Connection's channel happens here, so the worker is the sole writer
// to connection channels and register/unregister never races with it.
type broadcastRequest struct {
	reqType broadcastRequestType
	conn    *Connection
	payload []byte
}

// ToolDefinition mirrors mcp-go's Tool shape so the gateway can in
// principle also speak MCP over a future stdio/SSE transport without a
// second tool-description type.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON-Schema-shaped object describing a tool's
// invocation arguments. It is not validated against a JSON Schema
// meta-schema at registration time.
type ToolInputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// NodeRuntimeInfo is the hub's live view of a connected node: which
// connId currently backs it, its most recently reported tool set, and the
// runtime/capability inventory it declared at handshake (spec §3 "Node
// runtime info"). Reconnects replace this entry's tools and declared
// capabilities wholesale rather than merging them, so a node that dropped
// a tool or capability on restart doesn't keep advertising it; only
// HostBinStatus is carried over from the prior entry.
type NodeRuntimeInfo struct {
	NodeID      string
	ConnID      string
	Name        string
	Tools       []ToolDefinition
	ConnectedAt time.Time

	HostRole         string              `json:"hostRole,omitempty"`
	HostCapabilities []string            `json:"hostCapabilities,omitempty"`
	ToolCapabilities map[string][]string `json:"toolCapabilities,omitempty"` // tool name -> capability subset
	HostOS           string              `json:"hostOs,omitempty"`
	HostEnv          map[string]string   `json:"hostEnv,omitempty"`

	// HostBinStatus merges in probe results (spec §4.3 "Probes"): which
	// binaries are present on the node's PATH, keyed by bin name.
	HostBinStatus          map[string]bool `json:"hostBinStatus,omitempty"`
	HostBinStatusUpdatedAt time.Time       `json:"hostBinStatusUpdatedAt,omitempty"`
}

// HasCapability reports whether the node declared the given capability in
// its hostCapabilities set (spec P10, and the "only nodes whose
// hostCapabilities include shell.exec may be probed" gate in §4.3).
func (n *NodeRuntimeInfo) HasCapability(cap string) bool {
	for _, c := range n.HostCapabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// NodeCatalogEntry is the persisted (possibly offline) record of a node
// that has ever connected: its last known tool set, connection history and
// client identity, kept so that `nodeId__toolName` references resolve even
// to a node that's currently disconnected (for discovery, not invocation),
// and so inventory listing survives disconnects until an explicit
// `node.forget` (spec §3 "Tool registry entry").
type NodeCatalogEntry struct {
	NodeID             string           `json:"nodeId"`
	Name               string           `json:"name"`
	Tools              []ToolDefinition `json:"tools"`
	Online             bool             `json:"online"`
	FirstSeenAt        time.Time        `json:"firstSeenAt"`
	LastSeenAt         time.Time        `json:"lastSeenAt"`
	LastConnectedAt    time.Time        `json:"lastConnectedAt"`
	LastDisconnectedAt time.Time        `json:"lastDisconnectedAt,omitempty"`
	ClientPlatform     string           `json:"clientPlatform,omitempty"`
	ClientVersion      string           `json:"clientVersion,omitempty"`

	// HostBinStatus carries the last probe result (spec §4.3) so a later
	// reconnect's NodeRuntimeInfo (replaceNodeLocked) can seed it back in
	// instead of forgetting every probed bin on a gateway restart.
	HostBinStatus          map[string]bool `json:"hostBinStatus,omitempty"`
	HostBinStatusUpdatedAt time.Time       `json:"hostBinStatusUpdatedAt,omitempty"`
}

// ProbeState tracks one in-flight bin-presence probe (spec §4.3
// "Probes"), keyed by (nodeId, agentId, bins) so a repeat request for the
// same set while one is outstanding is deduped rather than resent.
type ProbeState struct {
	NodeID    string
	AgentID   string
	Bins      []string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// PendingRouteKind discriminates where a pending call's reply should be
// delivered: back into a session bridge, or to a waiting WS client.
type PendingRouteKind string

const (
	RouteSession PendingRouteKind = "session"
	RouteClient  PendingRouteKind = "client"
)

// PendingToolCall tracks an in-flight `nodeId__toolName` invocation
// awaiting its response frame, keyed by callId. Consumed at most once.
type PendingToolCall struct {
	CallID      string
	NodeID      string
	ToolName    string
	RouteKind   PendingRouteKind
	RouteTarget string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// PendingLogCall tracks an in-flight `gsv__log` style call the same way
// PendingToolCall does, kept distinct because log calls allow
// allowDisconnected delivery semantics tool calls don't.
type PendingLogCall struct {
	CallID      string
	RouteKind   PendingRouteKind
	RouteTarget string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// PendingAsyncExecSession is one outstanding async-exec unit of work,
// keyed by (nodeId, sessionId) — the remote shell session a long-running
// tool result returned. TTL 24h; touched on each non-terminal event,
// consumed when a terminal node.exec.event arrives (spec §3/§4.7).
type PendingAsyncExecSession struct {
	NodeID     string
	SessionID  string
	SessionKey string
	CallID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}

// PendingAsyncExecDelivery is a durable per-eventId envelope awaiting
// exactly-once delivery of a terminal event to the owning session,
// retried with exponential backoff (1s * 2^(attempts-1), capped at 60s)
// until delivered or expired at 24h (spec §4.7/§5).
type PendingAsyncExecDelivery struct {
	EventID       string
	NodeID        string
	SessionID     string
	SessionKey    string
	CallID        string
	Event         string // finished | failed | timed_out
	ExitCode      *int
	Signal        string
	OutputTail    string
	StartedAt     *time.Time
	EndedAt       *time.Time
	Attempts      int
	NextAttemptAt time.Time
	ExpiresAt     time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TransferState is a stage in the binary transfer state machine.
type TransferState string

const (
	TransferInit        TransferState = "init"
	TransferMetaWait     TransferState = "meta-wait"
	TransferAcceptWait   TransferState = "accept-wait"
	TransferStreaming    TransferState = "streaming"
	TransferCompleting   TransferState = "completing"
	TransferDone         TransferState = "done"
	TransferFailed       TransferState = "failed"
)

// TransferEndpoint names one side of a binary hand-off: a node plus a
// path on that node's filesystem, or "gsv" when the gateway itself reads
// or writes the blob store directly (spec §3 Transfer entity).
type TransferEndpoint struct {
	Node string `json:"node"`
	Path string `json:"path"`
}

// Transfer tracks one binary hand-off between a source and destination
// node (or between a node and the gateway itself, when either endpoint's
// Node is "gsv"), driven by the state machine in spec §4.8.
type Transfer struct {
	ID               string
	CallID           string
	SessionKey       string
	Source           TransferEndpoint
	Destination      TransferEndpoint
	State            TransferState
	Size             int64
	Mime             string
	BytesTransferred int64
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SessionRegistryEntry is the gateway's record of a logical agent
// session, canonicalized to sessionKey
// ("agent:{agentId}:{channel}:{peerKind}:{peerId}").
type SessionRegistryEntry struct {
	SessionKey   string
	AgentID      string
	Channel      string
	PeerKind     string
	PeerID       string
	LastActiveAt time.Time
}

// ChannelRegistryEntry is the gateway's record of a connected channel
// adapter (ModeChannel connection) and the sessions it's currently
// routing for.
type ChannelRegistryEntry struct {
	ChannelID string
	Kind      string
	ConnID    string
	Connected bool
}

// LastActiveContext remembers the most recent session a channel/peer
// pair interacted through, so a bare slash command without an explicit
// session reference can be routed unambiguously.
type LastActiveContext struct {
	Channel    string
	PeerKind   string
	PeerID     string
	SessionKey string
	At         time.Time
}

// ChannelContext carries the channel-routing identity a chat turn
// originated from (spec §4.5), threaded through chat.send so the
// eventual response can be routed back to the right channel delivery
// instead of (or in addition to) the originating WS connection.
type ChannelContext struct {
	Channel         string `json:"channel"`
	AccountID       string `json:"accountId"`
	PeerKind        string `json:"peerKind"`
	PeerID          string `json:"peerId"`
	InboundMessageID string `json:"inboundMessageId,omitempty"`
	AgentID         string `json:"agentId"`
}

// MediaAttachment is one inbound media item attached to a channel message,
// forwarded verbatim to the session bridge as part of the UserMessage
// built from channel.inbound (spec §4.5 step 4).
type MediaAttachment struct {
	Kind string `json:"kind"`
	URL  string `json:"url,omitempty"`
	Key  string `json:"key,omitempty"` // blob store key, for gsv-hosted media
	Mime string `json:"mime,omitempty"`
}

// UserMessage is the chat turn payload chat.send/channel.inbound hands to
// the session bridge: the text plus any attached media (spec §4.5 step 4).
type UserMessage struct {
	Text        string            `json:"text"`
	Attachments []MediaAttachment `json:"attachments,omitempty"`
}

// HeartbeatState is the scheduler's record of one owner's periodic
// liveness beat (distinct from cron jobs: heartbeats have no payload,
// only a cadence and a missed-beat counter).
type HeartbeatState struct {
	OwnerKey    string
	IntervalMS  int64
	NextDueMS   int64
	LastBeatMS  int64
	MissedBeats int
}

// CronScheduleKind is the variant of a CronJob's schedule field.
type CronScheduleKind string

const (
	ScheduleAt    CronScheduleKind = "at"
	ScheduleEvery CronScheduleKind = "every"
	ScheduleCron  CronScheduleKind = "cron"
)

// CronSpecKind is the variant of what a CronJob fires.
type CronSpecKind string

const (
	SpecSystemEvent CronSpecKind = "systemEvent"
	SpecTask        CronSpecKind = "task"
)

// CronJob is one scheduled unit in the cron/heartbeat scheduler (spec §3
// Cron job entity). Schedule/Spec stay flat rather than nested tagged
// unions on the wire, mirroring the flat cron_jobs table columns they're
// persisted to.
type CronJob struct {
	ID             string           `json:"id"`
	OwnerKey       string           `json:"agentId"`
	Name           string           `json:"name,omitempty"`
	Description    string           `json:"description,omitempty"`
	Enabled        bool             `json:"enabled"`
	DeleteAfterRun bool             `json:"deleteAfterRun,omitempty"`
	ScheduleKind   CronScheduleKind `json:"scheduleKind"`
	ScheduleExpr   string           `json:"scheduleExpr"`
	Timezone       string           `json:"timezone,omitempty"`
	SpecKind       CronSpecKind     `json:"specKind"`
	SpecPayload    string           `json:"specPayload"`
	NextDueMS      int64            `json:"nextDueMs,omitempty"`
	LastFiredMS    int64            `json:"lastFiredMs,omitempty"`

	// Runtime state (spec §3's CronJob.state sub-object, flattened here).
	RunningAtMS    int64  `json:"runningAtMs,omitempty"`
	LastRunAtMS    int64  `json:"lastRunAtMs,omitempty"`
	LastStatus     string `json:"lastStatus,omitempty"`
	LastError      string `json:"lastError,omitempty"`
	LastDurationMS int64  `json:"lastDurationMs,omitempty"`
}

// Surface is a named, replicated piece of UI state (e.g. an open view)
// tracked by the gateway so reconnecting clients can restore it.
type Surface struct {
	ID        string
	Kind      string
	OwnerConn string
	StateJSON string
	UpdatedAt time.Time
}

// MetricsSnapshot is the process-wide counter set exposed via /health.
type MetricsSnapshot struct {
	ConnectionsByMode map[string]int
	PendingOpsCount   int
	TransferCount     int
	BroadcastDrops    int64
	UptimeSeconds     int64
}

// SessionBridge is the external collaborator that owns actual session
// actor state. The gateway only keeps a discovery index
// (SessionRegistryEntry); everything about a session's conversation,
// history and skill policy lives behind this interface so the gateway
// never needs to know how a session is implemented.
type SessionBridge interface {
	Get(sessionKey string) (interface{}, error)
	Patch(sessionKey string, patch map[string]interface{}) error
	Stats(sessionKey string) (interface{}, error)
	Reset(sessionKey string) error
	History(sessionKey string, limit int) (interface{}, error)
	Preview(sessionKey string) (interface{}, error)
	Compact(sessionKey string) error
	List() ([]SessionRegistryEntry, error)
	ToolResult(callID string, result interface{}, toolErr error) error

	// ChatSend drives a turn through the session actor (spec §4.6): tools
	// and runtimeNodes are deep copies taken at dispatch time so later
	// gateway-side mutations don't leak into the session's snapshot.
	// overrides and idempotencyKey are optional; channelContext is set
	// only when the turn originated from a channel adapter rather than a
	// direct client chat.send. Returns whether the turn was queued behind
	// an in-flight one for the same session.
	ChatSend(message UserMessage, runID string, tools []ToolDefinition, runtimeNodes []NodeRuntimeInfo, sessionKey string, overrides map[string]interface{}, idempotencyKey string, channelContext *ChannelContext) (queued bool, err error)

	// Abort cancels the in-flight turn (if any) for sessionKey.
	Abort(sessionKey string) error

	// Dispatch delivers a due cron job's payload into a session: systemEvent
	// mode emits into the owner's own session, task mode spawns/advances an
	// isolated agent:{agentId}:cron:{jobId} session running the task spec's
	// message. Returns a short human-readable result summary.
	Dispatch(sessionKey string, specKind CronSpecKind, payload string) (string, error)

	// IngestAsyncExecCompletion delivers one terminal async-exec event to
	// the session that originated the long-running tool call. Must accept
	// the same eventId exactly once; the completion pipeline guarantees it
	// is never called twice with the same AsyncExecCompletion.EventID
	// during the retention window.
	IngestAsyncExecCompletion(sessionKey string, completion *AsyncExecCompletion) error
}

// AsyncExecCompletion is the terminal event payload handed to a session's
// IngestAsyncExecCompletion, including enough of the originating call's
// identity for the session to fold it back into the right conversation
// turn (spec §4.6 "a snapshot of tools and runtime inventory").
type AsyncExecCompletion struct {
	EventID    string     `json:"eventId"`
	CallID     string     `json:"callId"`
	NodeID     string     `json:"nodeId"`
	SessionID  string     `json:"sessionId"`
	Event      string     `json:"event"` // finished | failed | timed_out
	ExitCode   *int       `json:"exitCode,omitempty"`
	Signal     string     `json:"signal,omitempty"`
	OutputTail string     `json:"outputTail,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}
