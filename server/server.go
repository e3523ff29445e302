package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/pulse/async"
	"github.com/meshgate/gateway/pulse/schedule"
	"github.com/meshgate/gateway/version"
)

// Gateway is the WebSocket hub multiplexer: a single-writer event loop that
// owns the connection registry, routes RPC frames between clients, nodes
// and channel adapters, and drives the cron/async-exec/transfer subsystems.
type Gateway struct {
	db     *sql.DB
	dbPath string
	config *am.Config

	configWatcher  *am.ConfigWatcher
	daemon         *async.WorkerPool
	ticker         *schedule.Ticker
	scheduleStore  *schedule.Store
	heartbeatStore *schedule.HeartbeatStore

	mu          sync.RWMutex
	connections map[string]*Connection // connId -> Connection
	nodes       map[string]*NodeRuntimeInfo
	nodeCatalog map[string]*NodeCatalogEntry // nodeId -> inventory record, survives disconnects until node.forget
	sessions    map[string]*SessionRegistryEntry
	channels    map[string]*ChannelRegistryEntry
	lastActive  map[string]*LastActiveContext // "channel:peerKind:peerId" -> context

	pendingToolCalls map[string]*PendingToolCall
	pendingLogCalls  map[string]*PendingLogCall
	transfers        map[string]*Transfer
	cronJobs         map[string]*CronJob
	heartbeats       map[string]*HeartbeatState // ownerKey -> state
	heartbeatDedup   map[string]*heartbeatDedupEntry
	surfaces         map[string]*Surface
	probes           map[string]*ProbeState // probeKey -> in-flight probe

	sessionBridge SessionBridge
	blobStore     BlobStore
	kv            *am.KVStore // durable backing for nodeCatalog/sessions/channels; nil-safe, writes best-effort

	register    chan *Connection
	unregister  chan *Connection
	frameReq    chan *broadcastRequest // requests to the broadcast worker (thread-safe sends)
	connCounter atomic.Int64

	logger *zap.SugaredLogger

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt      time.Time
	broadcastDrops atomic.Int64
	state          atomic.Int32 // ServerState
}

// handleConnRegister admits a new connection into the registry, replacing
// any prior connection with the same identity (node reconnect, channel
// re-attach) per the gateway's replace-on-reconnect semantics.
func (s *Gateway) handleConnRegister(conn *Connection) {
	s.mu.Lock()

	if len(s.connections) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("max connections reached, rejecting connection",
			"conn_id", conn.ID,
			"max_connections", MaxClients,
		)
		conn.close()
		return
	}

	s.connections[conn.ID] = conn

	if conn.Mode == ModeNode {
		s.replaceNodeLocked(conn)
	}

	total := len(s.connections)
	s.mu.Unlock()

	s.logger.Infow("connection registered",
		"conn_id", conn.ID,
		"mode", conn.Mode.String(),
		"total_connections", total,
		"version", version.Get().Short(),
	)
}

// replaceNodeLocked updates the node registry for a (re)connecting node.
// Callers must hold s.mu. A reconnect replaces the prior NodeRuntimeInfo
// wholesale rather than merging tool lists, so a node that dropped a tool
// or capability on restart doesn't keep advertising it. The node's
// catalog entry (spec §3 "Tool registry entry") is upserted alongside it
// so `tools.list`/`node.forget` have a durable inventory record that
// survives a later disconnect.
func (s *Gateway) replaceNodeLocked(conn *Connection) {
	info := &NodeRuntimeInfo{
		NodeID:      conn.NodeID,
		ConnID:      conn.ID,
		Name:        conn.NodeName,
		Tools:       conn.Tools,
		ConnectedAt: conn.ConnectedAt,
	}
	if conn.NodeRuntime != nil {
		info.HostRole = conn.NodeRuntime.HostRole
		info.HostCapabilities = conn.NodeRuntime.HostCapabilities
		info.ToolCapabilities = conn.NodeRuntime.ToolCapabilities
		info.HostOS = conn.NodeRuntime.HostOS
		info.HostEnv = conn.NodeRuntime.HostEnv
	}
	if prior, ok := s.nodes[conn.NodeID]; ok {
		info.HostBinStatus = prior.HostBinStatus
		info.HostBinStatusUpdatedAt = prior.HostBinStatusUpdatedAt
	} else if catalogEntry, ok := s.nodeCatalog[conn.NodeID]; ok {
		// No live entry (fresh connect, or first reconnect after a gateway
		// restart) — seed from the durable catalog record instead of
		// forgetting every previously probed bin.
		info.HostBinStatus = catalogEntry.HostBinStatus
		info.HostBinStatusUpdatedAt = catalogEntry.HostBinStatusUpdatedAt
	}
	s.nodes[conn.NodeID] = info

	now := conn.ConnectedAt
	entry, ok := s.nodeCatalog[conn.NodeID]
	if !ok {
		entry = &NodeCatalogEntry{NodeID: conn.NodeID, FirstSeenAt: now}
		s.nodeCatalog[conn.NodeID] = entry
	}
	entry.Name = conn.NodeName
	entry.Tools = conn.Tools
	entry.Online = true
	entry.LastSeenAt = now
	entry.LastConnectedAt = now
	if conn.NodeRuntime != nil {
		entry.ClientPlatform = conn.NodeRuntime.HostOS
	}
	entry.ClientVersion = conn.ClientVersion
}

// handleConnUnregister removes a connection from the registry and tears
// down anything routed through it.
func (s *Gateway) handleConnUnregister(conn *Connection) {
	var persistNode *NodeCatalogEntry
	var persistChannel *ChannelRegistryEntry

	s.mu.Lock()
	if _, ok := s.connections[conn.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.connections, conn.ID)

	if conn.Mode == ModeNode {
		if info, ok := s.nodes[conn.NodeID]; ok && info.ConnID == conn.ID {
			delete(s.nodes, conn.NodeID)
			if entry, ok := s.nodeCatalog[conn.NodeID]; ok {
				entry.Online = false
				entry.LastDisconnectedAt = time.Now()
				entryCopy := *entry
				persistNode = &entryCopy
			}
		}
	}
	if conn.Mode == ModeChannel {
		if ch, ok := s.channels[conn.ChannelID]; ok && ch.ConnID == conn.ID {
			ch.Connected = false
			entryCopy := *ch
			persistChannel = &entryCopy
		}
	}
	total := len(s.connections)
	s.mu.Unlock()

	if persistNode != nil {
		s.persistNodeCatalogEntry(persistNode.NodeID, persistNode)
	}
	if persistChannel != nil {
		s.persistChannelEntry(persistChannel.ChannelID, persistChannel)
	}

	req := &broadcastRequest{reqType: reqClose, conn: conn}
	select {
	case s.frameReq <- req:
	case <-s.ctx.Done():
		conn.close()
	}

	s.logger.Infow("connection unregistered",
		"conn_id", conn.ID,
		"mode", conn.Mode.String(),
		"total_connections", total,
	)
}

// removeSlowConnection evicts a connection whose outbound queue is full.
// Only ever called from the broadcast worker, which is the sole owner of
// connection channel sends, so closing directly here is safe.
func (s *Gateway) removeSlowConnection(conn *Connection) {
	s.mu.Lock()
	if _, ok := s.connections[conn.ID]; ok {
		delete(s.connections, conn.ID)
		s.mu.Unlock()
	} else {
		s.mu.Unlock()
		return
	}

	conn.close()
	s.broadcastDrops.Add(1)
	s.logger.Warnw("connection outbound queue full, dropping connection",
		"conn_id", conn.ID,
		"total_drops", s.broadcastDrops.Load(),
	)
}

// Run starts the hub event loop. The broadcast worker owns every send to a
// connection's channel; Run itself only ever touches the registry maps,
// preserving the single-writer invariant across the two goroutines.
func (s *Gateway) Run() {
	go s.runBroadcastWorker()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("hub stopping: context cancelled")
			return
		case conn := <-s.register:
			s.handleConnRegister(conn)
		case conn := <-s.unregister:
			s.handleConnUnregister(conn)
		}
	}
}

// Metrics returns a point-in-time snapshot for /health.
func (s *Gateway) Metrics() MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byMode := make(map[string]int, 3)
	for _, c := range s.connections {
		byMode[c.Mode.String()]++
	}

	return MetricsSnapshot{
		ConnectionsByMode: byMode,
		PendingOpsCount:   len(s.pendingToolCalls) + len(s.pendingLogCalls),
		TransferCount:     len(s.transfers),
		BroadcastDrops:    s.broadcastDrops.Load(),
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
	}
}

// Global gateway instance, set once at startup so cobra command handlers
// (cmd/gatewayd) and HTTP handlers registered before Run() can reach it.
var (
	defaultGateway   *Gateway
	defaultGatewayMu sync.RWMutex
)

// SetDefaultGateway sets the global gateway instance.
func SetDefaultGateway(s *Gateway) {
	defaultGatewayMu.Lock()
	defer defaultGatewayMu.Unlock()
	defaultGateway = s
}

// GetDefaultGateway returns the global gateway instance.
func GetDefaultGateway() *Gateway {
	defaultGatewayMu.RLock()
	defer defaultGatewayMu.RUnlock()
	return defaultGateway
}

// GetDaemon returns the async-exec worker pool for dynamic handler registration.
func (s *Gateway) GetDaemon() *async.WorkerPool {
	return s.daemon
}

// executionStore returns the cron/heartbeat scheduler's execution history
// store, or nil if the gateway was constructed without a database.
func (s *Gateway) executionStore() *schedule.ExecutionStore {
	if s.db == nil {
		return nil
	}
	return schedule.NewExecutionStore(s.db)
}
