package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appcfg "github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/logger"
	"github.com/meshgate/gateway/pulse/async"
	"github.com/meshgate/gateway/pulse/schedule"
	"github.com/meshgate/gateway/server/wslogs"
)

// NewGateway constructs a Gateway ready to Start(): config loaded, logger
// built, async-exec daemon and cron ticker wired to the database, blob
// store opened, and every connection/routing registry initialized empty.
func NewGateway(db *sql.DB, dbPath string, verbosity int) (*Gateway, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if verbosity < 0 || verbosity > 4 {
		return nil, fmt.Errorf("verbosity must be 0-4, got %d", verbosity)
	}

	serverLogger, wsCore, wsTransport := newGatewayLogger(verbosity)

	cfg, err := appcfg.Load()
	if err != nil {
		serverLogger.Warnw("failed to load config, using defaults", "error", err)
		cfg = &appcfg.Config{}
	}

	blobStore, err := newBlobStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	poolConfig := async.DefaultWorkerPoolConfig()
	daemon := async.NewWorkerPoolWithContext(ctx, db, cfg, poolConfig, serverLogger)

	scheduleStore := schedule.NewStore(db)
	heartbeatStore := schedule.NewHeartbeatStore(db)
	tickerCfg := schedule.DefaultTickerConfig()

	server := &Gateway{
		db:     db,
		dbPath: dbPath,
		config: cfg,

		daemon:         daemon,
		scheduleStore:  scheduleStore,
		heartbeatStore: heartbeatStore,

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
		heartbeatDedup:   make(map[string]*heartbeatDedupEntry),
		surfaces:         make(map[string]*Surface),
		probes:           make(map[string]*ProbeState),

		blobStore: blobStore,
		kv:        appcfg.NewKVStore(db),

		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		frameReq:   make(chan *broadcastRequest, 256),

		logger: serverLogger,

		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	server.state.Store(int32(ServerStateRunning))
	server.loadPersistedRegistries()

	ticker := schedule.NewTickerWithContext(ctx, scheduleStore, daemon, server, tickerCfg, serverLogger)
	server.ticker = ticker

	server.startLogStreaming(wsCore, wsTransport)
	setupConfigWatcher(server, serverLogger)

	return server, nil
}

// newGatewayLogger builds the gateway's multi-output logger: the teacher's
// plain console/JSON core (per logger.Initialize) teed with a wslogs core
// that captures everything written through it for startLogStreaming to
// fan out live, plus a debug file core once verbosity asks for it.
func newGatewayLogger(verbosity int) (*zap.SugaredLogger, *wslogs.WebSocketCore, *wslogs.Transport) {
	if err := logger.Initialize(false); err != nil {
		logger.Logger = zap.NewNop().Sugar()
	}

	level := logger.VerbosityToLevel(verbosity)
	wsTransport := wslogs.NewTransport()
	wsCore := wslogs.NewWebSocketCore(level)

	cores := []zapcore.Core{
		logger.Logger.Desugar().Core(),
		wsCore,
	}
	if verbosity >= logger.VerbosityDebug {
		if fileCore, err := createFileCore("tmp/gateway-debug.log", level); err == nil {
			cores = append(cores, fileCore)
		}
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core).Sugar().Named("gateway"), wsCore, wsTransport
}

// createFileCore opens a debug log file and wraps it in a zapcore.Core at
// the given level, used by newGatewayLogger when verbosity >= 2.
func createFileCore(path string, level zapcore.LevelEnabler) (zapcore.Core, error) {
	sink, _, err := zap.Open(path)
	if err != nil {
		return nil, err
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level), nil
}

// startLogStreaming adapts wslogs' per-query batch-and-send idiom into a
// persistent tee: every log line the gateway writes through wsCore is
// batched and flushed periodically as a "logs.batch" evt fanned out to
// every connected client, giving operators a live tail without a
// dedicated log-shipping sidecar. Node-targeted logs.get calls still go
// through the pendingLogCalls round trip in handlers_tools.go; this path
// only ever covers the gateway's own logs.
func (s *Gateway) startLogStreaming(core *wslogs.WebSocketCore, transport *wslogs.Transport) {
	transport.SetSendFunc(func(_ string, batch *wslogs.Batch) {
		data, err := json.Marshal(EvtFrame{Type: FrameEvt, Event: "logs.batch", Payload: batch})
		if err != nil {
			return
		}
		s.Fanout(data)
	})

	batcher := wslogs.NewBatcher("gsv", transport)
	core.SetBatcher(batcher)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				batcher.Flush()
				core.ClearBatcher()
				return
			case <-ticker.C:
				batcher.Flush()
			}
		}
	}()
}

// setupConfigWatcher watches the active config file and reloads the
// in-process config on change, following the teacher's auto-reload
// pattern; the gateway itself only needs the reload to land in am's
// global config cache; individual components read through am.Get* on
// every call so nothing here needs to be pushed further.
func setupConfigWatcher(server *Gateway, serverLogger *zap.SugaredLogger) {
	configPath := appcfg.GetViper().ConfigFileUsed()
	if configPath == "" {
		serverLogger.Infow("no config file found, config watching disabled")
		return
	}

	configWatcher, err := appcfg.NewConfigWatcher(configPath)
	if err != nil {
		serverLogger.Warnw("failed to create config watcher, manual restart required for config changes", "error", err)
		return
	}
	server.configWatcher = configWatcher
	appcfg.SetGlobalWatcher(configWatcher)

	configWatcher.OnReload(func(newCfg *appcfg.Config) error {
		serverLogger.Infow("config reloaded")
		server.config = newCfg
		return nil
	})

	configWatcher.Start()
	serverLogger.Infow("config watcher started", "path", configPath)
}
