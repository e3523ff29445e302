package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/pulse/schedule"
)

// Session ops delegate to the external SessionBridge collaborator; the
// gateway only keeps a discovery index (SessionRegistryEntry). A nil
// bridge (no session actor wired yet) answers 503 rather than panicking.

type sessionKeyParams struct {
	SessionKey string `json:"sessionKey"`
}

func (s *Gateway) requireSessionBridge() error {
	if s.sessionBridge == nil {
		return NewGatewayError(CodeDownstreamOffline, "no session bridge configured")
	}
	return nil
}

func handleSessionGet(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	return s.sessionBridge.Get(am.CanonicalizeSessionKey(p.SessionKey))
}

func handleSessionPatch(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		SessionKey string                 `json:"sessionKey"`
		Patch      map[string]interface{} `json:"patch"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	if err := s.sessionBridge.Patch(am.CanonicalizeSessionKey(p.SessionKey), p.Patch); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

func handleSessionStats(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	return s.sessionBridge.Stats(am.CanonicalizeSessionKey(p.SessionKey))
}

func handleSessionReset(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	if err := s.sessionBridge.Reset(am.CanonicalizeSessionKey(p.SessionKey)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

func handleSessionHistory(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		SessionKey string `json:"sessionKey"`
		Limit      int    `json:"limit,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	return s.sessionBridge.History(am.CanonicalizeSessionKey(p.SessionKey), p.Limit)
}

func handleSessionPreview(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	return s.sessionBridge.Preview(am.CanonicalizeSessionKey(p.SessionKey))
}

func handleSessionCompact(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	if err := s.sessionBridge.Compact(am.CanonicalizeSessionKey(p.SessionKey)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

// handleSessionAbort cancels the in-flight turn (if any) for a session,
// e.g. when a user interrupts a long-running chat.send.
func handleSessionAbort(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p sessionKeyParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	if err := s.sessionBridge.Abort(am.CanonicalizeSessionKey(p.SessionKey)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

func handleSessionsList(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	s.mu.RLock()
	entries := make([]*SessionRegistryEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	return map[string]interface{}{"sessions": entries}, nil
}

// Heartbeat: per-agent liveness beat, 24h dedup window (spec §3). Persisted
// via pulse/schedule's HeartbeatStore when a database is attached; the
// in-memory map serves db-less/test gateways.

func handleHeartbeatStatus(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		OwnerKey string `json:"ownerKey"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.OwnerKey == "" {
		return nil, ErrInvalidRequest
	}
	p.OwnerKey = am.CanonicalizeSessionKey(p.OwnerKey)

	if s.heartbeatStore != nil {
		row, err := s.heartbeatStore.Get(p.OwnerKey)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return map[string]interface{}{"active": false}, nil
		}
		return map[string]interface{}{"active": true, "heartbeat": HeartbeatState{
			OwnerKey: row.OwnerKey, IntervalMS: row.IntervalMS, NextDueMS: row.NextDueMS,
			LastBeatMS: row.LastBeatMS, MissedBeats: row.MissedBeats,
		}}, nil
	}

	s.mu.RLock()
	hb, ok := s.heartbeats[p.OwnerKey]
	s.mu.RUnlock()
	if !ok {
		return map[string]interface{}{"active": false}, nil
	}
	return map[string]interface{}{"active": true, "heartbeat": hb}, nil
}

func handleHeartbeatStart(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		OwnerKey   string `json:"ownerKey"`
		IntervalMS int64  `json:"intervalMs"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.OwnerKey == "" || p.IntervalMS <= 0 {
		return nil, ErrInvalidRequest
	}
	p.OwnerKey = am.CanonicalizeSessionKey(p.OwnerKey)
	now := time.Now().UnixMilli()

	if s.heartbeatStore != nil {
		if err := s.heartbeatStore.Upsert(p.OwnerKey, p.IntervalMS, now+p.IntervalMS); err != nil {
			return nil, err
		}
		return map[string]interface{}{"ok": true}, nil
	}

	s.mu.Lock()
	s.heartbeats[p.OwnerKey] = &HeartbeatState{OwnerKey: p.OwnerKey, IntervalMS: p.IntervalMS, NextDueMS: now + p.IntervalMS}
	s.mu.Unlock()
	return map[string]interface{}{"ok": true}, nil
}

func handleHeartbeatTrigger(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		OwnerKey string `json:"ownerKey"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.OwnerKey == "" {
		return nil, ErrInvalidRequest
	}
	p.OwnerKey = am.CanonicalizeSessionKey(p.OwnerKey)

	if s.heartbeatStore != nil {
		if err := s.heartbeatStore.Beat(p.OwnerKey, time.Now()); err != nil {
			return nil, NewGatewayError(CodeNotFound, "no heartbeat registered for "+p.OwnerKey)
		}
		return map[string]interface{}{"ok": true}, nil
	}

	s.mu.Lock()
	hb, ok := s.heartbeats[p.OwnerKey]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeNotFound, "no heartbeat registered for "+p.OwnerKey)
	}
	now := time.Now().UnixMilli()
	hb.LastBeatMS = now
	hb.NextDueMS = now + hb.IntervalMS
	s.mu.Unlock()
	return map[string]interface{}{"ok": true}, nil
}

// Cron jobs (spec §3/§4.9). Persisted via pulse/schedule's SQLite-backed
// Store whenever a database is attached, so the ticker (which only ever
// reads from the store) sees jobs added through this RPC surface; the
// in-memory map is a fallback for db-less/test gateways.

func cronJobToSchedule(j *CronJob) *schedule.Job {
	return &schedule.Job{
		ID: j.ID, OwnerKey: j.OwnerKey,
		ScheduleKind: schedule.ScheduleKind(j.ScheduleKind), ScheduleExpr: j.ScheduleExpr, Timezone: j.Timezone,
		SpecKind: schedule.SpecKind(j.SpecKind), SpecPayload: j.SpecPayload,
		NextDueMS: j.NextDueMS, Enabled: j.Enabled,
	}
}

func scheduleJobToCron(j *schedule.Job) *CronJob {
	return &CronJob{
		ID: j.ID, OwnerKey: j.OwnerKey,
		ScheduleKind: CronScheduleKind(j.ScheduleKind), ScheduleExpr: j.ScheduleExpr, Timezone: j.Timezone,
		SpecKind: CronSpecKind(j.SpecKind), SpecPayload: j.SpecPayload,
		NextDueMS: j.NextDueMS, LastFiredMS: j.LastRunAtMS, Enabled: j.Enabled,
	}
}

func handleCronStatus(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	jobCount := 0
	if s.scheduleStore != nil {
		jobs, err := s.scheduleStore.ListAll()
		if err != nil {
			return nil, err
		}
		jobCount = len(jobs)
	} else {
		s.mu.RLock()
		jobCount = len(s.cronJobs)
		s.mu.RUnlock()
	}
	return map[string]interface{}{
		"jobCount": jobCount,
		"running":  s.ticker != nil,
	}, nil
}

func handleCronList(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		AgentID string `json:"agentId,omitempty"`
	}
	json.Unmarshal(params, &p)

	if s.scheduleStore != nil {
		var scheduled []*schedule.Job
		var err error
		if p.AgentID != "" {
			scheduled, err = s.scheduleStore.ListByOwner(p.AgentID)
		} else {
			scheduled, err = s.scheduleStore.ListAll()
		}
		if err != nil {
			return nil, err
		}
		jobs := make([]*CronJob, 0, len(scheduled))
		for _, j := range scheduled {
			jobs = append(jobs, scheduleJobToCron(j))
		}
		return map[string]interface{}{"jobs": jobs}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*CronJob, 0, len(s.cronJobs))
	for _, j := range s.cronJobs {
		if p.AgentID != "" && j.OwnerKey != p.AgentID {
			continue
		}
		jobs = append(jobs, j)
	}
	return map[string]interface{}{"jobs": jobs}, nil
}

func handleCronAdd(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var job CronJob
	if err := json.Unmarshal(params, &job); err != nil || job.ID == "" {
		return nil, ErrInvalidRequest
	}

	if s.scheduleStore != nil {
		if err := s.scheduleStore.CreateJob(cronJobToSchedule(&job)); err != nil {
			return nil, err
		}
		return map[string]interface{}{"ok": true, "id": job.ID}, nil
	}

	s.mu.Lock()
	s.cronJobs[job.ID] = &job
	s.mu.Unlock()
	return map[string]interface{}{"ok": true, "id": job.ID}, nil
}

func handleCronUpdate(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID    string                 `json:"id"`
		Patch map[string]interface{} `json:"patch"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidRequest
	}
	enabled, hasEnabled := p.Patch["enabled"].(bool)

	if s.scheduleStore != nil {
		if hasEnabled {
			if err := s.scheduleStore.UpdateEnabled(p.ID, enabled); err != nil {
				return nil, NewGatewayError(CodeNotFound, "unknown cron job: "+p.ID)
			}
		}
		return map[string]interface{}{"ok": true}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.cronJobs[p.ID]
	if !ok {
		return nil, NewGatewayError(CodeNotFound, "unknown cron job: "+p.ID)
	}
	if hasEnabled {
		job.Enabled = enabled
	}
	return map[string]interface{}{"ok": true}, nil
}

func handleCronRemove(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidRequest
	}

	if s.scheduleStore != nil {
		if err := s.scheduleStore.DeleteJob(p.ID); err != nil {
			return nil, NewGatewayError(CodeNotFound, "unknown cron job: "+p.ID)
		}
		return map[string]interface{}{"ok": true}, nil
	}

	s.mu.Lock()
	delete(s.cronJobs, p.ID)
	s.mu.Unlock()
	return map[string]interface{}{"ok": true}, nil
}

// handleCronRun implements cron.run's two modes: "due" (the default) only
// fires if the job is already past its next-due mark, "force" fires
// immediately regardless of schedule.
func handleCronRun(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID   string `json:"id"`
		Mode string `json:"mode,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidRequest
	}

	if s.scheduleStore != nil {
		job, err := s.scheduleStore.GetJob(p.ID)
		if err != nil {
			return nil, NewGatewayError(CodeNotFound, "unknown cron job: "+p.ID)
		}
		now := time.Now()
		if p.Mode != "force" && !job.IsDue(now) {
			return map[string]interface{}{"ok": true, "triggered": false}, nil
		}
		summary, dispatchErr := s.Dispatch(job)
		if dispatchErr != nil {
			return nil, dispatchErr
		}
		_ = summary
		return map[string]interface{}{"ok": true, "triggered": p.ID}, nil
	}

	s.mu.Lock()
	job, ok := s.cronJobs[p.ID]
	if ok {
		job.LastFiredMS = time.Now().UnixMilli()
	}
	s.mu.Unlock()
	if !ok {
		return nil, NewGatewayError(CodeNotFound, "unknown cron job: "+p.ID)
	}
	return map[string]interface{}{"ok": true, "triggered": p.ID}, nil
}

func handleCronRuns(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID    string `json:"id"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidRequest
	}
	if s.db == nil {
		return map[string]interface{}{"runs": []interface{}{}}, nil
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	executionStore := s.executionStore()
	if executionStore == nil {
		return map[string]interface{}{"runs": []interface{}{}}, nil
	}
	runs, _, err := executionStore.ListExecutions(p.ID, limit, 0, "")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"runs": runs}, nil
}

// Surfaces (spec §3 Surface entity): replicated to all clients but the
// originator.

func handleSurfaceOpen(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var surf Surface
	if err := json.Unmarshal(params, &surf); err != nil || surf.ID == "" {
		return nil, ErrInvalidRequest
	}
	surf.OwnerConn = conn.ID
	surf.UpdatedAt = time.Now()
	s.mu.Lock()
	s.surfaces[surf.ID] = &surf
	s.mu.Unlock()
	s.broadcastSurfaceExcept(conn, "surface.opened", surf)
	return map[string]interface{}{"ok": true}, nil
}

func handleSurfaceClose(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID string `json:"surfaceId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidRequest
	}
	s.mu.Lock()
	delete(s.surfaces, p.ID)
	s.mu.Unlock()
	s.broadcastSurfaceExcept(conn, "surface.closed", map[string]string{"surfaceId": p.ID})
	return map[string]interface{}{"ok": true}, nil
}

func handleSurfaceUpdate(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID    string `json:"surfaceId"`
		State string `json:"state,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidRequest
	}
	s.mu.Lock()
	surf, ok := s.surfaces[p.ID]
	if ok {
		surf.StateJSON = p.State
		surf.UpdatedAt = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		return nil, NewGatewayError(CodeNotFound, "unknown surfaceId")
	}
	s.broadcastSurfaceExcept(conn, "surface.updated", surf)
	return map[string]interface{}{"ok": true}, nil
}

func handleSurfaceFocus(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		ID string `json:"surfaceId"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.ID == "" {
		return nil, ErrInvalidRequest
	}
	s.broadcastSurfaceExcept(conn, "surface.focused", map[string]string{"surfaceId": p.ID})
	return map[string]interface{}{"ok": true}, nil
}

func handleSurfaceList(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	surfs := make([]*Surface, 0, len(s.surfaces))
	for _, surf := range s.surfaces {
		surfs = append(surfs, surf)
	}
	return map[string]interface{}{"surfaces": surfs}, nil
}

func (s *Gateway) broadcastSurfaceExcept(origin *Connection, event string, payload interface{}) {
	data, err := json.Marshal(EvtFrame{Type: FrameEvt, Event: event, Payload: payload})
	if err != nil {
		return
	}
	s.mu.RLock()
	targets := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		if c.Mode == ModeClient && c.ID != origin.ID {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range targets {
		s.SendFrame(c, data)
	}
}

// Channels (chat platform adapters).

type channelRef struct {
	Channel   string `json:"channel"`
	AccountID string `json:"accountId"`
}

type channelInboundParams struct {
	Channel          string            `json:"channel"`
	AccountID        string            `json:"accountId"`
	PeerKind         string            `json:"peerKind"`
	PeerID           string            `json:"peerId"`
	AgentID          string            `json:"agentId,omitempty"`
	Text             string            `json:"text"`
	Attachments      []MediaAttachment `json:"attachments,omitempty"`
	InboundMessageID string            `json:"inboundMessageId,omitempty"`
}

// handleChannelInbound implements the channel inbound routing algorithm
// (spec §4.5): canonicalize the session key, update the session/last-
// active registries, dispatch slash commands directly, and otherwise hand
// the message to the session bridge as a chat turn carrying the channel
// context the eventual outbound reply is routed back through.
func handleChannelInbound(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p channelInboundParams
	if err := json.Unmarshal(params, &p); err != nil || p.Channel == "" || p.PeerID == "" {
		return nil, ErrInvalidRequest
	}

	agentID := p.AgentID
	if agentID == "" {
		agentID = am.GetString("agent.default_agent_id")
	}
	raw := "agent:" + agentID + ":" + p.Channel + ":" + p.PeerKind + ":" + p.PeerID
	sessionKey := am.CanonicalizeSessionKey(raw)

	now := time.Now()
	sessionEntry := &SessionRegistryEntry{
		SessionKey: sessionKey, AgentID: agentID, Channel: p.Channel,
		PeerKind: p.PeerKind, PeerID: p.PeerID, LastActiveAt: now,
	}
	s.mu.Lock()
	s.sessions[sessionKey] = sessionEntry
	lastActiveKey := p.Channel + ":" + p.PeerKind + ":" + p.PeerID
	s.lastActive[lastActiveKey] = &LastActiveContext{
		Channel: p.Channel, PeerKind: p.PeerKind, PeerID: p.PeerID,
		SessionKey: sessionKey, At: now,
	}
	s.mu.Unlock()
	s.persistSessionEntry(sessionKey, sessionEntry)

	channelContext := &ChannelContext{
		Channel: p.Channel, AccountID: p.AccountID, PeerKind: p.PeerKind,
		PeerID: p.PeerID, InboundMessageID: p.InboundMessageID, AgentID: agentID,
	}

	if strings.HasPrefix(strings.TrimSpace(p.Text), "/") {
		result, err := s.dispatchSlashCommand(sessionKey, p.Text)
		if err != nil {
			return nil, err
		}
		s.deliverToChannel(channelContext, ChatEvent{State: "final", Text: result})
		return map[string]interface{}{"ok": true}, nil
	}

	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}
	message := UserMessage{Text: p.Text, Attachments: p.Attachments}
	runID := uuid.NewString()
	tools, runtimeNodes := s.snapshotToolsAndNodes()
	queued, err := s.sessionBridge.ChatSend(message, runID, tools, runtimeNodes, sessionKey, nil, "", channelContext)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true, "runId": runID, "queued": queued}, nil
}

// dispatchSlashCommand handles the small set of session-control commands a
// channel peer can issue without going through a full chat turn (spec
// §4.5 step 3).
func (s *Gateway) dispatchSlashCommand(sessionKey, text string) (string, error) {
	if err := s.requireSessionBridge(); err != nil {
		return "", err
	}
	cmd := strings.Fields(strings.TrimPrefix(strings.TrimSpace(text), "/"))
	if len(cmd) == 0 {
		return "", NewGatewayError(CodeBadParams, "empty slash command")
	}
	switch strings.ToLower(cmd[0]) {
	case "reset":
		if err := s.sessionBridge.Reset(sessionKey); err != nil {
			return "", err
		}
		return "session reset", nil
	case "abort":
		if err := s.sessionBridge.Abort(sessionKey); err != nil {
			return "", err
		}
		return "turn aborted", nil
	case "compact":
		if err := s.sessionBridge.Compact(sessionKey); err != nil {
			return "", err
		}
		return "session compacted", nil
	default:
		return "", NewGatewayError(CodeNotFound, "unknown command: /"+cmd[0])
	}
}

// channelAdapterConn finds the live connection for a connected channel
// adapter of the given kind.
func (s *Gateway) channelAdapterConn(kind string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.channels {
		if ch.Kind == kind && ch.Connected {
			if c, ok := s.connections[ch.ConnID]; ok {
				return c, true
			}
		}
	}
	return nil, false
}

// handleChannelStart asks a connected channel adapter to begin relaying
// inbound traffic for an account on this channel kind.
func handleChannelStart(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var ref channelRef
	if err := json.Unmarshal(params, &ref); err != nil || ref.Channel == "" {
		return nil, ErrInvalidRequest
	}
	target, ok := s.channelAdapterConn(ref.Channel)
	if !ok {
		return nil, NewGatewayError(CodeDownstreamOffline, "no connected adapter for channel: "+ref.Channel)
	}
	s.writeEvt(target, "channel.start", map[string]interface{}{"accountId": ref.AccountID})
	return map[string]interface{}{"ok": true}, nil
}

// handleChannelStop asks a connected channel adapter to stop relaying
// inbound traffic for an account.
func handleChannelStop(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var ref channelRef
	if err := json.Unmarshal(params, &ref); err != nil || ref.Channel == "" {
		return nil, ErrInvalidRequest
	}
	target, ok := s.channelAdapterConn(ref.Channel)
	if !ok {
		return nil, NewGatewayError(CodeDownstreamOffline, "no connected adapter for channel: "+ref.Channel)
	}
	s.writeEvt(target, "channel.stop", map[string]interface{}{"accountId": ref.AccountID})
	return map[string]interface{}{"ok": true}, nil
}

func handleChannelStatus(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var ref channelRef
	if err := json.Unmarshal(params, &ref); err != nil || ref.Channel == "" {
		return nil, ErrInvalidRequest
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.channels {
		if ch.Kind == ref.Channel {
			return map[string]interface{}{"connected": ch.Connected}, nil
		}
	}
	return map[string]interface{}{"connected": false}, nil
}

// handleChannelLogin forwards login credentials to a connected channel
// adapter so it can authenticate against the external platform.
func handleChannelLogin(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		channelRef
		Credentials json.RawMessage `json:"credentials,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Channel == "" {
		return nil, ErrInvalidRequest
	}
	target, ok := s.channelAdapterConn(p.Channel)
	if !ok {
		return nil, NewGatewayError(CodeDownstreamOffline, "no connected adapter for channel: "+p.Channel)
	}
	s.writeEvt(target, "channel.login", map[string]interface{}{"accountId": p.AccountID, "credentials": p.Credentials})
	return map[string]interface{}{"ok": true}, nil
}

// handleChannelLogout asks a connected channel adapter to drop its
// authenticated session with the external platform.
func handleChannelLogout(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var ref channelRef
	if err := json.Unmarshal(params, &ref); err != nil || ref.Channel == "" {
		return nil, ErrInvalidRequest
	}
	target, ok := s.channelAdapterConn(ref.Channel)
	if !ok {
		return nil, NewGatewayError(CodeDownstreamOffline, "no connected adapter for channel: "+ref.Channel)
	}
	s.writeEvt(target, "channel.logout", map[string]interface{}{"accountId": ref.AccountID})
	return map[string]interface{}{"ok": true}, nil
}

func handleChannelsList(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chans := make([]*ChannelRegistryEntry, 0, len(s.channels))
	for _, ch := range s.channels {
		chans = append(chans, ch)
	}
	return map[string]interface{}{"channels": chans}, nil
}

// Skills: policy status lives with the external session/skill-policy
// collaborator; the gateway surfaces it but doesn't own it.

func handleSkillsStatus(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"skills": []interface{}{}}, nil
}

func handleSkillsUpdate(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}

// Workspace: a thin pass-through to the fs/blob subsystem, distinct from
// fs.authorize (which issues the bearer token workspace ops use).

func handleWorkspaceList(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		Prefix string `json:"prefix,omitempty"`
	}
	json.Unmarshal(params, &p)
	keys, err := s.blobStore.List(p.Prefix)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"keys": keys}, nil
}

func handleWorkspaceRead(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return nil, ErrInvalidRequest
	}
	data, err := s.blobStore.Get(p.Key)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"data": data}, nil
}

func handleWorkspaceWrite(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		Key  string `json:"key"`
		Data []byte `json:"data"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.blobStore.Put(p.Key, p.Data); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

func handleWorkspaceDelete(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.blobStore.Delete(p.Key); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

func handleCanvasNotImplemented(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	return nil, NewGatewayError(CodeNotImplemented, "canvas is not implemented yet")
}

type chatSendParams struct {
	SessionKey     string                 `json:"sessionKey"`
	Text           string                 `json:"text"`
	Attachments    []MediaAttachment      `json:"attachments,omitempty"`
	Overrides      map[string]interface{} `json:"overrides,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	ChannelContext *ChannelContext        `json:"channelContext,omitempty"`
}

// snapshotToolsAndNodes takes a deep-copy-at-dispatch-time snapshot of the
// native tool list, every connected node's tools, and every connected
// node's full runtime info (spec §4.6: "tools/runtimeNodes are deep
// copies taken at dispatch time so later gateway-side mutations don't
// leak into the session's snapshot").
func (s *Gateway) snapshotToolsAndNodes() ([]ToolDefinition, []NodeRuntimeInfo) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]ToolDefinition, len(nativeTools))
	copy(tools, nativeTools)

	nodes := make([]NodeRuntimeInfo, 0, len(s.nodes))
	for _, info := range s.nodes {
		tools = append(tools, info.Tools...)

		cp := *info
		cp.Tools = append([]ToolDefinition(nil), info.Tools...)
		cp.HostCapabilities = append([]string(nil), info.HostCapabilities...)
		if info.ToolCapabilities != nil {
			cp.ToolCapabilities = make(map[string][]string, len(info.ToolCapabilities))
			for k, v := range info.ToolCapabilities {
				cp.ToolCapabilities[k] = append([]string(nil), v...)
			}
		}
		if info.HostEnv != nil {
			cp.HostEnv = make(map[string]string, len(info.HostEnv))
			for k, v := range info.HostEnv {
				cp.HostEnv[k] = v
			}
		}
		if info.HostBinStatus != nil {
			cp.HostBinStatus = make(map[string]bool, len(info.HostBinStatus))
			for k, v := range info.HostBinStatus {
				cp.HostBinStatus[k] = v
			}
		}
		nodes = append(nodes, cp)
	}
	return tools, nodes
}

// handleChatSend drives a chat turn into the session bridge (spec §4.6):
// canonicalize the session key, mint a fresh runId for this turn, snapshot
// the tool/node inventory as of right now, and hand it all to the bridge.
func handleChatSend(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p chatSendParams
	if err := json.Unmarshal(params, &p); err != nil || p.SessionKey == "" || p.Text == "" {
		return nil, ErrInvalidRequest
	}
	if err := s.requireSessionBridge(); err != nil {
		return nil, err
	}

	sessionKey := am.CanonicalizeSessionKey(p.SessionKey)
	runID := uuid.NewString()
	tools, runtimeNodes := s.snapshotToolsAndNodes()

	message := UserMessage{Text: p.Text, Attachments: p.Attachments}
	queued, err := s.sessionBridge.ChatSend(message, runID, tools, runtimeNodes, sessionKey, p.Overrides, p.IdempotencyKey, p.ChannelContext)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"ok": true, "runId": runID, "queued": queued}, nil
}

func handleConfigGet(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		Key string `json:"key,omitempty"`
	}
	json.Unmarshal(params, &p)
	if p.Key != "" {
		return map[string]interface{}{"key": p.Key, "value": am.Get(p.Key)}, nil
	}
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return nil, err
	}
	return intro, nil
}

// handleConfigSet applies every key as a live-only override via am.Set;
// nothing is written to the config file, so the value is lost on restart
// and the reply always carries persisted:false.
func handleConfigSet(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p struct {
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Key == "" {
		return nil, ErrInvalidRequest
	}
	am.Set(p.Key, p.Value)
	return map[string]interface{}{"ok": true, "persisted": false}, nil
}
