package server

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/meshgate/gateway/am"
)

// maxProbeAttempts caps a single probe at one retry (spec §4.3 "Probes":
// "≤2 attempts").
const maxProbeAttempts = 2

// probeRetryAfter is how long handleNodeProbe waits for a reply before
// resending once.
const probeRetryAfter = 30 * time.Second

// probeKey identifies an in-flight probe by the exact (nodeId, agentId,
// bins) tuple a repeat request is deduped against.
func probeKey(nodeID, agentID string, bins []string) string {
	sorted := append([]string(nil), bins...)
	sort.Strings(sorted)
	return nodeID + "|" + agentID + "|" + strings.Join(sorted, ",")
}

// probeGCAfter reads probe.gc_after_seconds, clamped to the spec's 1s–24h
// configurable range (default 10 minutes).
func probeGCAfter() time.Duration {
	sec := am.GetInt("probe.gc_after_seconds")
	if sec <= 0 {
		sec = 600
	}
	if sec < 1 {
		sec = 1
	}
	const dayInSeconds = 24 * 3600
	if sec > dayInSeconds {
		sec = dayInSeconds
	}
	return time.Duration(sec) * time.Second
}

type probeRequestParams struct {
	NodeID  string   `json:"nodeId"`
	AgentID string   `json:"agentId,omitempty"`
	Bins    []string `json:"bins"`
}

// handleNodeProbe queues a bin-presence probe on a node (spec §4.3
// "Probes"): deduped against an identical (nodeId, agentId, bins) probe
// already in flight, and gated to nodes that declared the shell.exec
// capability at connect — a node without it has no way to answer.
func handleNodeProbe(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p probeRequestParams
	if err := json.Unmarshal(params, &p); err != nil || p.NodeID == "" || len(p.Bins) == 0 {
		return nil, ErrInvalidRequest
	}

	s.mu.Lock()
	info, ok := s.nodes[p.NodeID]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeDownstreamOffline, "node not connected: "+p.NodeID)
	}
	if !info.HasCapability("shell.exec") {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeForbidden, "node does not declare shell.exec capability")
	}

	key := probeKey(p.NodeID, p.AgentID, p.Bins)
	now := time.Now()
	if existing, inFlight := s.probes[key]; inFlight && existing.ExpiresAt.After(now) {
		s.mu.Unlock()
		return map[string]interface{}{"ok": true, "probeKey": key, "deduped": true}, nil
	}
	s.probes[key] = &ProbeState{
		NodeID:    p.NodeID,
		AgentID:   p.AgentID,
		Bins:      p.Bins,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(probeGCAfter()),
	}
	nodeConn := s.connections[info.ConnID]
	s.mu.Unlock()

	s.writeEvt(nodeConn, "node.probe", map[string]interface{}{"probeKey": key, "bins": p.Bins})
	s.scheduleProbeRetry(key)

	return map[string]interface{}{"ok": true, "probeKey": key}, nil
}

// scheduleProbeRetry resends an unanswered probe once, if the node is
// still connected and the probe hasn't already been answered or expired;
// it never schedules a third attempt.
func (s *Gateway) scheduleProbeRetry(key string) {
	timer := time.AfterFunc(probeRetryAfter, func() {
		s.mu.Lock()
		state, ok := s.probes[key]
		if !ok || state.Attempts >= maxProbeAttempts {
			s.mu.Unlock()
			return
		}
		info, connected := s.nodes[state.NodeID]
		if !connected {
			s.mu.Unlock()
			return
		}
		state.Attempts++
		state.UpdatedAt = time.Now()
		bins := state.Bins
		nodeConn := s.connections[info.ConnID]
		s.mu.Unlock()

		s.writeEvt(nodeConn, "node.probe", map[string]interface{}{"probeKey": key, "bins": bins})
	})

	go func() {
		<-s.ctx.Done()
		timer.Stop()
	}()
}

// GCExpiredProbes drops probe entries past their GC horizon (spec §4.3:
// "GC'd after 10 minutes" by default). Called from the same periodic
// maintenance sweep that reaps expired async-exec sessions.
func (s *Gateway) GCExpiredProbes() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, state := range s.probes {
		if state.ExpiresAt.Before(now) {
			delete(s.probes, key)
		}
	}
}

type nodeProbeResultParams struct {
	ProbeKey string          `json:"probeKey"`
	Results  map[string]bool `json:"results"`
}

// handleNodeProbeResult merges a node's bin-presence results into its
// runtime info's hostBinStatus (spec §4.3) and clears the matching
// in-flight probe entry so a later identical request isn't deduped
// against a stale answer.
func handleNodeProbeResult(s *Gateway, conn *Connection, params json.RawMessage) (interface{}, error) {
	var p nodeProbeResultParams
	if err := json.Unmarshal(params, &p); err != nil || p.ProbeKey == "" {
		return nil, ErrInvalidRequest
	}

	s.mu.Lock()
	info, ok := s.nodes[conn.NodeID]
	if !ok {
		s.mu.Unlock()
		return nil, NewGatewayError(CodeDownstreamOffline, "node not connected")
	}
	if info.HostBinStatus == nil {
		info.HostBinStatus = make(map[string]bool, len(p.Results))
	}
	for bin, present := range p.Results {
		info.HostBinStatus[bin] = present
	}
	info.HostBinStatusUpdatedAt = time.Now()
	delete(s.probes, p.ProbeKey)

	var persistNode *NodeCatalogEntry
	if entry, ok := s.nodeCatalog[conn.NodeID]; ok {
		entry.HostBinStatus = info.HostBinStatus
		entry.HostBinStatusUpdatedAt = info.HostBinStatusUpdatedAt
		entryCopy := *entry
		persistNode = &entryCopy
	}
	s.mu.Unlock()

	if persistNode != nil {
		s.persistNodeCatalogEntry(conn.NodeID, persistNode)
	}

	return map[string]interface{}{"ok": true}, nil
}
