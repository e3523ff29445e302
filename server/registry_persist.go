package server

import (
	"encoding/json"
)

// kv_store namespaces for the gateway's durable registries (spec §3/§4.11
// reviewer note: tools.list/node.forget and session/channel routing state
// must survive a gateway restart, not just a single process's uptime).
const (
	kvNamespaceNodeCatalog = "nodeCatalog"
	kvNamespaceSessions    = "sessionRegistry"
	kvNamespaceChannels    = "channelRegistry"
)

// persistKV best-effort durable-writes v under (namespace, key). A failure
// is logged, not propagated: the in-memory registry update that triggered
// the write already succeeded, and this is a cache-warming concern, not a
// correctness one — losing one write only costs a stale value after the
// next restart, not a wrong one now.
func (s *Gateway) persistKV(namespace, key string, v interface{}) {
	if s.kv == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warnw("failed to marshal registry entry for persistence", "namespace", namespace, "key", key, "error", err.Error())
		return
	}
	if err := s.kv.Put(namespace, key, data); err != nil {
		s.logger.Warnw("failed to persist registry entry", "namespace", namespace, "key", key, "error", err.Error())
	}
}

func (s *Gateway) persistNodeCatalogEntry(nodeID string, entry *NodeCatalogEntry) {
	s.persistKV(kvNamespaceNodeCatalog, nodeID, entry)
}

func (s *Gateway) persistSessionEntry(sessionKey string, entry *SessionRegistryEntry) {
	s.persistKV(kvNamespaceSessions, sessionKey, entry)
}

func (s *Gateway) persistChannelEntry(channelID string, entry *ChannelRegistryEntry) {
	s.persistKV(kvNamespaceChannels, channelID, entry)
}

// forgetNodeCatalogEntry removes nodeId's durable catalog record, mirroring
// an in-memory node.forget.
func (s *Gateway) forgetNodeCatalogEntry(nodeID string) {
	if s.kv == nil {
		return
	}
	if err := s.kv.Delete(kvNamespaceNodeCatalog, nodeID); err != nil {
		s.logger.Warnw("failed to delete persisted node catalog entry", "node_id", nodeID, "error", err.Error())
	}
}

// loadPersistedRegistries rehydrates the node catalog, session, and channel
// registries from kv_store at startup. Every rehydrated node/channel entry
// is marked offline/disconnected, since no connection has re-registered
// yet — replaceNodeLocked and a fresh channel connect flip it back live.
func (s *Gateway) loadPersistedRegistries() {
	if s.kv == nil {
		return
	}

	if rows, err := s.kv.List(kvNamespaceNodeCatalog); err != nil {
		s.logger.Warnw("failed to load persisted node catalog", "error", err.Error())
	} else {
		for nodeID, data := range rows {
			var entry NodeCatalogEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				s.logger.Warnw("failed to decode persisted node catalog entry", "node_id", nodeID, "error", err.Error())
				continue
			}
			entry.Online = false
			s.nodeCatalog[nodeID] = &entry
		}
	}

	if rows, err := s.kv.List(kvNamespaceSessions); err != nil {
		s.logger.Warnw("failed to load persisted session registry", "error", err.Error())
	} else {
		for key, data := range rows {
			var entry SessionRegistryEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				s.logger.Warnw("failed to decode persisted session registry entry", "session_key", key, "error", err.Error())
				continue
			}
			s.sessions[key] = &entry
		}
	}

	if rows, err := s.kv.List(kvNamespaceChannels); err != nil {
		s.logger.Warnw("failed to load persisted channel registry", "error", err.Error())
	} else {
		for id, data := range rows {
			var entry ChannelRegistryEntry
			if err := json.Unmarshal(data, &entry); err != nil {
				s.logger.Warnw("failed to decode persisted channel registry entry", "channel_id", id, "error", err.Error())
				continue
			}
			entry.Connected = false
			s.channels[id] = &entry
		}
	}
}
