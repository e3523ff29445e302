package am

import "strings"

// CanonicalizeSessionKey implements the session-key canonicalization rule
// (spec §4.11) so every entry point that accepts a raw session identifier
// — channel inbound, client RPC, cron dispatch, heartbeat delivery —
// produces the same stable string for the same logical session:
//
//   - if input equals the configured main DM key, return it unchanged
//   - if input already carries an "agent:" prefix, normalize just the
//     agentId segment and return it as-is
//   - otherwise prefix it as agent:{defaultAgentId}:{input}
//
// Idempotent by construction: re-canonicalizing an already-canonical key
// returns the same string (property P4).
func CanonicalizeSessionKey(input string) string {
	if mainKey := GetString("agent.main_key"); mainKey != "" && input == mainKey {
		return input
	}
	if strings.HasPrefix(input, "agent:") {
		return normalizeAgentPrefix(input)
	}
	return "agent:" + GetString("agent.default_agent_id") + ":" + input
}

// normalizeAgentPrefix lower-cases only the agentId segment of an
// "agent:{agentId}:{rest}" key; the remainder may carry case-sensitive
// channel/peer identifiers and is left untouched.
func normalizeAgentPrefix(key string) string {
	rest := strings.TrimPrefix(key, "agent:")
	idx := strings.Index(rest, ":")
	if idx < 0 {
		return "agent:" + strings.ToLower(rest)
	}
	return "agent:" + strings.ToLower(rest[:idx]) + rest[idx:]
}
