package server

import (
	"encoding/json"
	"time"

	"github.com/meshgate/gateway/am"
)

// ChatEvent is one outbound turn update the session bridge delivers back
// through the gateway for a sessionKey (spec §4.5 Outbound): a partial
// delta, the final response, or an error. ChannelContext is carried
// through from the inbound turn (or chat.send's optional param) so a
// final/error state can also be forwarded to the originating channel
// adapter, not just broadcast to connected client sockets.
type ChatEvent struct {
	State          string          `json:"state"` // partial | final | error
	RunID          string          `json:"runId,omitempty"`
	Text           string          `json:"text,omitempty"`
	Error          string          `json:"error,omitempty"`
	ChannelContext *ChannelContext `json:"channelContext,omitempty"`
}

// BroadcastToSession is the session bridge's callback for delivering a
// chat turn update (spec §4.5 Outbound). The bridge runs in-process and
// holds a reference to the Gateway it was constructed with, the same way
// the ticker holds one to call Dispatch.
func (s *Gateway) BroadcastToSession(sessionKey string, evt ChatEvent) {
	s.broadcastToSession(sessionKey, evt)
}

// broadcastToSession fans a chat event out to every client socket (every
// connected client sees every session today; there's no per-client
// session subscription to filter against) and, for a channel-originated
// turn's final/error state, also forwards delivery to the owning channel
// adapter. Partial deltas are WS-only: a channel adapter gets exactly one
// message per turn, not a stream of partials.
func (s *Gateway) broadcastToSession(sessionKey string, evt ChatEvent) {
	data, err := json.Marshal(EvtFrame{
		Type:  FrameEvt,
		Event: "chat.event",
		Payload: map[string]interface{}{
			"sessionKey": sessionKey,
			"state":      evt.State,
			"runId":      evt.RunID,
			"text":       evt.Text,
			"error":      evt.Error,
		},
	})
	if err == nil {
		s.mu.RLock()
		targets := make([]*Connection, 0, len(s.connections))
		for _, c := range s.connections {
			if c.Mode == ModeClient {
				targets = append(targets, c)
			}
		}
		s.mu.RUnlock()
		for _, c := range targets {
			s.SendFrame(c, data)
		}
	}

	if evt.ChannelContext == nil || evt.State == "partial" {
		return
	}
	s.deliverToChannel(evt.ChannelContext, evt)
}

// deliverToChannel forwards a chat event to the channel adapter that owns
// evt.ChannelContext's channel kind as a channel.outbound event on the
// adapter's WS connection. When no adapter for that kind is connected the
// event is dropped silently.
func (s *Gateway) deliverToChannel(cc *ChannelContext, evt ChatEvent) {
	target, ok := s.channelAdapterConn(cc.Channel)
	if !ok {
		return
	}
	s.writeEvt(target, "channel.outbound", map[string]interface{}{
		"accountId": cc.AccountID,
		"peerKind":  cc.PeerKind,
		"peerId":    cc.PeerID,
		"inReplyTo": cc.InboundMessageID,
		"state":     evt.State,
		"text":      evt.Text,
		"error":     evt.Error,
	})
}

// heartbeatDedupWindow is the span within which an unchanged heartbeat
// body is suppressed rather than redelivered (spec property P9).
const heartbeatDedupWindow = 24 * time.Hour

// DeliverHeartbeat broadcasts a heartbeat's text to sessionKey's clients,
// unless an identical body was already delivered within the dedup
// window, so a steady no-op heartbeat doesn't spam every connected
// client once a minute forever.
func (s *Gateway) DeliverHeartbeat(sessionKey, text string) {
	sessionKey = am.CanonicalizeSessionKey(sessionKey)
	now := time.Now()

	s.mu.Lock()
	if s.heartbeatDedup == nil {
		s.heartbeatDedup = make(map[string]*heartbeatDedupEntry)
	}
	if prior, ok := s.heartbeatDedup[sessionKey]; ok && prior.text == text && now.Sub(prior.at) < heartbeatDedupWindow {
		s.mu.Unlock()
		return
	}
	s.heartbeatDedup[sessionKey] = &heartbeatDedupEntry{text: text, at: now}
	s.mu.Unlock()

	s.broadcastToSession(sessionKey, ChatEvent{State: "final", Text: text})
}

// heartbeatDedupEntry is the last heartbeat body delivered for a session,
// used by DeliverHeartbeat's text-dedup check.
type heartbeatDedupEntry struct {
	text string
	at   time.Time
}
