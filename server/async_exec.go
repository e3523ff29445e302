package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshgate/gateway/errors"
)

// Async-exec completion pipeline tunables (spec §5).
const (
	asyncExecSessionTTL  = 24 * time.Hour
	asyncExecDeliveryTTL = 24 * time.Hour
	asyncExecMaxBackoff  = 60 * time.Second
	asyncExecRetryBatch  = 100
)

// asyncExecStoreHandle returns the pipeline's SQLite-backed persistence, or nil
// for a db-less gateway (tests constructing a bare &Gateway{}).
func (s *Gateway) asyncExecStoreHandle() *asyncExecStore {
	if s.db == nil {
		return nil
	}
	return newAsyncExecStore(s.db)
}

// registerPendingAsyncExecSession is called from handleToolResult's step 8
// (spec §4.5): when a session's tool result reports {status:"running",
// sessionId}, the actual completion will arrive later via node.exec.event.
func (s *Gateway) registerPendingAsyncExecSession(nodeID, sessionID, sessionKey, callID string) {
	store := s.asyncExecStoreHandle()
	if store == nil || sessionID == "" {
		return
	}
	now := time.Now()
	if err := store.UpsertPendingSession(&PendingAsyncExecSession{
		NodeID: nodeID, SessionID: sessionID, SessionKey: sessionKey, CallID: callID,
		CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(asyncExecSessionTTL),
	}); err != nil {
		s.logger.Warnw("failed to register pending async-exec session", "node_id", nodeID, "session_id", sessionID, "error", err)
	}
}

// computeExecEventID returns params.eventId if present, else a stable
// hash of the fields spec §4.7 names, so a node that never generates its
// own eventIds still gets exactly-once dedup.
func computeExecEventID(p nodeExecEventParams, nodeID string) string {
	if p.EventID != "" {
		return p.EventID
	}
	exitCode := -1
	if p.ExitCode != nil {
		exitCode = *p.ExitCode
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%s",
		nodeID, p.SessionID, p.Event, p.CallID, p.StartedAt, p.EndedAt, exitCode, p.Signal)))
	return hex.EncodeToString(h[:])
}

// isTerminalExecEvent reports whether event marks the end of a
// long-running exec session (spec §4.7 step 2).
func isTerminalExecEvent(event string) bool {
	switch event {
	case "finished", "failed", "timed_out":
		return true
	default:
		return false
	}
}

// handleNodeExecEventPipeline implements the async-exec completion
// pipeline end to end: dedup on eventId, look up the owning pending
// session, and attempt immediate delivery before falling back to the
// retry queue.
func (s *Gateway) handleNodeExecEventPipeline(nodeID string, p nodeExecEventParams) error {
	store := s.asyncExecStoreHandle()
	if store == nil {
		return nil // db-less gateway: nothing durable to dedup against
	}

	eventID := computeExecEventID(p, nodeID)

	if !isTerminalExecEvent(p.Event) {
		now := time.Now()
		if err := store.TouchPendingSession(nodeID, p.SessionID, now, now.Add(asyncExecSessionTTL)); err != nil {
			s.logger.Warnw("failed to touch pending async-exec session", "error", err)
		}
		return nil
	}

	delivered, err := store.IsDelivered(eventID)
	if err != nil {
		return errors.Wrap(err, "failed to check async-exec delivered-events dedup set")
	}
	if delivered {
		return nil // duplicate terminal event, already delivered once
	}

	session, err := store.GetPendingSession(nodeID, p.SessionID)
	if err != nil {
		return errors.Wrap(err, "failed to look up pending async-exec session")
	}
	if session == nil {
		// No pending session (gateway restart lost it, or it already expired);
		// still dedup the eventId so a flood of duplicates doesn't loop here.
		now := time.Now()
		return store.MarkDelivered(eventID, now, asyncExecDeliveryTTL)
	}

	now := time.Now()
	delivery := &PendingAsyncExecDelivery{
		EventID: eventID, NodeID: nodeID, SessionID: p.SessionID, SessionKey: session.SessionKey,
		CallID: session.CallID, Event: p.Event, ExitCode: p.ExitCode, Signal: p.Signal, OutputTail: p.Output,
		Attempts: 0, NextAttemptAt: now, ExpiresAt: now.Add(asyncExecDeliveryTTL),
		CreatedAt: now, UpdatedAt: now,
	}
	if t, perr := time.Parse(time.RFC3339, p.StartedAt); perr == nil {
		delivery.StartedAt = &t
	}
	if t, perr := time.Parse(time.RFC3339, p.EndedAt); perr == nil {
		delivery.EndedAt = &t
	}
	if err := store.CreateDelivery(delivery); err != nil {
		return errors.Wrap(err, "failed to create pending async-exec delivery")
	}

	s.attemptDelivery(store, delivery)
	return nil
}

// attemptDelivery tries to deliver one envelope now; on success it marks
// the eventId delivered and removes both the envelope and the pending
// session, consuming it exactly once. On failure it schedules the next
// retry with exponential backoff.
func (s *Gateway) attemptDelivery(store *asyncExecStore, d *PendingAsyncExecDelivery) {
	if s.sessionBridge == nil {
		s.scheduleRetry(store, d, errors.New("no session bridge attached"))
		return
	}

	err := s.sessionBridge.IngestAsyncExecCompletion(d.SessionKey, &AsyncExecCompletion{
		EventID: d.EventID, CallID: d.CallID, NodeID: d.NodeID, SessionID: d.SessionID,
		Event: d.Event, ExitCode: d.ExitCode, Signal: d.Signal, OutputTail: d.OutputTail,
		StartedAt: d.StartedAt, EndedAt: d.EndedAt,
	})
	if err != nil {
		s.scheduleRetry(store, d, err)
		return
	}

	now := time.Now()
	if err := store.MarkDelivered(d.EventID, now, asyncExecDeliveryTTL); err != nil {
		s.logger.Warnw("failed to mark async-exec event delivered", "event_id", d.EventID, "error", err)
	}
	if err := store.DeleteDelivery(d.EventID); err != nil {
		s.logger.Warnw("failed to delete delivered async-exec envelope", "event_id", d.EventID, "error", err)
	}
	if err := store.DeletePendingSession(d.NodeID, d.SessionID); err != nil {
		s.logger.Warnw("failed to delete consumed pending async-exec session", "error", err)
	}
}

// scheduleRetry bumps attempts and sets nextAttemptAt per spec §5's
// 1s·2^(n-1) backoff capped at 60s.
func (s *Gateway) scheduleRetry(store *asyncExecStore, d *PendingAsyncExecDelivery, deliveryErr error) {
	attempts := d.Attempts + 1
	backoff := time.Duration(1<<uint(attempts-1)) * time.Second
	if backoff > asyncExecMaxBackoff {
		backoff = asyncExecMaxBackoff
	}
	now := time.Now()
	if err := store.UpdateDeliveryAttempt(d.EventID, attempts, now.Add(backoff), deliveryErr.Error(), now); err != nil {
		s.logger.Warnw("failed to schedule async-exec delivery retry", "event_id", d.EventID, "error", err)
	}
	s.logger.Warnw("async-exec completion delivery failed, will retry",
		"event_id", d.EventID, "attempts", attempts, "backoff", backoff, "error", deliveryErr)
}

// runAsyncExecRetryLoop polls due delivery envelopes once a second,
// retries each, and periodically garbage-collects expired rows. Started
// by startBackgroundServices alongside the cron ticker and async-exec
// daemon; stopped via ctx cancellation in Stop().
func (s *Gateway) runAsyncExecRetryLoop() {
	store := s.asyncExecStoreHandle()
	if store == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		gcTicker := time.NewTicker(5 * time.Minute)
		defer gcTicker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.retryDueDeliveries(store)
			case <-gcTicker.C:
				if n, err := store.CleanupExpired(time.Now()); err != nil {
					s.logger.Warnw("async-exec pipeline cleanup failed", "error", err)
				} else if n > 0 {
					s.logger.Infow("async-exec pipeline cleanup removed expired rows", "count", n)
				}
				s.GCExpiredProbes()
			}
		}
	}()
}

func (s *Gateway) retryDueDeliveries(store *asyncExecStore) {
	due, err := store.ListDueDeliveries(time.Now(), asyncExecRetryBatch)
	if err != nil {
		s.logger.Warnw("failed to list due async-exec deliveries", "error", err)
		return
	}
	for _, d := range due {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		s.attemptDelivery(store, d)
	}
}

// parseToolResultRunning inspects a tool.result payload for the
// {status:"running", sessionId} shape spec §4.5 step 8 describes, used
// to decide whether to register a pending async-exec session.
func parseToolResultRunning(result json.RawMessage) (sessionID string, ok bool) {
	if len(result) == 0 {
		return "", false
	}
	var shape struct {
		Status    string `json:"status"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &shape); err != nil {
		return "", false
	}
	if shape.Status != "running" || shape.SessionID == "" {
		return "", false
	}
	return shape.SessionID, true
}
