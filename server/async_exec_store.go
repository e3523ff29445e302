package server

import (
	"database/sql"
	"time"

	"github.com/meshgate/gateway/errors"
)

// asyncExecStore is the SQLite-backed persistence for the async-exec
// completion pipeline (spec §4.7): pending sessions, pending delivery
// envelopes, and the delivered-eventId dedup set, grounded on
// pulse/schedule/store.go's direct database/sql query style (no ORM).
type asyncExecStore struct {
	db *sql.DB
}

func newAsyncExecStore(db *sql.DB) *asyncExecStore {
	return &asyncExecStore{db: db}
}

// UpsertPendingSession registers (or refreshes) the pending async-exec
// session a {status:"running", sessionId} tool result created.
func (s *asyncExecStore) UpsertPendingSession(p *PendingAsyncExecSession) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_async_exec_sessions (node_id, session_id, session_key, call_id, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id, session_id) DO UPDATE SET
			session_key = excluded.session_key,
			call_id     = excluded.call_id,
			updated_at  = excluded.updated_at,
			expires_at  = excluded.expires_at
	`, p.NodeID, p.SessionID, p.SessionKey, p.CallID, p.CreatedAt, p.UpdatedAt, p.ExpiresAt)
	if err != nil {
		return errors.Wrap(err, "failed to upsert pending async-exec session")
	}
	return nil
}

// TouchPendingSession bumps updated_at/expires_at on each non-terminal
// event the node emits for a still-running session.
func (s *asyncExecStore) TouchPendingSession(nodeID, sessionID string, now time.Time, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE pending_async_exec_sessions SET updated_at = ?, expires_at = ?
		WHERE node_id = ? AND session_id = ?
	`, now, expiresAt, nodeID, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to touch pending async-exec session")
	}
	return nil
}

// GetPendingSession returns nil, nil if no session is registered for the
// given (nodeId, sessionId) pair.
func (s *asyncExecStore) GetPendingSession(nodeID, sessionID string) (*PendingAsyncExecSession, error) {
	row := s.db.QueryRow(`
		SELECT node_id, session_id, session_key, call_id, created_at, updated_at, expires_at
		FROM pending_async_exec_sessions WHERE node_id = ? AND session_id = ?
	`, nodeID, sessionID)

	p := &PendingAsyncExecSession{}
	err := row.Scan(&p.NodeID, &p.SessionID, &p.SessionKey, &p.CallID, &p.CreatedAt, &p.UpdatedAt, &p.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pending async-exec session")
	}
	return p, nil
}

func (s *asyncExecStore) DeletePendingSession(nodeID, sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM pending_async_exec_sessions WHERE node_id = ? AND session_id = ?`, nodeID, sessionID)
	if err != nil {
		return errors.Wrap(err, "failed to delete pending async-exec session")
	}
	return nil
}

// IsDelivered reports whether eventId is already in the delivered-events
// dedup set, meaning a duplicate node.exec.event should be ack-dropped.
func (s *asyncExecStore) IsDelivered(eventID string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM delivered_async_exec_events WHERE event_id = ?`, eventID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to check delivered-events dedup set")
	}
	return true, nil
}

// MarkDelivered records eventId as delivered for the given TTL, so a
// retransmitted duplicate is dropped rather than redelivered.
func (s *asyncExecStore) MarkDelivered(eventID string, now time.Time, ttl time.Duration) error {
	_, err := s.db.Exec(`
		INSERT INTO delivered_async_exec_events (event_id, delivered_at, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, eventID, now, now.Add(ttl))
	if err != nil {
		return errors.Wrap(err, "failed to mark event delivered")
	}
	return nil
}

// CreateDelivery registers a new pending-delivery envelope for a terminal
// event not yet successfully delivered to its session.
func (s *asyncExecStore) CreateDelivery(d *PendingAsyncExecDelivery) error {
	_, err := s.db.Exec(`
		INSERT INTO pending_async_exec_deliveries
			(event_id, node_id, session_id, session_key, call_id, event, exit_code, signal, output_tail,
			 started_at, ended_at, attempts, next_attempt_at, expires_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, d.EventID, d.NodeID, d.SessionID, d.SessionKey, d.CallID, d.Event, d.ExitCode, d.Signal, d.OutputTail,
		d.StartedAt, d.EndedAt, d.Attempts, d.NextAttemptAt, d.ExpiresAt, d.LastError, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create pending async-exec delivery")
	}
	return nil
}

// ListDueDeliveries returns envelopes whose next retry is due, oldest first.
func (s *asyncExecStore) ListDueDeliveries(now time.Time, limit int) ([]*PendingAsyncExecDelivery, error) {
	rows, err := s.db.Query(`
		SELECT event_id, node_id, session_id, session_key, call_id, event, exit_code, signal, output_tail,
		       started_at, ended_at, attempts, next_attempt_at, expires_at, last_error, created_at, updated_at
		FROM pending_async_exec_deliveries
		WHERE next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due async-exec deliveries")
	}
	defer rows.Close()

	var out []*PendingAsyncExecDelivery
	for rows.Next() {
		d := &PendingAsyncExecDelivery{}
		if err := rows.Scan(&d.EventID, &d.NodeID, &d.SessionID, &d.SessionKey, &d.CallID, &d.Event,
			&d.ExitCode, &d.Signal, &d.OutputTail, &d.StartedAt, &d.EndedAt, &d.Attempts,
			&d.NextAttemptAt, &d.ExpiresAt, &d.LastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan async-exec delivery row")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDeliveryAttempt bumps attempts/nextAttemptAt/lastError after a
// failed delivery attempt.
func (s *asyncExecStore) UpdateDeliveryAttempt(eventID string, attempts int, nextAttemptAt time.Time, lastError string, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE pending_async_exec_deliveries
		SET attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE event_id = ?
	`, attempts, nextAttemptAt, lastError, now, eventID)
	if err != nil {
		return errors.Wrap(err, "failed to update async-exec delivery attempt")
	}
	return nil
}

func (s *asyncExecStore) DeleteDelivery(eventID string) error {
	_, err := s.db.Exec(`DELETE FROM pending_async_exec_deliveries WHERE event_id = ?`, eventID)
	if err != nil {
		return errors.Wrap(err, "failed to delete async-exec delivery")
	}
	return nil
}

// CleanupExpired garbage-collects expired pending sessions, expired
// delivery envelopes (permanent failure per spec §7), and expired
// delivered-dedup rows, returning the total rows removed.
func (s *asyncExecStore) CleanupExpired(now time.Time) (int, error) {
	total := 0
	for _, table := range []string{"pending_async_exec_sessions", "pending_async_exec_deliveries", "delivered_async_exec_events"} {
		res, err := s.db.Exec(`DELETE FROM `+table+` WHERE expires_at <= ?`, now)
		if err != nil {
			return total, errors.Wrapf(err, "failed to clean up expired rows in %s", table)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}
