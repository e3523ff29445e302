package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/meshgate/gateway/errors"
)

const (
	// MaxDueJobsBatch limits a single ListDue call so a tick can't overwhelm
	// the dispatch path with an unbounded batch.
	MaxDueJobsBatch = 100

	// MaxListAllJobs bounds ListAll so a misbehaving owner can't force an
	// unbounded result set into memory.
	MaxListAllJobs = 1000
)

// Store persists cron_jobs: the scheduled unit CRUD backing the cron.*
// RPC surface and the ticker's due-job polling.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new cron job.
func (s *Store) CreateJob(job *Job) error {
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now

	_, err := s.db.Exec(`
		INSERT INTO cron_jobs (
			id, owner_key, schedule_kind, schedule_expr, timezone,
			spec_kind, spec_payload, next_due_ms, last_fired_ms, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.OwnerKey, string(job.ScheduleKind), job.ScheduleExpr, job.Timezone,
		string(job.SpecKind), job.SpecPayload, job.NextDueMS, nullableInt64(job.LastRunAtMS), job.Enabled,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create cron job %s", job.ID)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(jobID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_key, schedule_kind, schedule_expr, timezone,
		       spec_kind, spec_payload, next_due_ms, last_fired_ms, enabled,
		       created_at, updated_at
		FROM cron_jobs WHERE id = ?
	`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.Newf("cron job not found: %s", jobID)
		}
		return nil, errors.Wrapf(err, "failed to get cron job %s", jobID)
	}
	return job, nil
}

// ListByOwner returns an owner's jobs, most recently created first.
func (s *Store) ListByOwner(ownerKey string) ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_key, schedule_kind, schedule_expr, timezone,
		       spec_kind, spec_payload, next_due_ms, last_fired_ms, enabled,
		       created_at, updated_at
		FROM cron_jobs WHERE owner_key = ? ORDER BY created_at DESC
	`, ownerKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cron jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListAll returns every job up to MaxListAllJobs, for admin/CLI inspection.
func (s *Store) ListAll() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_key, schedule_kind, schedule_expr, timezone,
		       spec_kind, spec_payload, next_due_ms, last_fired_ms, enabled,
		       created_at, updated_at
		FROM cron_jobs ORDER BY created_at DESC LIMIT ?
	`, MaxListAllJobs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cron jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListDueContext returns enabled jobs whose next_due_ms has passed, capped
// at MaxDueJobsBatch, for the ticker's once-a-second poll.
func (s *Store) ListDueContext(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_key, schedule_kind, schedule_expr, timezone,
		       spec_kind, spec_payload, next_due_ms, last_fired_ms, enabled,
		       created_at, updated_at
		FROM cron_jobs
		WHERE enabled = 1 AND next_due_ms <= ? AND next_due_ms > 0
		ORDER BY next_due_ms ASC
		LIMIT ?
	`, now.UnixMilli(), MaxDueJobsBatch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due cron jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateEnabled patches a job's enabled flag (cron.update's "enabled" patch).
func (s *Store) UpdateEnabled(jobID string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE cron_jobs SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now(), jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to update cron job %s", jobID)
	}
	return requireRowsAffected(res, jobID)
}

// UpdateAfterRun records a completed dispatch: advances next_due_ms to the
// caller-computed value (0 for a one-shot "at" job that won't fire again),
// and stamps last_fired_ms. It never deletes the job; the ticker calls
// DeleteJob for a delete-after-run job that has retired.
func (s *Store) UpdateAfterRun(jobID string, nextDueMS, lastFiredMS int64) error {
	res, err := s.db.Exec(`
		UPDATE cron_jobs SET next_due_ms = ?, last_fired_ms = ?, updated_at = ?
		WHERE id = ?
	`, nextDueMS, lastFiredMS, time.Now(), jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to update cron job %s after run", jobID)
	}
	return requireRowsAffected(res, jobID)
}

// DeleteJob removes a job outright (cron.remove, and delete-after-run
// cleanup once a one-shot job has fired).
func (s *Store) DeleteJob(jobID string) error {
	res, err := s.db.Exec(`DELETE FROM cron_jobs WHERE id = ?`, jobID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete cron job %s", jobID)
	}
	return requireRowsAffected(res, jobID)
}

func requireRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.Newf("cron job not found: %s", jobID)
	}
	return nil
}

func nullableInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scheduleKind, specKind string
	var lastFiredMS sql.NullInt64

	err := row.Scan(
		&job.ID, &job.OwnerKey, &scheduleKind, &job.ScheduleExpr, &job.Timezone,
		&specKind, &job.SpecPayload, &job.NextDueMS, &lastFiredMS, &job.Enabled,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.ScheduleKind = ScheduleKind(scheduleKind)
	job.SpecKind = SpecKind(specKind)
	if lastFiredMS.Valid {
		job.LastRunAtMS = lastFiredMS.Int64
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cron job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating cron jobs")
	}
	return jobs, nil
}

// HeartbeatStore persists heartbeat_state: one row per owner's liveness
// cadence, independent of the cron_jobs table.
type HeartbeatStore struct {
	db *sql.DB
}

func NewHeartbeatStore(db *sql.DB) *HeartbeatStore {
	return &HeartbeatStore{db: db}
}

// Upsert creates or replaces an owner's heartbeat cadence (heartbeat.start).
func (s *HeartbeatStore) Upsert(ownerKey string, intervalMS, nextDueMS int64) error {
	_, err := s.db.Exec(`
		INSERT INTO heartbeat_state (owner_key, interval_ms, next_due_ms, last_beat_ms, missed_beats, updated_at)
		VALUES (?, ?, ?, NULL, 0, ?)
		ON CONFLICT(owner_key) DO UPDATE SET
			interval_ms = excluded.interval_ms,
			next_due_ms = excluded.next_due_ms,
			updated_at = excluded.updated_at
	`, ownerKey, intervalMS, nextDueMS, time.Now())
	if err != nil {
		return errors.Wrapf(err, "failed to upsert heartbeat for %s", ownerKey)
	}
	return nil
}

// Get retrieves an owner's heartbeat state, or nil if none is registered.
func (s *HeartbeatStore) Get(ownerKey string) (*heartbeatRow, error) {
	row := s.db.QueryRow(`
		SELECT owner_key, interval_ms, next_due_ms, last_beat_ms, missed_beats
		FROM heartbeat_state WHERE owner_key = ?
	`, ownerKey)

	var hb heartbeatRow
	var lastBeat sql.NullInt64
	if err := row.Scan(&hb.OwnerKey, &hb.IntervalMS, &hb.NextDueMS, &lastBeat, &hb.MissedBeats); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get heartbeat for %s", ownerKey)
	}
	if lastBeat.Valid {
		hb.LastBeatMS = lastBeat.Int64
	}
	return &hb, nil
}

// Beat records a liveness beat now, advancing next_due_ms by the owner's
// registered interval (heartbeat.trigger).
func (s *HeartbeatStore) Beat(ownerKey string, now time.Time) error {
	nowMS := now.UnixMilli()
	res, err := s.db.Exec(`
		UPDATE heartbeat_state
		SET last_beat_ms = ?, next_due_ms = ? + interval_ms, updated_at = ?
		WHERE owner_key = ?
	`, nowMS, nowMS, now, ownerKey)
	if err != nil {
		return errors.Wrapf(err, "failed to record heartbeat for %s", ownerKey)
	}
	return requireRowsAffected(res, ownerKey)
}

// heartbeatRow mirrors server.HeartbeatState without importing the server
// package; handlers_rpc.go converts between the two at the RPC boundary.
type heartbeatRow struct {
	OwnerKey    string
	IntervalMS  int64
	NextDueMS   int64
	LastBeatMS  int64
	MissedBeats int
}
