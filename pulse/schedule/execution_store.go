package schedule

import (
	"database/sql"
	"fmt"
)

// ExecutionStore persists cron_executions: the run history backing the
// cron.runs RPC.
type ExecutionStore struct {
	db *sql.DB
}

func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) CreateExecution(exec *Execution) error {
	query := `
		INSERT INTO cron_executions (
			id, job_id, status,
			started_at, completed_at, duration_ms,
			result_summary, error_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var completedAt, resultSummary, errorMessage interface{}
	var durationMs interface{}

	if exec.CompletedAt != nil {
		completedAt = *exec.CompletedAt
	}
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}
	if exec.ResultSummary != nil {
		resultSummary = *exec.ResultSummary
	}
	if exec.ErrorMessage != nil {
		errorMessage = *exec.ErrorMessage
	}

	_, err := s.db.Exec(query,
		exec.ID,
		exec.JobID,
		exec.Status,
		exec.StartedAt,
		completedAt,
		durationMs,
		resultSummary,
		errorMessage,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) UpdateExecution(exec *Execution) error {
	query := `
		UPDATE cron_executions
		SET status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    result_summary = ?,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ?
	`

	var completedAt, resultSummary, errorMessage interface{}
	var durationMs interface{}

	if exec.CompletedAt != nil {
		completedAt = *exec.CompletedAt
	}
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}
	if exec.ResultSummary != nil {
		resultSummary = *exec.ResultSummary
	}
	if exec.ErrorMessage != nil {
		errorMessage = *exec.ErrorMessage
	}

	result, err := s.db.Exec(query,
		exec.Status,
		completedAt,
		durationMs,
		resultSummary,
		errorMessage,
		exec.UpdatedAt,
		exec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("execution not found: %s", exec.ID)
	}
	return nil
}

func (s *ExecutionStore) GetExecution(id string) (*Execution, error) {
	query := `
		SELECT id, job_id, status,
		       started_at, completed_at, duration_ms,
		       result_summary, error_message,
		       created_at, updated_at
		FROM cron_executions
		WHERE id = ?
	`

	var exec Execution
	var completedAt, resultSummary, errorMessage sql.NullString
	var durationMs sql.NullInt64

	err := s.db.QueryRow(query, id).Scan(
		&exec.ID,
		&exec.JobID,
		&exec.Status,
		&exec.StartedAt,
		&completedAt,
		&durationMs,
		&resultSummary,
		&errorMessage,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("execution not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if completedAt.Valid {
		exec.CompletedAt = &completedAt.String
	}
	if durationMs.Valid {
		duration := int(durationMs.Int64)
		exec.DurationMs = &duration
	}
	if resultSummary.Valid {
		exec.ResultSummary = &resultSummary.String
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}

	return &exec, nil
}

// ListExecutions returns a job's execution history, newest first, optionally
// filtered by status.
func (s *ExecutionStore) ListExecutions(jobID string, limit, offset int, statusFilter string) ([]*Execution, int, error) {
	baseQuery := `
		FROM cron_executions
		WHERE job_id = ?
	`
	args := []interface{}{jobID}

	if statusFilter != "" {
		baseQuery += " AND status = ?"
		args = append(args, statusFilter)
	}

	countQuery := "SELECT COUNT(*)" + baseQuery
	var total int
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	query := `
		SELECT id, job_id, status,
		       started_at, completed_at, duration_ms,
		       result_summary, error_message,
		       created_at, updated_at
	` + baseQuery + `
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		var exec Execution
		var completedAt, resultSummary, errorMessage sql.NullString
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&exec.ID,
			&exec.JobID,
			&exec.Status,
			&exec.StartedAt,
			&completedAt,
			&durationMs,
			&resultSummary,
			&errorMessage,
			&exec.CreatedAt,
			&exec.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan execution: %w", err)
		}

		if completedAt.Valid {
			exec.CompletedAt = &completedAt.String
		}
		if durationMs.Valid {
			duration := int(durationMs.Int64)
			exec.DurationMs = &duration
		}
		if resultSummary.Valid {
			exec.ResultSummary = &resultSummary.String
		}
		if errorMessage.Valid {
			exec.ErrorMessage = &errorMessage.String
		}

		executions = append(executions, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, total, nil
}

// CleanupOldExecutions deletes execution records older than the given
// retention window. Recommended retention: 90 days.
func (s *ExecutionStore) CleanupOldExecutions(retentionDays int) (int, error) {
	query := `
		DELETE FROM cron_executions
		WHERE datetime(started_at) < datetime('now', '-' || ? || ' days')
	`
	result, err := s.db.Exec(query, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old executions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}
