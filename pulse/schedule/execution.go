package schedule

// Execution is one row of cron_executions: a single dispatch attempt for a
// Job, surfaced over the cron.runs RPC for run-history inspection.
type Execution struct {
	ID    string `json:"id"`
	JobID string `json:"jobId"`

	Status string `json:"status"` // "running", "completed", "failed"

	StartedAt   string  `json:"startedAt"`             // RFC3339 timestamp
	CompletedAt *string `json:"completedAt,omitempty"` // RFC3339 timestamp (null if running)
	DurationMs  *int    `json:"durationMs,omitempty"`  // null if running

	ResultSummary *string `json:"resultSummary,omitempty"`
	ErrorMessage  *string `json:"errorMessage,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)
