package async

import (
	"time"

	"go.uber.org/zap"
)

// JobProgressEmitter reports a background job's progress as it runs:
// stage transitions, unit-of-work completion, errors, and (for jobs
// that stream an LLM response) token-by-token output.
type JobProgressEmitter struct {
	job               *Job
	queue             *Queue
	streamBroadcaster interface{}        // Optional: WebSocket broadcaster for LLM streaming (nil for CLI jobs)
	log               *zap.SugaredLogger // Context-aware logger with job_id pre-configured
}

// NewJobProgressEmitter creates a new progress emitter for an async job.
// The provided logger should be the WorkerPool's logger for proper WebSocket broadcasting.
func NewJobProgressEmitter(job *Job, queue *Queue, streamBroadcaster interface{}, baseLogger *zap.SugaredLogger) *JobProgressEmitter {
	contextLogger := baseLogger.With("job_id", job.ID)

	return &JobProgressEmitter{
		job:               job,
		queue:             queue,
		streamBroadcaster: streamBroadcaster,
		log:               contextLogger,
	}
}

// EmitStage updates progress on stage transition.
// Note: Checkpointing is now handled by handlers via payload updates.
func (e *JobProgressEmitter) EmitStage(stage, message string) {
	if err := e.queue.UpdateJob(e.job); err != nil {
		e.log.Warnw("Failed to update job for stage",
			"stage", stage,
			"error", err,
		)
	}
}

// EmitProgress advances job progress by count completed units of work
// (rows ingested, files processed, chunks transcoded — whatever the
// handler's domain counts), attaching arbitrary domain-specific metadata
// for callers that want it in logs or a broadcast payload.
func (e *JobProgressEmitter) EmitProgress(count int, metadata map[string]interface{}) {
	e.job.UpdateProgress(e.job.Progress.Current + count)

	if err := e.queue.UpdateJob(e.job); err != nil {
		e.log.Warnw("Failed to update job progress",
			"count", count,
			"metadata", metadata,
			"error", err,
		)
	}
}

// EmitComplete handles job completion (handled by worker).
func (e *JobProgressEmitter) EmitComplete(summary map[string]interface{}) {
	// Job completion handled by worker
}

// EmitError logs errors, updates job state, and broadcasts to WebSocket clients.
func (e *JobProgressEmitter) EmitError(stage string, err error) {
	ctx := ClassifyError(stage, err)

	e.log.Errorw("Job error",
		"stage", stage,
		"error_code", ctx.Code,
		"error", err,
		"retryable", ctx.Retryable,
		"recoverable", ctx.Recoverable,
	)

	e.job.Error = ctx.Message
	if err := e.queue.UpdateJob(e.job); err != nil {
		e.log.Warnw("Failed to update job error state",
			"error", err,
		)
	}

	if e.streamBroadcaster == nil {
		return // No broadcaster - CLI job or standalone execution
	}

	// Define the event structure inline to match the server package's
	// own job-progress broadcast event shape.
	type jobProgressEvent struct {
		Type      string                 `json:"type"`
		Timestamp time.Time              `json:"timestamp"`
		Data      map[string]interface{} `json:"data"`
	}

	type serverBroadcaster interface {
		broadcastJobProgress(event jobProgressEvent)
	}

	if srv, ok := e.streamBroadcaster.(serverBroadcaster); ok {
		event := jobProgressEvent{
			Type:      "error",
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"job_id":      e.job.ID,
				"stage":       ctx.Stage,
				"code":        string(ctx.Code),
				"error":       ctx.Message,
				"retryable":   ctx.Retryable,
				"recoverable": ctx.Recoverable,
			},
		}
		srv.broadcastJobProgress(event)
	}
}

// EmitInfo logs informational messages.
func (e *JobProgressEmitter) EmitInfo(message string) {
	e.log.Info(message)
}

// BroadcastLLMStream forwards LLM streaming events to WebSocket clients (if broadcaster is set).
func (e *JobProgressEmitter) BroadcastLLMStream(jobID, taskID, content string, done bool, err error, model, stage string) {
	if e.streamBroadcaster == nil {
		return // No broadcaster - CLI job or standalone execution
	}

	type llmStreamBroadcaster interface {
		BroadcastLLMStream(jobID, taskID, content string, done bool, err error, model, stage string)
	}

	if broadcaster, ok := e.streamBroadcaster.(llmStreamBroadcaster); ok {
		if jobID == "" && e.job != nil {
			jobID = e.job.ID
		}
		broadcaster.BroadcastLLMStream(jobID, taskID, content, done, err, model, stage)
	}
}
