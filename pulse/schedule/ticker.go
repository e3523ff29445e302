package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/meshgate/gateway/errors"
	"github.com/meshgate/gateway/internal/util"
	"github.com/meshgate/gateway/logger"
	"github.com/meshgate/gateway/pulse/async"
	id "github.com/teranos/vanity-id"
)

// cronParser parses cron(5) expressions (minute hour dom month dow) without
// the non-standard seconds field, matching the expression grammar spec §3's
// Cron job entity documents for ScheduleCron.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ExecutionBroadcaster is the gateway's fan-out + session-dispatch
// collaborator, kept as an interface here to avoid an import cycle between
// schedule and server.
type ExecutionBroadcaster interface {
	BroadcastCronStarted(jobID, executionID string)
	BroadcastCronCompleted(jobID, executionID string, durationMs int)
	BroadcastCronFailed(jobID, executionID, errorMsg string, durationMs int)

	// Dispatch delivers a due job's payload: systemEvent mode emits into the
	// owner's live session, task mode spawns/advances an isolated
	// agent:{agentId}:cron:{jobId} session. Returns a short result summary.
	Dispatch(job *Job) (string, error)
}

// Ticker polls cron_jobs once a second for due jobs and hands each to the
// ExecutionBroadcaster for dispatch, recording an Execution row per attempt.
type Ticker struct {
	store       *Store
	workerPool  *async.WorkerPool // optional, for system metrics in the tick log
	broadcaster ExecutionBroadcaster
	interval    time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *zap.SugaredLogger
	cronLog     *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastActiveCount int
}

type TickerConfig struct {
	Interval time.Duration
}

func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: 1 * time.Second}
}

func NewTicker(store *Store, workerPool *async.WorkerPool, broadcaster ExecutionBroadcaster, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, workerPool, broadcaster, cfg, log)
}

func NewTickerWithContext(ctx context.Context, store *Store, workerPool *async.WorkerPool, broadcaster ExecutionBroadcaster, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:       store,
		workerPool:  workerPool,
		broadcaster: broadcaster,
		interval:    cfg.Interval,
		ctx:         tickerCtx,
		cancel:      cancel,
		logger:      log,
		cronLog:     logger.WithSymbol(logger.SymbolCron),
	}
}

func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.cronLog.Infow("cron ticker started", "interval", t.interval)
}

func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.cronLog.Infow("cron ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			t.logTickActivity()

			if err := t.checkDueJobs(tickTime); err != nil {
				t.cronLog.Warnw("cron tick error", "error", err, "tick", t.ticksSinceStart)
			}
		}
	}
}

// logTickActivity logs system metrics whenever worker activity changes, to
// avoid spamming a log line every second when nothing is happening.
func (t *Ticker) logTickActivity() {
	if t.workerPool == nil {
		return
	}
	metrics := t.workerPool.GetSystemMetrics()
	active := metrics.WorkersActive

	t.mu.Lock()
	changed := active != t.lastActiveCount
	t.lastActiveCount = active
	t.mu.Unlock()
	if !changed {
		return
	}

	t.cronLog.Infow(fmt.Sprintf("cron ticker - Workers: %d/%d active │ Mem: %.1f/%.1fGB (%.0f%%)",
		metrics.WorkersActive, metrics.WorkersTotal,
		metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent))
}

// checkDueJobs finds due jobs and dispatches each in turn.
func (t *Ticker) checkDueJobs(now time.Time) error {
	jobs, err := t.store.ListDueContext(t.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due cron jobs")
	}
	if len(jobs) == 0 {
		return nil
	}

	for _, job := range jobs {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.fireJob(job, now); err != nil {
			t.cronLog.Errorw("failed to fire cron job", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// fireJob dispatches one due job, records its Execution row, and advances
// (or retires) its schedule.
func (t *Ticker) fireJob(job *Job, now time.Time) error {
	startTime := time.Now()

	t.cronLog.Infow("cron job firing",
		"job_id", job.ID, "owner_key", job.OwnerKey,
		"schedule_kind", job.ScheduleKind, "spec_kind", job.SpecKind)

	execution := &Execution{
		ID:        id.GenerateExecutionID(),
		JobID:     job.ID,
		Status:    ExecutionStatusRunning,
		StartedAt: startTime.Format(time.RFC3339),
		CreatedAt: startTime.Format(time.RFC3339),
		UpdatedAt: startTime.Format(time.RFC3339),
	}

	execStore := NewExecutionStore(t.store.db)
	if err := execStore.CreateExecution(execution); err != nil {
		t.cronLog.Errorw("failed to create execution record", "job_id", job.ID, "error", err)
	}
	if t.broadcaster != nil {
		t.broadcaster.BroadcastCronStarted(job.ID, execution.ID)
	}

	summary, dispatchErr := t.broadcaster.Dispatch(job)

	completedAt := time.Now()
	durationMs := int(completedAt.Sub(startTime).Milliseconds())
	execution.CompletedAt = util.Ptr(completedAt.Format(time.RFC3339))
	execution.DurationMs = &durationMs
	execution.UpdatedAt = completedAt.Format(time.RFC3339)

	nextDue, retire := t.nextDue(job, now)

	if dispatchErr != nil {
		execution.Status = ExecutionStatusFailed
		errMsg := dispatchErr.Error()
		execution.ErrorMessage = &errMsg

		t.cronLog.Errorw("cron job dispatch failed",
			"job_id", job.ID, "execution_id", execution.ID, "duration_ms", durationMs, "error", dispatchErr)
		if t.broadcaster != nil {
			t.broadcaster.BroadcastCronFailed(job.ID, execution.ID, errMsg, durationMs)
		}
	} else {
		execution.Status = ExecutionStatusCompleted
		execution.ResultSummary = &summary

		t.cronLog.Infow("cron job dispatched",
			"job_id", job.ID, "execution_id", execution.ID, "duration_ms", durationMs, "next_due_ms", nextDue)
		if t.broadcaster != nil {
			t.broadcaster.BroadcastCronCompleted(job.ID, execution.ID, durationMs)
		}
	}

	if retire && job.DeleteAfterRun {
		if err := t.store.DeleteJob(job.ID); err != nil {
			t.cronLog.Errorw("failed to delete spent cron job", "job_id", job.ID, "error", err)
		}
	} else if err := t.store.UpdateAfterRun(job.ID, nextDue, now.UnixMilli()); err != nil {
		return errors.Wrap(err, "failed to update cron job after run")
	}

	if err := execStore.UpdateExecution(execution); err != nil {
		t.cronLog.Errorw("failed to update execution record", "execution_id", execution.ID, "error", err)
	}

	return nil
}

// nextDue computes a fired job's next due time. retire is true for an "at"
// job, which never fires again once it has run.
func (t *Ticker) nextDue(job *Job, now time.Time) (nextDueMS int64, retire bool) {
	switch job.ScheduleKind {
	case ScheduleAt:
		return 0, true
	case ScheduleEvery:
		periodMs, err := parseIntExpr(job.ScheduleExpr)
		if err != nil || periodMs <= 0 {
			t.cronLog.Warnw("cron job has invalid every-schedule, retiring", "job_id", job.ID, "expr", job.ScheduleExpr)
			return 0, true
		}
		return now.UnixMilli() + periodMs, false
	case ScheduleCron:
		loc := time.UTC
		if job.Timezone != "" {
			if l, err := time.LoadLocation(job.Timezone); err == nil {
				loc = l
			}
		}
		schedule, err := cronParser.Parse(job.ScheduleExpr)
		if err != nil {
			t.cronLog.Warnw("cron job has invalid cron expression, retiring", "job_id", job.ID, "expr", job.ScheduleExpr, "error", err)
			return 0, true
		}
		return schedule.Next(now.In(loc)).UnixMilli(), false
	default:
		return 0, true
	}
}

func parseIntExpr(s string) (int64, error) {
	s = strings.TrimSpace(s)
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// GetStats returns ticker statistics for cron.status.
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
