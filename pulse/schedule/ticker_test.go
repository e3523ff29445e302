package schedule

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	qntxtest "github.com/meshgate/gateway/internal/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/gateway/logger"
)

// mockBroadcaster is a controllable ExecutionBroadcaster for ticker tests: it
// records every broadcast call and lets each test script the Dispatch result.
type mockBroadcaster struct {
	mu sync.Mutex

	dispatchResult string
	dispatchErr    error
	dispatchCalls  []*Job

	started   []string
	completed []string
	failed    []string
}

func (m *mockBroadcaster) BroadcastCronStarted(jobID, executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, jobID)
}

func (m *mockBroadcaster) BroadcastCronCompleted(jobID, executionID string, durationMs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, jobID)
}

func (m *mockBroadcaster) BroadcastCronFailed(jobID, executionID, errorMsg string, durationMs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, jobID)
}

func (m *mockBroadcaster) Dispatch(job *Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchCalls = append(m.dispatchCalls, job)
	return m.dispatchResult, m.dispatchErr
}

func (m *mockBroadcaster) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatchCalls)
}

func TestFireJob_EverySchedule_Success(t *testing.T) {
	db := qntxtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now()

	job := &Job{
		ID: "j_every", OwnerKey: "agent-1",
		ScheduleKind: ScheduleEvery, ScheduleExpr: "3600000",
		SpecKind: SpecSystemEvent, SpecPayload: "tick",
		NextDueMS: now.Add(-time.Minute).UnixMilli(), Enabled: true,
	}
	require.NoError(t, store.CreateJob(job))

	broadcaster := &mockBroadcaster{dispatchResult: "delivered"}
	ticker := NewTicker(store, nil, broadcaster, DefaultTickerConfig(), logger.Logger)

	require.NoError(t, ticker.fireJob(job, now))

	assert.Equal(t, 1, broadcaster.callCount())
	assert.Contains(t, broadcaster.completed, job.ID)
	assert.Empty(t, broadcaster.failed)

	updated, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Greater(t, updated.NextDueMS, now.UnixMilli())
	assert.Equal(t, now.UnixMilli(), updated.LastRunAtMS)

	execStore := NewExecutionStore(db)
	execs, total, err := execStore.ListExecutions(job.ID, 10, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusCompleted, execs[0].Status)
	require.NotNil(t, execs[0].ResultSummary)
	assert.Equal(t, "delivered", *execs[0].ResultSummary)
}

func TestFireJob_DispatchError_MarksExecutionFailed(t *testing.T) {
	db := qntxtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now()

	job := &Job{
		ID: "j_fail", OwnerKey: "agent-1",
		ScheduleKind: ScheduleEvery, ScheduleExpr: "60000",
		SpecKind: SpecTask, SpecPayload: `{"message":"do the thing"}`,
		NextDueMS: now.UnixMilli(), Enabled: true,
	}
	require.NoError(t, store.CreateJob(job))

	broadcaster := &mockBroadcaster{dispatchErr: fmt.Errorf("session bridge unreachable")}
	ticker := NewTicker(store, nil, broadcaster, DefaultTickerConfig(), logger.Logger)

	require.NoError(t, ticker.fireJob(job, now))

	assert.Contains(t, broadcaster.failed, job.ID)
	assert.Empty(t, broadcaster.completed)

	execStore := NewExecutionStore(db)
	execs, _, err := execStore.ListExecutions(job.ID, 10, 0, "")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusFailed, execs[0].Status)
	require.NotNil(t, execs[0].ErrorMessage)
	assert.Equal(t, "session bridge unreachable", *execs[0].ErrorMessage)
}

func TestFireJob_AtSchedule_RetiresAndDeletes(t *testing.T) {
	db := qntxtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now()

	job := &Job{
		ID: "j_at", OwnerKey: "agent-1",
		ScheduleKind: ScheduleAt, ScheduleExpr: fmt.Sprintf("%d", now.UnixMilli()),
		SpecKind: SpecSystemEvent, SpecPayload: "once",
		NextDueMS: now.UnixMilli(), Enabled: true, DeleteAfterRun: true,
	}
	require.NoError(t, store.CreateJob(job))

	broadcaster := &mockBroadcaster{dispatchResult: "done"}
	ticker := NewTicker(store, nil, broadcaster, DefaultTickerConfig(), logger.Logger)

	require.NoError(t, ticker.fireJob(job, now))

	_, err := store.GetJob(job.ID)
	assert.Error(t, err, "at-schedule job with DeleteAfterRun should be deleted after firing")
}

func TestFireJob_AtSchedule_RetiresWithoutDelete(t *testing.T) {
	db := qntxtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now()

	job := &Job{
		ID: "j_at_keep", OwnerKey: "agent-1",
		ScheduleKind: ScheduleAt, ScheduleExpr: fmt.Sprintf("%d", now.UnixMilli()),
		SpecKind: SpecSystemEvent, SpecPayload: "once",
		NextDueMS: now.UnixMilli(), Enabled: true, DeleteAfterRun: false,
	}
	require.NoError(t, store.CreateJob(job))

	broadcaster := &mockBroadcaster{dispatchResult: "done"}
	ticker := NewTicker(store, nil, broadcaster, DefaultTickerConfig(), logger.Logger)

	require.NoError(t, ticker.fireJob(job, now))

	updated, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated.NextDueMS, "retired job should have its next-due cleared")
}

func TestNextDue_CronSchedule(t *testing.T) {
	ticker := &Ticker{cronLog: logger.WithSymbol(logger.SymbolCron)}
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	job := &Job{ID: "j_cron", ScheduleKind: ScheduleCron, ScheduleExpr: "0 * * * *", Timezone: "UTC"}
	next, retire := ticker.nextDue(job, now)
	assert.False(t, retire)
	assert.Equal(t, time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC).UnixMilli(), next)
}

func TestNextDue_CronSchedule_InvalidExprRetires(t *testing.T) {
	ticker := &Ticker{cronLog: logger.WithSymbol(logger.SymbolCron)}
	now := time.Now()

	job := &Job{ID: "j_bad_cron", ScheduleKind: ScheduleCron, ScheduleExpr: "not a cron expr"}
	_, retire := ticker.nextDue(job, now)
	assert.True(t, retire)
}

func TestNextDue_EverySchedule_InvalidExprRetires(t *testing.T) {
	ticker := &Ticker{cronLog: logger.WithSymbol(logger.SymbolCron)}
	now := time.Now()

	job := &Job{ID: "j_bad_every", ScheduleKind: ScheduleEvery, ScheduleExpr: "not-a-number"}
	_, retire := ticker.nextDue(job, now)
	assert.True(t, retire)
}

func TestCheckDueJobs_Integration(t *testing.T) {
	db := qntxtest.CreateTestDB(t)
	store := NewStore(db)
	now := time.Now()

	due := &Job{
		ID: "j_due", OwnerKey: "agent-1",
		ScheduleKind: ScheduleEvery, ScheduleExpr: "3600000",
		SpecKind: SpecSystemEvent, SpecPayload: "tick",
		NextDueMS: now.Add(-time.Minute).UnixMilli(), Enabled: true,
	}
	notDue := &Job{
		ID: "j_not_due", OwnerKey: "agent-1",
		ScheduleKind: ScheduleEvery, ScheduleExpr: "3600000",
		SpecKind: SpecSystemEvent, SpecPayload: "tick",
		NextDueMS: now.Add(time.Hour).UnixMilli(), Enabled: true,
	}
	require.NoError(t, store.CreateJob(due))
	require.NoError(t, store.CreateJob(notDue))

	broadcaster := &mockBroadcaster{dispatchResult: "ok"}
	ticker := NewTicker(store, nil, broadcaster, DefaultTickerConfig(), logger.Logger)

	require.NoError(t, ticker.checkDueJobs(now))

	assert.Equal(t, 1, broadcaster.callCount())
	assert.Equal(t, "j_due", broadcaster.dispatchCalls[0].ID)
}

func TestTickerStartStop(t *testing.T) {
	db := qntxtest.CreateTestDB(t)
	store := NewStore(db)

	cfg := TickerConfig{Interval: 100 * time.Millisecond}
	ticker := NewTicker(store, nil, &mockBroadcaster{}, cfg, logger.Logger)

	ticker.Start()
	time.Sleep(350 * time.Millisecond)

	stats := ticker.GetStats()
	assert.NotNil(t, stats["last_tick_at"])
	assert.Greater(t, stats["ticks_since_start"].(int64), int64(0))

	ticker.Stop()

	ticksBefore := stats["ticks_since_start"].(int64)
	statsAfterStop := ticker.GetStats()
	time.Sleep(250 * time.Millisecond)
	statsAfter := ticker.GetStats()
	assert.Equal(t, statsAfterStop["ticks_since_start"].(int64), statsAfter["ticks_since_start"].(int64), "ticks should not increment after stop")
	assert.GreaterOrEqual(t, statsAfter["ticks_since_start"].(int64), ticksBefore)
}

func TestTickerWithContext_Cancellation(t *testing.T) {
	db := qntxtest.CreateTestDB(t)
	store := NewStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	cfg := TickerConfig{Interval: 100 * time.Millisecond}
	ticker := NewTickerWithContext(ctx, store, nil, &mockBroadcaster{}, cfg, logger.Logger)

	ticker.Start()
	time.Sleep(100 * time.Millisecond)

	cancel()
	ticker.wg.Wait()

	stats := ticker.GetStats()
	assert.NotNil(t, stats)
}
