// Package schedule persists and ticks the cron/heartbeat scheduler: Job is
// the cron_jobs row shape, Store is its SQLite-backed CRUD, Ticker polls
// due jobs once a second and hands each to an ExecutionBroadcaster.
package schedule

import "time"

// ScheduleKind is the variant of a Job's schedule (spec §3 Cron job entity):
// "at" fires once, "every" repeats on a fixed period, "cron" fires on a
// cron(5) expression.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
)

// SpecKind is the variant of what a Job fires: a bare system event string,
// or a task message dispatched into an isolated cron session.
type SpecKind string

const (
	SpecSystemEvent SpecKind = "systemEvent"
	SpecTask        SpecKind = "task"
)

// Job is one row of cron_jobs: a unit scheduled by an agent, fired by the
// ticker into the agent's own session (systemEvent mode) or an isolated
// agent:{agentId}:cron:{jobId} session (task mode) once due.
type Job struct {
	ID             string
	OwnerKey       string // agentId
	Name           string
	Description    string
	Enabled        bool
	DeleteAfterRun bool

	ScheduleKind ScheduleKind
	ScheduleExpr string // "every"'s period in ms, "at"'s epoch ms, or a cron(5) expr, all as string
	Timezone     string

	SpecKind    SpecKind
	SpecPayload string // systemEvent's text, or task spec's JSON-encoded body

	NextDueMS      int64
	RunningAtMS    int64
	LastRunAtMS    int64
	LastStatus     string // "", "success", "failed"
	LastError      string
	LastDurationMS int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDue reports whether the job should fire at the given instant: enabled,
// not already mid-run, and past its next-due mark.
func (j *Job) IsDue(now time.Time) bool {
	if !j.Enabled || j.RunningAtMS != 0 {
		return false
	}
	return j.NextDueMS > 0 && j.NextDueMS <= now.UnixMilli()
}
