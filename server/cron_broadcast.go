package server

import (
	"encoding/json"
	"fmt"

	"github.com/meshgate/gateway/am"
	"github.com/meshgate/gateway/pulse/schedule"
)

// Gateway implements schedule.ExecutionBroadcaster: the ticker fans execution
// lifecycle events out to every connected client through these, and routes
// the actual job payload into a session through Dispatch.

func (s *Gateway) BroadcastCronStarted(jobID, executionID string) {
	s.broadcastCronEvent("cron.started", map[string]interface{}{
		"jobId":       jobID,
		"executionId": executionID,
	})
}

func (s *Gateway) BroadcastCronCompleted(jobID, executionID string, durationMs int) {
	s.broadcastCronEvent("cron.completed", map[string]interface{}{
		"jobId":       jobID,
		"executionId": executionID,
		"durationMs":  durationMs,
	})
}

func (s *Gateway) BroadcastCronFailed(jobID, executionID, errorMsg string, durationMs int) {
	s.broadcastCronEvent("cron.failed", map[string]interface{}{
		"jobId":       jobID,
		"executionId": executionID,
		"error":       errorMsg,
		"durationMs":  durationMs,
	})
}

func (s *Gateway) broadcastCronEvent(event string, payload interface{}) {
	data, err := json.Marshal(EvtFrame{Type: FrameEvt, Event: event, Payload: payload})
	if err != nil {
		return
	}
	s.Fanout(data)
}

// Dispatch delivers a due job's payload to a session: systemEvent mode
// emits into the owner's own session, task mode spawns/advances an isolated
// agent:{agentId}:cron:{jobId} session running the task spec's message.
// Returns a short result summary for the execution's result_summary column.
//
// Without a wired SessionBridge (e.g. gatewayd running standalone, no
// agent-runtime attached) this records the miss rather than failing the
// tick loop, since a missing delivery target isn't a scheduler bug.
func (s *Gateway) Dispatch(job *schedule.Job) (string, error) {
	if s.sessionBridge == nil {
		return "no session bridge attached; dispatch skipped", nil
	}

	sessionKey := job.OwnerKey
	if job.SpecKind == schedule.SpecTask {
		sessionKey = fmt.Sprintf("agent:%s:cron:%s", job.OwnerKey, job.ID)
	}
	sessionKey = am.CanonicalizeSessionKey(sessionKey)

	return s.sessionBridge.Dispatch(sessionKey, CronSpecKind(job.SpecKind), job.SpecPayload)
}
