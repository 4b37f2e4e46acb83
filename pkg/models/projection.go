package models

import (
	"time"

	"github.com/pkg/errors"
)

// TaskProjection is the derived state of one task.
type TaskProjection struct {
	ID         TaskID     `json:"id"`
	Name       string     `json:"name"`
	State      TaskState  `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunProjection is the full derived state of a run, computed by folding its
// ordered event stream. No component holds this state mutably; the event
// log is the single source of truth.
type RunProjection struct {
	RunID      RunID                      `json:"run_id"`
	Workflow   string                     `json:"workflow"`
	Status     RunStatus                  `json:"status"`
	Tasks      map[TaskID]*TaskProjection `json:"tasks"`
	ToolCalls  []ToolCallRecord           `json:"tool_calls"`
	Artifacts  []ArtifactMeta             `json:"artifacts"`
	Usage      BudgetUsage                `json:"usage"`
	StopReason string                     `json:"stop_reason,omitempty"`
	LastSeq    int64                      `json:"last_seq"`
}

// BuildRunProjection folds an ordered event stream into derived run state.
// The stream must be gapless and ascending from 0; anything else means the
// log is corrupt and the projection fails.
func BuildRunProjection(runID RunID, events []Event) (*RunProjection, error) {
	proj := &RunProjection{
		RunID:   runID,
		Status:  CreatedRunStatus,
		Tasks:   make(map[TaskID]*TaskProjection),
		LastSeq: -1,
	}

	callIndex := make(map[ToolCallID]int)

	for i, e := range events {
		if e.Seq != int64(i) {
			return nil, errors.Errorf("event stream for run %s has a gap: expected seq %d, got %d", runID, i, e.Seq)
		}
		proj.LastSeq = e.Seq

		switch e.Type {
		case EventRunStarted:
			var p RunStartedPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			proj.Workflow = p.Workflow
			proj.Status = RunningRunStatus

		case EventRunFinished:
			var p RunFinishedPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			proj.Status = p.Outcome
			if p.Reason != "" && proj.StopReason == "" {
				proj.StopReason = p.Reason
			}

		case EventTaskStarted:
			var p TaskStartedPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			started := e.Timestamp
			proj.Tasks[p.TaskID] = &TaskProjection{
				ID:        p.TaskID,
				Name:      p.Name,
				State:     RunningTaskState,
				StartedAt: &started,
			}

		case EventTaskFinished:
			var p TaskFinishedPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			task, ok := proj.Tasks[p.TaskID]
			if !ok {
				return nil, errors.Errorf("TaskFinished for unstarted task '%s' at seq %d", p.TaskID, e.Seq)
			}
			finished := e.Timestamp
			task.State = p.State
			task.Error = p.Error
			task.FinishedAt = &finished

		case EventToolCallStarted:
			var p ToolCallStartedPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			callIndex[p.CallID] = len(proj.ToolCalls)
			proj.ToolCalls = append(proj.ToolCalls, ToolCallRecord{
				CallID:     p.CallID,
				TaskID:     p.TaskID,
				Tool:       p.Tool,
				Version:    p.Version,
				SideEffect: p.SideEffect,
				InputHash:  p.InputHash,
				StartedAt:  e.Timestamp,
			})

		case EventToolCallFinished:
			var p ToolCallFinishedPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			idx, ok := callIndex[p.CallID]
			if !ok {
				return nil, errors.Errorf("ToolCallFinished without ToolCallStarted for call %s at seq %d", p.CallID, e.Seq)
			}
			finished := e.Timestamp
			record := &proj.ToolCalls[idx]
			record.Success = p.Success
			record.OutputHash = p.OutputHash
			record.Error = p.Error
			record.FinishedAt = &finished

		case EventBudgetUpdated:
			var p BudgetUpdatedPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			proj.Usage = p.Usage

		case EventBudgetExceeded:
			var p BudgetExceededPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			if proj.StopReason == "" {
				proj.StopReason = (&BudgetExceededError{
					Resource:  p.Resource,
					Ceiling:   p.Ceiling,
					Attempted: p.Attempted,
				}).Error()
			}

		case EventArtifactCreated:
			var p ArtifactCreatedPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			proj.Artifacts = append(proj.Artifacts, p.Artifact)

		case EventStopConditionTriggered:
			var p StopConditionPayload
			if err := e.DecodePayload(&p); err != nil {
				return nil, err
			}
			if proj.StopReason == "" {
				proj.StopReason = p.Reason
			}
		}
	}

	return proj, nil
}
