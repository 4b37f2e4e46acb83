package models

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// EventType enumerates all recognized event types. The enumeration is
// closed: the event log rejects nothing, but projections ignore unknown
// types rather than failing.
type EventType string

const (
	EventRunStarted             EventType = "RunStarted"
	EventRunFinished            EventType = "RunFinished"
	EventTaskStarted            EventType = "TaskStarted"
	EventTaskFinished           EventType = "TaskFinished"
	EventToolCallStarted        EventType = "ToolCallStarted"
	EventToolCallFinished       EventType = "ToolCallFinished"
	EventBudgetUpdated          EventType = "BudgetUpdated"
	EventBudgetExceeded         EventType = "BudgetExceeded"
	EventPolicyDecision         EventType = "PolicyDecision"
	EventArtifactCreated        EventType = "ArtifactCreated"
	EventStopConditionTriggered EventType = "StopConditionTriggered"
)

// Event is one immutable record in a run's event stream. Seq is assigned
// atomically at append time and is contiguous from 0 within a run.
type Event struct {
	RunID     RunID           `json:"run_id" db:"run_id"`
	Seq       int64           `json:"seq" db:"seq"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Type      EventType       `json:"event_type" db:"event_type"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
}

// DecodePayload unmarshals the event payload into the given value.
func (e Event) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return errors.Errorf("event %s/%d has no payload", e.RunID, e.Seq)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(err, "decode %s payload at seq %d", e.Type, e.Seq)
	}
	return nil
}

// RunStartedPayload accompanies EventRunStarted.
type RunStartedPayload struct {
	Workflow  string `json:"workflow"`
	TaskCount int    `json:"task_count"`
}

// RunFinishedPayload accompanies EventRunFinished.
type RunFinishedPayload struct {
	Outcome     RunStatus `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	FailedTasks []TaskID  `json:"failed_tasks,omitempty"`
}

// TaskStartedPayload accompanies EventTaskStarted.
type TaskStartedPayload struct {
	TaskID TaskID `json:"task_id"`
	Name   string `json:"name"`
}

// TaskFinishedPayload accompanies EventTaskFinished.
type TaskFinishedPayload struct {
	TaskID TaskID    `json:"task_id"`
	Name   string    `json:"name"`
	State  TaskState `json:"state"`
	Error  string    `json:"error,omitempty"`
}

// ToolCallStartedPayload accompanies EventToolCallStarted. The raw input is
// recorded alongside its hash so deterministic tools can be re-executed
// during replay.
type ToolCallStartedPayload struct {
	CallID     ToolCallID             `json:"call_id"`
	TaskID     TaskID                 `json:"task_id"`
	Tool       string                 `json:"tool"`
	Version    string                 `json:"version"`
	SideEffect SideEffect             `json:"side_effect"`
	InputHash  string                 `json:"input_hash"`
	Input      map[string]interface{} `json:"input,omitempty"`
}

// ToolCallFinishedPayload accompanies EventToolCallFinished. Exactly one is
// emitted per invocation, successful or not.
type ToolCallFinishedPayload struct {
	CallID     ToolCallID             `json:"call_id"`
	TaskID     TaskID                 `json:"task_id"`
	Tool       string                 `json:"tool"`
	Version    string                 `json:"version"`
	Success    bool                   `json:"success"`
	InputHash  string                 `json:"input_hash"`
	OutputHash string                 `json:"output_hash,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// BudgetUpdatedPayload accompanies EventBudgetUpdated.
type BudgetUpdatedPayload struct {
	Resource Resource    `json:"resource"`
	Amount   int64       `json:"amount"`
	Usage    BudgetUsage `json:"usage"`
}

// BudgetExceededPayload accompanies EventBudgetExceeded.
type BudgetExceededPayload struct {
	Resource  Resource `json:"resource"`
	Ceiling   int64    `json:"ceiling"`
	Attempted int64    `json:"attempted"`
}

// PolicyDecisionPayload accompanies EventPolicyDecision. Every verdict is
// recorded, including plain allows.
type PolicyDecisionPayload struct {
	TaskID     TaskID       `json:"task_id"`
	Tool       string       `json:"tool"`
	SideEffect SideEffect   `json:"side_effect"`
	Action     PolicyAction `json:"action"`
	Reason     string       `json:"reason,omitempty"`
}

// ArtifactCreatedPayload accompanies EventArtifactCreated.
type ArtifactCreatedPayload struct {
	Artifact ArtifactMeta `json:"artifact"`
}

// StopConditionPayload accompanies EventStopConditionTriggered.
type StopConditionPayload struct {
	Reason string `json:"reason"`
}
