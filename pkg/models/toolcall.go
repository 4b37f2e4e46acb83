package models

import "time"

// ToolCallRecord is the immutable record of one tool invocation, projected
// from the ToolCallStarted/ToolCallFinished event pair. A retry produces a
// new record; records are never mutated after completion.
type ToolCallRecord struct {
	CallID     ToolCallID `json:"call_id"`
	TaskID     TaskID     `json:"task_id"`
	Tool       string     `json:"tool"`
	Version    string     `json:"version"`
	SideEffect SideEffect `json:"side_effect"`
	InputHash  string     `json:"input_hash"`
	OutputHash string     `json:"output_hash,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
