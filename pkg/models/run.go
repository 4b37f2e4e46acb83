package models

import "time"

type RunStatus string

const (
	CreatedRunStatus   RunStatus = "CREATED"
	RunningRunStatus   RunStatus = "RUNNING"
	SucceededRunStatus RunStatus = "SUCCEEDED"
	FailedRunStatus    RunStatus = "FAILED"
	StoppedRunStatus   RunStatus = "STOPPED"
)

// IsTerminal reports whether the status is a terminal state. A terminal run
// is read-only and eligible for replay.
func (s RunStatus) IsTerminal() bool {
	return s == SucceededRunStatus || s == FailedRunStatus || s == StoppedRunStatus
}

// Run is the registry record for one workflow execution. Everything beyond
// these declared inputs is a projection over the run's event stream.
type Run struct {
	ID        RunID      `json:"id" db:"id"`                 // Unique identifier (UUID)
	Name      string     `json:"name" db:"name"`             // Descriptive name (e.g., "NightlyTriage")
	Status    RunStatus  `json:"status" db:"status"`         // Terminal status is immutable
	Graph     Graph      `json:"graph" db:"graph"`           // Workflow DAG, fixed at creation
	Budget    BudgetSpec `json:"budget" db:"budget"`         // Declared resource ceilings
	Policy    Policy     `json:"policy" db:"policy"`         // Side-effect policy, read-only during the run
	CreatedAt time.Time  `json:"created_at" db:"created_at"` // Creation timestamp
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"` // Last status change
}
