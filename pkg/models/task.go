package models

type TaskState string

const (
	PendingTaskState   TaskState = "PENDING"
	RunningTaskState   TaskState = "RUNNING"
	SucceededTaskState TaskState = "SUCCEEDED"
	FailedTaskState    TaskState = "FAILED"
)

// TaskSpec declares one node of the workflow graph. A task transitions to
// RUNNING only after every dependency has SUCCEEDED; a task with a FAILED
// dependency is never started.
type TaskSpec struct {
	ID           TaskID   `json:"id"`                     // Unique within the graph (e.g., "scan" or UUID)
	Name         string   `json:"name"`                   // Descriptive name (e.g., "Scanner")
	Role         string   `json:"role"`                   // Handler binding; defaults to the task ID
	Dependencies []TaskID `json:"dependencies,omitempty"` // Task IDs that must succeed first
}

// HandlerKey returns the key used to look up the task's registered handler.
func (t TaskSpec) HandlerKey() string {
	if t.Role != "" {
		return t.Role
	}
	return string(t.ID)
}
