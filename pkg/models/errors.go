package models

import (
	"errors"
	"fmt"
)

// BudgetExceededError is returned when a charge would breach a budget
// ceiling. It is always fatal to the run.
type BudgetExceededError struct {
	Resource  Resource
	Ceiling   int64
	Attempted int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget ceiling for %s exceeded: attempted %d, ceiling %d",
		e.Resource, e.Attempted, e.Ceiling)
}

// ToolValidationError is returned when tool input or output fails contract
// validation. It fails the owning task only.
type ToolValidationError struct {
	Tool     string
	Problems []string
}

func (e *ToolValidationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("tool '%s' failed validation", e.Tool)
	}
	return fmt.Sprintf("tool '%s' failed validation: %v", e.Tool, e.Problems)
}

// TaskExecutionError is returned when a tool body or task handler fails. It
// fails the owning task only.
type TaskExecutionError struct {
	TaskID TaskID
	Tool   string
	Cause  error
}

func (e *TaskExecutionError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("task %s: tool '%s' failed: %v", e.TaskID, e.Tool, e.Cause)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Cause)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Cause
}

// PermissionDeniedError is returned when the permissions engine vetoes a
// tool call. It fails the owning task only.
type PermissionDeniedError struct {
	Tool       string
	SideEffect SideEffect
	Reason     string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("tool '%s' denied (side effect %s): %s", e.Tool, e.SideEffect, e.Reason)
}

// StopConditionError is returned when a pathological execution pattern
// forces run termination. It is always fatal to the run.
type StopConditionError struct {
	Reason string
}

func (e *StopConditionError) Error() string {
	return fmt.Sprintf("stop condition triggered: %s", e.Reason)
}

// IsRunFatal reports whether an error must abort the whole run rather than
// failing only the owning task.
func IsRunFatal(err error) bool {
	var budgetErr *BudgetExceededError
	var stopErr *StopConditionError
	return errors.As(err, &budgetErr) || errors.As(err, &stopErr)
}
