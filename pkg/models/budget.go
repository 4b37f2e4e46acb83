package models

import "github.com/pkg/errors"

// Resource names one governed resource dimension.
type Resource string

const (
	ResourceTokens      Resource = "tokens"
	ResourceToolCalls   Resource = "tool_calls"
	ResourceTimeSeconds Resource = "time_seconds"
	ResourceDepth       Resource = "recursion_depth"
	ResourceParallel    Resource = "parallel_tasks"
)

// BudgetSpec declares hard ceilings on resource consumption for a run.
// Ceilings never replenish mid-run.
type BudgetSpec struct {
	MaxTokens         int64 `json:"max_tokens"`
	MaxToolCalls      int64 `json:"max_tool_calls"`
	MaxTimeSeconds    int64 `json:"max_time_seconds"`
	MaxRecursionDepth int64 `json:"max_recursion_depth"`
	MaxParallel       int64 `json:"max_parallel"`
}

// Validate checks every ceiling is positive.
func (s BudgetSpec) Validate() error {
	for _, r := range []Resource{ResourceTokens, ResourceToolCalls, ResourceTimeSeconds, ResourceDepth, ResourceParallel} {
		if s.Ceiling(r) <= 0 {
			return errors.Errorf("budget ceiling for %s must be positive", r)
		}
	}
	return nil
}

// Ceiling returns the declared ceiling for a resource.
func (s BudgetSpec) Ceiling(r Resource) int64 {
	switch r {
	case ResourceTokens:
		return s.MaxTokens
	case ResourceToolCalls:
		return s.MaxToolCalls
	case ResourceTimeSeconds:
		return s.MaxTimeSeconds
	case ResourceDepth:
		return s.MaxRecursionDepth
	case ResourceParallel:
		return s.MaxParallel
	}
	return 0
}

// BudgetUsage holds the running counters for a run. Tokens, ToolCalls and
// TimeSeconds are cumulative and never decrease; RecursionDepth and
// Parallel are gauges of current occupancy.
type BudgetUsage struct {
	Tokens         int64 `json:"tokens"`
	ToolCalls      int64 `json:"tool_calls"`
	TimeSeconds    int64 `json:"time_seconds"`
	RecursionDepth int64 `json:"recursion_depth"`
	Parallel       int64 `json:"parallel_tasks"`
}

// Of returns the current counter for a resource.
func (u BudgetUsage) Of(r Resource) int64 {
	switch r {
	case ResourceTokens:
		return u.Tokens
	case ResourceToolCalls:
		return u.ToolCalls
	case ResourceTimeSeconds:
		return u.TimeSeconds
	case ResourceDepth:
		return u.RecursionDepth
	case ResourceParallel:
		return u.Parallel
	}
	return 0
}

// Add increments the counter for a resource. Amount may be negative only
// for gauge resources.
func (u *BudgetUsage) Add(r Resource, amount int64) {
	switch r {
	case ResourceTokens:
		u.Tokens += amount
	case ResourceToolCalls:
		u.ToolCalls += amount
	case ResourceTimeSeconds:
		u.TimeSeconds += amount
	case ResourceDepth:
		u.RecursionDepth += amount
	case ResourceParallel:
		u.Parallel += amount
	}
}

// IsGauge reports whether a resource tracks current occupancy rather than
// cumulative consumption.
func (r Resource) IsGauge() bool {
	return r == ResourceDepth || r == ResourceParallel
}
