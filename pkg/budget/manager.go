// Package budget tracks resource consumption against a declared spec and
// vetoes operations that would exceed it.
package budget

import (
	"sync"

	"github.com/ignatij/agentkernel/pkg/models"
)

// Emitter appends an event to the owning run's stream.
type Emitter interface {
	Emit(eventType models.EventType, payload interface{}) (int64, error)
}

// Manager enforces a BudgetSpec for one run. Every check-then-commit pair
// runs under a per-run mutex, so no two concurrent charges can both succeed
// when only one fits under a ceiling. Usage counters are monotonically
// non-decreasing and never reset mid-run; parallelism and recursion depth
// are recorded as high-water marks.
type Manager struct {
	spec models.BudgetSpec
	emit Emitter

	mu    sync.Mutex
	usage models.BudgetUsage
}

func NewManager(spec models.BudgetSpec, emitter Emitter) *Manager {
	return &Manager{spec: spec, emit: emitter}
}

// Spec returns the declared ceilings.
func (m *Manager) Spec() models.BudgetSpec {
	return m.spec
}

// Usage returns a snapshot of the current counters.
func (m *Manager) Usage() models.BudgetUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Charge commits an amount of a cumulative resource. If the charge would
// breach the ceiling, nothing is committed, a BudgetExceeded event is
// emitted and a BudgetExceededError is returned. Budget violations are
// always fatal to the run and never retried.
func (m *Manager) Charge(resource models.Resource, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := m.usage.Of(resource) + amount
	ceiling := m.spec.Ceiling(resource)
	if candidate > ceiling {
		return m.exceededLocked(resource, ceiling, candidate)
	}

	m.usage.Add(resource, amount)
	_, err := m.emit.Emit(models.EventBudgetUpdated, models.BudgetUpdatedPayload{
		Resource: resource,
		Amount:   amount,
		Usage:    m.usage,
	})
	return err
}

// ObserveParallel records the current number of concurrently RUNNING tasks.
// The counter keeps the high-water mark. The scheduler's semaphore keeps
// occupancy under the ceiling, so a breach here means a scheduling bug and
// is treated as a budget violation.
func (m *Manager) ObserveParallel(current int64) error {
	return m.observeWatermark(models.ResourceParallel, current)
}

// ObserveDepth records the current tool-invocation nesting depth.
func (m *Manager) ObserveDepth(depth int64) error {
	return m.observeWatermark(models.ResourceDepth, depth)
}

func (m *Manager) observeWatermark(resource models.Resource, current int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ceiling := m.spec.Ceiling(resource)
	if current > ceiling {
		return m.exceededLocked(resource, ceiling, current)
	}
	if current <= m.usage.Of(resource) {
		return nil
	}

	m.usage.Add(resource, current-m.usage.Of(resource))
	_, err := m.emit.Emit(models.EventBudgetUpdated, models.BudgetUpdatedPayload{
		Resource: resource,
		Amount:   current,
		Usage:    m.usage,
	})
	return err
}

func (m *Manager) exceededLocked(resource models.Resource, ceiling, attempted int64) error {
	// Emission failure is secondary here; the veto stands either way.
	_, _ = m.emit.Emit(models.EventBudgetExceeded, models.BudgetExceededPayload{
		Resource:  resource,
		Ceiling:   ceiling,
		Attempted: attempted,
	})
	return &models.BudgetExceededError{
		Resource:  resource,
		Ceiling:   ceiling,
		Attempted: attempted,
	}
}
