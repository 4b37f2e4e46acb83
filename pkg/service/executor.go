package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignatij/agentkernel/pkg/budget"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/policy"
	"github.com/ignatij/agentkernel/pkg/stopcond"
	"github.com/ignatij/agentkernel/pkg/tool"
	"golang.org/x/sync/semaphore"
)

// wallClockInterval is how often the monitor charges elapsed time against
// the budget.
const wallClockInterval = time.Second

// TaskHandler is the behavior bound to a task. It performs its side effects
// exclusively through the supplied invoker; a non-nil return fails the task.
type TaskHandler func(ctx context.Context, inv *tool.Invoker) error

type taskDone struct {
	id    models.TaskID
	state models.TaskState
	err   error
}

// dagExecutor drives one run: it keeps a ready set of tasks whose
// dependencies have all succeeded, dispatches them up to the max-parallel
// ceiling, and folds completions back into the schedule. Failure is
// localized: a failed task only blocks its dependents, while independent
// branches run to completion, unless a budget violation or stop condition
// forces a global cooperative abort.
type dagExecutor struct {
	rc          *runController
	graph       models.Graph
	handlers    map[string]TaskHandler
	registry    *tool.Registry
	budget      *budget.Manager
	permissions *policy.Engine
	detector    *stopcond.Detector
	logger      Logger

	clockInterval time.Duration

	sem    *semaphore.Weighted
	doneCh chan taskDone

	mu      sync.Mutex
	states  map[models.TaskID]models.TaskState
	skipped map[models.TaskID]bool
	failed  []models.TaskID
	running int64
}

func newDagExecutor(
	rc *runController,
	handlers map[string]TaskHandler,
	registry *tool.Registry,
	budgetMgr *budget.Manager,
	permissions *policy.Engine,
	detector *stopcond.Detector,
	clockInterval time.Duration,
	logger Logger,
) *dagExecutor {
	states := make(map[models.TaskID]models.TaskState, len(rc.run.Graph.Tasks))
	for _, t := range rc.run.Graph.Tasks {
		states[t.ID] = models.PendingTaskState
	}
	if clockInterval <= 0 {
		clockInterval = wallClockInterval
	}
	return &dagExecutor{
		rc:            rc,
		graph:         rc.run.Graph,
		handlers:      handlers,
		registry:      registry,
		budget:        budgetMgr,
		permissions:   permissions,
		detector:      detector,
		logger:        logger,
		clockInterval: clockInterval,
		sem:           semaphore.NewWeighted(rc.run.Budget.MaxParallel),
		doneCh:        make(chan taskDone, len(rc.run.Graph.Tasks)),
		states:        states,
		skipped:       make(map[models.TaskID]bool),
	}
}

// run executes the DAG to a terminal state and returns the outcome.
func (x *dagExecutor) run(ctx context.Context) (models.RunStatus, error) {
	if _, err := x.rc.Emit(models.EventRunStarted, models.RunStartedPayload{
		Workflow:  x.graph.Workflow,
		TaskCount: len(x.graph.Tasks),
	}); err != nil {
		return models.FailedRunStatus, err
	}

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go x.monitorWallClock(monitorCtx)

	for {
		x.dispatchReady(ctx)

		x.mu.Lock()
		running := x.running
		x.mu.Unlock()

		if running == 0 {
			if x.rc.StopRequested() || !x.anyDispatchable() {
				break
			}
		}

		done := <-x.doneCh
		x.complete(done)
	}

	stopMonitor()
	return x.finish()
}

// dispatchReady starts every ready task a parallel slot is available for.
// Ready tasks are dispatched in ascending task ID order for determinism.
// Nothing is dispatched once a stop has been requested.
func (x *dagExecutor) dispatchReady(ctx context.Context) {
	if x.rc.StopRequested() {
		return
	}

	x.mu.Lock()
	var ready []models.TaskSpec
	for _, spec := range x.graph.Tasks {
		if x.states[spec.ID] != models.PendingTaskState || x.skipped[spec.ID] {
			continue
		}
		if x.blockedLocked(spec) {
			x.skipped[spec.ID] = true
			continue
		}
		if x.readyLocked(spec) {
			ready = append(ready, spec)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	x.mu.Unlock()

	for _, spec := range ready {
		if x.rc.StopRequested() {
			return
		}
		if !x.sem.TryAcquire(1) {
			return
		}
		x.start(ctx, spec)
	}
}

// blockedLocked reports whether a dependency failed or was itself blocked;
// such a task is never started and its exclusion cascades.
func (x *dagExecutor) blockedLocked(spec models.TaskSpec) bool {
	for _, dep := range spec.Dependencies {
		if x.states[dep] == models.FailedTaskState || x.skipped[dep] {
			return true
		}
	}
	return false
}

func (x *dagExecutor) readyLocked(spec models.TaskSpec) bool {
	for _, dep := range spec.Dependencies {
		if x.states[dep] != models.SucceededTaskState {
			return false
		}
	}
	return true
}

func (x *dagExecutor) start(ctx context.Context, spec models.TaskSpec) {
	x.mu.Lock()
	x.states[spec.ID] = models.RunningTaskState
	x.running++
	running := x.running
	x.mu.Unlock()

	if err := x.budget.ObserveParallel(running); err != nil {
		// Cannot happen while the semaphore matches the ceiling.
		x.rc.RequestStop(err.Error())
	}

	if _, err := x.rc.Emit(models.EventTaskStarted, models.TaskStartedPayload{
		TaskID: spec.ID,
		Name:   spec.Name,
	}); err != nil {
		x.doneCh <- taskDone{id: spec.ID, state: models.FailedTaskState, err: err}
		return
	}

	go x.runTask(ctx, spec)
}

func (x *dagExecutor) runTask(ctx context.Context, spec models.TaskSpec) {
	handler, ok := x.handlers[spec.HandlerKey()]
	var err error
	if !ok {
		err = &models.TaskExecutionError{TaskID: spec.ID, Cause: errNoHandler(spec.HandlerKey())}
	} else {
		inv := tool.NewInvoker(x.rc.run.ID, spec.ID, x.registry, x.rc, x.budget, x.permissions, x.detector)
		if depthErr := x.budget.ObserveDepth(inv.Depth()); depthErr != nil {
			err = depthErr
		} else {
			err = handler(ctx, inv)
		}
	}

	state := models.SucceededTaskState
	errMsg := ""
	if err != nil {
		state = models.FailedTaskState
		errMsg = err.Error()
		if models.IsRunFatal(err) {
			x.rc.RequestStop(err.Error())
		}
	}

	if _, emitErr := x.rc.Emit(models.EventTaskFinished, models.TaskFinishedPayload{
		TaskID: spec.ID,
		Name:   spec.Name,
		State:  state,
		Error:  errMsg,
	}); emitErr != nil && err == nil {
		state = models.FailedTaskState
		err = emitErr
	}

	x.doneCh <- taskDone{id: spec.ID, state: state, err: err}
}

func (x *dagExecutor) complete(done taskDone) {
	x.mu.Lock()
	x.states[done.id] = done.state
	x.running--
	if done.state == models.FailedTaskState {
		x.failed = append(x.failed, done.id)
	}
	x.mu.Unlock()
	x.sem.Release(1)

	if done.err != nil {
		x.logger.Infof("Run %s: task %s failed: %v", x.rc.run.ID, done.id, done.err)
	}
}

// anyDispatchable reports whether some pending task could still start.
func (x *dagExecutor) anyDispatchable() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, spec := range x.graph.Tasks {
		if x.states[spec.ID] == models.PendingTaskState && !x.skipped[spec.ID] && !x.blockedLocked(spec) {
			return true
		}
	}
	return false
}

// finish determines the terminal state. STOPPED always wins once a budget
// violation, stop condition or external stop was requested.
func (x *dagExecutor) finish() (models.RunStatus, error) {
	x.mu.Lock()
	failed := make([]models.TaskID, len(x.failed))
	copy(failed, x.failed)
	x.mu.Unlock()

	outcome := models.SucceededRunStatus
	if len(failed) > 0 {
		outcome = models.FailedRunStatus
	}
	for _, spec := range x.graph.Tasks {
		x.mu.Lock()
		pendingSkipped := x.states[spec.ID] == models.PendingTaskState
		x.mu.Unlock()
		if pendingSkipped && outcome == models.SucceededRunStatus {
			outcome = models.FailedRunStatus
		}
	}
	if x.rc.StopRequested() {
		outcome = models.StoppedRunStatus
	}

	if _, err := x.rc.Emit(models.EventRunFinished, models.RunFinishedPayload{
		Outcome:     outcome,
		Reason:      x.rc.StopReason(),
		FailedTasks: failed,
	}); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// monitorWallClock charges elapsed seconds periodically so the
// max-wall-clock ceiling trips the same abort path as any other budget
// violation.
func (x *dagExecutor) monitorWallClock(ctx context.Context) {
	ticker := time.NewTicker(x.clockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := x.budget.Charge(models.ResourceTimeSeconds, 1); err != nil {
				x.rc.RequestStop(err.Error())
				return
			}
		}
	}
}
