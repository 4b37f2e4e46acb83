// Package service hosts the kernel's execution engine: run lifecycle,
// DAG scheduling with budget and permission gating, and the exposure
// surface consumed by API layers.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/policy"
	"github.com/ignatij/agentkernel/pkg/stopcond"
	"github.com/ignatij/agentkernel/pkg/storage"
	"github.com/ignatij/agentkernel/pkg/tool"

	kernelbudget "github.com/ignatij/agentkernel/pkg/budget"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for KernelService.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

func errNoHandler(key string) error {
	return errors.Errorf("no handler registered for role '%s'", key)
}

// KernelService owns runs from creation to terminal state. Domain packs
// register tools (via the registry) and task handlers (by role); the
// service wires budget, permissions and stop-condition governance around
// them and records everything in the event log.
type KernelService struct {
	store     storage.EventStore
	registry  *tool.Registry
	logger    Logger
	approvals *policy.ApprovalBroker
	stopCfg   stopcond.Config
	clock     time.Duration // wall-clock charge interval

	mu       sync.RWMutex
	handlers map[string]TaskHandler
	active   map[models.RunID]*runController
}

func NewKernelService(store storage.EventStore, registry *tool.Registry, logger Logger) *KernelService {
	return &KernelService{
		store:     store,
		registry:  registry,
		logger:    logger,
		approvals: policy.NewApprovalBroker(),
		stopCfg:   stopcond.DefaultConfig(),
		clock:     wallClockInterval,
		handlers:  make(map[string]TaskHandler),
		active:    make(map[models.RunID]*runController),
	}
}

// SetStopConditionConfig overrides the default detection thresholds for
// runs started after the call.
func (s *KernelService) SetStopConditionConfig(cfg stopcond.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCfg = cfg
}

// SetWallClockInterval overrides how often elapsed time is charged against
// the time budget, for runs started after the call. Each tick charges one
// unit of max_time_seconds; shortening the interval accelerates the clock
// in tests.
func (s *KernelService) SetWallClockInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = d
}

// Registry returns the tool registry backing this kernel.
func (s *KernelService) Registry() *tool.Registry {
	return s.registry
}

// Approvals returns the broker external actors use to resolve
// RequireApproval verdicts.
func (s *KernelService) Approvals() *policy.ApprovalBroker {
	return s.approvals
}

// RegisterHandler binds a task role to its behavior. Registering the same
// role twice replaces the previous handler, mirroring tool-pack reloads.
func (s *KernelService) RegisterHandler(role string, handler TaskHandler) error {
	if role == "" {
		return errors.New("empty handler role")
	}
	if handler == nil {
		return errors.Errorf("nil handler for role '%s'", role)
	}
	s.mu.Lock()
	s.handlers[role] = handler
	s.mu.Unlock()
	s.logger.Infof("Registered handler for role '%s'", role)
	return nil
}

// CreateRun validates and persists a run. No events are emitted until the
// run is started.
func (s *KernelService) CreateRun(graph models.Graph, budgetSpec models.BudgetSpec, pol models.Policy) (models.RunID, error) {
	if graph.Workflow == "" {
		return "", errors.New("workflow name cannot be empty")
	}
	if len(graph.Tasks) == 0 {
		return "", errors.New("workflow graph has no tasks")
	}
	if err := graph.Validate(); err != nil {
		return "", err
	}
	if err := budgetSpec.Validate(); err != nil {
		return "", err
	}

	run := models.Run{
		ID:        models.NewRunID(),
		Name:      graph.Workflow,
		Status:    models.CreatedRunStatus,
		Graph:     graph,
		Budget:    budgetSpec,
		Policy:    pol,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveRun(run); err != nil {
		return "", errors.Wrapf(err, "save run '%s'", run.Name)
	}
	s.logger.Infof("Created run %s for workflow '%s'", run.ID, run.Name)
	return run.ID, nil
}

// StartRun executes a created run to its terminal state. It blocks until
// the run finishes; callers wanting asynchronous execution start it on
// their own goroutine and follow progress through GetEvents.
func (s *KernelService) StartRun(ctx context.Context, runID models.RunID) (models.RunStatus, error) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		return "", errors.Wrapf(err, "run %s not found", runID)
	}
	if run.Status != models.CreatedRunStatus {
		return "", errors.Errorf("run %s already started (status %s)", runID, run.Status)
	}

	s.mu.Lock()
	if _, exists := s.active[runID]; exists {
		s.mu.Unlock()
		return "", errors.Errorf("run %s is already executing", runID)
	}
	detector := stopcond.NewDetector(s.stopCfg)
	rc := newRunController(run, s.store, detector, s.logger)
	s.active[runID] = rc
	handlers := make(map[string]TaskHandler, len(s.handlers))
	for k, v := range s.handlers {
		handlers[k] = v
	}
	clock := s.clock
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.active, runID)
		s.mu.Unlock()
	}()

	budgetMgr := kernelbudget.NewManager(run.Budget, rc)
	permissions := policy.NewEngine(run.Policy, rc, s.approvals)
	permissions.BindStop(rc.StopCh())

	if err := s.store.UpdateRunStatus(runID, models.RunningRunStatus); err != nil {
		return "", errors.Wrapf(err, "mark run %s RUNNING", runID)
	}

	executor := newDagExecutor(rc, handlers, s.registry, budgetMgr, permissions, detector, clock, s.logger)
	outcome, execErr := executor.run(ctx)

	if err := s.store.UpdateRunStatus(runID, outcome); err != nil {
		s.logger.Errorf("Failed to record terminal status %s for run %s: %v", outcome, runID, err)
	}
	s.logger.Infof("Run %s finished with status %s", runID, outcome)
	return outcome, execErr
}

// StopRun requests a cooperative abort of a live run: in-flight tool calls
// finish and are recorded, nothing new is dispatched, and the run ends
// STOPPED.
func (s *KernelService) StopRun(runID models.RunID) error {
	s.mu.RLock()
	rc, ok := s.active[runID]
	s.mu.RUnlock()
	if !ok {
		return errors.Errorf("run %s is not executing", runID)
	}
	rc.RequestStop("external stop request")
	return nil
}

// GetEvents returns a run's events after the given sequence number, in
// ascending order. Pass -1 for the full stream. Suitable for both polling
// and push-based streaming by the API layer.
func (s *KernelService) GetEvents(runID models.RunID, afterSeq int64) ([]models.Event, error) {
	if _, err := s.store.GetRun(runID); err != nil {
		return nil, errors.Wrapf(err, "run %s not found", runID)
	}
	return s.store.ListEvents(runID, afterSeq)
}

// GetRun returns the run's registry record.
func (s *KernelService) GetRun(runID models.RunID) (models.Run, error) {
	return s.store.GetRun(runID)
}

// GetRunProjection folds the run's event stream into its derived state.
func (s *KernelService) GetRunProjection(runID models.RunID) (*models.RunProjection, error) {
	if _, err := s.store.GetRun(runID); err != nil {
		return nil, errors.Wrapf(err, "run %s not found", runID)
	}
	events, err := s.store.ListEvents(runID, -1)
	if err != nil {
		return nil, err
	}
	return models.BuildRunProjection(runID, events)
}

// ListRuns returns all runs in the registry.
func (s *KernelService) ListRuns() ([]models.Run, error) {
	return s.store.ListRuns()
}
