package tool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignatij/agentkernel/pkg/budget"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/policy"
	"github.com/ignatij/agentkernel/pkg/stopcond"
	"github.com/pkg/errors"
)

// ErrRunStopping is returned when an invocation is requested after the run
// has entered cooperative shutdown. In-flight calls finish; new ones are
// not dispatched.
var ErrRunStopping = errors.New("run is stopping; no new tool calls dispatched")

// RunControl is the invoker's view of the run: event emission plus the
// cooperative cancellation flag. Emitting through it keeps the stop
// condition detector fed with every event.
type RunControl interface {
	Emit(eventType models.EventType, payload interface{}) (int64, error)
	StopRequested() bool
	RequestStop(reason string)
	TripStopCondition(reason string)
}

// Invoker performs validated tool invocations for one task. It wraps every
// call in budget, stop-condition and permission gates and brackets the body
// with ToolCallStarted/ToolCallFinished events. The substrate guarantees
// idempotent bookkeeping, not idempotent tool bodies: no body executes
// without a preceding validated ToolCallStarted, and every invocation that
// starts produces exactly one terminal ToolCallFinished.
type Invoker struct {
	runID       models.RunID
	taskID      models.TaskID
	registry    *Registry
	control     RunControl
	budget      *budget.Manager
	permissions *policy.Engine
	stop        *stopcond.Detector
	depth       int64
}

func NewInvoker(
	runID models.RunID,
	taskID models.TaskID,
	registry *Registry,
	control RunControl,
	budgetMgr *budget.Manager,
	permissions *policy.Engine,
	stop *stopcond.Detector,
) *Invoker {
	return &Invoker{
		runID:       runID,
		taskID:      taskID,
		registry:    registry,
		control:     control,
		budget:      budgetMgr,
		permissions: permissions,
		stop:        stop,
		depth:       1,
	}
}

// TaskID returns the task this invoker is bound to.
func (inv *Invoker) TaskID() models.TaskID {
	return inv.taskID
}

// Depth returns the current invocation nesting depth.
func (inv *Invoker) Depth() int64 {
	return inv.depth
}

// Child returns an invoker one nesting level deeper, for tools that drive
// recursive work. Depth is gated by the stop-condition fast path first and
// the formal budget watermark second.
func (inv *Invoker) Child() (*Invoker, error) {
	next := inv.depth + 1
	if reason, tripped := inv.stop.CheckDepth(next, inv.budget.Spec().MaxRecursionDepth); tripped {
		inv.tripStop(reason)
		return nil, &models.StopConditionError{Reason: reason}
	}
	if err := inv.budget.ObserveDepth(next); err != nil {
		inv.control.RequestStop(err.Error())
		return nil, err
	}
	child := *inv
	child.depth = next
	return &child, nil
}

// Invoke performs one validated tool call.
func (inv *Invoker) Invoke(ctx context.Context, toolName string, input map[string]interface{}) (map[string]interface{}, error) {
	if inv.control.StopRequested() {
		return nil, ErrRunStopping
	}

	t, err := inv.registry.Lookup(toolName)
	if err != nil {
		return nil, err
	}

	inputHash, err := Hash(input)
	if err != nil {
		return nil, &models.ToolValidationError{Tool: toolName, Problems: []string{err.Error()}}
	}

	// Stop-condition veto: an over-repeated identical call never starts.
	if reason, tripped := inv.stop.CheckRepeat(inv.taskID, toolName, inputHash); tripped {
		inv.tripStop(reason)
		return nil, &models.StopConditionError{Reason: reason}
	}

	// Budget veto: a call that would exceed the tool-call ceiling never
	// starts; only BudgetExceeded is emitted.
	if err := inv.budget.Charge(models.ResourceToolCalls, 1); err != nil {
		inv.control.RequestStop(err.Error())
		return nil, err
	}

	callID := models.NewToolCallID()
	started := models.ToolCallStartedPayload{
		CallID:     callID,
		TaskID:     inv.taskID,
		Tool:       toolName,
		Version:    t.Version(),
		SideEffect: t.SideEffect(),
		InputHash:  inputHash,
		Input:      input,
	}
	if _, err := inv.control.Emit(models.EventToolCallStarted, started); err != nil {
		// Append failure is a storage failure: fatal to the run.
		inv.control.RequestStop(err.Error())
		return nil, err
	}
	startedAt := time.Now()

	finish := func(success bool, output map[string]interface{}, outputHash, errMsg string) error {
		_, emitErr := inv.control.Emit(models.EventToolCallFinished, models.ToolCallFinishedPayload{
			CallID:     callID,
			TaskID:     inv.taskID,
			Tool:       toolName,
			Version:    t.Version(),
			Success:    success,
			InputHash:  inputHash,
			OutputHash: outputHash,
			Output:     output,
			Error:      errMsg,
			DurationMs: time.Since(startedAt).Milliseconds(),
		})
		return emitErr
	}

	if problems := t.InputContract().Check(normalize(input)); len(problems) > 0 {
		verr := &models.ToolValidationError{Tool: toolName, Problems: problems}
		if err := finish(false, nil, "", verr.Error()); err != nil {
			inv.control.RequestStop(err.Error())
		}
		return nil, verr
	}

	if err := inv.permissions.Authorize(ctx, inv.taskID, callID, toolName, t.SideEffect()); err != nil {
		if emitErr := finish(false, nil, "", err.Error()); emitErr != nil {
			inv.control.RequestStop(emitErr.Error())
		}
		return nil, err
	}

	output, execErr := t.Execute(ctx, input)
	if execErr != nil {
		taskErr := &models.TaskExecutionError{TaskID: inv.taskID, Tool: toolName, Cause: execErr}
		if err := finish(false, nil, "", taskErr.Error()); err != nil {
			inv.control.RequestStop(err.Error())
		}
		return nil, taskErr
	}

	if problems := t.OutputContract().Check(normalize(output)); len(problems) > 0 {
		verr := &models.ToolValidationError{Tool: toolName, Problems: problems}
		if err := finish(false, nil, "", verr.Error()); err != nil {
			inv.control.RequestStop(err.Error())
		}
		return nil, verr
	}

	outputHash, err := Hash(output)
	if err != nil {
		verr := &models.ToolValidationError{Tool: toolName, Problems: []string{err.Error()}}
		if emitErr := finish(false, nil, "", verr.Error()); emitErr != nil {
			inv.control.RequestStop(emitErr.Error())
		}
		return nil, verr
	}

	if err := finish(true, output, outputHash, ""); err != nil {
		inv.control.RequestStop(err.Error())
		return nil, err
	}

	if err := inv.chargeConsumption(output); err != nil {
		return nil, err
	}

	if t.SideEffect() == models.SideEffectWrite || t.SideEffect() == models.SideEffectDestructive {
		if err := inv.recordArtifact(output, outputHash); err != nil {
			return nil, err
		}
	}

	return output, nil
}

// chargeConsumption charges the tokens the call actually consumed, as
// reported by the tool through the "tokens_used" output convention.
func (inv *Invoker) chargeConsumption(output map[string]interface{}) error {
	tokens, ok := numericOutput(output, "tokens_used")
	if !ok || tokens <= 0 {
		return nil
	}
	if err := inv.budget.Charge(models.ResourceTokens, tokens); err != nil {
		inv.control.RequestStop(err.Error())
		return err
	}
	return nil
}

// recordArtifact emits ArtifactCreated for a successful WRITE/DESTRUCTIVE
// call that reported a produced path.
func (inv *Invoker) recordArtifact(output map[string]interface{}, outputHash string) error {
	path, ok := output["path"].(string)
	if !ok || path == "" {
		return nil
	}
	meta := models.ArtifactMeta{
		ID:             models.NewArtifactID(),
		Path:           path,
		SHA256:         outputHash,
		ProducedByTask: inv.taskID,
		MediaType:      "application/octet-stream",
	}
	if sha, ok := output["sha256"].(string); ok && sha != "" {
		meta.SHA256 = sha
	}
	if mt, ok := output["media_type"].(string); ok && mt != "" {
		meta.MediaType = mt
	}
	if _, err := inv.control.Emit(models.EventArtifactCreated, models.ArtifactCreatedPayload{Artifact: meta}); err != nil {
		inv.control.RequestStop(err.Error())
		return err
	}
	return nil
}

func (inv *Invoker) tripStop(reason string) {
	inv.control.TripStopCondition(reason)
}

// normalize round-trips a value through JSON typing so contract checks see
// the same shapes regardless of how the caller built the map.
func normalize(v map[string]interface{}) interface{} {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(canonical, &out); err != nil {
		return v
	}
	return out
}

func numericOutput(output map[string]interface{}, key string) (int64, bool) {
	switch n := output[key].(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
