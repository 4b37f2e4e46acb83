// Package policy evaluates tool calls against a side-effect policy before
// execution.
package policy

import (
	"context"
	"fmt"

	"github.com/ignatij/agentkernel/pkg/models"
)

// Emitter appends an event to the owning run's stream.
type Emitter interface {
	Emit(eventType models.EventType, payload interface{}) (int64, error)
}

// Engine evaluates each tool call's side-effect class against the run's
// policy. Every verdict, including a plain allow, is recorded as a
// PolicyDecision event for auditability.
type Engine struct {
	policy models.Policy
	emit   Emitter
	broker *ApprovalBroker
	stop   <-chan struct{}
}

func NewEngine(policy models.Policy, emitter Emitter, broker *ApprovalBroker) *Engine {
	return &Engine{policy: policy, emit: emitter, broker: broker}
}

// BindStop makes pending approval waits abandon when the channel closes,
// in addition to context cancellation. Without it a run entering cooperative
// shutdown would stay alive until an external actor resolved the approval.
func (e *Engine) BindStop(stop <-chan struct{}) {
	e.stop = stop
}

// Broker returns the approval broker used for RequireApproval verdicts.
func (e *Engine) Broker() *ApprovalBroker {
	return e.broker
}

// Authorize decides whether a tool call may proceed. Deny returns a
// PermissionDeniedError and the tool body never executes. RequireApproval
// blocks until an external actor resolves the request; the request ID is
// "<task>/<call>".
func (e *Engine) Authorize(ctx context.Context, taskID models.TaskID, callID models.ToolCallID, tool string, sideEffect models.SideEffect) error {
	action, reason := e.policy.Evaluate(tool, sideEffect)

	if _, err := e.emit.Emit(models.EventPolicyDecision, models.PolicyDecisionPayload{
		TaskID:     taskID,
		Tool:       tool,
		SideEffect: sideEffect,
		Action:     action,
		Reason:     reason,
	}); err != nil {
		return err
	}

	switch action {
	case models.PolicyAllow:
		return nil

	case models.PolicyRequireApproval:
		requestID := fmt.Sprintf("%s/%s", taskID, callID)
		waitCtx := ctx
		if e.stop != nil {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-e.stop:
					cancel()
				case <-waitCtx.Done():
				}
			}()
		}
		approved, err := e.broker.Await(waitCtx, requestID)
		if err != nil {
			return err
		}
		verdict := models.PolicyDeny
		verdictReason := "approval denied"
		if approved {
			verdict = models.PolicyAllow
			verdictReason = "approval granted"
		}
		if _, err := e.emit.Emit(models.EventPolicyDecision, models.PolicyDecisionPayload{
			TaskID:     taskID,
			Tool:       tool,
			SideEffect: sideEffect,
			Action:     verdict,
			Reason:     verdictReason,
		}); err != nil {
			return err
		}
		if !approved {
			return &models.PermissionDeniedError{Tool: tool, SideEffect: sideEffect, Reason: verdictReason}
		}
		return nil

	default: // models.PolicyDeny
		if reason == "" {
			reason = "denied by policy"
		}
		return &models.PermissionDeniedError{Tool: tool, SideEffect: sideEffect, Reason: reason}
	}
}
