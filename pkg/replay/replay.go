// Package replay reconstructs finished runs from their event logs. Strict
// replay folds the recorded stream into derived state without executing
// anything; re-execution replay additionally re-invokes deterministic tools
// with their recorded inputs and reports output divergences. Replay never
// appends to the log.
package replay

import (
	"context"

	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/storage"
	"github.com/ignatij/agentkernel/pkg/tool"
	"github.com/pkg/errors"
)

// Mode selects the replay strategy.
type Mode string

const (
	// StrictMode rebuilds state purely from the log.
	StrictMode Mode = "STRICT"
	// ReexecuteMode additionally re-runs PURE and READ tools with their
	// recorded inputs and compares output hashes.
	ReexecuteMode Mode = "REEXECUTE"
)

// Divergence records one tool call whose re-executed output differs from
// the logged one.
type Divergence struct {
	Seq          int64             `json:"seq"`
	CallID       models.ToolCallID `json:"call_id"`
	Tool         string            `json:"tool"`
	RecordedHash string            `json:"recorded_hash"`
	ReplayedHash string            `json:"replayed_hash,omitempty"`
	Detail       string            `json:"detail"`
}

// Report is the result of replaying a run.
type Report struct {
	RunID       models.RunID          `json:"run_id"`
	Mode        Mode                  `json:"mode"`
	Projection  *models.RunProjection `json:"projection"`
	Reexecuted  int                   `json:"reexecuted"`
	SkippedSide int                   `json:"skipped_side_effecting"`
	Divergences []Divergence          `json:"divergences,omitempty"`
}

// Deterministic reports whether re-execution found no divergences. A strict
// replay is deterministic by construction.
func (r *Report) Deterministic() bool {
	return len(r.Divergences) == 0
}

// Engine replays runs against the current tool registry.
type Engine struct {
	store    storage.EventStore
	registry *tool.Registry
}

func NewEngine(store storage.EventStore, registry *tool.Registry) *Engine {
	return &Engine{store: store, registry: registry}
}

// Replay reconstructs the run in the given mode.
func (e *Engine) Replay(ctx context.Context, runID models.RunID, mode Mode) (*Report, error) {
	run, err := e.store.GetRun(runID)
	if err != nil {
		return nil, errors.Wrapf(err, "run %s not found", runID)
	}
	if !run.Status.IsTerminal() {
		return nil, errors.Errorf("run %s has not finished (status %s)", runID, run.Status)
	}

	events, err := e.store.ListEvents(runID, -1)
	if err != nil {
		return nil, err
	}
	proj, err := models.BuildRunProjection(runID, events)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: runID, Mode: mode, Projection: proj}
	switch mode {
	case StrictMode:
		return report, nil
	case ReexecuteMode:
		if err := e.reexecute(ctx, events, report); err != nil {
			return nil, err
		}
		return report, nil
	default:
		return nil, errors.Errorf("unknown replay mode '%s'", mode)
	}
}

// reexecute re-runs every successfully finished deterministic tool call with
// its recorded input. WRITE and DESTRUCTIVE calls are never re-run: their
// side effects already happened.
func (e *Engine) reexecute(ctx context.Context, events []models.Event, report *Report) error {
	inputs := make(map[models.ToolCallID]map[string]interface{})
	sideEffects := make(map[models.ToolCallID]models.SideEffect)

	for _, ev := range events {
		switch ev.Type {
		case models.EventToolCallStarted:
			var p models.ToolCallStartedPayload
			if err := ev.DecodePayload(&p); err != nil {
				return err
			}
			inputs[p.CallID] = p.Input
			sideEffects[p.CallID] = p.SideEffect

		case models.EventToolCallFinished:
			var p models.ToolCallFinishedPayload
			if err := ev.DecodePayload(&p); err != nil {
				return err
			}
			if !p.Success {
				continue
			}
			if !sideEffects[p.CallID].Deterministic() {
				report.SkippedSide++
				continue
			}
			e.reexecuteCall(ctx, ev.Seq, p, inputs[p.CallID], report)
		}
	}
	return nil
}

func (e *Engine) reexecuteCall(
	ctx context.Context,
	seq int64,
	rec models.ToolCallFinishedPayload,
	input map[string]interface{},
	report *Report,
) {
	diverge := func(replayedHash, detail string) {
		report.Divergences = append(report.Divergences, Divergence{
			Seq:          seq,
			CallID:       rec.CallID,
			Tool:         rec.Tool,
			RecordedHash: rec.OutputHash,
			ReplayedHash: replayedHash,
			Detail:       detail,
		})
	}

	t, err := e.registry.Lookup(rec.Tool)
	if err != nil {
		diverge("", "tool no longer registered")
		return
	}
	if t.Version() != rec.Version {
		diverge("", errors.Errorf("tool version changed: recorded %s, registered %s", rec.Version, t.Version()).Error())
		return
	}
	if input == nil {
		diverge("", "recorded call carries no input; cannot re-execute")
		return
	}

	report.Reexecuted++
	output, execErr := t.Execute(ctx, input)
	if execErr != nil {
		diverge("", "re-execution failed: "+execErr.Error())
		return
	}
	replayedHash, hashErr := tool.Hash(output)
	if hashErr != nil {
		diverge("", "re-executed output not hashable: "+hashErr.Error())
		return
	}
	if replayedHash != rec.OutputHash {
		diverge(replayedHash, "output hash mismatch")
	}
}

// CompareRuns structurally compares two runs' event streams: same event
// types in the same order with matching tool names and input hashes. Used to
// verify that a re-run of the same workflow took the same path.
func (e *Engine) CompareRuns(a, b models.RunID) ([]string, error) {
	eventsA, err := e.store.ListEvents(a, -1)
	if err != nil {
		return nil, err
	}
	eventsB, err := e.store.ListEvents(b, -1)
	if err != nil {
		return nil, err
	}

	var diffs []string
	n := len(eventsA)
	if len(eventsB) < n {
		n = len(eventsB)
	}
	if len(eventsA) != len(eventsB) {
		diffs = append(diffs, errors.Errorf("stream length differs: %d vs %d", len(eventsA), len(eventsB)).Error())
	}
	for i := 0; i < n; i++ {
		ea, eb := eventsA[i], eventsB[i]
		if ea.Type != eb.Type {
			diffs = append(diffs, errors.Errorf("seq %d: event type %s vs %s", i, ea.Type, eb.Type).Error())
			continue
		}
		if ea.Type != models.EventToolCallStarted {
			continue
		}
		var pa, pb models.ToolCallStartedPayload
		if err := ea.DecodePayload(&pa); err != nil {
			return nil, err
		}
		if err := eb.DecodePayload(&pb); err != nil {
			return nil, err
		}
		if pa.Tool != pb.Tool || pa.InputHash != pb.InputHash {
			diffs = append(diffs, errors.Errorf("seq %d: tool call %s(%s) vs %s(%s)",
				i, pa.Tool, pa.InputHash, pb.Tool, pb.InputHash).Error())
		}
	}
	return diffs, nil
}
