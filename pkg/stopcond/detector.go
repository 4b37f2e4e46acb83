// Package stopcond watches a run's event stream for pathological execution
// patterns: runaway recursion, identical repeated tool calls, excessive
// failures and no-progress loops. The detector only watches; it never
// blocks normal progress.
package stopcond

import (
	"fmt"
	"sync"

	"github.com/ignatij/agentkernel/pkg/models"
)

// Config holds the detection thresholds.
type Config struct {
	// MaxRepeatedCalls is how many consecutive identical tool calls (same
	// tool name and input hash) one task may make before the next attempt
	// trips the detector.
	MaxRepeatedCalls int
	// FailureRatio is the failed/finished task ratio that trips the
	// detector once at least MinFinishedTasks have finished.
	FailureRatio     float64
	MinFinishedTasks int
	// NoProgressCalls is how many consecutive tool calls may complete with
	// no new artifact and no task state change.
	NoProgressCalls int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MaxRepeatedCalls: 3,
		FailureRatio:     0.5,
		MinFinishedTasks: 4,
		NoProgressCalls:  10,
	}
}

// Detector is a pure function of the event stream for one run: feed it
// every appended event through Observe and it accumulates the counters the
// stop conditions are defined over.
type Detector struct {
	cfg Config

	mu                 sync.Mutex
	lastCallKey        map[models.TaskID]string
	repeatCount        map[models.TaskID]int
	finishedTasks      int
	failedTasks        int
	callsSinceProgress int
	reason             string
	triggered          bool
}

func NewDetector(cfg Config) *Detector {
	if cfg.MaxRepeatedCalls <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{
		cfg:         cfg,
		lastCallKey: make(map[models.TaskID]string),
		repeatCount: make(map[models.TaskID]int),
	}
}

// Observe folds one appended event into the detector state and re-evaluates
// all conditions.
func (d *Detector) Observe(e models.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch e.Type {
	case models.EventToolCallStarted:
		var p models.ToolCallStartedPayload
		if err := e.DecodePayload(&p); err != nil {
			return
		}
		key := callKey(p.Tool, p.InputHash)
		if d.lastCallKey[p.TaskID] == key {
			d.repeatCount[p.TaskID]++
		} else {
			d.lastCallKey[p.TaskID] = key
			d.repeatCount[p.TaskID] = 1
		}
		d.callsSinceProgress++
		if d.repeatCount[p.TaskID] > d.cfg.MaxRepeatedCalls {
			d.tripLocked(fmt.Sprintf("task %s repeated identical tool call %s %d times",
				p.TaskID, key, d.repeatCount[p.TaskID]))
		}
		if d.callsSinceProgress >= d.cfg.NoProgressCalls {
			d.tripLocked(fmt.Sprintf("no progress: %d consecutive tool calls without a new artifact or task state change",
				d.callsSinceProgress))
		}

	case models.EventArtifactCreated:
		d.callsSinceProgress = 0

	case models.EventTaskFinished:
		var p models.TaskFinishedPayload
		if err := e.DecodePayload(&p); err != nil {
			return
		}
		d.callsSinceProgress = 0
		d.finishedTasks++
		if p.State == models.FailedTaskState {
			d.failedTasks++
		}
		if d.finishedTasks >= d.cfg.MinFinishedTasks {
			ratio := float64(d.failedTasks) / float64(d.finishedTasks)
			if ratio >= d.cfg.FailureRatio {
				d.tripLocked(fmt.Sprintf("excessive task failures: %d of %d finished tasks failed",
					d.failedTasks, d.finishedTasks))
			}
		}
	}
}

// CheckRepeat reports whether one more call with this tool name and input
// hash would cross the repeat threshold. Used as a pre-dispatch veto so the
// offending call's body never executes.
func (d *Detector) CheckRepeat(taskID models.TaskID, tool, inputHash string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := callKey(tool, inputHash)
	if d.lastCallKey[taskID] == key && d.repeatCount[taskID] >= d.cfg.MaxRepeatedCalls {
		reason := fmt.Sprintf("task %s repeated identical tool call %s %d times", taskID, key, d.repeatCount[taskID])
		d.tripLocked(reason)
		return reason, true
	}
	return "", false
}

// CheckDepth is the recursion fast path: it trips when nesting goes beyond
// the budget cap even before a formal budget charge.
func (d *Detector) CheckDepth(depth, maxDepth int64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if depth > maxDepth {
		reason := fmt.Sprintf("recursion depth %d beyond budget cap %d", depth, maxDepth)
		d.tripLocked(reason)
		return reason, true
	}
	return "", false
}

// Triggered reports whether any stop condition has matched, with the reason.
func (d *Detector) Triggered() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reason, d.triggered
}

func (d *Detector) tripLocked(reason string) {
	if d.triggered {
		return
	}
	d.triggered = true
	d.reason = reason
}

func callKey(tool, inputHash string) string {
	return tool + ":" + inputHash
}
