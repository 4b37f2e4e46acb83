package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/stopcond"
	"github.com/ignatij/agentkernel/pkg/storage"
)

// runController owns one live run's event emission and cooperative
// cancellation. Every append flows through Emit so the stop-condition
// detector observes the exact stream the log records.
type runController struct {
	run      models.Run
	store    storage.EventStore
	detector *stopcond.Detector
	logger   Logger

	stopMu     sync.Mutex
	stopped    bool
	stopReason string
	stopCh     chan struct{}

	tripOnce sync.Once
}

func newRunController(run models.Run, store storage.EventStore, detector *stopcond.Detector, logger Logger) *runController {
	return &runController{
		run:      run,
		store:    store,
		detector: detector,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Emit appends an event, feeds the detector, and trips the abort path if a
// stop condition has matched. Append failures are retried briefly; a
// persistent storage failure is fatal to the run.
func (rc *runController) Emit(eventType models.EventType, payload interface{}) (int64, error) {
	seq, err := rc.append(eventType, payload)
	if err != nil {
		rc.logger.Errorf("Run %s: failed to append %s event: %v", rc.run.ID, eventType, err)
		rc.RequestStop("event store append failed: " + err.Error())
		return 0, err
	}

	raw, marshalErr := json.Marshal(payload)
	if marshalErr == nil {
		rc.detector.Observe(models.Event{
			RunID:     rc.run.ID,
			Seq:       seq,
			Timestamp: time.Now().UTC(),
			Type:      eventType,
			Payload:   raw,
		})
	}

	if eventType != models.EventStopConditionTriggered {
		if reason, triggered := rc.detector.Triggered(); triggered {
			rc.TripStopCondition(reason)
		}
	}
	return seq, nil
}

func (rc *runController) append(eventType models.EventType, payload interface{}) (int64, error) {
	var seq int64
	operation := func() error {
		var err error
		seq, err = rc.store.AppendEvent(rc.run.ID, eventType, payload)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, policy); err != nil {
		return 0, err
	}
	return seq, nil
}

// StopRequested reports whether the run has entered cooperative shutdown.
func (rc *runController) StopRequested() bool {
	rc.stopMu.Lock()
	defer rc.stopMu.Unlock()
	return rc.stopped
}

// StopCh closes once a stop has been requested. Waits that must not outlive
// the run, such as pending approvals, select on it.
func (rc *runController) StopCh() <-chan struct{} {
	return rc.stopCh
}

// StopReason returns the first recorded stop reason, if any.
func (rc *runController) StopReason() string {
	rc.stopMu.Lock()
	defer rc.stopMu.Unlock()
	return rc.stopReason
}

// RequestStop sets the cooperative cancellation flag. In-flight tool calls
// finish and their events are still recorded; nothing new is dispatched.
func (rc *runController) RequestStop(reason string) {
	rc.stopMu.Lock()
	defer rc.stopMu.Unlock()
	if rc.stopped {
		return
	}
	rc.stopped = true
	rc.stopReason = reason
	close(rc.stopCh)
	rc.logger.Infof("Run %s: stop requested: %s", rc.run.ID, reason)
}

// TripStopCondition emits StopConditionTriggered exactly once and requests
// run abort through the same path as a budget violation.
func (rc *runController) TripStopCondition(reason string) {
	rc.tripOnce.Do(func() {
		if _, err := rc.append(models.EventStopConditionTriggered, models.StopConditionPayload{Reason: reason}); err != nil {
			rc.logger.Errorf("Run %s: failed to append StopConditionTriggered: %v", rc.run.ID, err)
		}
		rc.RequestStop(reason)
	})
}
