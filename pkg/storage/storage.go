package storage

import (
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a run or event range does not exist.
var ErrNotFound = errors.New("not found")

// ErrRunExists is returned when saving a run whose ID is already taken.
var ErrRunExists = errors.New("run already exists")

// EventStore is the persistence boundary of the kernel. AppendEvent is the
// only write primitive for run state: the seq it returns is contiguous from
// 0 and assigned atomically per run, so two concurrent appenders never
// receive the same value. Once AppendEvent returns, the event is durable;
// an append failure is fatal to the run.
type EventStore interface {
	// AppendEvent marshals the payload and appends an event to the run's
	// stream, returning the assigned sequence number.
	AppendEvent(runID models.RunID, eventType models.EventType, payload interface{}) (int64, error)

	// ListEvents returns events with seq > afterSeq in ascending seq order
	// with no gaps relative to what has been appended. Pass afterSeq -1 for
	// the full stream.
	ListEvents(runID models.RunID, afterSeq int64) ([]models.Event, error)

	// ListEventsByType returns the run's events of one type, ascending.
	ListEventsByType(runID models.RunID, eventType models.EventType) ([]models.Event, error)

	// Run registry operations. The registry holds only declared inputs and
	// the coarse status; all derived state lives in the event stream.
	SaveRun(run models.Run) error
	GetRun(id models.RunID) (models.Run, error)
	ListRuns() ([]models.Run, error)
	UpdateRunStatus(id models.RunID, status models.RunStatus) error

	Close() error
}
