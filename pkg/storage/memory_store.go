package storage

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/pkg/errors"
)

// runStream holds one run's event slice behind its own mutex so appends to
// independent runs never contend.
type runStream struct {
	mu     sync.Mutex
	events []models.Event
}

// MemoryStore implements EventStore with in-memory storage. It backs unit
// tests and single-process deployments that do not need durability across
// restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[models.RunID]models.Run
	streams map[models.RunID]*runStream
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[models.RunID]models.Run),
		streams: make(map[models.RunID]*runStream),
	}
}

func (m *MemoryStore) stream(runID models.RunID) *runStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[runID]
	if !ok {
		s = &runStream{}
		m.streams[runID] = s
	}
	return s
}

func (m *MemoryStore) AppendEvent(runID models.RunID, eventType models.EventType, payload interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrapf(err, "marshal %s payload", eventType)
	}

	s := m.stream(runID)
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := int64(len(s.events))
	s.events = append(s.events, models.Event{
		RunID:     runID,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Payload:   raw,
	})
	return seq, nil
}

func (m *MemoryStore) ListEvents(runID models.RunID, afterSeq int64) ([]models.Event, error) {
	s := m.stream(runID)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListEventsByType(runID models.RunID, eventType models.EventType) ([]models.Event, error) {
	s := m.stream(runID)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveRun(run models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return ErrRunExists
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) GetRun(id models.RunID) (models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	return run, nil
}

func (m *MemoryStore) ListRuns() ([]models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]models.Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

func (m *MemoryStore) UpdateRunStatus(id models.RunID, status models.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	m.runs[id] = run
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
