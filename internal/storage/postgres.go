package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
// Two concurrent appenders racing for the same seq produce it; the loser
// retries with a fresh MAX(seq) read.
const uniqueViolation = "23505"

type runRow struct {
	ID        models.RunID     `db:"id"`
	Name      string           `db:"name"`
	Status    models.RunStatus `db:"status"`
	Graph     []byte           `db:"graph"`
	Budget    []byte           `db:"budget"`
	Policy    []byte           `db:"policy"`
	CreatedAt time.Time        `db:"created_at"`
	UpdatedAt time.Time        `db:"updated_at"`
}

// PostgresStore implements storage.EventStore on Postgres. Sequence numbers
// are assigned inside the insert itself so concurrent appends to the same
// run serialize on the (run_id, seq) primary key rather than on an
// application lock.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// AppendEvent appends one event to the run's stream and returns its seq.
// The next seq is computed in the INSERT's subquery; a primary key conflict
// means another appender won the race and the insert retries.
func (s *PostgresStore) AppendEvent(runID models.RunID, eventType models.EventType, payload interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrapf(err, "marshal %s payload", eventType)
	}

	var seq int64
	attempt := func() error {
		err := s.db.QueryRowx(`
			INSERT INTO events (run_id, seq, timestamp, event_type, payload)
			SELECT $1, COALESCE(MAX(seq) + 1, 0), $2, $3, $4
			FROM events WHERE run_id = $1
			RETURNING seq`,
			runID, time.Now().UTC(), eventType, raw).Scan(&seq)
		if err == nil {
			return nil
		}
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return err // retryable: lost the seq race
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10)
	if err := backoff.Retry(attempt, policy); err != nil {
		return 0, errors.Wrapf(err, "append %s event for run %s", eventType, runID)
	}
	return seq, nil
}

func (s *PostgresStore) ListEvents(runID models.RunID, afterSeq int64) ([]models.Event, error) {
	events := []models.Event{}
	err := s.db.Select(&events, `
		SELECT run_id, seq, timestamp, event_type, payload
		FROM events WHERE run_id = $1 AND seq > $2
		ORDER BY seq`,
		runID, afterSeq)
	if err != nil {
		return nil, errors.Wrapf(err, "list events for run %s", runID)
	}
	return events, nil
}

func (s *PostgresStore) ListEventsByType(runID models.RunID, eventType models.EventType) ([]models.Event, error) {
	events := []models.Event{}
	err := s.db.Select(&events, `
		SELECT run_id, seq, timestamp, event_type, payload
		FROM events WHERE run_id = $1 AND event_type = $2
		ORDER BY seq`,
		runID, eventType)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s events for run %s", eventType, runID)
	}
	return events, nil
}

func (s *PostgresStore) SaveRun(run models.Run) error {
	graph, err := json.Marshal(run.Graph)
	if err != nil {
		return errors.Wrap(err, "marshal graph")
	}
	budget, err := json.Marshal(run.Budget)
	if err != nil {
		return errors.Wrap(err, "marshal budget")
	}
	policy, err := json.Marshal(run.Policy)
	if err != nil {
		return errors.Wrap(err, "marshal policy")
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, name, status, graph, budget, policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Name, run.Status, graph, budget, policy, run.CreatedAt, run.UpdatedAt)
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
		return storage.ErrRunExists
	}
	if err != nil {
		return errors.Wrapf(err, "save run '%s'", run.Name)
	}
	return nil
}

func (s *PostgresStore) GetRun(id models.RunID) (models.Run, error) {
	var row runRow
	err := s.db.Get(&row, `
		SELECT id, name, status, graph, budget, policy, created_at, updated_at
		FROM runs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return models.Run{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Run{}, errors.Wrapf(err, "get run %s", id)
	}
	return row.toRun()
}

func (s *PostgresStore) ListRuns() ([]models.Run, error) {
	rows := []runRow{}
	err := s.db.Select(&rows, `
		SELECT id, name, status, graph, budget, policy, created_at, updated_at
		FROM runs ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	runs := make([]models.Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *PostgresStore) UpdateRunStatus(id models.RunID, status models.RunStatus) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		status, id)
	if err != nil {
		return errors.Wrapf(err, "update run %s status", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r runRow) toRun() (models.Run, error) {
	run := models.Run{
		ID:        r.ID,
		Name:      r.Name,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Graph, &run.Graph); err != nil {
		return models.Run{}, errors.Wrapf(err, "decode graph for run %s", r.ID)
	}
	if err := json.Unmarshal(r.Budget, &run.Budget); err != nil {
		return models.Run{}, errors.Wrapf(err, "decode budget for run %s", r.ID)
	}
	if err := json.Unmarshal(r.Policy, &run.Policy); err != nil {
		return models.Run{}, errors.Wrapf(err, "decode policy for run %s", r.ID)
	}
	return run, nil
}
