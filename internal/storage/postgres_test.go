package storage_test

import (
	"sync"
	"testing"
	"time"

	internal_storage "github.com/ignatij/agentkernel/internal/storage"
	"github.com/ignatij/agentkernel/internal/testutil"
	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/ignatij/agentkernel/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRun(name string) models.Run {
	return models.Run{
		ID:     models.NewRunID(),
		Name:   name,
		Status: models.CreatedRunStatus,
		Graph: models.Graph{
			Workflow: name,
			Tasks:    []models.TaskSpec{{ID: "t1", Name: "only task"}},
		},
		Budget: models.BudgetSpec{
			MaxTokens:         1000,
			MaxToolCalls:      10,
			MaxTimeSeconds:    60,
			MaxRecursionDepth: 3,
			MaxParallel:       2,
		},
		Policy:    models.AllowAll(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestPostgresStore(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)

	newTestStore := func(t *testing.T) *internal_storage.PostgresStore {
		store, err := internal_storage.NewPostgresStore(testDB.ConnStr)
		require.NoError(t, err)
		t.Cleanup(func() {
			_, err := testDB.DB.Exec("TRUNCATE TABLE events, runs CASCADE")
			assert.NoError(t, err)
			store.Close()
		})
		return store
	}

	t.Run("SaveRun", func(t *testing.T) {
		store := newTestStore(t)
		run := testRun("SaveRunTest")
		require.NoError(t, store.SaveRun(run))

		saved, err := store.GetRun(run.ID)
		assert.NoError(t, err)
		assert.Equal(t, run.Name, saved.Name)
		assert.Equal(t, models.CreatedRunStatus, saved.Status)
		assert.Equal(t, run.Graph.Tasks, saved.Graph.Tasks)
		assert.Equal(t, run.Budget, saved.Budget)
	})

	t.Run("SaveDuplicateRun", func(t *testing.T) {
		store := newTestStore(t)
		run := testRun("DuplicateTest")
		require.NoError(t, store.SaveRun(run))
		assert.ErrorIs(t, store.SaveRun(run), storage.ErrRunExists)
	})

	t.Run("GetNonExistingRun", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.GetRun(models.NewRunID())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		store := newTestStore(t)
		run := testRun("UpdateStatusTest")
		require.NoError(t, store.SaveRun(run))

		require.NoError(t, store.UpdateRunStatus(run.ID, models.RunningRunStatus))
		updated, err := store.GetRun(run.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.RunningRunStatus, updated.Status)

		assert.ErrorIs(t, store.UpdateRunStatus(models.NewRunID(), models.FailedRunStatus), storage.ErrNotFound)
	})

	t.Run("AppendEventAssignsContiguousSeqs", func(t *testing.T) {
		store := newTestStore(t)
		run := testRun("AppendTest")
		require.NoError(t, store.SaveRun(run))

		for i := 0; i < 5; i++ {
			seq, err := store.AppendEvent(run.ID, models.EventBudgetUpdated, models.BudgetUpdatedPayload{
				Resource: models.ResourceTokens,
				Amount:   int64(i),
			})
			require.NoError(t, err)
			assert.Equal(t, int64(i), seq)
		}

		events, err := store.ListEvents(run.ID, -1)
		require.NoError(t, err)
		require.Len(t, events, 5)
		for i, e := range events {
			assert.Equal(t, int64(i), e.Seq)
			assert.Equal(t, models.EventBudgetUpdated, e.Type)
		}
	})

	t.Run("ConcurrentAppendsStayGapless", func(t *testing.T) {
		store := newTestStore(t)
		run := testRun("ConcurrentAppendTest")
		require.NoError(t, store.SaveRun(run))

		const appenders = 8
		const perAppender = 10
		var wg sync.WaitGroup
		for i := 0; i < appenders; i++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				for j := 0; j < perAppender; j++ {
					_, err := store.AppendEvent(run.ID, models.EventBudgetUpdated, models.BudgetUpdatedPayload{
						Resource: models.ResourceTokens,
						Amount:   int64(worker*perAppender + j),
					})
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		events, err := store.ListEvents(run.ID, -1)
		require.NoError(t, err)
		require.Len(t, events, appenders*perAppender)
		for i, e := range events {
			assert.Equal(t, int64(i), e.Seq)
		}
	})

	t.Run("ListEventsAfterSeq", func(t *testing.T) {
		store := newTestStore(t)
		run := testRun("AfterSeqTest")
		require.NoError(t, store.SaveRun(run))

		for i := 0; i < 4; i++ {
			_, err := store.AppendEvent(run.ID, models.EventBudgetUpdated, models.BudgetUpdatedPayload{Resource: models.ResourceTokens})
			require.NoError(t, err)
		}

		events, err := store.ListEvents(run.ID, 1)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(2), events[0].Seq)
		assert.Equal(t, int64(3), events[1].Seq)
	})

	t.Run("ListEventsByType", func(t *testing.T) {
		store := newTestStore(t)
		run := testRun("ByTypeTest")
		require.NoError(t, store.SaveRun(run))

		_, err := store.AppendEvent(run.ID, models.EventRunStarted, models.RunStartedPayload{Workflow: run.Name, TaskCount: 1})
		require.NoError(t, err)
		_, err = store.AppendEvent(run.ID, models.EventBudgetUpdated, models.BudgetUpdatedPayload{Resource: models.ResourceTokens})
		require.NoError(t, err)
		_, err = store.AppendEvent(run.ID, models.EventBudgetUpdated, models.BudgetUpdatedPayload{Resource: models.ResourceToolCalls})
		require.NoError(t, err)

		events, err := store.ListEventsByType(run.ID, models.EventBudgetUpdated)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(1), events[0].Seq)
		assert.Equal(t, int64(2), events[1].Seq)
	})

	t.Run("ListRuns", func(t *testing.T) {
		store := newTestStore(t)
		run1 := testRun("Run 1")
		run1.CreatedAt = time.Now().Add(-2 * time.Hour).UTC()
		run2 := testRun("Run 2")
		run2.CreatedAt = time.Now().Add(-1 * time.Hour).UTC()
		require.NoError(t, store.SaveRun(run1))
		require.NoError(t, store.SaveRun(run2))

		runs, err := store.ListRuns()
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, run1.ID, runs[0].ID)
		assert.Equal(t, run2.ID, runs[1].ID)
	})
}
