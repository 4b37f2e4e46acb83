package models_test

import (
	"testing"

	"github.com/ignatij/agentkernel/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphValidate(t *testing.T) {
	t.Run("ValidLinearGraph", func(t *testing.T) {
		g := models.Graph{
			Workflow: "linear",
			Tasks: []models.TaskSpec{
				{ID: "t1", Name: "first"},
				{ID: "t2", Name: "second", Dependencies: []models.TaskID{"t1"}},
				{ID: "t3", Name: "third", Dependencies: []models.TaskID{"t2"}},
			},
		}
		assert.NoError(t, g.Validate())
	})

	t.Run("EmptyTaskID", func(t *testing.T) {
		g := models.Graph{Workflow: "bad", Tasks: []models.TaskSpec{{ID: ""}}}
		assert.Error(t, g.Validate())
	})

	t.Run("DuplicateTaskID", func(t *testing.T) {
		g := models.Graph{
			Workflow: "bad",
			Tasks:    []models.TaskSpec{{ID: "t1"}, {ID: "t1"}},
		}
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate task id")
	})

	t.Run("SelfDependency", func(t *testing.T) {
		g := models.Graph{
			Workflow: "bad",
			Tasks:    []models.TaskSpec{{ID: "t1", Dependencies: []models.TaskID{"t1"}}},
		}
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "depends on itself")
	})

	t.Run("UnknownDependency", func(t *testing.T) {
		g := models.Graph{
			Workflow: "bad",
			Tasks:    []models.TaskSpec{{ID: "t1", Dependencies: []models.TaskID{"ghost"}}},
		}
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in graph")
	})

	t.Run("Cycle", func(t *testing.T) {
		g := models.Graph{
			Workflow: "cyclic",
			Tasks: []models.TaskSpec{
				{ID: "t1", Dependencies: []models.TaskID{"t3"}},
				{ID: "t2", Dependencies: []models.TaskID{"t1"}},
				{ID: "t3", Dependencies: []models.TaskID{"t2"}},
			},
		}
		err := g.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})
}

func TestTopologicalOrder(t *testing.T) {
	t.Run("RespectsDependencies", func(t *testing.T) {
		g := models.Graph{
			Workflow: "diamond",
			Tasks: []models.TaskSpec{
				{ID: "d", Dependencies: []models.TaskID{"b", "c"}},
				{ID: "b", Dependencies: []models.TaskID{"a"}},
				{ID: "c", Dependencies: []models.TaskID{"a"}},
				{ID: "a"},
			},
		}
		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		require.Len(t, order, 4)

		pos := make(map[models.TaskID]int)
		for i, id := range order {
			pos[id] = i
		}
		assert.Less(t, pos["a"], pos["b"])
		assert.Less(t, pos["a"], pos["c"])
		assert.Less(t, pos["b"], pos["d"])
		assert.Less(t, pos["c"], pos["d"])
	})

	t.Run("TieBreaksByAscendingID", func(t *testing.T) {
		g := models.Graph{
			Workflow: "independent",
			Tasks:    []models.TaskSpec{{ID: "z"}, {ID: "a"}, {ID: "m"}},
		}
		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, []models.TaskID{"a", "m", "z"}, order)
	})
}

func TestHandlerKey(t *testing.T) {
	assert.Equal(t, "scanner", models.TaskSpec{ID: "t1", Role: "scanner"}.HandlerKey())
	assert.Equal(t, "t1", models.TaskSpec{ID: "t1"}.HandlerKey())
}
