package models

import (
	"sort"

	"github.com/pkg/errors"
)

// Graph is a directed acyclic graph of task specs. Edges point from a task
// to the tasks it depends on.
type Graph struct {
	Workflow string     `json:"workflow"`
	Tasks    []TaskSpec `json:"tasks"`
}

// Validate checks the graph for duplicate IDs, unknown dependencies,
// self-dependencies and cycles.
func (g Graph) Validate() error {
	byID := make(map[TaskID]TaskSpec, len(g.Tasks))
	for _, t := range g.Tasks {
		if t.ID == "" {
			return errors.New("graph contains a task with an empty id")
		}
		if _, ok := byID[t.ID]; ok {
			return errors.Errorf("duplicate task id '%s'", t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range g.Tasks {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return errors.Errorf("task '%s' depends on itself", t.ID)
			}
			if _, ok := byID[dep]; !ok {
				return errors.Errorf("dependency '%s' for task '%s' not in graph", dep, t.ID)
			}
		}
	}
	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}
	return nil
}

// TopologicalOrder returns the task IDs in a valid execution order using
// Kahn's algorithm. Tasks of equal readiness are ordered by ascending task
// ID so the order is deterministic.
func (g Graph) TopologicalOrder() ([]TaskID, error) {
	inDegree := make(map[TaskID]int, len(g.Tasks))
	dependents := make(map[TaskID][]TaskID, len(g.Tasks))
	for _, t := range g.Tasks {
		inDegree[t.ID] = len(t.Dependencies)
		for _, dep := range t.Dependencies {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []TaskID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]TaskID, 0, len(g.Tasks))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		curr := ready[0]
		ready = ready[1:]
		sorted = append(sorted, curr)
		for _, next := range dependents[curr] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(sorted) != len(g.Tasks) {
		return nil, errors.Errorf("workflow '%s' contains a dependency cycle", g.Workflow)
	}
	return sorted, nil
}

// Task returns the spec for a task ID.
func (g Graph) Task(id TaskID) (TaskSpec, bool) {
	for _, t := range g.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskSpec{}, false
}
