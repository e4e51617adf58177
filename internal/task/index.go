// Package task flattens a form document into a lookup index of task
// definitions with parent/child links.
package task

import (
	"errors"
	"fmt"

	"github.com/MinBZK/par-dpia-form/internal/model"
)

var (
	// ErrDuplicateTaskID is returned when two definitions share an id.
	ErrDuplicateTaskID = errors.New("duplicate task id")
	// ErrTaskNotFound is returned for lookups of unknown task ids. It points
	// at a schema or reference bug and is not recoverable.
	ErrTaskNotFound = errors.New("task not found")
)

// Index is a read-only flat view of a task tree.
type Index struct {
	byID     map[string]*model.Task
	order    []string
	rootIDs  []string
	children map[string][]string
	parent   map[string]string
}

// Build flattens tasks into an Index.
func Build(tasks []*model.Task) (*Index, error) {
	idx := &Index{
		byID:     make(map[string]*model.Task),
		children: make(map[string][]string),
		parent:   make(map[string]string),
	}
	if err := idx.add(tasks, ""); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) add(tasks []*model.Task, parentID string) error {
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if _, ok := idx.byID[t.ID]; ok {
			return fmt.Errorf("%w %q", ErrDuplicateTaskID, t.ID)
		}
		idx.byID[t.ID] = t
		idx.order = append(idx.order, t.ID)
		if parentID == "" {
			idx.rootIDs = append(idx.rootIDs, t.ID)
		} else {
			idx.parent[t.ID] = parentID
			idx.children[parentID] = append(idx.children[parentID], t.ID)
		}
		if err := idx.add(t.Tasks, t.ID); err != nil {
			return err
		}
	}
	return nil
}

// Task returns the definition for id.
func (idx *Index) Task(id string) (*model.Task, error) {
	t, ok := idx.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return t, nil
}

// Has reports whether id is defined.
func (idx *Index) Has(id string) bool {
	_, ok := idx.byID[id]
	return ok
}

// Roots returns root task ids in declaration order.
func (idx *Index) Roots() []string {
	return append([]string(nil), idx.rootIDs...)
}

// Children returns the child task ids of id in declaration order.
func (idx *Index) Children(id string) []string {
	return append([]string(nil), idx.children[id]...)
}

// Parent returns the parent task id of id, or false for roots and unknown ids.
func (idx *Index) Parent(id string) (string, bool) {
	p, ok := idx.parent[id]
	return p, ok
}

// All returns every task in depth-first declaration order.
func (idx *Index) All() []*model.Task {
	out := make([]*model.Task, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.byID[id])
	}
	return out
}

// Len returns the number of indexed tasks.
func (idx *Index) Len() int {
	return len(idx.order)
}
