// Package instance owns the runtime tree of task instances for one namespace.
package instance

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTree is returned when a set of instances is not a consistent tree.
var ErrInvalidTree = errors.New("invalid instance tree")

// Instance is a concrete occurrence of a task definition.
type Instance struct {
	ID                   string   `json:"id"`
	TaskID               string   `json:"taskId"`
	GroupID              string   `json:"groupId"`
	ParentInstanceID     *string  `json:"parentInstanceId"`
	ChildInstanceIDs     []string `json:"childInstanceIds"`
	MappedFromInstanceID string   `json:"mappedFromInstanceId,omitempty"`
}

// ParentID returns the parent instance id, or "" for root instances.
func (i Instance) ParentID() string {
	if i.ParentInstanceID == nil {
		return ""
	}
	return *i.ParentInstanceID
}

func (i Instance) clone() Instance {
	out := i
	if i.ParentInstanceID != nil {
		p := *i.ParentInstanceID
		out.ParentInstanceID = &p
	}
	out.ChildInstanceIDs = slices.Clone(i.ChildInstanceIDs)
	if out.ChildInstanceIDs == nil {
		out.ChildInstanceIDs = []string{}
	}
	return out
}

// CheckTree verifies that instances form a consistent tree over known tasks:
// keys match ids, every task exists, parent and child links agree.
func CheckTree(instances map[string]Instance, hasTask func(id string) bool) error {
	for key, inst := range instances {
		if key != inst.ID {
			return fmt.Errorf("%w: key %q holds instance %q", ErrInvalidTree, key, inst.ID)
		}
		if inst.TaskID == "" || (hasTask != nil && !hasTask(inst.TaskID)) {
			return fmt.Errorf("%w: instance %q has unknown task %q", ErrInvalidTree, key, inst.TaskID)
		}
		if inst.GroupID == "" {
			return fmt.Errorf("%w: instance %q has no group", ErrInvalidTree, key)
		}
		if parentID := inst.ParentID(); parentID != "" {
			parent, ok := instances[parentID]
			if !ok {
				return fmt.Errorf("%w: instance %q has missing parent %q", ErrInvalidTree, key, parentID)
			}
			if !slices.Contains(parent.ChildInstanceIDs, key) {
				return fmt.Errorf("%w: parent %q does not list child %q", ErrInvalidTree, parentID, key)
			}
		}
		for _, childID := range inst.ChildInstanceIDs {
			child, ok := instances[childID]
			if !ok {
				return fmt.Errorf("%w: instance %q has missing child %q", ErrInvalidTree, key, childID)
			}
			if child.ParentID() != key {
				return fmt.Errorf("%w: child %q does not point back to %q", ErrInvalidTree, childID, key)
			}
		}
	}
	return nil
}
