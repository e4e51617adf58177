package snapshot

import (
	"fmt"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/instance"
)

// Target is the state of one namespace a snapshot section is applied to.
type Target struct {
	Instances interface {
		Replace(map[string]instance.Instance)
	}
	Answers interface {
		Replace(map[string]answer.Answer)
	}
	// HasTask reports whether the namespace's document defines a task.
	HasTask func(id string) bool
	// Restore installs the navigation position and completed set.
	Restore func(Navigation)
}

// Apply wholesale-replaces every namespace of s that has a target and returns
// the namespaces applied. Every section is checked before the first one is
// applied, so a rejected snapshot leaves all targets untouched.
func Apply(s Snapshot, targets map[string]Target) ([]string, error) {
	var applicable []string
	for _, ns := range s.Namespaces() {
		target, ok := targets[ns]
		if !ok {
			continue
		}
		if err := instance.CheckTree(s.TaskState[ns].TaskInstances, target.HasTask); err != nil {
			return nil, NewValidationError(CodeInvalidTree, fmt.Errorf("namespace %s: %w", ns, err))
		}
		applicable = append(applicable, ns)
	}
	if len(applicable) == 0 {
		return nil, NewValidationError(CodeNoData, nil)
	}

	for _, ns := range applicable {
		target := targets[ns]
		state := s.TaskState[ns]
		target.Instances.Replace(state.TaskInstances)
		answers := s.Answers[ns]
		if answers == nil {
			answers = map[string]answer.Answer{}
		}
		target.Answers.Replace(answers)
		if target.Restore != nil {
			target.Restore(Navigation{
				CurrentRootTaskID:    state.CurrentRootTaskID,
				CompletedRootTaskIDs: state.CompletedRootTaskIDs,
			})
		}
	}
	return applicable, nil
}
