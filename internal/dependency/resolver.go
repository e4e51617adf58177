// Package dependency evaluates dependency rules between tasks: visibility,
// option sourcing, value copy from another form and instance mirroring.
package dependency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/instance"
	"github.com/MinBZK/par-dpia-form/internal/model"
)

// ErrUnsupportedOperator is returned for condition operators other than equals.
var ErrUnsupportedOperator = errors.New("unsupported condition operator")

// Tasks is the task metadata the resolver reads.
type Tasks interface {
	Task(id string) (*model.Task, error)
	Parent(id string) (string, bool)
	All() []*model.Task
}

// Instances is the read side of an instance store.
type Instances interface {
	Get(id string) (instance.Instance, bool)
	InstancesOf(taskID string) []instance.Instance
	FindRelated(otherTaskID, id string) (instance.Instance, bool)
}

// Answers is the read side of an answer store.
type Answers interface {
	Get(id string) answer.Value
}

// Resolver answers dependency questions for one namespace. It holds no state
// of its own.
type Resolver struct {
	tasks     Tasks
	instances Instances
	answers   Answers
}

// NewResolver creates a resolver over the given stores.
func NewResolver(tasks Tasks, instances Instances, answers Answers) *Resolver {
	return &Resolver{tasks: tasks, instances: instances, answers: answers}
}

// ShouldShowTask reports whether the instance of taskID is visible. A
// conditional rule whose task has no instance in the same group is skipped.
func (r *Resolver) ShouldShowTask(taskID, instanceID string) (bool, error) {
	t, err := r.tasks.Task(taskID)
	if err != nil {
		return false, err
	}
	if len(t.Dependencies) == 0 {
		return true, nil
	}
	if _, ok := r.instances.Get(instanceID); !ok {
		return true, nil
	}

	for _, dep := range t.Dependencies {
		cond, ok := dep.(model.Conditional)
		if !ok {
			continue
		}
		if cond.Condition == nil {
			return true, nil
		}
		if cond.Condition.Operator != model.OperatorEquals {
			return false, fmt.Errorf("%w %q on task %q", ErrUnsupportedOperator, cond.Condition.Operator, taskID)
		}
		related, ok := r.instances.FindRelated(cond.Condition.TaskID, instanceID)
		if !ok {
			continue
		}
		got := Normalize(r.answers.Get(related.ID))
		met := equal(got, normalizeScalar(cond.Condition.Value))
		if cond.Action == model.ActionShow && !met {
			return false, nil
		}
	}
	return true, nil
}

// Normalize maps an answer onto the values conditions compare against:
// "true"/"false" become booleans, "null" and "" become nil, lists stay lists.
func Normalize(v answer.Value) any {
	if s, ok := v.Text(); ok {
		return normalizeScalar(s)
	}
	if items, ok := v.List(); ok {
		return items
	}
	return nil
}

func normalizeScalar(x any) any {
	s, ok := x.(string)
	if !ok {
		return x
	}
	switch {
	case strings.EqualFold(s, "true"):
		return true
	case strings.EqualFold(s, "false"):
		return false
	case s == "null" || s == "":
		return nil
	default:
		return s
	}
}

func equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	default:
		return false
	}
}

// SourceOptions returns the distinct non-empty answers of the task's
// source_options source, in first-seen order. List answers contribute each
// item.
func (r *Resolver) SourceOptions(t *model.Task) []string {
	so, ok := t.SourceOptions()
	if !ok {
		return []string{}
	}
	seen := make(map[string]bool)
	out := []string{}
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, inst := range r.instances.InstancesOf(so.Condition.TaskID) {
		v := r.answers.Get(inst.ID)
		if s, ok := v.Text(); ok {
			add(s)
		}
		if items, ok := v.List(); ok {
			for _, item := range items {
				add(item)
			}
		}
	}
	return out
}

// DependencySourceTaskID returns the task referenced by the task's
// dependencies: the source_options or instance_mapping source first, then the
// first conditional with a condition.
func DependencySourceTaskID(t *model.Task) (string, bool) {
	if dep, ok := t.SourceDependency(); ok {
		switch d := dep.(type) {
		case model.SourceOptions:
			return d.Condition.TaskID, true
		case model.InstanceMapping:
			return d.Source.TaskID, true
		}
	}
	for _, dep := range t.Dependencies {
		if c, ok := dep.(model.Conditional); ok && c.Condition != nil {
			return c.Condition.TaskID, true
		}
	}
	return "", false
}

func hasInstanceMapping(t *model.Task) bool {
	for _, dep := range t.Dependencies {
		if _, ok := dep.(model.InstanceMapping); ok {
			return true
		}
	}
	return false
}

// CanUserCreateInstances reports whether users may add instances of taskID:
// it must be repeatable and its instance count must not be driven by an
// instance mapping.
func (r *Resolver) CanUserCreateInstances(taskID string) (bool, error) {
	t, err := r.tasks.Task(taskID)
	if err != nil {
		return false, err
	}
	return t.Repeatable && !hasInstanceMapping(t), nil
}

// CanAddInstance is CanUserCreateInstances gated on the task's option source:
// a task drawing options from another task needs at least one option first.
func (r *Resolver) CanAddInstance(taskID string) (bool, error) {
	ok, err := r.CanUserCreateInstances(taskID)
	if err != nil || !ok {
		return false, err
	}
	t, err := r.tasks.Task(taskID)
	if err != nil {
		return false, err
	}
	if _, isSourced := t.SourceOptions(); isSourced {
		return len(r.SourceOptions(t)) > 0, nil
	}
	return true, nil
}
