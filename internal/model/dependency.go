package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownDependency is returned when a dependency has an unrecognised type.
var ErrUnknownDependency = errors.New("unknown dependency type")

// Action is what a conditional dependency does when evaluated.
type Action string

const (
	ActionShow Action = "show"
	ActionHide Action = "hide"
)

// OperatorEquals is the only supported condition operator.
const OperatorEquals = "equals"

// Dependency type names as they appear in documents.
const (
	TypeConditional     = "conditional"
	TypeSourceOptions   = "source_options"
	TypeInstanceMapping = "instance_mapping"
)

// Dependency is one of Conditional, SourceOptions or InstanceMapping.
type Dependency interface {
	DependencyType() string
}

// Condition compares the answer of another task with a value.
type Condition struct {
	TaskID   string `json:"id"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// SourceRef names the task a dependency reads from.
type SourceRef struct {
	TaskID string `json:"id"`
}

// Conditional shows or hides a task depending on another task's answer.
// A nil Condition means the rule always shows the task.
type Conditional struct {
	Condition *Condition
	Action    Action
}

// SourceOptions derives selectable options from another task's answers.
type SourceOptions struct {
	Condition SourceRef
	Action    Action
}

// InstanceMapping keeps a repeatable task's instances 1:1 with another task's.
type InstanceMapping struct {
	Source      SourceRef
	MappingType string
	Action      Action
}

func (Conditional) DependencyType() string     { return TypeConditional }
func (SourceOptions) DependencyType() string   { return TypeSourceOptions }
func (InstanceMapping) DependencyType() string { return TypeInstanceMapping }

// Dependencies is the ordered dependency list of a task.
type Dependencies []Dependency

type rawDependency struct {
	Type        string     `json:"type"`
	Action      Action     `json:"action,omitempty"`
	Condition   *Condition `json:"condition,omitempty"`
	Source      *SourceRef `json:"source,omitempty"`
	MappingType string     `json:"mapping_type,omitempty"`
}

// UnmarshalJSON decodes the document form into concrete dependency types.
func (d *Dependencies) UnmarshalJSON(data []byte) error {
	var raws []rawDependency
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Dependencies, 0, len(raws))
	for i, raw := range raws {
		dep, err := raw.decode()
		if err != nil {
			return fmt.Errorf("dependency %d: %w", i, err)
		}
		out = append(out, dep)
	}
	*d = out
	return nil
}

func (r rawDependency) decode() (Dependency, error) {
	switch r.Type {
	case TypeConditional:
		return Conditional{Condition: r.Condition, Action: r.Action}, nil
	case TypeSourceOptions:
		if r.Condition == nil || r.Condition.TaskID == "" {
			return nil, fmt.Errorf("%s without condition id", r.Type)
		}
		return SourceOptions{Condition: SourceRef{TaskID: r.Condition.TaskID}, Action: r.Action}, nil
	case TypeInstanceMapping:
		if r.Source == nil || r.Source.TaskID == "" {
			return nil, fmt.Errorf("%s without source id", r.Type)
		}
		return InstanceMapping{Source: *r.Source, MappingType: r.MappingType, Action: r.Action}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDependency, r.Type)
	}
}

// MarshalJSON encodes dependencies back into the document form.
func (d Dependencies) MarshalJSON() ([]byte, error) {
	raws := make([]rawDependency, 0, len(d))
	for _, dep := range d {
		switch v := dep.(type) {
		case Conditional:
			raws = append(raws, rawDependency{Type: TypeConditional, Action: v.Action, Condition: v.Condition})
		case SourceOptions:
			raws = append(raws, rawDependency{
				Type:      TypeSourceOptions,
				Action:    v.Action,
				Condition: &Condition{TaskID: v.Condition.TaskID},
			})
		case InstanceMapping:
			src := v.Source
			raws = append(raws, rawDependency{
				Type:        TypeInstanceMapping,
				Action:      v.Action,
				Source:      &src,
				MappingType: v.MappingType,
			})
		default:
			return nil, fmt.Errorf("%w %T", ErrUnknownDependency, dep)
		}
	}
	return json.Marshal(raws)
}

// SourceDependency returns the first source_options or instance_mapping
// dependency of the task.
func (t *Task) SourceDependency() (Dependency, bool) {
	for _, dep := range t.Dependencies {
		switch dep.(type) {
		case SourceOptions, InstanceMapping:
			return dep, true
		}
	}
	return nil, false
}

// InstanceMapping returns the task's instance mapping, if its source
// dependency is one.
func (t *Task) InstanceMapping() (InstanceMapping, bool) {
	dep, ok := t.SourceDependency()
	if !ok {
		return InstanceMapping{}, false
	}
	m, ok := dep.(InstanceMapping)
	return m, ok
}

// SourceOptions returns the task's source_options dependency, if its source
// dependency is one.
func (t *Task) SourceOptions() (SourceOptions, bool) {
	dep, ok := t.SourceDependency()
	if !ok {
		return SourceOptions{}, false
	}
	so, ok := dep.(SourceOptions)
	return so, ok
}
