package session

import (
	"fmt"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/dependency"
	"github.com/MinBZK/par-dpia-form/internal/instance"
	"github.com/MinBZK/par-dpia-form/internal/model"
)

// Origin says where an effective value came from.
type Origin string

const (
	OriginNone    Origin = ""
	OriginAnswer  Origin = "answer"
	OriginDerived Origin = "derived"
	OriginPrefill Origin = "prefill"
	OriginDefault Origin = "default"
)

// Node is a visible instance with its effective value and visible children.
type Node struct {
	InstanceID string       `json:"instanceId"`
	TaskID     string       `json:"taskId"`
	Title      string       `json:"title"`
	Kinds      []model.Kind `json:"type"`
	Label      string       `json:"label,omitempty"`
	Value      answer.Value `json:"value"`
	Origin     Origin       `json:"origin,omitempty"`
	Options    []string     `json:"options,omitempty"`
	CanAdd     bool         `json:"canAdd,omitempty"`
	Children   []Node       `json:"children,omitempty"`
}

// Tree returns the visible instance tree of a namespace. With rootID set only
// instances of that root task are returned.
func (s *Session) Tree(ns, rootID string) ([]Node, error) {
	n, err := s.Namespace(ns)
	if err != nil {
		return nil, err
	}
	if rootID != "" {
		if _, err := n.rootIndex(rootID); err != nil {
			return nil, err
		}
	}
	nodes := []Node{}
	for _, inst := range n.Instances.All() {
		if inst.ParentID() != "" || (rootID != "" && inst.TaskID != rootID) {
			continue
		}
		node, visible, err := s.node(n, inst)
		if err != nil {
			return nil, err
		}
		if visible {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

func (s *Session) node(n *Namespace, inst instance.Instance) (Node, bool, error) {
	t, err := n.Index.Task(inst.TaskID)
	if err != nil {
		return Node{}, false, err
	}
	visible, err := n.Resolver.ShouldShowTask(t.ID, inst.ID)
	if err != nil || !visible {
		return Node{}, false, err
	}
	value, origin := s.effectiveValue(n, t, inst.ID)
	node := Node{
		InstanceID: inst.ID,
		TaskID:     t.ID,
		Title:      t.Title,
		Kinds:      t.Kinds,
		Value:      value,
		Origin:     origin,
	}
	if t.InstanceLabelTemplate != "" {
		node.Label = n.Resolver.RenderInstanceLabel(inst.ID, t.InstanceLabelTemplate)
	}
	if _, ok := t.SourceOptions(); ok {
		node.Options = n.Resolver.SourceOptions(t)
	}
	for _, childTaskID := range n.Index.Children(t.ID) {
		child, err := n.Index.Task(childTaskID)
		if err != nil {
			return Node{}, false, err
		}
		if !child.Repeatable {
			continue
		}
		if ok, err := n.Resolver.CanAddInstance(childTaskID); err == nil && ok {
			node.CanAdd = true
		}
	}
	for _, childID := range inst.ChildInstanceIDs {
		childInst, ok := n.Instances.Get(childID)
		if !ok {
			continue
		}
		child, visible, err := s.node(n, childInst)
		if err != nil {
			return Node{}, false, err
		}
		if visible {
			node.Children = append(node.Children, child)
		}
	}
	return node, true, nil
}

// Value returns the effective value of an instance: the stored answer, else
// a derived risk level, else a pre-scan value, else the task default.
func (s *Session) Value(ns, instanceID string) (answer.Value, Origin, error) {
	n, err := s.Namespace(ns)
	if err != nil {
		return answer.Null(), OriginNone, err
	}
	inst, ok := n.Instances.Get(instanceID)
	if !ok {
		return answer.Null(), OriginNone, fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
	}
	t, err := n.Index.Task(inst.TaskID)
	if err != nil {
		return answer.Null(), OriginNone, err
	}
	v, origin := s.effectiveValue(n, t, instanceID)
	return v, origin, nil
}

func (s *Session) effectiveValue(n *Namespace, t *model.Task, instanceID string) (answer.Value, Origin) {
	if v := n.Answers.Get(instanceID); !v.IsNull() {
		return v, OriginAnswer
	}
	if n.Name == NamespaceDPIA {
		if level, ok := s.opts.RiskMatrix.RiskValue(n.Instances, n.Answers, instanceID); ok {
			return answer.Text(level), OriginDerived
		}
		if form, ok := s.prescanForm(); ok {
			if v, ok := dependency.PrefillValue(form, t.ID); ok {
				return v, OriginPrefill
			}
		}
	}
	if t.DefaultValue != nil {
		if v, err := answer.FromNative(t.DefaultValue); err == nil {
			return v, OriginDefault
		}
	}
	return answer.Null(), OriginNone
}

func (s *Session) prescanForm() (dependency.Form, bool) {
	p, ok := s.namespaces[NamespacePrescan]
	if !ok {
		return dependency.Form{}, false
	}
	return dependency.Form{Tasks: p.Index, Instances: p.Instances, Answers: p.Answers}, true
}

// Preview returns the pre-scan answers shown alongside a DPIA section.
func (s *Session) Preview(dpiaTaskID string) []dependency.Reference {
	form, ok := s.prescanForm()
	if !ok {
		return nil
	}
	return dependency.SectionPreview(form, dpiaTaskID)
}
