// Package snapshot serialises the state of a form session and reads it back.
//
// A snapshot holds, per namespace, the navigation position, the instance tree
// and the answers. The same document is used for local persistence, JSON
// export and the checksummed embedded form.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/instance"
)

// Metadata describes when and from which namespace a snapshot was taken.
type Metadata struct {
	SavedAt         string `json:"savedAt"`
	ActiveNamespace string `json:"activeNamespace,omitempty"`
}

// TaskState is the structural state of one namespace.
type TaskState struct {
	CurrentRootTaskID    string                       `json:"currentRootTaskId"`
	CompletedRootTaskIDs []string                     `json:"completedRootTaskIds"`
	TaskInstances        map[string]instance.Instance `json:"taskInstances"`
}

// Snapshot is the serialised session.
type Snapshot struct {
	Metadata  Metadata                            `json:"metadata"`
	TaskState map[string]TaskState                `json:"taskState"`
	Answers   map[string]map[string]answer.Answer `json:"answers"`
}

// Namespaces returns the namespaces present in s, sorted.
func (s Snapshot) Namespaces() []string {
	out := make([]string, 0, len(s.TaskState))
	for ns := range s.TaskState {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Marshal encodes s as indented JSON.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// InstanceSource is the read side of an instance store.
type InstanceSource interface {
	Snapshot() map[string]instance.Instance
}

// AnswerSource is the read side of an answer store.
type AnswerSource interface {
	All() map[string]answer.Answer
}

// Navigation is the position of a namespace in the wizard.
type Navigation struct {
	CurrentRootTaskID    string
	CompletedRootTaskIDs []string
}

// Serialize captures a single namespace.
func Serialize(namespace string, instances InstanceSource, answers AnswerSource, nav Navigation, savedAt time.Time) Snapshot {
	completed := slices.Clone(nav.CompletedRootTaskIDs)
	if completed == nil {
		completed = []string{}
	}
	sort.Strings(completed)
	return Snapshot{
		Metadata: Metadata{
			SavedAt:         savedAt.UTC().Format(answer.TimeFormat),
			ActiveNamespace: namespace,
		},
		TaskState: map[string]TaskState{
			namespace: {
				CurrentRootTaskID:    nav.CurrentRootTaskID,
				CompletedRootTaskIDs: completed,
				TaskInstances:        instances.Snapshot(),
			},
		},
		Answers: map[string]map[string]answer.Answer{
			namespace: answers.All(),
		},
	}
}

type rawSnapshot struct {
	Metadata  json.RawMessage `json:"metadata"`
	TaskState json.RawMessage `json:"taskState"`
	Answers   json.RawMessage `json:"answers"`
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Decode parses raw and keeps only the namespaces that carry both a task
// state with instances and an answer section. It fails with a
// *ValidationError when the document is malformed, lacks a top-level key or
// has no usable namespace.
func Decode(raw []byte) (Snapshot, error) {
	var top rawSnapshot
	if err := json.Unmarshal(raw, &top); err != nil {
		return Snapshot{}, NewValidationError(CodeMalformed, err)
	}
	if !present(top.Metadata) || !present(top.TaskState) || !present(top.Answers) {
		return Snapshot{}, NewValidationError(CodeFormat, nil)
	}

	var meta Metadata
	if err := json.Unmarshal(top.Metadata, &meta); err != nil {
		return Snapshot{}, NewValidationError(CodeFormat, fmt.Errorf("metadata: %w", err))
	}
	var states map[string]*TaskState
	if err := json.Unmarshal(top.TaskState, &states); err != nil {
		return Snapshot{}, NewValidationError(CodeFormat, fmt.Errorf("taskState: %w", err))
	}
	var answers map[string]map[string]answer.Answer
	if err := json.Unmarshal(top.Answers, &answers); err != nil {
		return Snapshot{}, NewValidationError(CodeFormat, fmt.Errorf("answers: %w", err))
	}

	out := Snapshot{
		Metadata:  meta,
		TaskState: map[string]TaskState{},
		Answers:   map[string]map[string]answer.Answer{},
	}
	for ns, state := range states {
		nsAnswers, ok := answers[ns]
		if state == nil || !ok || nsAnswers == nil || len(state.TaskInstances) == 0 {
			continue
		}
		if state.CompletedRootTaskIDs == nil {
			state.CompletedRootTaskIDs = []string{}
		}
		out.TaskState[ns] = *state
		out.Answers[ns] = nsAnswers
	}
	if len(out.TaskState) == 0 {
		return Snapshot{}, NewValidationError(CodeNoData, nil)
	}
	return out, nil
}
