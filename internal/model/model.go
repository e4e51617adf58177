// Package model describes DPIA form documents: the static task tree, its
// dependency rules, score calculations and assessments.
package model

import "slices"

// Kind is a task type tag. A task may carry several kinds.
type Kind string

const (
	KindTaskGroup      Kind = "task_group"
	KindSigning        Kind = "signing"
	KindTextInput      Kind = "text_input"
	KindOpenText       Kind = "open_text"
	KindDate           Kind = "date"
	KindSelectOption   Kind = "select_option"
	KindRadioOption    Kind = "radio_option"
	KindCheckboxOption Kind = "checkbox_option"
)

// Document is a complete form definition for one namespace.
type Document struct {
	Name        string       `json:"name"`
	URN         string       `json:"urn"`
	Version     string       `json:"version"`
	Description string       `json:"description"`
	Tasks       []*Task      `json:"tasks"`
	Assessments []Assessment `json:"assessments,omitempty"`
}

// Task is a single question or group of questions.
type Task struct {
	ID                    string       `json:"id"`
	Title                 string       `json:"task"`
	Kinds                 []Kind       `json:"type"`
	IsOfficialID          bool         `json:"is_official_id,omitempty"`
	ValueType             string       `json:"valueType,omitempty"`
	Description           string       `json:"description,omitempty"`
	Category              string       `json:"category,omitempty"`
	Repeatable            bool         `json:"repeatable,omitempty"`
	Options               []Option     `json:"options,omitempty"`
	Sources               []Source     `json:"sources,omitempty"`
	Dependencies          Dependencies `json:"dependencies,omitempty"`
	DefaultValue          any          `json:"defaultValue,omitempty"`
	Calculation           *Calculation `json:"calculation,omitempty"`
	References            *References  `json:"references,omitempty"`
	InstanceLabelTemplate string       `json:"instance_label_template,omitempty"`
	Tasks                 []*Task      `json:"tasks,omitempty"`
}

// HasKind reports whether the task is tagged with k.
func (t *Task) HasKind(k Kind) bool {
	return slices.Contains(t.Kinds, k)
}

// Option is a selectable value. Value is a string, a bool or nil.
type Option struct {
	Value any    `json:"value"`
	Label string `json:"label,omitempty"`
}

// Source is a legal or documentary source attached to a task.
type Source struct {
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

// RiskScore maps a raw calculation value to a score when its condition holds.
type RiskScore struct {
	When  string  `json:"when"`
	Value float64 `json:"value"`
}

// Calculation is an expression evaluated over the answers.
type Calculation struct {
	Expression string      `json:"expression"`
	ScoreKey   string      `json:"scoreKey,omitempty"`
	RiskScore  []RiskScore `json:"riskScore,omitempty"`
}

// ReferenceType describes how a pre-scan answer relates to a DPIA task.
type ReferenceType string

const (
	ReferencePreView    ReferenceType = "pre-view"
	ReferencePreFill    ReferenceType = "pre-fill"
	ReferenceOneToOne   ReferenceType = "one-to-one"
	ReferenceOneToMany  ReferenceType = "one-to-many"
	ReferenceManyToMany ReferenceType = "many-to-many"
)

// Reference points at a task in another form.
type Reference struct {
	ID   string        `json:"id"`
	Type ReferenceType `json:"type"`
}

// References holds cross-form linkage metadata.
type References struct {
	PrescanModelID string      `json:"prescanModelId,omitempty"`
	DPIA           []Reference `json:"DPIA,omitempty"`
}

// Criterion is a named sub-condition of an assessment level.
type Criterion struct {
	ID          string `json:"id"`
	Expression  string `json:"expression"`
	Explanation string `json:"explanation"`
}

// AssessmentLevel is one candidate outcome of an assessment.
type AssessmentLevel struct {
	Level       string      `json:"level"`
	Expression  string      `json:"expression"`
	Result      string      `json:"result"`
	Explanation string      `json:"explanation,omitempty"`
	Criteria    []Criterion `json:"criteria,omitempty"`
}

// Assessment is an ordered list of levels; the first matching level wins.
type Assessment struct {
	ID     string            `json:"id"`
	Levels []AssessmentLevel `json:"levels"`
}

// Walk visits tasks depth-first in declaration order.
func Walk(tasks []*Task, fn func(t *Task)) {
	for _, t := range tasks {
		if t == nil {
			continue
		}
		fn(t)
		Walk(t.Tasks, fn)
	}
}
