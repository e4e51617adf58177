package calc

import (
	"strings"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/instance"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Risk levels of the chance × impact matrix.
const (
	RiskLow    = "laag"
	RiskMedium = "midden"
	RiskHigh   = "hoog"
)

var dutchLower = cases.Lower(language.Dutch)

func normalizeLevel(s string) string {
	v := dutchLower.String(strings.TrimSpace(s))
	if v == "gemiddeld" {
		return RiskMedium
	}
	return v
}

// RiskLevel combines chance and impact: hoog if either is hoog, midden if
// both are midden, laag otherwise.
func RiskLevel(chance, impact string) string {
	c, i := normalizeLevel(chance), normalizeLevel(impact)
	switch {
	case c == RiskHigh || i == RiskHigh:
		return RiskHigh
	case c == RiskMedium && i == RiskMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RiskMatrix names the tasks of a risk row: the derived level and the chance
// and impact questions beside it.
type RiskMatrix struct {
	LevelTask  string `mapstructure:"level_task" json:"level_task"`
	ChanceTask string `mapstructure:"chance_task" json:"chance_task"`
	ImpactTask string `mapstructure:"impact_task" json:"impact_task"`
}

// Enabled reports whether all three tasks are configured.
func (m RiskMatrix) Enabled() bool {
	return m.LevelTask != "" && m.ChanceTask != "" && m.ImpactTask != ""
}

// RowInstances is the instance access RiskValue needs.
type RowInstances interface {
	Get(id string) (instance.Instance, bool)
	InstancesUnder(taskID, parentID string) []instance.Instance
}

// RowAnswers is the answer access RiskValue needs.
type RowAnswers interface {
	Get(id string) answer.Value
}

// RiskValue derives the level for an instance of the level task from the
// chance and impact answers under the same parent instance. It reports false
// when the instance is not a level instance or an answer is missing.
func (m RiskMatrix) RiskValue(instances RowInstances, answers RowAnswers, instanceID string) (string, bool) {
	if !m.Enabled() {
		return "", false
	}
	inst, ok := instances.Get(instanceID)
	if !ok || inst.TaskID != m.LevelTask || inst.ParentID() == "" {
		return "", false
	}
	read := func(taskID string) (string, bool) {
		siblings := instances.InstancesUnder(taskID, inst.ParentID())
		if len(siblings) == 0 {
			return "", false
		}
		s, ok := answers.Get(siblings[0].ID).Text()
		return s, ok && s != ""
	}
	chance, ok := read(m.ChanceTask)
	if !ok {
		return "", false
	}
	impact, ok := read(m.ImpactTask)
	if !ok {
		return "", false
	}
	return RiskLevel(chance, impact), true
}
