package dependency

import (
	"slices"
	"strings"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/model"
)

// Reference is a pre-scan answer linked to a DPIA task.
type Reference struct {
	TaskID     string              `json:"taskId"`
	TaskTitle  string              `json:"taskTitle"`
	Answer     answer.Value        `json:"answer"`
	Type       model.ReferenceType `json:"referenceType"`
	DPIATaskID string              `json:"dpiaTaskId"`
}

// Form is the read side of another namespace's task tree and answers.
type Form struct {
	Tasks     interface{ All() []*model.Task }
	Instances Instances
	Answers   Answers
}

// SectionID returns the root segment of a dotted task id.
func SectionID(taskID string) string {
	section, _, _ := strings.Cut(taskID, ".")
	return section
}

// FindReferences lists answered pre-scan tasks whose DPIA references point at
// dpiaTaskID. With no types every reference type matches. bySection widens
// the match to any task in the same root section.
func FindReferences(prescan Form, dpiaTaskID string, types []model.ReferenceType, bySection bool) []Reference {
	if dpiaTaskID == "" {
		return nil
	}
	section := SectionID(dpiaTaskID)
	matches := func(ref model.Reference) bool {
		if len(types) > 0 && !slices.Contains(types, ref.Type) {
			return false
		}
		if bySection {
			return SectionID(ref.ID) == section
		}
		return ref.ID == dpiaTaskID
	}

	var out []Reference
	for _, t := range prescan.Tasks.All() {
		if t.References == nil || len(t.References.DPIA) == 0 {
			continue
		}
		var refs []model.Reference
		for _, ref := range t.References.DPIA {
			if matches(ref) {
				refs = append(refs, ref)
			}
		}
		if len(refs) == 0 {
			continue
		}
		instances := prescan.Instances.InstancesOf(t.ID)
		if len(instances) == 0 {
			continue
		}
		value := prescan.Answers.Get(instances[0].ID)
		if value.IsNull() {
			continue
		}
		for _, ref := range refs {
			out = append(out, Reference{
				TaskID:     t.ID,
				TaskTitle:  t.Title,
				Answer:     value,
				Type:       ref.Type,
				DPIATaskID: ref.ID,
			})
		}
	}
	return out
}

// PrefillValue returns the pre-scan answer to copy into dpiaTaskID, taken from
// the first pre-fill, one-to-one or one-to-many reference.
func PrefillValue(prescan Form, dpiaTaskID string) (answer.Value, bool) {
	for _, ref := range FindReferences(prescan, dpiaTaskID, nil, false) {
		switch ref.Type {
		case model.ReferencePreFill, model.ReferenceOneToOne, model.ReferenceOneToMany:
			return ref.Answer, true
		}
	}
	return answer.Null(), false
}

// SectionPreview returns the pre-view and many-to-many references for the
// section containing dpiaTaskID.
func SectionPreview(prescan Form, dpiaTaskID string) []Reference {
	return FindReferences(prescan, dpiaTaskID, []model.ReferenceType{model.ReferencePreView, model.ReferenceManyToMany}, true)
}
