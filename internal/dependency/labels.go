package dependency

import (
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{([^}]+)\}`)

// RenderInstanceLabel fills {taskId} placeholders in template with answers
// belonging to the row of instanceID. A placeholder naming the task the
// instance was mapped from reads that source instance; otherwise the instance
// of the named task in the same group is used. Placeholders that resolve to
// no instance are kept verbatim; unanswered ones render empty.
func (r *Resolver) RenderInstanceLabel(instanceID, template string) string {
	inst, ok := r.instances.Get(instanceID)
	if !ok {
		return template
	}
	var source *string
	if inst.MappedFromInstanceID != "" {
		source = &inst.MappedFromInstanceID
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		taskID := placeholderRe.FindStringSubmatch(match)[1]
		target, found := r.labelSource(taskID, inst.ID, source)
		if !found {
			return match
		}
		return r.answers.Get(target).String()
	})
}

func (r *Resolver) labelSource(taskID, instanceID string, source *string) (string, bool) {
	if source != nil {
		if src, ok := r.instances.Get(*source); ok {
			if src.TaskID == taskID {
				return src.ID, true
			}
			if rel, ok := r.instances.FindRelated(taskID, src.ID); ok {
				return rel.ID, true
			}
		}
	}
	if rel, ok := r.instances.FindRelated(taskID, instanceID); ok {
		return rel.ID, true
	}
	return "", false
}
