package dependency

import (
	"fmt"

	"github.com/MinBZK/par-dpia-form/internal/instance"
)

// Mutator is the write side of an instance store used by the synchronizer.
type Mutator interface {
	Instances
	AddRepeatable(taskID, parentID string) (string, error)
	SetMappedFrom(id, sourceID string) bool
	Remove(id string)
}

// SyncReport counts the instances a sync pass created and removed.
type SyncReport struct {
	Created int
	Removed int
}

// Changed reports whether the pass mutated the store.
func (r SyncReport) Changed() bool {
	return r.Created > 0 || r.Removed > 0
}

// Synchronizer keeps instance-mapped tasks 1:1 with their source instances.
type Synchronizer struct {
	tasks     Tasks
	instances Mutator
}

// NewSynchronizer creates a synchronizer over the given stores.
func NewSynchronizer(tasks Tasks, instances Mutator) *Synchronizer {
	return &Synchronizer{tasks: tasks, instances: instances}
}

// SyncInstances reconciles every instance-mapped task with its source task.
// Running it twice without source changes is a no-op the second time.
func (s *Synchronizer) SyncInstances() (SyncReport, error) {
	var report SyncReport
	for _, t := range s.tasks.All() {
		mapping, ok := t.InstanceMapping()
		if !ok {
			continue
		}
		r, err := s.syncTask(t.ID, mapping.Source.TaskID)
		if err != nil {
			return report, fmt.Errorf("sync %q from %q: %w", t.ID, mapping.Source.TaskID, err)
		}
		report.Created += r.Created
		report.Removed += r.Removed
	}
	return report, nil
}

func (s *Synchronizer) syncTask(taskID, sourceTaskID string) (SyncReport, error) {
	var report SyncReport
	sources := s.instances.InstancesOf(sourceTaskID)
	sourceIDs := make(map[string]bool, len(sources))
	for _, src := range sources {
		sourceIDs[src.ID] = true
	}

	bySource := make(map[string]string)
	var unmapped, stale []instance.Instance
	for _, target := range s.instances.InstancesOf(taskID) {
		from := target.MappedFromInstanceID
		switch {
		case from == "":
			unmapped = append(unmapped, target)
		case !sourceIDs[from] || bySource[from] != "":
			stale = append(stale, target)
		default:
			bySource[from] = target.ID
		}
	}

	// Targets written before mappings were tracked adopt the first source
	// instances still lacking a target.
	for _, target := range unmapped {
		adopted := false
		for _, src := range sources {
			if bySource[src.ID] == "" {
				s.instances.SetMappedFrom(target.ID, src.ID)
				bySource[src.ID] = target.ID
				adopted = true
				break
			}
		}
		if !adopted {
			stale = append(stale, target)
		}
	}

	for _, target := range stale {
		s.instances.Remove(target.ID)
		report.Removed++
	}

	parentID, err := s.parentInstance(taskID)
	if err != nil {
		return report, err
	}
	for _, src := range sources {
		if bySource[src.ID] != "" {
			continue
		}
		id, err := s.instances.AddRepeatable(taskID, parentID)
		if err != nil {
			return report, err
		}
		if id == "" {
			continue
		}
		s.instances.SetMappedFrom(id, src.ID)
		bySource[src.ID] = id
		report.Created++
	}
	return report, nil
}

// parentInstance picks the instance new targets are created under: the first
// instance of the target task's parent task, or none for root tasks.
func (s *Synchronizer) parentInstance(taskID string) (string, error) {
	parentTaskID, ok := s.tasks.Parent(taskID)
	if !ok {
		return "", nil
	}
	parents := s.instances.InstancesOf(parentTaskID)
	if len(parents) == 0 {
		return "", fmt.Errorf("no instance of parent task %q", parentTaskID)
	}
	return parents[0].ID, nil
}
