package instance

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/MinBZK/par-dpia-form/internal/model"
	"github.com/google/uuid"
)

// ErrParentNotFound is returned when creating under an unknown parent instance.
var ErrParentNotFound = errors.New("parent instance not found")

// Tasks is the task metadata the store needs.
type Tasks interface {
	Task(id string) (*model.Task, error)
	Children(id string) []string
	Roots() []string
	Has(id string) bool
}

// ChangeKind identifies a structural mutation.
type ChangeKind int

const (
	Created ChangeKind = iota + 1
	Removed
	Mapped
	Replaced
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Removed:
		return "removed"
	case Mapped:
		return "mapped"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Change describes one mutation of the store.
type Change struct {
	Kind       ChangeKind
	InstanceID string
	TaskID     string
}

// Option configures a Store.
type Option func(*Store)

// WithIDFunc replaces the id generator. fn receives a prefix (a task id) and
// must return a unique id.
func WithIDFunc(fn func(prefix string) string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store is the canonical instance tree of one namespace. It is not safe for
// concurrent use.
type Store struct {
	tasks       Tasks
	instances   map[string]*Instance
	order       []string
	initialized bool
	newID       func(prefix string) string
	listeners   []func(Change)
}

// NewStore creates an empty store over tasks.
func NewStore(tasks Tasks, opts ...Option) *Store {
	s := &Store{
		tasks:     tasks,
		instances: make(map[string]*Instance),
		newID:     func(prefix string) string { return prefix + "_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to be called after every mutation.
func (s *Store) Subscribe(fn func(Change)) {
	s.listeners = append(s.listeners, fn)
}

func (s *Store) emit(c Change) {
	for _, fn := range s.listeners {
		fn(c)
	}
}

// Initialized reports whether the store holds an initial tree.
func (s *Store) Initialized() bool {
	return s.initialized
}

// Initialize creates one instance of every root task and, recursively, of
// every descendant. It is a no-op on an initialized store unless force is set,
// in which case all existing instances are discarded first.
func (s *Store) Initialize(force bool) error {
	if s.initialized && !force {
		return nil
	}
	if force {
		s.instances = make(map[string]*Instance)
		s.order = nil
		s.emit(Change{Kind: Replaced})
	}
	for _, rootID := range s.tasks.Roots() {
		if _, err := s.Create(rootID, "", false); err != nil {
			return fmt.Errorf("initialize %q: %w", rootID, err)
		}
	}
	s.initialized = true
	return nil
}

// Create adds an instance of taskID and one instance of each child task
// beneath it. With a parent and newGroup unset the instance joins the
// parent's group; otherwise a new group is started.
func (s *Store) Create(taskID, parentID string, newGroup bool) (string, error) {
	if _, err := s.tasks.Task(taskID); err != nil {
		return "", err
	}
	var parent *Instance
	if parentID != "" {
		p, ok := s.instances[parentID]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrParentNotFound, parentID)
		}
		parent = p
	}
	return s.create(taskID, parent, newGroup), nil
}

func (s *Store) create(taskID string, parent *Instance, newGroup bool) string {
	inst := &Instance{
		ID:               s.newID(taskID),
		TaskID:           taskID,
		ChildInstanceIDs: []string{},
	}
	if parent != nil {
		pid := parent.ID
		inst.ParentInstanceID = &pid
	}
	if parent != nil && !newGroup {
		inst.GroupID = parent.GroupID
	} else {
		inst.GroupID = s.newID(taskID)
	}
	s.instances[inst.ID] = inst
	s.order = append(s.order, inst.ID)
	if parent != nil {
		parent.ChildInstanceIDs = append(parent.ChildInstanceIDs, inst.ID)
	}
	s.emit(Change{Kind: Created, InstanceID: inst.ID, TaskID: taskID})

	for _, childTaskID := range s.tasks.Children(taskID) {
		s.create(childTaskID, inst, false)
	}
	return inst.ID
}

// AddRepeatable creates a new repetition of a repeatable task in its own
// group. It returns "" without error when the task is not repeatable.
func (s *Store) AddRepeatable(taskID, parentID string) (string, error) {
	t, err := s.tasks.Task(taskID)
	if err != nil {
		return "", err
	}
	if !t.Repeatable {
		return "", nil
	}
	return s.Create(taskID, parentID, true)
}

// Remove deletes an instance and all of its descendants and detaches it from
// its parent. Unknown ids are ignored.
func (s *Store) Remove(id string) {
	inst, ok := s.instances[id]
	if !ok {
		return
	}
	for _, childID := range slices.Clone(inst.ChildInstanceIDs) {
		s.Remove(childID)
	}
	if parent, ok := s.instances[inst.ParentID()]; ok {
		parent.ChildInstanceIDs = slices.DeleteFunc(parent.ChildInstanceIDs, func(c string) bool { return c == id })
	}
	delete(s.instances, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.emit(Change{Kind: Removed, InstanceID: id, TaskID: inst.TaskID})
}

// Get returns a copy of the instance with id.
func (s *Store) Get(id string) (Instance, bool) {
	inst, ok := s.instances[id]
	if !ok {
		return Instance{}, false
	}
	return inst.clone(), true
}

// Len returns the number of instances.
func (s *Store) Len() int {
	return len(s.instances)
}

// All returns every instance in stable order.
func (s *Store) All() []Instance {
	out := make([]Instance, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.instances[id].clone())
	}
	return out
}

// InstancesOf returns all instances of taskID.
func (s *Store) InstancesOf(taskID string) []Instance {
	var out []Instance
	for _, id := range s.order {
		if inst := s.instances[id]; inst.TaskID == taskID {
			out = append(out, inst.clone())
		}
	}
	return out
}

// InstancesUnder returns the instances of taskID whose parent is parentID.
func (s *Store) InstancesUnder(taskID, parentID string) []Instance {
	var out []Instance
	for _, id := range s.order {
		if inst := s.instances[id]; inst.TaskID == taskID && inst.ParentID() == parentID {
			out = append(out, inst.clone())
		}
	}
	return out
}

// FindRelated returns the instance of otherTaskID in the same group as the
// instance with id, or false when there is none.
func (s *Store) FindRelated(otherTaskID, id string) (Instance, bool) {
	current, ok := s.instances[id]
	if !ok {
		return Instance{}, false
	}
	for _, candidateID := range s.order {
		inst := s.instances[candidateID]
		if inst.TaskID == otherTaskID && inst.GroupID == current.GroupID {
			return inst.clone(), true
		}
	}
	return Instance{}, false
}

// SetMappedFrom records the source instance a mapped instance tracks.
func (s *Store) SetMappedFrom(id, sourceID string) bool {
	inst, ok := s.instances[id]
	if !ok {
		return false
	}
	inst.MappedFromInstanceID = sourceID
	s.emit(Change{Kind: Mapped, InstanceID: id, TaskID: inst.TaskID})
	return true
}

// Snapshot returns a deep copy of all instances keyed by id.
func (s *Store) Snapshot() map[string]Instance {
	out := make(map[string]Instance, len(s.instances))
	for id, inst := range s.instances {
		out[id] = inst.clone()
	}
	return out
}

// Replace discards the current tree and installs instances wholesale.
// Callers are expected to have checked the tree with CheckTree.
func (s *Store) Replace(instances map[string]Instance) {
	s.instances = make(map[string]*Instance, len(instances))
	for id, inst := range instances {
		c := inst.clone()
		s.instances[id] = &c
	}
	s.order = s.treeOrder()
	s.initialized = len(s.instances) > 0
	s.emit(Change{Kind: Replaced})
}

// treeOrder orders instances depth-first: root instances by root task
// position then id, children in their parent's child order.
func (s *Store) treeOrder() []string {
	rank := make(map[string]int)
	for i, id := range s.tasks.Roots() {
		rank[id] = i
	}
	var roots []*Instance
	for _, inst := range s.instances {
		if _, ok := s.instances[inst.ParentID()]; !ok {
			roots = append(roots, inst)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		ri, iok := rank[roots[i].TaskID]
		rj, jok := rank[roots[j].TaskID]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		return roots[i].ID < roots[j].ID
	})

	order := make([]string, 0, len(s.instances))
	seen := make(map[string]bool, len(s.instances))
	var visit func(id string)
	visit = func(id string) {
		inst, ok := s.instances[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		order = append(order, id)
		for _, childID := range inst.ChildInstanceIDs {
			visit(childID)
		}
	}
	for _, root := range roots {
		visit(root.ID)
	}
	return order
}
