package session

import (
	"fmt"
	"slices"
	"sort"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/calc"
	"github.com/MinBZK/par-dpia-form/internal/dependency"
	"github.com/MinBZK/par-dpia-form/internal/instance"
	"github.com/MinBZK/par-dpia-form/internal/model"
	"github.com/MinBZK/par-dpia-form/internal/snapshot"
	"github.com/MinBZK/par-dpia-form/internal/task"
)

// Namespace is the isolated state of one form: its document, instances,
// answers, navigation position and latest calculation results.
type Namespace struct {
	Name      string
	Doc       *model.Document
	Index     *task.Index
	Instances *instance.Store
	Answers   *answer.Store
	Resolver  *dependency.Resolver
	Sync      *dependency.Synchronizer
	Engine    *calc.Engine

	current   string
	completed map[string]bool
	results   *calc.Results

	dirtyInstances bool
	dirtyAnswers   bool
	dirtyNav       bool
}

func newNamespace(name string, doc *model.Document, opts Options) (*Namespace, error) {
	idx, err := task.Build(doc.Tasks)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}
	var storeOpts []instance.Option
	if opts.IDFunc != nil {
		storeOpts = append(storeOpts, instance.WithIDFunc(opts.IDFunc))
	}
	n := &Namespace{
		Name:      name,
		Doc:       doc,
		Index:     idx,
		Instances: instance.NewStore(idx, storeOpts...),
		Answers:   answer.NewStore(opts.Now),
		completed: map[string]bool{},
	}
	n.Resolver = dependency.NewResolver(idx, n.Instances, n.Answers)
	n.Sync = dependency.NewSynchronizer(idx, n.Instances)
	eval, err := calc.NewCELEvaluator(calc.LookupFunc(n.firstAnswer))
	if err != nil {
		return nil, err
	}
	n.Engine = calc.NewEngine(eval)

	n.Instances.Subscribe(func(instance.Change) { n.dirtyInstances = true })
	n.Answers.Subscribe(func(answer.Change) { n.dirtyAnswers = true })

	if err := n.Instances.Initialize(false); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}
	if roots := idx.Roots(); len(roots) > 0 {
		n.current = roots[0]
	}
	return n, nil
}

func (n *Namespace) firstAnswer(taskID string) answer.Value {
	insts := n.Instances.InstancesOf(taskID)
	if len(insts) == 0 {
		return answer.Null()
	}
	return n.Answers.Get(insts[0].ID)
}

func (n *Namespace) dirty() bool {
	return n.dirtyInstances || n.dirtyAnswers || n.dirtyNav
}

func (n *Namespace) clean() {
	n.dirtyInstances, n.dirtyAnswers, n.dirtyNav = false, false, false
}

// CurrentRootTaskID returns the root task the wizard is on.
func (n *Namespace) CurrentRootTaskID() string {
	return n.current
}

// Completed returns the completed root task ids, sorted.
func (n *Namespace) Completed() []string {
	out := make([]string, 0, len(n.completed))
	for id := range n.completed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsCompleted reports whether a root task was marked completed.
func (n *Namespace) IsCompleted(rootID string) bool {
	return n.completed[rootID]
}

// IsFirst reports whether the wizard is on the first root task.
func (n *Namespace) IsFirst() bool {
	roots := n.Index.Roots()
	return len(roots) > 0 && roots[0] == n.current
}

// IsLast reports whether the wizard is on the last root task.
func (n *Namespace) IsLast() bool {
	roots := n.Index.Roots()
	return len(roots) > 0 && roots[len(roots)-1] == n.current
}

// Results returns the latest calculation results.
func (n *Namespace) Results() calc.Results {
	if n.results == nil {
		res := n.Engine.Run(n.Doc)
		n.results = &res
	}
	return *n.results
}

// Navigation returns the position to serialise.
func (n *Namespace) Navigation() snapshot.Navigation {
	return snapshot.Navigation{CurrentRootTaskID: n.current, CompletedRootTaskIDs: n.Completed()}
}

func (n *Namespace) restore(nav snapshot.Navigation) {
	n.completed = make(map[string]bool, len(nav.CompletedRootTaskIDs))
	for _, id := range nav.CompletedRootTaskIDs {
		n.completed[id] = true
	}
	if slices.Contains(n.Index.Roots(), nav.CurrentRootTaskID) {
		n.current = nav.CurrentRootTaskID
	} else if roots := n.Index.Roots(); len(roots) > 0 {
		n.current = roots[0]
	}
	n.dirtyNav = true
}

func (n *Namespace) target() snapshot.Target {
	return snapshot.Target{
		Instances: n.Instances,
		Answers:   n.Answers,
		HasTask:   n.Index.Has,
		Restore:   n.restore,
	}
}

func (n *Namespace) rootIndex(id string) (int, error) {
	i := slices.Index(n.Index.Roots(), id)
	if i < 0 {
		return -1, fmt.Errorf("%w: %q", ErrNotRootTask, id)
	}
	return i, nil
}

func (n *Namespace) move(delta int) bool {
	roots := n.Index.Roots()
	i := slices.Index(roots, n.current)
	next := i + delta
	if i < 0 || next < 0 || next >= len(roots) {
		return false
	}
	n.current = roots[next]
	n.dirtyNav = true
	return true
}

func (n *Namespace) goTo(id string) error {
	if _, err := n.rootIndex(id); err != nil {
		return err
	}
	n.current = id
	n.dirtyNav = true
	return nil
}

func (n *Namespace) complete(id string) error {
	if _, err := n.rootIndex(id); err != nil {
		return err
	}
	n.completed[id] = true
	n.dirtyNav = true
	return nil
}
