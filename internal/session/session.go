// Package session coordinates the namespaces of a DPIA form session. Every
// mutation goes through a Session method, which afterwards resynchronises
// mapped instances, recalculates scores and persists the namespace.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/MinBZK/par-dpia-form/internal/calc"
	"github.com/MinBZK/par-dpia-form/internal/dependency"
	"github.com/MinBZK/par-dpia-form/internal/model"
	"github.com/MinBZK/par-dpia-form/internal/snapshot"
	"github.com/rs/zerolog/log"
)

// Known namespaces.
const (
	NamespaceDPIA    = "dpia"
	NamespacePrescan = "prescan"
	NamespaceIAMA    = "iama"
)

var (
	// ErrUnknownNamespace is returned for namespaces the session does not hold.
	ErrUnknownNamespace = errors.New("unknown namespace")
	// ErrUnknownInstance is returned when an action names a missing instance.
	ErrUnknownInstance = errors.New("unknown instance")
	// ErrNotRootTask is returned when navigating to a task that is not a root.
	ErrNotRootTask = errors.New("not a root task")
	// ErrNotUserManaged is returned when adding or removing instances of a
	// task whose instances users cannot manage.
	ErrNotUserManaged = errors.New("instances of this task cannot be added or removed")
	// ErrNoNamespaces is returned when no document could be loaded.
	ErrNoNamespaces = errors.New("no valid namespace")
)

// Options configures a Session.
type Options struct {
	// Store persists namespaces after every action; nil keeps state in memory.
	Store Persister
	// Now stamps answers and snapshots; nil uses time.Now.
	Now func() time.Time
	// IDFunc mints instance and group ids; nil uses random UUIDs.
	IDFunc func(prefix string) string
	// RiskMatrix derives risk levels in the DPIA namespace.
	RiskMatrix calc.RiskMatrix
}

// Session holds every namespace of one form session. It is not safe for
// concurrent use.
type Session struct {
	namespaces map[string]*Namespace
	active     string
	opts       Options
}

// New builds a session over already validated documents. The active
// namespace is dpia when present, otherwise the first by name.
func New(docs map[string]*model.Document, opts Options) (*Session, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Session{namespaces: map[string]*Namespace{}, opts: opts}
	for _, name := range sortedKeys(docs) {
		doc := docs[name]
		model.EnsureSigningTask(doc)
		n, err := newNamespace(name, doc, opts)
		if err != nil {
			return nil, err
		}
		s.namespaces[name] = n
	}
	if len(s.namespaces) == 0 {
		return nil, ErrNoNamespaces
	}
	s.active = s.Names()[0]
	if _, ok := s.namespaces[NamespaceDPIA]; ok {
		s.active = NamespaceDPIA
	}
	return s, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Names returns the namespace names, sorted.
func (s *Session) Names() []string {
	return sortedKeys(s.namespaces)
}

// Active returns the active namespace name.
func (s *Session) Active() string {
	return s.active
}

// SetActive selects the namespace that unqualified operations target.
func (s *Session) SetActive(name string) error {
	if _, err := s.Namespace(name); err != nil {
		return err
	}
	s.active = name
	return nil
}

// Namespace returns the namespace with name; "" means the active one.
func (s *Session) Namespace(name string) (*Namespace, error) {
	if name == "" {
		name = s.active
	}
	n, ok := s.namespaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, name)
	}
	return n, nil
}

// Start restores every namespace from the store and settles it. A namespace
// whose stored state cannot be restored starts fresh.
func (s *Session) Start(ctx context.Context) error {
	for _, name := range s.Names() {
		n := s.namespaces[name]
		s.restore(ctx, n)
		if err := s.settle(ctx, n, "start", nil); err != nil {
			return err
		}
	}
	return nil
}

// SetAnswer stores value for an instance.
func (s *Session) SetAnswer(ctx context.Context, ns, instanceID string, value answer.Value) error {
	n, err := s.Namespace(ns)
	if err != nil {
		return err
	}
	if _, ok := n.Instances.Get(instanceID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
	}
	n.Answers.Set(instanceID, value)
	return s.settle(ctx, n, "answer", map[string]any{"instance_id": instanceID, "value": value})
}

// ClearAnswer removes the answer of an instance.
func (s *Session) ClearAnswer(ctx context.Context, ns, instanceID string) error {
	n, err := s.Namespace(ns)
	if err != nil {
		return err
	}
	n.Answers.Remove(instanceID)
	return s.settle(ctx, n, "clear", map[string]any{"instance_id": instanceID})
}

// AddInstance adds a repetition of a user-managed repeatable task under
// parentInstanceID and returns its id.
func (s *Session) AddInstance(ctx context.Context, ns, taskID, parentInstanceID string) (string, error) {
	n, err := s.Namespace(ns)
	if err != nil {
		return "", err
	}
	ok, err := n.Resolver.CanAddInstance(taskID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotUserManaged, taskID)
	}
	if parentInstanceID == "" {
		parentInstanceID = s.defaultParent(n, taskID)
	}
	id, err := n.Instances.AddRepeatable(taskID, parentInstanceID)
	if err != nil {
		return "", err
	}
	return id, s.settle(ctx, n, "add", map[string]any{"task_id": taskID, "parent_instance_id": parentInstanceID, "instance_id": id})
}

func (s *Session) defaultParent(n *Namespace, taskID string) string {
	parentTask, ok := n.Index.Parent(taskID)
	if !ok {
		return ""
	}
	if parents := n.Instances.InstancesOf(parentTask); len(parents) > 0 {
		return parents[0].ID
	}
	return ""
}

// RemoveInstance removes a user-managed instance and its descendants. Their
// answers are kept until pruned.
func (s *Session) RemoveInstance(ctx context.Context, ns, instanceID string) error {
	n, err := s.Namespace(ns)
	if err != nil {
		return err
	}
	inst, ok := n.Instances.Get(instanceID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInstance, instanceID)
	}
	ok, err = n.Resolver.CanUserCreateInstances(inst.TaskID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotUserManaged, inst.TaskID)
	}
	n.Instances.Remove(instanceID)
	return s.settle(ctx, n, "remove", map[string]any{"instance_id": instanceID})
}

// SyncInstances runs the instance synchroniser explicitly.
func (s *Session) SyncInstances(ctx context.Context, ns string) (dependency.SyncReport, error) {
	n, err := s.Namespace(ns)
	if err != nil {
		return dependency.SyncReport{}, err
	}
	report, err := n.Sync.SyncInstances()
	if err != nil {
		return report, err
	}
	return report, s.settle(ctx, n, "sync", nil)
}

// Prune deletes answers whose instance no longer exists and returns their ids.
func (s *Session) Prune(ctx context.Context, ns string) ([]string, error) {
	n, err := s.Namespace(ns)
	if err != nil {
		return nil, err
	}
	removed := n.Answers.Prune(func(id string) bool {
		_, ok := n.Instances.Get(id)
		return ok
	})
	sort.Strings(removed)
	return removed, s.settle(ctx, n, "prune", map[string]any{"removed": removed})
}

// Next moves to the next root task. It reports false on the last one.
func (s *Session) Next(ctx context.Context, ns string) (bool, error) {
	return s.navigate(ctx, ns, "next", func(n *Namespace) (bool, error) { return n.move(1), nil })
}

// Previous moves to the previous root task. It reports false on the first one.
func (s *Session) Previous(ctx context.Context, ns string) (bool, error) {
	return s.navigate(ctx, ns, "previous", func(n *Namespace) (bool, error) { return n.move(-1), nil })
}

// GoTo moves to a root task.
func (s *Session) GoTo(ctx context.Context, ns, rootID string) error {
	_, err := s.navigate(ctx, ns, "goto", func(n *Namespace) (bool, error) { return true, n.goTo(rootID) })
	return err
}

// Complete marks a root task completed.
func (s *Session) Complete(ctx context.Context, ns, rootID string) error {
	_, err := s.navigate(ctx, ns, "complete", func(n *Namespace) (bool, error) { return true, n.complete(rootID) })
	return err
}

func (s *Session) navigate(ctx context.Context, ns, action string, fn func(*Namespace) (bool, error)) (bool, error) {
	n, err := s.Namespace(ns)
	if err != nil {
		return false, err
	}
	moved, err := fn(n)
	if err != nil {
		return false, err
	}
	return moved, s.settle(ctx, n, action, map[string]any{"current_root_task_id": n.current})
}

// Results returns the calculation results of a namespace.
func (s *Session) Results(ns string) (calc.Results, error) {
	n, err := s.Namespace(ns)
	if err != nil {
		return calc.Results{}, err
	}
	return n.Results(), nil
}

// Export serialises the active namespace.
func (s *Session) Export() snapshot.Snapshot {
	n := s.namespaces[s.active]
	return snapshot.Serialize(n.Name, n.Instances, n.Answers, n.Navigation(), s.opts.Now())
}

// ExportEmbedded seals the active namespace for embedding in a document.
func (s *Session) ExportEmbedded() (snapshot.Envelope, error) {
	return snapshot.Seal(s.Export())
}

// Import decodes a snapshot document and applies it. A rejected document
// leaves every namespace unchanged.
func (s *Session) Import(ctx context.Context, raw []byte) ([]string, error) {
	snap, err := snapshot.Decode(raw)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, snap)
}

// ImportEmbedded verifies and applies an embedded snapshot.
func (s *Session) ImportEmbedded(ctx context.Context, env snapshot.Envelope) ([]string, error) {
	snap, err := snapshot.Open(env)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, snap)
}

func (s *Session) apply(ctx context.Context, snap snapshot.Snapshot) ([]string, error) {
	targets := make(map[string]snapshot.Target, len(s.namespaces))
	for name, n := range s.namespaces {
		targets[name] = n.target()
	}
	for _, ns := range snap.Namespaces() {
		if _, ok := targets[ns]; !ok {
			log.Warn().Str("namespace", ns).Msg("session: ignoring snapshot section for unknown namespace")
		}
	}
	applied, err := snapshot.Apply(snap, targets)
	if err != nil {
		return nil, err
	}
	if _, ok := s.namespaces[snap.Metadata.ActiveNamespace]; ok {
		s.active = snap.Metadata.ActiveNamespace
	}
	for _, ns := range applied {
		if err := s.settle(ctx, s.namespaces[ns], "import", map[string]any{"saved_at": snap.Metadata.SavedAt}); err != nil {
			return applied, err
		}
	}
	log.Info().Strs("namespaces", applied).Msg("session: snapshot imported")
	return applied, nil
}

// settle runs after every action: structural changes resync mapped
// instances, any change recalculates, and a changed namespace is persisted.
func (s *Session) settle(ctx context.Context, n *Namespace, action string, payload map[string]any) error {
	if !n.dirty() {
		return nil
	}
	if n.dirtyInstances {
		report, err := n.Sync.SyncInstances()
		if err != nil {
			return fmt.Errorf("sync %s: %w", n.Name, err)
		}
		if report.Changed() {
			log.Debug().Str("namespace", n.Name).Int("created", report.Created).Int("removed", report.Removed).Msg("session: instances synchronised")
		}
	}
	if n.dirtyInstances || n.dirtyAnswers || n.results == nil {
		res := n.Engine.Run(n.Doc)
		n.results = &res
		for _, e := range res.Errors {
			log.Debug().Err(e).Str("namespace", n.Name).Msg("session: calculation error")
		}
	}
	n.clean()
	s.persist(ctx, n, action, payload)
	return nil
}
