package instance

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/MinBZK/par-dpia-form/internal/model"
	"github.com/MinBZK/par-dpia-form/internal/task"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqIDs() Option {
	n := 0
	return WithIDFunc(func(prefix string) string {
		n++
		return fmt.Sprintf("%s_%d", prefix, n)
	})
}

func newIndex(t *testing.T, tasks []*model.Task) *task.Index {
	t.Helper()
	idx, err := task.Build(tasks)
	require.NoError(t, err)
	return idx
}

func formTasks() []*model.Task {
	return []*model.Task{
		{ID: "0", Kinds: []model.Kind{model.KindTextInput}},
		{ID: "1", Kinds: []model.Kind{model.KindTaskGroup}, Tasks: []*model.Task{
			{ID: "1.1", Kinds: []model.Kind{model.KindTaskGroup}, Repeatable: true, Tasks: []*model.Task{
				{ID: "1.1.1", Kinds: []model.Kind{model.KindTextInput}},
				{ID: "1.1.2", Kinds: []model.Kind{model.KindRadioOption}},
			}},
		}},
	}
}

func TestInitialize_CreatesOneInstancePerDefinition(t *testing.T) {
	t.Parallel()

	s := NewStore(newIndex(t, formTasks()), seqIDs())
	require.NoError(t, s.Initialize(false))

	assert.True(t, s.Initialized())
	assert.Equal(t, 5, s.Len())
	for _, id := range []string{"0", "1", "1.1", "1.1.1", "1.1.2"} {
		assert.Len(t, s.InstancesOf(id), 1, id)
	}

	require.NoError(t, s.Initialize(false))
	assert.Equal(t, 5, s.Len(), "second initialize is a no-op")

	before := s.InstancesOf("0")[0].ID
	require.NoError(t, s.Initialize(true))
	assert.Equal(t, 5, s.Len())
	assert.NotEqual(t, before, s.InstancesOf("0")[0].ID)
}

func TestCreate_GroupInheritance(t *testing.T) {
	t.Parallel()

	s := NewStore(newIndex(t, formTasks()), seqIDs())
	require.NoError(t, s.Initialize(false))

	section := s.InstancesOf("1")[0]
	row := s.InstancesOf("1.1")[0]
	assert.Equal(t, section.GroupID, row.GroupID)

	sameRow, err := s.Create("1.1", section.ID, false)
	require.NoError(t, err)
	inst, ok := s.Get(sameRow)
	require.True(t, ok)
	assert.Equal(t, section.GroupID, inst.GroupID)

	newRow, err := s.Create("1.1", section.ID, true)
	require.NoError(t, err)
	inst, _ = s.Get(newRow)
	assert.NotEqual(t, section.GroupID, inst.GroupID)
	for _, childID := range inst.ChildInstanceIDs {
		child, ok := s.Get(childID)
		require.True(t, ok)
		assert.Equal(t, inst.GroupID, child.GroupID, "children join the new row")
	}

	_, err = s.Create("1.1", "missing", false)
	assert.ErrorIs(t, err, ErrParentNotFound)
	_, err = s.Create("nope", "", false)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestAddRepeatable(t *testing.T) {
	t.Parallel()

	s := NewStore(newIndex(t, formTasks()), seqIDs())
	require.NoError(t, s.Initialize(false))
	section := s.InstancesOf("1")[0]

	id, err := s.AddRepeatable("1.1", section.ID)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Len(t, s.InstancesUnder("1.1", section.ID), 2)
	assert.Len(t, s.InstancesOf("1.1.1"), 2)

	id, err = s.AddRepeatable("1", "")
	require.NoError(t, err)
	assert.Empty(t, id, "non-repeatable task is refused silently")
	assert.Len(t, s.InstancesOf("1"), 1)
}

func TestRemove_Cascades(t *testing.T) {
	t.Parallel()

	s := NewStore(newIndex(t, formTasks()), seqIDs())
	require.NoError(t, s.Initialize(false))
	section := s.InstancesOf("1")[0]
	rowID, err := s.AddRepeatable("1.1", section.ID)
	require.NoError(t, err)

	var removed []string
	s.Subscribe(func(c Change) {
		if c.Kind == Removed {
			removed = append(removed, c.TaskID)
		}
	})

	s.Remove(rowID)
	assert.Equal(t, []string{"1.1.1", "1.1.2", "1.1"}, removed)
	assert.Len(t, s.InstancesOf("1.1"), 1)
	assert.Len(t, s.InstancesOf("1.1.1"), 1)
	parent, _ := s.Get(section.ID)
	assert.NotContains(t, parent.ChildInstanceIDs, rowID)
	require.NoError(t, CheckTree(s.Snapshot(), nil))

	s.Remove("does-not-exist")
	assert.Len(t, removed, 3)
}

func TestFindRelated(t *testing.T) {
	t.Parallel()

	s := NewStore(newIndex(t, formTasks()), seqIDs())
	require.NoError(t, s.Initialize(false))
	section := s.InstancesOf("1")[0]
	rowID, err := s.AddRepeatable("1.1", section.ID)
	require.NoError(t, err)
	row, _ := s.Get(rowID)

	name := s.InstancesUnder("1.1.1", rowID)[0]
	related, ok := s.FindRelated("1.1.2", name.ID)
	require.True(t, ok)
	assert.Equal(t, rowID, related.ParentID())
	assert.Equal(t, row.GroupID, related.GroupID)

	_, ok = s.FindRelated("0", name.ID)
	assert.False(t, ok, "root question lives in another group")
	_, ok = s.FindRelated("1.1.2", "missing")
	assert.False(t, ok)
}

func TestReplace_RestoresTree(t *testing.T) {
	t.Parallel()

	idx := newIndex(t, formTasks())
	s := NewStore(idx, seqIDs())
	require.NoError(t, s.Initialize(false))
	section := s.InstancesOf("1")[0]
	_, err := s.AddRepeatable("1.1", section.ID)
	require.NoError(t, err)
	require.True(t, s.SetMappedFrom(s.InstancesOf("1.1")[1].ID, "elsewhere"))

	snap := s.Snapshot()
	other := NewStore(idx)
	other.Replace(snap)

	assert.True(t, other.Initialized())
	assert.Equal(t, snap, other.Snapshot())
	assert.Equal(t, "0", other.All()[0].TaskID)
	require.NoError(t, CheckTree(other.Snapshot(), idx.Has))
}

func TestCheckTree_Rejects(t *testing.T) {
	t.Parallel()

	parent := "p"
	tests := map[string]map[string]Instance{
		"key mismatch": {"a": {ID: "b", TaskID: "0", GroupID: "g"}},
		"missing parent": {"a": {ID: "a", TaskID: "0", GroupID: "g", ParentInstanceID: &parent}},
		"missing child": {"a": {ID: "a", TaskID: "0", GroupID: "g", ChildInstanceIDs: []string{"x"}}},
		"no group":      {"a": {ID: "a", TaskID: "0"}},
	}
	for name, instances := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, CheckTree(instances, nil), ErrInvalidTree)
		})
	}
}

// buildShape turns a list of child counts into a task tree, assigning counts
// breadth-first.
func buildShape(counts []int) []*model.Task {
	root := &model.Task{ID: "r", Kinds: []model.Kind{model.KindTaskGroup}}
	queue := []*model.Task{root}
	next := 0
	for _, n := range counts {
		if len(queue) == 0 {
			break
		}
		node := queue[0]
		queue = queue[1:]
		for range n {
			next++
			child := &model.Task{ID: "t" + strconv.Itoa(next), Repeatable: true}
			node.Tasks = append(node.Tasks, child)
			queue = append(queue, child)
		}
	}
	return []*model.Task{root}
}

func countDefs(tasks []*model.Task) int {
	n := 0
	model.Walk(tasks, func(*model.Task) { n++ })
	return n
}

func TestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("instance tree mirrors definition tree", prop.ForAll(
		func(counts []int) bool {
			tasks := buildShape(counts)
			idx, err := task.Build(tasks)
			if err != nil {
				return false
			}
			s := NewStore(idx)
			if err := s.Initialize(false); err != nil {
				return false
			}
			if s.Len() != countDefs(tasks) {
				return false
			}
			for _, def := range idx.All() {
				if len(s.InstancesOf(def.ID)) != 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.IntRange(0, 3)),
	))

	properties.Property("removal leaves no orphans", prop.ForAll(
		func(counts []int, extra int, pick int) bool {
			idx, err := task.Build(buildShape(counts))
			if err != nil {
				return false
			}
			s := NewStore(idx)
			if err := s.Initialize(false); err != nil {
				return false
			}
			all := s.All()
			for i := 0; i < extra && len(all) > 1; i++ {
				inst := all[1+i%(len(all)-1)]
				if _, err := s.AddRepeatable(inst.TaskID, inst.ParentID()); err != nil {
					return false
				}
			}
			all = s.All()
			victim := all[pick%len(all)]
			s.Remove(victim.ID)
			snap := s.Snapshot()
			if _, ok := snap[victim.ID]; ok {
				return false
			}
			return CheckTree(snap, idx.Has) == nil
		},
		gen.SliceOfN(6, gen.IntRange(0, 3)),
		gen.IntRange(0, 5),
		gen.IntRange(0, 1000),
	))

	properties.Property("related instance exists iff group matches", prop.ForAll(
		func(counts []int, pick int, other int) bool {
			idx, err := task.Build(buildShape(counts))
			if err != nil {
				return false
			}
			s := NewStore(idx)
			if err := s.Initialize(false); err != nil {
				return false
			}
			all := s.All()
			for _, inst := range all[1:] {
				if _, err := s.AddRepeatable(inst.TaskID, inst.ParentID()); err != nil {
					return false
				}
			}
			all = s.All()
			current := all[pick%len(all)]
			target := all[other%len(all)].TaskID

			want := false
			for _, inst := range all {
				if inst.TaskID == target && inst.GroupID == current.GroupID {
					want = true
				}
			}
			got, ok := s.FindRelated(target, current.ID)
			if ok && (got.TaskID != target || got.GroupID != current.GroupID) {
				return false
			}
			return ok == want
		},
		gen.SliceOfN(6, gen.IntRange(0, 3)),
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
